package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolforge/internal/collab"
	"toolforge/internal/items"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

// failingGenerator always reports a generation failure
type failingGenerator struct{}

func (failingGenerator) GenerateImplementation(ctx context.Context, req collab.Request) (string, error) {
	return "", &collab.GenerationError{Tool: req.Tool, Err: assert.AnError}
}

// blockedGenerator reports an external obstacle
type blockedGenerator struct{ reason string }

func (g blockedGenerator) GenerateImplementation(ctx context.Context, req collab.Request) (string, error) {
	return "", &collab.BlockerError{Reason: g.reason}
}

type testEnv struct {
	store   *state.Memory
	repo    *items.Repo
	worker  *Worker
	outDir  string
	specDir string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	store := state.NewMemory()
	outDir := t.TempDir()
	specDir := t.TempDir()

	writeSpec(t, specDir, "web-search", "Search the web")

	cfg := &Config{
		Lane:          "lane-1",
		Store:         store,
		Collaborators: collab.MockSet(collab.NewDirWriter(outDir)),
		SpecDir:       specDir,
		AutoFix:       true,
		MaxRetries:    3,
		IdleSleep:     10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(cfg)
	}

	w, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{store: store, repo: items.NewRepo(store), worker: w, outDir: outDir, specDir: specDir}
}

func writeSpec(t *testing.T, dir, name, description string) {
	t.Helper()
	spec := `{"name": "` + name + `", "description": "` + description + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(spec), 0o644))
}

func initTool(t *testing.T, env *testEnv, name string, status types.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.repo.Init(ctx, &types.Tool{
		Name:      name,
		Category:  "search",
		Status:    types.StatusPending,
		CreatedAt: time.Now(),
	}))
	if status != types.StatusPending {
		require.NoError(t, env.repo.ForceStatus(ctx, name, status))
	}
}

func TestProcessSuccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	initTool(t, env, "web-search", types.StatusQueued)

	sub, err := env.store.Subscribe(ctx, state.ChannelDevComplete)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, env.worker.Process(ctx, "web-search"))

	tool, err := env.repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsReview, tool.Status)
	assert.Equal(t, 100, tool.Progress)
	assert.Equal(t, "lane-1", tool.AssignedLane)
	assert.Nil(t, tool.Error)

	// Generated files landed on disk
	assert.FileExists(t, filepath.Join(env.outDir, "search", "web-search", "web_search.py"))
	assert.FileExists(t, filepath.Join(env.outDir, "search", "web-search", "test_web_search.py"))

	// Development-complete event announced the tool
	msg, err := sub.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "web-search", msg)

	// Lane is free again
	busy, err := env.repo.LaneBusy(ctx, "lane-1")
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestProcessRequeuedOverflowItemStartsFromPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	initTool(t, env, "web-search", types.StatusPending)

	require.NoError(t, env.worker.Process(ctx, "web-search"))

	tool, err := env.repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsReview, tool.Status)
}

func TestProcessSpecNotFoundFailsPermanently(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	initTool(t, env, "no-spec-tool", types.StatusQueued)

	require.NoError(t, env.worker.Process(ctx, "no-spec-tool"))

	tool, err := env.repo.Get(ctx, "no-spec-tool")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, tool.Status)
	require.NotNil(t, tool.Error)
	assert.Equal(t, types.KindSpecNotFound, tool.Error.Kind)

	// Not retried: a missing file will still be missing next time
	n, err := env.store.QueueLen(ctx, state.QueueOverflow)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, tool.RetryCount)
}

func TestProcessInvalidSpecFailsPermanently(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.specDir, "bad-tool.json"),
		[]byte(`{"name": "bad-tool"}`), 0o644))
	initTool(t, env, "bad-tool", types.StatusQueued)

	require.NoError(t, env.worker.Process(ctx, "bad-tool"))

	tool, err := env.repo.Get(ctx, "bad-tool")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, tool.Status)
	require.NotNil(t, tool.Error)
	assert.Equal(t, types.KindValidation, tool.Error.Kind)

	// A broken spec reads the same broken next time; no requeue
	n, err := env.store.QueueLen(ctx, state.QueueOverflow)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, tool.RetryCount)
}

func TestProcessGenerationFailureRequeues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Collaborators.Generator = failingGenerator{}
	})
	initTool(t, env, "web-search", types.StatusQueued)

	require.NoError(t, env.worker.Process(ctx, "web-search"))

	tool, err := env.repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, tool.Status)
	assert.Equal(t, 1, tool.RetryCount)
	require.NotNil(t, tool.Error)
	assert.Equal(t, types.KindGeneration, tool.Error.Kind)

	name, err := env.store.PopQueue(ctx, state.QueueOverflow)
	require.NoError(t, err)
	assert.Equal(t, "web-search", name)
}

func TestProcessRetryCeilingFailsPermanently(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Collaborators.Generator = failingGenerator{}
		cfg.MaxRetries = 2
	})
	initTool(t, env, "web-search", types.StatusQueued)

	// Exhaust the budget
	require.NoError(t, env.worker.Process(ctx, "web-search"))
	name, err := env.store.PopQueue(ctx, state.QueueOverflow)
	require.NoError(t, err)
	require.NoError(t, env.worker.Process(ctx, name))
	name, err = env.store.PopQueue(ctx, state.QueueOverflow)
	require.NoError(t, err)
	require.NoError(t, env.worker.Process(ctx, name))

	tool, err := env.repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, tool.Status)
	assert.Equal(t, 2, tool.RetryCount)

	// Terminal: nothing left on the overflow queue
	n, err := env.store.QueueLen(ctx, state.QueueOverflow)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessAutoFixDisabledNeverRequeues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Collaborators.Generator = failingGenerator{}
		cfg.AutoFix = false
	})
	initTool(t, env, "web-search", types.StatusQueued)

	require.NoError(t, env.worker.Process(ctx, "web-search"))

	tool, err := env.repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, tool.Status)

	n, err := env.store.QueueLen(ctx, state.QueueOverflow)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessBlockerParksTool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Collaborators.Generator = blockedGenerator{reason: "API key not configured"}
	})
	initTool(t, env, "web-search", types.StatusQueued)

	require.NoError(t, env.worker.Process(ctx, "web-search"))

	tool, err := env.repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBlocked, tool.Status)
	require.NotNil(t, tool.Error)
	assert.Equal(t, types.KindBlocker, tool.Error.Kind)

	blocker, err := env.repo.GetBlocker(ctx, "web-search")
	require.NoError(t, err)
	require.NotNil(t, blocker)
	assert.Equal(t, "API key not configured", blocker.Reason)

	blocked, err := env.repo.BlockedTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-search"}, blocked)
}

func TestProcessMockModeBypassesRealEngine(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *Config) {
		// The configured engine is broken; mock mode must not touch it
		cfg.Collaborators.Generator = failingGenerator{}
	})
	initTool(t, env, "web-search", types.StatusQueued)
	require.NoError(t, env.repo.SetMockMode(ctx, "web-search", true))

	require.NoError(t, env.worker.Process(ctx, "web-search"))

	tool, err := env.repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsReview, tool.Status)
}

func TestClaimNextPrefersOwnLane(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	initTool(t, env, "own", types.StatusQueued)
	initTool(t, env, "overflow", types.StatusPending)

	require.NoError(t, env.store.PushQueue(ctx, state.LaneQueue("lane-1"), "own"))
	require.NoError(t, env.store.PushQueue(ctx, state.QueueOverflow, "overflow"))

	name, err := env.worker.claimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "own", name)
}

func TestClaimNextOverflowWritesClaim(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	initTool(t, env, "overflow", types.StatusPending)
	require.NoError(t, env.store.PushQueue(ctx, state.QueueOverflow, "overflow"))

	name, err := env.worker.claimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "overflow", name)

	// Overflow items get their lease written by the claiming lane
	a, err := env.repo.GetAssignment(ctx, "lane-1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "overflow", a.Tool)
}

func TestClaimNextEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.worker.claimNext(context.Background())
	assert.ErrorIs(t, err, state.ErrEmpty)
}
