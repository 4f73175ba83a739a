package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolforge/internal/advancer"
	"toolforge/internal/collab"
	"toolforge/internal/config"
	"toolforge/internal/items"
	"toolforge/internal/state"
	"toolforge/internal/types"
	"toolforge/internal/worker"
)

func testConfig(t *testing.T, lanes int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Lanes = lanes
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SelfHealTimeout = time.Hour
	cfg.SpecDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	return cfg
}

func newTestOrchestrator(t *testing.T, lanes int) (*Orchestrator, *state.Memory, *items.Repo, *config.Config) {
	t.Helper()
	store := state.NewMemory()
	cfg := testConfig(t, lanes)
	orch, err := New(store, cfg)
	require.NoError(t, err)
	return orch, store, items.NewRepo(store), cfg
}

func seedTool(t *testing.T, repo *items.Repo, store state.Store, name string, status types.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx, &types.Tool{
		Name:      name,
		Category:  "search",
		Status:    types.StatusPending,
		CreatedAt: time.Now(),
	}))
	if status == types.StatusPending {
		require.NoError(t, store.PushQueue(ctx, state.QueuePending, name))
		return
	}
	require.NoError(t, repo.ForceStatus(ctx, name, status))
}

func writeSpec(t *testing.T, dir, name string) {
	t.Helper()
	spec := fmt.Sprintf(`{"name": %q, "description": "does %s things"}`, name, name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(spec), 0o644))
}

func TestBootstrapMaterializesCatalog(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory()
	cfg := testConfig(t, 2)

	dir := t.TempDir()
	cfg.CatalogPath = filepath.Join(dir, "catalog.yaml")
	manifest := "tools:\n  - name: web-search\n    category: search\n  - name: send-email\n    category: communication\n"
	require.NoError(t, os.WriteFile(cfg.CatalogPath, []byte(manifest), 0o644))

	orch, err := New(store, cfg)
	require.NoError(t, err)
	require.NoError(t, orch.Bootstrap(ctx))

	repo := items.NewRepo(store)
	tools, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	n, err := store.QueueLen(ctx, state.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Restart: nothing recreated
	require.NoError(t, orch.Bootstrap(ctx))
	n, err = store.QueueLen(ctx, state.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAssignWorkOneToolPerIdleLane(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 2)

	for _, name := range []string{"a", "b", "c"} {
		seedTool(t, repo, store, name, types.StatusPending)
	}

	assigned, err := orch.assignWork(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, assigned, "one tool per idle lane, no more")

	// Both lanes busy, one tool still pending
	for _, lane := range []string{"lane-1", "lane-2"} {
		busy, err := repo.LaneBusy(ctx, lane)
		require.NoError(t, err)
		assert.True(t, busy, "%s should hold a claim", lane)

		n, err := store.QueueLen(ctx, state.LaneQueue(lane))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}
	n, err := store.QueueLen(ctx, state.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Assigned tools are queued; no lane free means no further assignment
	assigned, err = orch.assignWork(ctx)
	require.NoError(t, err)
	assert.Zero(t, assigned)
}

func TestAssignSkipsBusyLane(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 2)

	require.NoError(t, repo.WriteAssignment(ctx, &types.Assignment{
		Tool: "held", Lane: "lane-1", AssignedAt: time.Now(),
	}))
	seedTool(t, repo, store, "a", types.StatusPending)

	assigned, err := orch.assignWork(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, assigned)

	n, err := store.QueueLen(ctx, state.LaneQueue("lane-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "tool went to the idle lane")
}

func TestResolveBlockerAppliesMockWorkaround(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "web-search", types.StatusBlocked)
	require.NoError(t, repo.RecordBlocker(ctx, &types.Blocker{
		Tool:       "web-search",
		Reason:     "SEARCH_API_KEY not configured",
		DetectedAt: time.Now(),
	}))
	require.NoError(t, repo.RecordError(ctx, "web-search", types.KindBlocker, "SEARCH_API_KEY not configured"))

	resolved, err := orch.resolveBlockers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	tool, err := repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, tool.Status)
	assert.True(t, tool.MockMode, "api-key blockers switch the tool to mock mode")
	assert.Nil(t, tool.Error)

	blocked, err := repo.BlockedTools(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	name, err := store.PopQueue(ctx, state.QueueOverflow)
	require.NoError(t, err)
	assert.Equal(t, "web-search", name)
}

func TestResolveBlockerCatchAll(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "odd-tool", types.StatusBlocked)
	require.NoError(t, repo.RecordBlocker(ctx, &types.Blocker{
		Tool:       "odd-tool",
		Reason:     "something nobody anticipated",
		DetectedAt: time.Now(),
	}))

	resolved, err := orch.resolveBlockers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved, "catch-all rule must handle unknown reasons")

	tool, err := repo.Get(ctx, "odd-tool")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, tool.Status)
}

func TestResolveBlockerRequeuesFlakyTests(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "send-email", types.StatusBlocked)
	require.NoError(t, repo.RecordBlocker(ctx, &types.Blocker{
		Tool:       "send-email",
		Reason:     "integration tests keep failing",
		DetectedAt: time.Now(),
	}))

	resolved, err := orch.resolveBlockers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	tool, err := repo.Get(ctx, "send-email")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, tool.Status)
	assert.False(t, tool.MockMode, "flaky tests get a retry, not a mock")

	name, err := store.PopQueue(ctx, state.QueueOverflow)
	require.NoError(t, err)
	assert.Equal(t, "send-email", name)
}

func TestSelfHealReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, cfg := newTestOrchestrator(t, 1)
	cfg.SelfHealTimeout = 10 * time.Millisecond

	seedTool(t, repo, store, "web-search", types.StatusInProgress)
	require.NoError(t, repo.WriteAssignment(ctx, &types.Assignment{
		Tool:       "web-search",
		Lane:       "lane-1",
		AssignedAt: time.Now().Add(-time.Minute),
	}))

	reclaimed, err := orch.selfHeal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	tool, err := repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, tool.Status)
	assert.Empty(t, tool.AssignedLane)
	require.NotNil(t, tool.Error)
	assert.Equal(t, types.KindStuckAssignment, tool.Error.Kind)

	busy, err := repo.LaneBusy(ctx, "lane-1")
	require.NoError(t, err)
	assert.False(t, busy)

	name, err := store.PopQueue(ctx, state.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, "web-search", name)
}

func TestSelfHealIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, cfg := newTestOrchestrator(t, 1)
	cfg.SelfHealTimeout = 10 * time.Millisecond

	seedTool(t, repo, store, "web-search", types.StatusInProgress)
	require.NoError(t, repo.WriteAssignment(ctx, &types.Assignment{
		Tool:       "web-search",
		Lane:       "lane-1",
		AssignedAt: time.Now().Add(-time.Minute),
	}))

	reclaimed, err := orch.selfHeal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	reclaimed, err = orch.selfHeal(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed, "second pass finds no claim to reclaim")

	n, err := store.QueueLen(ctx, state.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "exactly one requeue")
}

func TestSelfHealKeepsLeaseWithinTimeout(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "web-search", types.StatusInProgress)
	require.NoError(t, repo.WriteAssignment(ctx, &types.Assignment{
		Tool:       "web-search",
		Lane:       "lane-1",
		AssignedAt: time.Now(),
	}))

	reclaimed, err := orch.selfHeal(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}

func TestSelfHealReleasesFinishedWorkWithoutRequeue(t *testing.T) {
	// The lane published its work but never released the claim; the claim
	// goes, the finished work stays where it is.
	ctx := context.Background()
	orch, store, repo, cfg := newTestOrchestrator(t, 1)
	cfg.SelfHealTimeout = 10 * time.Millisecond

	seedTool(t, repo, store, "web-search", types.StatusNeedsReview)
	require.NoError(t, repo.WriteAssignment(ctx, &types.Assignment{
		Tool:       "web-search",
		Lane:       "lane-1",
		AssignedAt: time.Now().Add(-time.Minute),
	}))

	reclaimed, err := orch.selfHeal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	tool, err := repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNeedsReview, tool.Status, "finished work keeps its status")

	n, err := store.QueueLen(ctx, state.QueuePending)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing requeued")
}

func TestProcessReviewedClearsLane(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "web-search", types.StatusCompleted)
	require.NoError(t, repo.SetLane(ctx, "web-search", "lane-1"))
	require.NoError(t, store.PushQueue(ctx, state.QueueReview, "web-search"))

	merged, err := orch.processReviewed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	tool, err := repo.Get(ctx, "web-search")
	require.NoError(t, err)
	assert.Empty(t, tool.AssignedLane)
}

func TestProcessReviewedDropsStrayEntries(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "web-search", types.StatusInProgress)
	require.NoError(t, store.PushQueue(ctx, state.QueueReview, "web-search"))

	merged, err := orch.processReviewed(ctx)
	require.NoError(t, err)
	assert.Zero(t, merged, "record status is authoritative over the queue")
}

func TestCycleDetectsCompletionExactly(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "a", types.StatusCompleted)
	seedTool(t, repo, store, "b", types.StatusCompleted)

	result, err := orch.Cycle(ctx)
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, 2, result.Snapshot.Completed)
	assert.Equal(t, 2, result.Snapshot.Total)
}

func TestCycleNotDoneWhileWorkRemains(t *testing.T) {
	ctx := context.Background()
	orch, store, repo, _ := newTestOrchestrator(t, 1)

	seedTool(t, repo, store, "a", types.StatusCompleted)
	seedTool(t, repo, store, "b", types.StatusFailed)

	result, err := orch.Cycle(ctx)
	require.NoError(t, err)
	assert.False(t, result.Done, "failed tools never count as completed")
}

func TestPipelineEndToEnd(t *testing.T) {
	// Drive three tools from catalog to completion synchronously:
	// orchestrator cycles, lanes process, the gate and documenter sweep.
	ctx := context.Background()
	orch, store, repo, cfg := newTestOrchestrator(t, 2)

	for _, name := range []string{"web-search", "send-email", "calc"} {
		seedTool(t, repo, store, name, types.StatusPending)
		writeSpec(t, cfg.SpecDir, name)
	}

	workers := make(map[string]*worker.Worker, 2)
	for _, lane := range cfg.LaneIDs() {
		w, err := worker.New(worker.ConfigFromShared(cfg, lane, store, collab.MockSet(collab.NewDirWriter(cfg.OutputDir))))
		require.NoError(t, err)
		workers[lane] = w
	}

	gate, err := advancer.NewQualityGate(store, collab.MockTestRunner{Passed: true, Coverage: 95}, cfg.MinCoverage, time.Second, time.Second)
	require.NoError(t, err)
	docs, err := advancer.NewDocumentation(store, collab.MockDocGenerator{Generated: true}, time.Second, time.Second)
	require.NoError(t, err)

	var result *CycleResult
	for i := 0; i < 10; i++ {
		result, err = orch.Cycle(ctx)
		require.NoError(t, err)
		if result.Done {
			break
		}
		for lane, w := range workers {
			name, popErr := store.PopQueue(ctx, state.LaneQueue(lane))
			if popErr != nil {
				continue
			}
			require.NoError(t, w.Process(ctx, name))
		}
		require.NoError(t, gate.Sweep(ctx))
		require.NoError(t, docs.Sweep(ctx))
	}

	require.NotNil(t, result)
	assert.True(t, result.Done, "pipeline should complete within the cycle budget")
	assert.Equal(t, 3, result.Snapshot.Completed)
	assert.Equal(t, 3, result.Snapshot.Total)

	for _, name := range []string{"web-search", "send-email", "calc"} {
		tool, err := repo.Get(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, tool.Status)
	}
}
