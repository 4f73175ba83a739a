package state

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.PushQueue(ctx, "q", "a"))
	require.NoError(t, m.PushQueue(ctx, "q", "b"))
	require.NoError(t, m.PushQueue(ctx, "q", "c"))

	n, err := m.QueueLen(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"a", "b", "c"} {
		got, err := m.PopQueue(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = m.PopQueue(ctx, "q")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryQueuePopIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, m.PushQueue(ctx, "q", "item-"+strconv.Itoa(i)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				val, err := m.PopQueue(ctx, "q")
				if err != nil {
					return
				}
				mu.Lock()
				seen[val]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every element delivered")
	for val, count := range seen {
		assert.Equal(t, 1, count, "element %s delivered more than once", val)
	}
}

func TestMemoryBPopWaitsForPush(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = m.PushQueue(ctx, "q", "late")
	}()

	val, err := m.BPopQueue(ctx, "q", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", val)
}

func TestMemoryBPopTimesOut(t *testing.T) {
	m := NewMemory()
	_, err := m.BPopQueue(context.Background(), "q", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryHashFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetField(ctx, "h", "status", "pending"))
	require.NoError(t, m.SetFields(ctx, "h", map[string]string{"category": "search", "status": "queued"}))

	val, err := m.GetField(ctx, "h", "status")
	require.NoError(t, err)
	assert.Equal(t, "queued", val)

	// Missing fields and keys read as empty, not as errors
	val, err = m.GetField(ctx, "h", "nope")
	require.NoError(t, err)
	assert.Empty(t, val)

	all, err := m.GetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "queued", "category": "search"}, all)

	all, err = m.GetAll(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryKeyTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetWithTTL(ctx, "marker", "v", 25*time.Millisecond))

	val, err := m.Get(ctx, "marker")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	time.Sleep(40 * time.Millisecond)

	_, err = m.Get(ctx, "marker")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := m.Exists(ctx, "marker")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "k", "v"))

	existed, err := m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	// Second delete finds nothing: this is the exactly-once guard
	existed, err = m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryScan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SetField(ctx, "tool:alpha", "status", "pending"))
	require.NoError(t, m.SetField(ctx, "tool:beta", "status", "pending"))
	require.NoError(t, m.SetField(ctx, "blocker:alpha", "reason", "x"))
	require.NoError(t, m.Set(ctx, "tool:gamma", "plain"))

	keys, err := m.Scan(ctx, "tool:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tool:alpha", "tool:beta", "tool:gamma"}, keys)
}

func TestMemorySets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.AddToSet(ctx, "s", "a"))
	require.NoError(t, m.AddToSet(ctx, "s", "b"))
	require.NoError(t, m.AddToSet(ctx, "s", "a")) // duplicate add is a no-op

	members, err := m.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, m.RemoveFromSet(ctx, "s", "a"))
	members, err = m.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestMemoryCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.Incr(ctx, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.Incr(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemoryPubSubDelivers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.Subscribe(ctx, "events")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, m.Publish(ctx, "events", "hello"))

	msg, err := sub.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg)
}

func TestMemoryPubSubLostWithoutSubscriber(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	// Published before anyone subscribes: gone, not replayed
	require.NoError(t, m.Publish(ctx, "events", "lost"))

	sub, err := m.Subscribe(ctx, "events")
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.Next(ctx, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryPubSubClosedSubscriberStopsReceiving(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.Subscribe(ctx, "events")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // double close is safe

	require.NoError(t, m.Publish(ctx, "events", "after-close"))
}
