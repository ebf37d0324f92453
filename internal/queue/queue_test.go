package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// memSettings is an in-memory stand-in for the shared settings store.
type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (s *memSettings) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}
	return value, nil
}

func (s *memSettings) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memSettings) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *memSettings) GetAll(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

func newTestQueue(t *testing.T) *BadgerQueue {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := NewBadgerQueue(db, "test", newMemSettings(), common.GetLogger())
	require.NoError(t, err)
	return q
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	count, err := q.Enqueue(ctx, []string{"doc_a", "doc_b", "doc_c"}, models.StageTranslated, models.PriorityBackground)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, want := range []string{"doc_a", "doc_b", "doc_c"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.DocumentID)
		assert.Equal(t, models.StageTranslated, item.TargetStage)
	}

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoItem)
}

func TestPriorityPreemptsBackground(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"doc_bg"}, models.StageCompleted, models.PriorityBackground)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, []string{"doc_pri"}, models.StageCompleted, models.PriorityInteractive)
	require.NoError(t, err)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc_pri", first.DocumentID, "priority tier must preempt background")

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc_bg", second.DocumentID)
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"doc_x"}, models.Stage("bogus"), models.PriorityBackground)
	assert.Error(t, err)

	_, err = q.Enqueue(ctx, []string{"doc_x"}, models.StageTranslated, models.QueuePriority("urgent"))
	assert.Error(t, err)

	// Empty ids are skipped, not errors.
	count, err := q.Enqueue(ctx, []string{"", "doc_y"}, models.StageTranslated, models.PriorityBackground)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClear(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"doc_1", "doc_2"}, models.StageTranslated, models.PriorityBackground)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, []string{"doc_3"}, models.StageTranslated, models.PriorityInteractive)
	require.NoError(t, err)

	require.NoError(t, q.Clear(ctx))

	pri, bg, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Zero(t, pri)
	assert.Zero(t, bg)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoItem)
}

func TestDepths(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"a", "b"}, models.StageTranslated, models.PriorityBackground)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, []string{"c"}, models.StageTranslated, models.PriorityInteractive)
	require.NoError(t, err)

	pri, bg, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pri)
	assert.Equal(t, 2, bg)
}

func TestInFlightCounter(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	n, err := q.IncrementInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = q.IncrementInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = q.DecrementInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Decrement never goes below zero, even if a crashed worker double-decrements.
	_, err = q.DecrementInFlight(ctx)
	require.NoError(t, err)
	n, err = q.DecrementInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInFlightCounterConcurrent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.IncrementInFlight(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, n, "concurrent increments must not be lost")
}

func TestLease(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.AcquireLease(ctx, "doc_l", time.Minute))

	err := q.AcquireLease(ctx, "doc_l", time.Minute)
	assert.ErrorIs(t, err, interfaces.ErrLeaseHeld)

	require.NoError(t, q.ReleaseLease(ctx, "doc_l"))
	require.NoError(t, q.AcquireLease(ctx, "doc_l", time.Minute))
}

func TestLeaseExpires(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.AcquireLease(ctx, "doc_ttl", 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	// The TTL entry has expired; the lease can be re-acquired without a release.
	require.NoError(t, q.AcquireLease(ctx, "doc_ttl", time.Minute))
}

func TestDaemonSwitches(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	enabled, err := q.DaemonEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled, "daemon defaults to disabled")

	require.NoError(t, q.SetDaemonEnabled(ctx, true))
	enabled, err = q.DaemonEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	stopAt, err := q.DefaultStopAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, stopAt, "stop-at defaults to completed")

	require.NoError(t, q.SetDefaultStopAt(ctx, models.StageTranslated))
	stopAt, err = q.DefaultStopAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageTranslated, stopAt)

	assert.Error(t, q.SetDefaultStopAt(ctx, models.Stage("bogus")))
}

func TestSidecarCarriesTargetPerEnqueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"doc_t"}, models.StageExtracted, models.PriorityBackground)
	require.NoError(t, err)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageExtracted, item.TargetStage)
	assert.Equal(t, models.PriorityBackground, item.Priority)
	assert.False(t, item.EnqueuedAt.IsZero())
}

func TestDequeueDropsEntriesWithoutSidecar(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []string{"doc_orphan"}, models.StageExtracted, models.PriorityInteractive)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, []string{"doc_ok"}, models.StageTranslated, models.PriorityInteractive)
	require.NoError(t, err)

	// Remove the first entry's sidecar, as a Clear racing the dequeue would.
	require.NoError(t, q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(q.taskKey("doc_orphan"))
	}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc_ok", item.DocumentID, "orphaned entry must be skipped, not processed with a guessed target")
	assert.Equal(t, models.StageTranslated, item.TargetStage)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoItem)

	pri, _, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pri, "the orphaned entry is removed from the tier")
}
