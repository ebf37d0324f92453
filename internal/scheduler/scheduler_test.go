package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// memQueue is an in-memory TaskQueue with the same atomicity guarantees the
// badger-backed queue provides.
type memQueue struct {
	mu          sync.Mutex
	priority    []*models.QueueItem
	background  []*models.QueueItem
	inFlight    int
	leases      map[string]bool
	daemon      bool
	stopAt      models.Stage
	leaseDenied int
}

func newMemQueue() *memQueue {
	return &memQueue{leases: make(map[string]bool), stopAt: models.StageCompleted}
}

func (q *memQueue) Enqueue(ctx context.Context, ids []string, target models.Stage, priority models.QueuePriority) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		item := &models.QueueItem{DocumentID: id, TargetStage: target, Priority: priority, EnqueuedAt: time.Now()}
		if priority == models.PriorityInteractive {
			q.priority = append(q.priority, item)
		} else {
			q.background = append(q.background, item)
		}
	}
	return len(ids), nil
}

func (q *memQueue) Dequeue(ctx context.Context) (*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.priority) > 0 {
		item := q.priority[0]
		q.priority = q.priority[1:]
		return item, nil
	}
	if len(q.background) > 0 {
		item := q.background[0]
		q.background = q.background[1:]
		return item, nil
	}
	return nil, interfaces.ErrNoItem
}

func (q *memQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.priority, q.background = nil, nil
	return nil
}

func (q *memQueue) Depths(ctx context.Context) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority), len(q.background), nil
}

func (q *memQueue) IncrementInFlight(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight++
	return q.inFlight, nil
}

func (q *memQueue) DecrementInFlight(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	return q.inFlight, nil
}

func (q *memQueue) InFlight(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight, nil
}

func (q *memQueue) AcquireLease(ctx context.Context, id string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leases[id] {
		q.leaseDenied++
		return interfaces.ErrLeaseHeld
	}
	q.leases[id] = true
	return nil
}

func (q *memQueue) ReleaseLease(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leases, id)
	return nil
}

func (q *memQueue) SetDaemonEnabled(ctx context.Context, enabled bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.daemon = enabled
	return nil
}

func (q *memQueue) DaemonEnabled(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.daemon, nil
}

func (q *memQueue) SetDefaultStopAt(ctx context.Context, stage models.Stage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopAt = stage
	return nil
}

func (q *memQueue) DefaultStopAt(ctx context.Context) (models.Stage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopAt, nil
}

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newMemDocs() *memDocs { return &memDocs{docs: make(map[string]*models.Document)} }

func (s *memDocs) SaveDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *memDocs) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, interfaces.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *memDocs) GetDocumentByHash(ctx context.Context, hash string) (*models.Document, error) {
	return nil, interfaces.ErrDocumentNotFound
}

func (s *memDocs) ListDocuments(ctx context.Context, filter *interfaces.DocumentFilter) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Document
	for _, doc := range s.docs {
		if filter != nil && filter.MaxStageIndexBelow != "" &&
			models.StageIndex(doc.Stage) >= models.StageIndex(filter.MaxStageIndexBelow) {
			continue
		}
		cp := *doc
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memDocs) CountDocuments(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs), nil
}

func (s *memDocs) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

// slowRunner records the maximum number of concurrent Run calls.
type slowRunner struct {
	mu        sync.Mutex
	active    int
	maxActive int
	runs      int
	delay     time.Duration
}

func (r *slowRunner) Run(ctx context.Context, doc *models.Document, target models.Stage, priority models.QueuePriority) error {
	r.mu.Lock()
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.runs++
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	doc.Stage = models.StageCompleted
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestScheduler(t *testing.T, queue *memQueue, docs *memDocs, runner PipelineRunner, maxConcurrent int) *Scheduler {
	t.Helper()
	s, err := New(common.SchedulerConfig{
		MaxConcurrentDocuments: maxConcurrent,
		PollInterval:           "1ms",
		RefillSchedule:         "@every 1h",
		RefillBatchSize:        5,
	}, time.Minute, docs, queue, runner, arbor.NewLogger())
	require.NoError(t, err)
	return s
}

func TestConcurrencyBound(t *testing.T) {
	queue := newMemQueue()
	docs := newMemDocs()
	runner := &slowRunner{delay: 20 * time.Millisecond}
	ctx := context.Background()

	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		doc := &models.Document{ID: common.NewDocumentID(), Stage: models.StageUnprocessed}
		require.NoError(t, docs.SaveDocument(ctx, doc))
		ids = append(ids, doc.ID)
	}
	_, err := queue.Enqueue(ctx, ids, models.StageTranslated, models.PriorityInteractive)
	require.NoError(t, err)

	s := newTestScheduler(t, queue, docs, runner, 3)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	waitFor(t, 5*time.Second, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.runs == 20 && runner.active == 0
	})

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.LessOrEqual(t, runner.maxActive, 3, "in-flight work must never exceed the bound")
}

func TestLeasePreventsDoubleProcessing(t *testing.T) {
	queue := newMemQueue()
	docs := newMemDocs()
	runner := &slowRunner{delay: 50 * time.Millisecond}
	ctx := context.Background()

	doc := &models.Document{ID: "doc_dup", Stage: models.StageUnprocessed}
	require.NoError(t, docs.SaveDocument(ctx, doc))

	// Same document queued twice, as an interactive request racing the
	// background refill would produce.
	_, err := queue.Enqueue(ctx, []string{"doc_dup"}, models.StageTranslated, models.PriorityInteractive)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, []string{"doc_dup"}, models.StageTranslated, models.PriorityBackground)
	require.NoError(t, err)

	s := newTestScheduler(t, queue, docs, runner, 4)
	require.NoError(t, s.Start(ctx))

	waitFor(t, 5*time.Second, func() bool {
		p, b, _ := queue.Depths(ctx)
		in, _ := queue.InFlight(ctx)
		return p == 0 && b == 0 && in == 0
	})
	s.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	queue.mu.Lock()
	defer queue.mu.Unlock()
	assert.Equal(t, 2, runner.runs+queue.leaseDenied, "every dequeue either ran or was lease-denied")
	assert.Equal(t, 0, len(queue.leases), "all leases released")
}

func TestInFlightReturnsToZeroAfterFailures(t *testing.T) {
	queue := newMemQueue()
	docs := newMemDocs()
	ctx := context.Background()

	// Queued id with no record behind it: the worker fails to load it and
	// must still decrement the counter and release nothing it doesn't hold.
	_, err := queue.Enqueue(ctx, []string{"doc_ghost"}, models.StageTranslated, models.PriorityInteractive)
	require.NoError(t, err)

	s := newTestScheduler(t, queue, docs, &slowRunner{}, 2)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		p, _, _ := queue.Depths(ctx)
		in, _ := queue.InFlight(ctx)
		return p == 0 && in == 0
	})
}

func TestRefillRespectsDaemonToggle(t *testing.T) {
	queue := newMemQueue()
	docs := newMemDocs()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, docs.SaveDocument(ctx, &models.Document{
			ID:    common.NewDocumentID(),
			Stage: models.StageUnprocessed,
		}))
	}

	s := newTestScheduler(t, queue, docs, &slowRunner{}, 2)

	// Daemon off: refill is a no-op.
	s.refill(ctx)
	_, b, _ := queue.Depths(ctx)
	assert.Zero(t, b)

	require.NoError(t, queue.SetDaemonEnabled(ctx, true))
	require.NoError(t, queue.SetDefaultStopAt(ctx, models.StageTranslated))
	s.refill(ctx)

	_, b, _ = queue.Depths(ctx)
	assert.Equal(t, 3, b)

	item, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageTranslated, item.TargetStage)
	assert.Equal(t, models.PriorityBackground, item.Priority)
}

func TestRefillSkipsDocumentsAtOrPastStopAt(t *testing.T) {
	queue := newMemQueue()
	docs := newMemDocs()
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, &models.Document{ID: "doc_new", Stage: models.StageUnprocessed}))
	require.NoError(t, docs.SaveDocument(ctx, &models.Document{ID: "doc_done", Stage: models.StageCompleted}))

	require.NoError(t, queue.SetDaemonEnabled(ctx, true))
	require.NoError(t, queue.SetDefaultStopAt(ctx, models.StageTranslated))

	s := newTestScheduler(t, queue, docs, &slowRunner{}, 2)
	s.refill(ctx)

	_, b, _ := queue.Depths(ctx)
	require.Equal(t, 1, b)
	item, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc_new", item.DocumentID)
}

func TestRefillBatchSize(t *testing.T) {
	queue := newMemQueue()
	docs := newMemDocs()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, docs.SaveDocument(ctx, &models.Document{
			ID:    common.NewDocumentID(),
			Stage: models.StageUnprocessed,
		}))
	}
	require.NoError(t, queue.SetDaemonEnabled(ctx, true))

	s := newTestScheduler(t, queue, docs, &slowRunner{}, 2)
	s.refill(ctx)

	_, b, _ := queue.Depths(ctx)
	assert.Equal(t, 5, b, "refill must honor the batch size")
}
