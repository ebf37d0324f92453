package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// PipelineRunner is the slice of the stage pipeline the scheduler drives.
type PipelineRunner interface {
	Run(ctx context.Context, doc *models.Document, target models.Stage, priority models.QueuePriority) error
}

// Scheduler runs the two control loops: the main loop that drains the task
// queue into pipeline workers under the shared concurrency bound, and the
// background refill loop that tops the queue up with eligible documents when
// the daemon toggle is on.
//
// Neither loop dies on single-document failures. A failed document stays at
// its last persisted stage until re-enqueued.
type Scheduler struct {
	config    common.SchedulerConfig
	leaseTTL  time.Duration
	documents interfaces.DocumentStorage
	queue     interfaces.TaskQueue
	pipeline  PipelineRunner
	logger    arbor.ILogger

	pool *ants.Pool
	cron *cron.Cron

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(
	cfg common.SchedulerConfig,
	leaseTTL time.Duration,
	documents interfaces.DocumentStorage,
	queue interfaces.TaskQueue,
	pipe PipelineRunner,
	logger arbor.ILogger,
) (*Scheduler, error) {
	maxWorkers := cfg.MaxConcurrentDocuments
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	pool, err := ants.NewPool(maxWorkers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Scheduler{
		config:    cfg,
		leaseTTL:  leaseTTL,
		documents: documents,
		queue:     queue,
		pipeline:  pipe,
		logger:    logger,
		pool:      pool,
		cron:      cron.New(),
	}, nil
}

// Start launches both loops. Safe to call once; Stop shuts them down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.mainLoop(loopCtx)
	}()

	schedule := s.config.RefillSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.refill(loopCtx) }); err != nil {
		cancel()
		s.running = false
		return fmt.Errorf("register refill schedule %q: %w", schedule, err)
	}
	s.cron.Start()

	s.logger.Info().
		Int("max_concurrent", s.config.MaxConcurrentDocuments).
		Str("refill_schedule", schedule).
		Msg("Scheduler started")
	return nil
}

// Stop halts both loops and waits for in-flight workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.wg.Wait()
	s.pool.Release()

	s.logger.Info().Msg("Scheduler stopped")
}

// mainLoop dequeues work on each tick while capacity allows. Every failure
// mode is logged and skipped; only context cancellation ends the loop.
func (s *Scheduler) mainLoop(ctx context.Context) {
	interval := common.Duration(s.config.PollInterval, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		inFlight, err := s.queue.InFlight(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to read in-flight count")
			continue
		}
		if inFlight >= s.config.MaxConcurrentDocuments {
			continue
		}

		item, err := s.queue.Dequeue(ctx)
		if errors.Is(err, interfaces.ErrNoItem) {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Dequeue failed")
			continue
		}

		if _, err := s.queue.IncrementInFlight(ctx); err != nil {
			s.logger.Error().Err(err).Str("document_id", item.DocumentID).Msg("Failed to increment in-flight count")
			continue
		}

		task := item
		if err := s.pool.Submit(func() { s.process(ctx, task) }); err != nil {
			s.logger.Error().Err(err).Str("document_id", item.DocumentID).Msg("Failed to submit worker")
			if _, decErr := s.queue.DecrementInFlight(ctx); decErr != nil {
				s.logger.Error().Err(decErr).Msg("Failed to decrement in-flight count")
			}
		}
	}
}

// process is one unit of work: lease, load, run, release. The in-flight
// counter is decremented on every path out.
func (s *Scheduler) process(ctx context.Context, item *models.QueueItem) {
	defer func() {
		if _, err := s.queue.DecrementInFlight(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to decrement in-flight count")
		}
	}()

	if err := s.queue.AcquireLease(ctx, item.DocumentID, s.leaseTTL); err != nil {
		if errors.Is(err, interfaces.ErrLeaseHeld) {
			// Another worker is already on this document; the duplicate
			// enqueue is dropped.
			s.logger.Debug().Str("document_id", item.DocumentID).Msg("Document lease held, skipping")
			return
		}
		s.logger.Warn().Err(err).Str("document_id", item.DocumentID).Msg("Lease acquisition failed")
		return
	}
	defer func() {
		if err := s.queue.ReleaseLease(ctx, item.DocumentID); err != nil {
			s.logger.Warn().Err(err).Str("document_id", item.DocumentID).Msg("Lease release failed")
		}
	}()

	doc, err := s.documents.GetDocument(ctx, item.DocumentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", item.DocumentID).Msg("Queued document not found")
		return
	}

	if err := s.pipeline.Run(ctx, doc, item.TargetStage, item.Priority); err != nil {
		s.logger.Error().Err(err).
			Str("document_id", doc.ID).
			Str("stage", string(doc.Stage)).
			Str("target", string(item.TargetStage)).
			Msg("Pipeline run failed")
		return
	}

	s.logger.Info().
		Str("document_id", doc.ID).
		Str("stage", string(doc.Stage)).
		Msg("Document processed")
}

// refill tops up the background tier with eligible documents when the daemon
// is enabled. The batch is shuffled so repeated refills do not always favor
// the same records.
func (s *Scheduler) refill(ctx context.Context) {
	enabled, err := s.queue.DaemonEnabled(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read daemon toggle")
		return
	}
	if !enabled {
		return
	}

	stopAt, err := s.queue.DefaultStopAt(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read default stop-at stage")
		return
	}

	docs, err := s.documents.ListDocuments(ctx, &interfaces.DocumentFilter{
		MaxStageIndexBelow: stopAt,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list eligible documents")
		return
	}
	if len(docs) == 0 {
		return
	}

	rand.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })

	batchSize := s.config.RefillBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	if len(docs) > batchSize {
		docs = docs[:batchSize]
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}

	count, err := s.queue.Enqueue(ctx, ids, stopAt, models.PriorityBackground)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Background refill enqueue failed")
		return
	}

	s.logger.Info().
		Int("count", count).
		Str("stop_at", string(stopAt)).
		Msg("Background refill enqueued documents")
}
