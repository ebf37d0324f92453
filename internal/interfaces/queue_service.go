package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/tabula/internal/models"
)

// TaskQueue is the two-tier persistent work queue feeding the scheduler.
// Queue contents, the in-flight counter and the daemon switches all live in
// the shared external store so they survive restarts.
type TaskQueue interface {
	// Enqueue writes sidecar entries then pushes the ids onto the selected
	// tier. Returns the number of documents enqueued.
	Enqueue(ctx context.Context, documentIDs []string, target models.Stage, priority models.QueuePriority) (int, error)

	// Dequeue pops from the priority tier first, then background.
	// Returns ErrNoItem when both tiers are empty.
	Dequeue(ctx context.Context) (*models.QueueItem, error)

	// Clear empties both tiers and their sidecar entries.
	Clear(ctx context.Context) error

	// Depths reports (priority, background) queue lengths.
	Depths(ctx context.Context) (int, int, error)

	// InFlight management. The counter is shared process-wide state.
	IncrementInFlight(ctx context.Context) (int, error)
	DecrementInFlight(ctx context.Context) (int, error)
	InFlight(ctx context.Context) (int, error)

	// AcquireLease takes the per-document lease that guarantees at most one
	// concurrent worker per document. Returns ErrLeaseHeld if another worker
	// holds an unexpired lease.
	AcquireLease(ctx context.Context, documentID string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, documentID string) error

	// Background daemon switches, persisted alongside the queues.
	SetDaemonEnabled(ctx context.Context, enabled bool) error
	DaemonEnabled(ctx context.Context) (bool, error)
	SetDefaultStopAt(ctx context.Context, stage models.Stage) error
	DefaultStopAt(ctx context.Context) (models.Stage, error)
}
