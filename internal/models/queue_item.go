package models

import "time"

// QueuePriority selects which of the two work tiers an item lands on.
type QueuePriority string

const (
	PriorityInteractive QueuePriority = "priority"
	PriorityBackground  QueuePriority = "background"
)

// QueueItem is the sidecar record describing one enqueued processing
// request: advance the document until it reaches TargetStage or fails.
// Ephemeral; it lives only in queue storage.
type QueueItem struct {
	DocumentID  string        `json:"document_id"`
	TargetStage Stage         `json:"target_stage"`
	Priority    QueuePriority `json:"priority"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
}
