package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// BadgerQueue implements the TaskQueue interface on raw Badger
// transactions. Both FIFO tiers, the per-item sidecar records, the in-flight
// counter and the per-document leases live in the shared store so queued
// work and scheduler state survive restarts. The daemon switches live in the
// shared settings store.
//
// Key layout (all under the configured queue name):
//
//	queue:{name}:priority:{seq}     -> document id (zero-padded seq keeps FIFO order)
//	queue:{name}:background:{seq}   -> document id
//	queue:{name}:task:{docID}       -> QueueItem JSON (sidecar)
//	queue:{name}:seq                -> monotonic sequence counter
//	queue:{name}:inflight           -> in-flight document counter
//	queue:{name}:lease:{docID}      -> lease marker, expiry via badger TTL
type BadgerQueue struct {
	db       *badger.DB
	name     string
	settings interfaces.KeyValueStorage
	logger   arbor.ILogger
}

var _ interfaces.TaskQueue = (*BadgerQueue)(nil)

// NewBadgerQueue creates a Badger-backed task queue. The daemon toggle and
// default stop-at stage are kept in settings.
func NewBadgerQueue(db *badger.DB, name string, settings interfaces.KeyValueStorage, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	if settings == nil {
		return nil, errors.New("settings store is required")
	}
	return &BadgerQueue{db: db, name: name, settings: settings, logger: logger}, nil
}

const maxTxnRetries = 50

// update runs fn in a read-write transaction, retrying on SSI conflicts.
// Counter updates from concurrent workers conflict routinely under load.
func (q *BadgerQueue) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = q.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
		time.Sleep(time.Duration(i+1) * time.Millisecond)
	}
	return err
}

func (q *BadgerQueue) tierPrefix(priority models.QueuePriority) []byte {
	return []byte(fmt.Sprintf("queue:%s:%s:", q.name, priority))
}

func (q *BadgerQueue) tierKey(priority models.QueuePriority, seq uint64) []byte {
	// Zero pad to 20 digits so lexicographic key order is numeric order.
	return []byte(fmt.Sprintf("queue:%s:%s:%020d", q.name, priority, seq))
}

func (q *BadgerQueue) taskKey(docID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:task:%s", q.name, docID))
}

func (q *BadgerQueue) leaseKey(docID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:lease:%s", q.name, docID))
}

func (q *BadgerQueue) counterKey(counter string) []byte {
	return []byte(fmt.Sprintf("queue:%s:%s", q.name, counter))
}

// nextSeq increments the shared sequence counter inside txn.
func (q *BadgerQueue) nextSeq(txn *badger.Txn) (uint64, error) {
	key := q.counterKey("seq")
	var seq uint64
	item, err := txn.Get(key)
	if err == nil {
		err = item.Value(func(val []byte) error {
			parsed, perr := strconv.ParseUint(string(val), 10, 64)
			if perr != nil {
				return perr
			}
			seq = parsed
			return nil
		})
		if err != nil {
			return 0, err
		}
	} else if err != badger.ErrKeyNotFound {
		return 0, err
	}
	seq++
	if err := txn.Set(key, []byte(strconv.FormatUint(seq, 10))); err != nil {
		return 0, err
	}
	return seq, nil
}

// Enqueue writes sidecar entries then pushes ids onto the selected tier.
func (q *BadgerQueue) Enqueue(ctx context.Context, documentIDs []string, target models.Stage, priority models.QueuePriority) (int, error) {
	if !models.ValidStage(target) {
		return 0, fmt.Errorf("invalid target stage: %s", target)
	}
	if priority != models.PriorityInteractive && priority != models.PriorityBackground {
		return 0, fmt.Errorf("invalid priority: %s", priority)
	}

	count := 0
	err := q.update(func(txn *badger.Txn) error {
		count = 0
		for _, docID := range documentIDs {
			if docID == "" {
				continue
			}
			item := models.QueueItem{
				DocumentID:  docID,
				TargetStage: target,
				Priority:    priority,
				EnqueuedAt:  time.Now(),
			}
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("failed to marshal queue item: %w", err)
			}
			if err := txn.Set(q.taskKey(docID), data); err != nil {
				return err
			}

			seq, err := q.nextSeq(txn)
			if err != nil {
				return err
			}
			if err := txn.Set(q.tierKey(priority, seq), []byte(docID)); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue: %w", err)
	}

	q.logger.Debug().
		Int("count", count).
		Str("target", string(target)).
		Str("priority", string(priority)).
		Msg("Documents enqueued")
	return count, nil
}

// Dequeue pops from the priority tier first; background items are only
// taken when the priority tier is empty at the instant of the call.
func (q *BadgerQueue) Dequeue(ctx context.Context) (*models.QueueItem, error) {
	var result *models.QueueItem

	err := q.update(func(txn *badger.Txn) error {
		result = nil
		for _, tier := range []models.QueuePriority{models.PriorityInteractive, models.PriorityBackground} {
			item, err := q.popTier(txn, tier)
			if err != nil {
				return err
			}
			if item != nil {
				result = item
				return nil
			}
		}
		return interfaces.ErrNoItem
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// popTier removes and returns the oldest item of one tier, or nil when empty.
// Entries whose sidecar is gone (a concurrent Clear raced the dequeue) are
// discarded rather than processed with a guessed target.
func (q *BadgerQueue) popTier(txn *badger.Txn, tier models.QueuePriority) (*models.QueueItem, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	prefix := q.tierPrefix(tier)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		entry := it.Item()
		queueKey := entry.KeyCopy(nil)
		var docID string
		if err := entry.Value(func(val []byte) error {
			docID = string(val)
			return nil
		}); err != nil {
			return nil, err
		}

		if err := txn.Delete(queueKey); err != nil {
			return nil, err
		}

		taskKey := q.taskKey(docID)
		taskItem, err := txn.Get(taskKey)
		if err == badger.ErrKeyNotFound {
			q.logger.Warn().
				Str("document_id", docID).
				Str("tier", string(tier)).
				Msg("Dropping queue entry with no sidecar")
			continue
		}
		if err != nil {
			return nil, err
		}

		item := &models.QueueItem{
			DocumentID: docID,
			Priority:   tier,
		}
		if err := taskItem.Value(func(val []byte) error {
			return json.Unmarshal(val, item)
		}); err != nil {
			return nil, err
		}
		if err := txn.Delete(taskKey); err != nil {
			return nil, err
		}
		return item, nil
	}

	return nil, nil
}

// Clear empties both tiers and all sidecar entries. In-flight counter and
// daemon switches are left untouched.
func (q *BadgerQueue) Clear(ctx context.Context) error {
	prefixes := [][]byte{
		q.tierPrefix(models.PriorityInteractive),
		q.tierPrefix(models.PriorityBackground),
		[]byte(fmt.Sprintf("queue:%s:task:", q.name)),
	}

	deleted := 0
	err := q.update(func(txn *badger.Txn) error {
		deleted = 0
		for _, prefix := range prefixes {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
					it.Close()
					return err
				}
				deleted++
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear queues: %w", err)
	}

	q.logger.Info().Int("deleted", deleted).Msg("Cleared task queues")
	return nil
}

// Depths reports (priority, background) queue lengths.
func (q *BadgerQueue) Depths(ctx context.Context) (int, int, error) {
	var priority, background int
	err := q.db.View(func(txn *badger.Txn) error {
		var err error
		priority, err = q.countPrefix(txn, q.tierPrefix(models.PriorityInteractive))
		if err != nil {
			return err
		}
		background, err = q.countPrefix(txn, q.tierPrefix(models.PriorityBackground))
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depths: %w", err)
	}
	return priority, background, nil
}

func (q *BadgerQueue) countPrefix(txn *badger.Txn, prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	count := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		count++
	}
	return count, nil
}

// adjustCounter applies delta to a stored integer counter, flooring at zero,
// and returns the new value.
func (q *BadgerQueue) adjustCounter(key []byte, delta int) (int, error) {
	var value int
	err := q.update(func(txn *badger.Txn) error {
		value = 0
		item, err := txn.Get(key)
		if err == nil {
			err = item.Value(func(val []byte) error {
				parsed, perr := strconv.Atoi(string(val))
				if perr != nil {
					return perr
				}
				value = parsed
				return nil
			})
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		value += delta
		if value < 0 {
			value = 0
		}
		return txn.Set(key, []byte(strconv.Itoa(value)))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to adjust counter: %w", err)
	}
	return value, nil
}

func (q *BadgerQueue) IncrementInFlight(ctx context.Context) (int, error) {
	return q.adjustCounter(q.counterKey("inflight"), 1)
}

func (q *BadgerQueue) DecrementInFlight(ctx context.Context) (int, error) {
	return q.adjustCounter(q.counterKey("inflight"), -1)
}

// InFlight reads the counter without opening a write transaction; status
// polls must not contend with worker increments.
func (q *BadgerQueue) InFlight(ctx context.Context) (int, error) {
	value := 0
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(q.counterKey("inflight"))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, perr := strconv.Atoi(string(val))
			if perr != nil {
				return perr
			}
			value = parsed
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read in-flight counter: %w", err)
	}
	return value, nil
}

// AcquireLease guards against two workers processing the same document
// concurrently (it can legitimately be enqueued twice, once interactively
// and once by the background refill). Lease expiry rides on Badger's entry
// TTL so a crashed worker never wedges its document permanently.
func (q *BadgerQueue) AcquireLease(ctx context.Context, documentID string, ttl time.Duration) error {
	key := q.leaseKey(documentID)
	err := q.update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return interfaces.ErrLeaseHeld
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		entry := badger.NewEntry(key, []byte(time.Now().Format(time.RFC3339))).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil && !errors.Is(err, interfaces.ErrLeaseHeld) {
		return fmt.Errorf("failed to acquire lease for %s: %w", documentID, err)
	}
	return err
}

func (q *BadgerQueue) ReleaseLease(ctx context.Context, documentID string) error {
	err := q.update(func(txn *badger.Txn) error {
		return txn.Delete(q.leaseKey(documentID))
	})
	if err != nil {
		return fmt.Errorf("failed to release lease for %s: %w", documentID, err)
	}
	return nil
}

func (q *BadgerQueue) settingKey(name string) string {
	return fmt.Sprintf("queue.%s.%s", q.name, name)
}

func (q *BadgerQueue) SetDaemonEnabled(ctx context.Context, enabled bool) error {
	return q.settings.Set(ctx, q.settingKey("daemon.enabled"), strconv.FormatBool(enabled))
}

func (q *BadgerQueue) DaemonEnabled(ctx context.Context) (bool, error) {
	value, err := q.settings.Get(ctx, q.settingKey("daemon.enabled"))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read daemon toggle: %w", err)
	}
	return strconv.ParseBool(value)
}

func (q *BadgerQueue) SetDefaultStopAt(ctx context.Context, stage models.Stage) error {
	if !models.ValidStage(stage) {
		return fmt.Errorf("invalid stage: %s", stage)
	}
	return q.settings.Set(ctx, q.settingKey("daemon.stopat"), string(stage))
}

func (q *BadgerQueue) DefaultStopAt(ctx context.Context) (models.Stage, error) {
	value, err := q.settings.Get(ctx, q.settingKey("daemon.stopat"))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return models.StageCompleted, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read default stop-at: %w", err)
	}
	stage, ok := models.ParseStage(value)
	if !ok {
		return models.StageCompleted, nil
	}
	return stage, nil
}
