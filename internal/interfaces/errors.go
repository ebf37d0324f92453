package interfaces

import (
	"errors"
	"fmt"

	"github.com/ternarybob/tabula/internal/models"
)

var (
	// ErrKeyNotFound is returned when a key/value lookup misses.
	ErrKeyNotFound = errors.New("key not found")

	// ErrDocumentNotFound is returned when a document lookup misses.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNoItem is returned by Dequeue when both queue tiers are empty.
	ErrNoItem = errors.New("no items in queue")

	// ErrLeaseHeld is returned when a per-document lease is already held
	// by another worker and has not expired.
	ErrLeaseHeld = errors.New("document lease held")

	// ErrBlobNotFound is returned when a blob exists neither locally nor remotely.
	ErrBlobNotFound = errors.New("blob not found")
)

// BlobStoreError carries the path or hash a blob operation was attempting
// when it failed.
type BlobStoreError struct {
	Op   string
	Hash string
	Path string
	Err  error
}

func (e *BlobStoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("blob %s %s (%s): %v", e.Op, e.Hash, e.Path, e.Err)
	}
	return fmt.Sprintf("blob %s %s: %v", e.Op, e.Hash, e.Err)
}

func (e *BlobStoreError) Unwrap() error { return e.Err }

// StageError tags a pipeline failure with the stage that was being attempted,
// so callers can report where a document stalled.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
