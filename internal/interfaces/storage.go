package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/tabula/internal/models"
)

// DocumentFilter is the predicate shape document listing supports: stage
// membership plus stage-index range selection. A nil filter matches all.
type DocumentFilter struct {
	Stages []models.Stage
	// MaxStageIndexBelow selects records whose stage index is strictly below
	// the index of this stage, when set.
	MaxStageIndexBelow models.Stage
	// Match is an optional extra predicate applied after the stage filters.
	Match func(*models.Document) bool
}

// DocumentStorage persists one record per logical document. It exclusively
// owns DocumentRecord persistence; nothing else writes documents.
type DocumentStorage interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByHash(ctx context.Context, hash string) (*models.Document, error)
	ListDocuments(ctx context.Context, filter *DocumentFilter) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int, error)
	DeleteDocument(ctx context.Context, id string) error
}

// KeyValuePair is the stored representation for shared settings.
type KeyValuePair struct {
	Key       string `badgerhold:"key"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeyValueStorage is the shared settings store (daemon toggle, default
// stop-at stage and similar process-wide switches).
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// StorageManager owns the database connection and hands out the typed stores.
type StorageManager interface {
	DocumentStorage() DocumentStorage
	KVStorage() KeyValueStorage
	Close() error
}
