package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage implements the DocumentStorage interface for Badger
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DocumentStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.Store().Get(id, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentStorage) GetDocumentByHash(ctx context.Context, hash string) (*models.Document, error) {
	var docs []models.Document
	err := s.db.Store().Find(&docs, badgerhold.Where("ContentHash").Eq(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to find document by hash: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: hash %s", interfaces.ErrDocumentNotFound, hash)
	}
	return &docs[0], nil
}

// ListDocuments applies the stage filters in memory. BadgerHold cannot
// express stage-index comparisons, so this scans the full document set.
func (s *DocumentStorage) ListDocuments(ctx context.Context, filter *interfaces.DocumentFilter) ([]*models.Document, error) {
	var docs []models.Document
	if err := s.db.Store().Find(&docs, nil); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	var result []*models.Document
	for i := range docs {
		if !matchesFilter(&docs[i], filter) {
			continue
		}
		result = append(result, &docs[i])
	}
	return result, nil
}

func matchesFilter(doc *models.Document, filter *interfaces.DocumentFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.Stages) > 0 {
		found := false
		for _, s := range filter.Stages {
			if doc.Stage == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MaxStageIndexBelow != "" {
		if models.StageIndex(doc.Stage) >= models.StageIndex(filter.MaxStageIndexBelow) {
			return false
		}
	}
	if filter.Match != nil && !filter.Match(doc) {
		return false
	}
	return true
}

func (s *DocumentStorage) CountDocuments(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Document{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(count), nil
}

func (s *DocumentStorage) DeleteDocument(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Document{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
