package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

func newTestStorage(t *testing.T) interfaces.DocumentStorage {
	t.Helper()
	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return NewDocumentStorage(db, arbor.NewLogger())
}

func TestDocumentRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:          "doc-1",
		ContentHash: "hash-1",
		Doctype:     models.DoctypeMarkdown,
		Language:    "de",
		Stage:       models.StageUnprocessed,
	}
	if err := storage.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("Failed to save document: %v", err)
	}
	if doc.CreatedAt.IsZero() || doc.UpdatedAt.IsZero() {
		t.Fatal("Save should stamp created/updated times")
	}

	got, err := storage.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Failed to get document: %v", err)
	}
	if got.ContentHash != "hash-1" {
		t.Errorf("ContentHash = %q, want hash-1", got.ContentHash)
	}

	byHash, err := storage.GetDocumentByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Failed to get document by hash: %v", err)
	}
	if byHash.ID != "doc-1" {
		t.Errorf("ID = %q, want doc-1", byHash.ID)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	_, err := storage.GetDocument(ctx, "missing")
	if !errors.Is(err, interfaces.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}

	_, err = storage.GetDocumentByHash(ctx, "missing-hash")
	if !errors.Is(err, interfaces.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestListDocumentsStageFilters(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	stages := []models.Stage{
		models.StageUnprocessed,
		models.StageExtracted,
		models.StageTranslated,
		models.StageCompleted,
	}
	for i, stage := range stages {
		doc := &models.Document{
			ID:          string(rune('a' + i)),
			ContentHash: "hash-" + string(rune('a'+i)),
			Stage:       stage,
		}
		if err := storage.SaveDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}

	all, err := storage.ListDocuments(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("nil filter should match all, got %d", len(all))
	}

	extracted, err := storage.ListDocuments(ctx, &interfaces.DocumentFilter{
		Stages: []models.Stage{models.StageExtracted},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(extracted) != 1 || extracted[0].Stage != models.StageExtracted {
		t.Errorf("stage filter matched %d documents", len(extracted))
	}

	// Strictly below translated: unprocessed and extracted.
	below, err := storage.ListDocuments(ctx, &interfaces.DocumentFilter{
		MaxStageIndexBelow: models.StageTranslated,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(below) != 2 {
		t.Errorf("MaxStageIndexBelow matched %d documents, want 2", len(below))
	}
	for _, doc := range below {
		if models.StageIndex(doc.Stage) >= models.StageIndex(models.StageTranslated) {
			t.Errorf("document at %s should not match", doc.Stage)
		}
	}

	matched, err := storage.ListDocuments(ctx, &interfaces.DocumentFilter{
		Match: func(d *models.Document) bool { return d.ID == "a" },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 || matched[0].ID != "a" {
		t.Errorf("Match predicate matched %d documents", len(matched))
	}
}

func TestCountAndDelete(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"x", "y"} {
		doc := &models.Document{ID: id, ContentHash: "hash-" + id}
		if err := storage.SaveDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}

	count, err := storage.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	if err := storage.DeleteDocument(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	// Deleting an unknown id is not an error.
	if err := storage.DeleteDocument(ctx, "x"); err != nil {
		t.Fatal(err)
	}

	count, err = storage.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after delete = %d, want 1", count)
	}
}
