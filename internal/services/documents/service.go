package documents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// Service owns document ingestion and the admin-facing processing operations.
// Ingestion is content-addressed: uploading the same bytes twice resolves to
// the existing record instead of creating a duplicate.
type Service struct {
	documents interfaces.DocumentStorage
	blobs     interfaces.BlobStore
	queue     interfaces.TaskQueue
	logger    arbor.ILogger
}

func NewService(
	documents interfaces.DocumentStorage,
	blobs interfaces.BlobStore,
	queue interfaces.TaskQueue,
	logger arbor.ILogger,
) *Service {
	return &Service{
		documents: documents,
		blobs:     blobs,
		queue:     queue,
		logger:    logger,
	}
}

// IngestRequest carries caller-supplied metadata for an upload. Doctype is
// inferred from Filename when empty.
type IngestRequest struct {
	Filename    string
	Doctype     string
	Language    string
	Title       string
	Source      string
	Metadata    map[string]interface{}
	TargetStage models.Stage
}

var extensionDoctypes = map[string]string{
	".md":       models.DoctypeMarkdown,
	".markdown": models.DoctypeMarkdown,
	".pdf":      models.DoctypePDF,
	".html":     models.DoctypeHTML,
	".htm":      models.DoctypeHTML,
	".doc":      models.DoctypeDoc,
	".docx":     models.DoctypeDocx,
	".tex":      models.DoctypeTex,
	".epub":     models.DoctypeEpub,
	".odt":      models.DoctypeOdt,
	".rtf":      models.DoctypeRtf,
	".mp3":      models.DoctypeMP3,
	".wav":      models.DoctypeWav,
	".m4a":      models.DoctypeM4A,
	".mp4":      models.DoctypeMP4,
}

// Ingest stores the document bytes, creates or reuses the record keyed by
// content hash, and enqueues it for interactive processing. The returned bool
// reports whether a new record was created.
func (s *Service) Ingest(ctx context.Context, content []byte, req IngestRequest) (*models.Document, bool, error) {
	if len(content) == 0 {
		return nil, false, fmt.Errorf("document content is empty")
	}

	doctype := req.Doctype
	if doctype == "" {
		doctype = extensionDoctypes[strings.ToLower(filepath.Ext(req.Filename))]
	}
	if doctype == "" {
		return nil, false, fmt.Errorf("cannot determine doctype for %q", req.Filename)
	}

	hash, err := s.blobs.Put(ctx, content)
	if err != nil {
		// A mirror failure still yields a usable local blob; anything else
		// is fatal for the ingest.
		if hash == "" {
			return nil, false, fmt.Errorf("store document bytes: %w", err)
		}
		s.logger.Warn().Err(err).Str("hash", hash).Msg("Blob stored locally, remote mirror failed")
	}

	target := req.TargetStage
	if target == "" {
		target = models.StageTranslated
	}

	doc, err := s.documents.GetDocumentByHash(ctx, hash)
	created := false
	switch {
	case err == nil:
		s.logger.Info().
			Str("document_id", doc.ID).
			Str("hash", hash).
			Msg("Upload matched existing document")
	case errors.Is(err, interfaces.ErrDocumentNotFound):
		doc = &models.Document{
			ID:          common.NewDocumentID(),
			ContentHash: hash,
			Doctype:     doctype,
			Language:    req.Language,
			Title:       req.Title,
			Source:      req.Source,
			Metadata:    req.Metadata,
			Stage:       models.StageUnprocessed,
		}
		if err := s.documents.SaveDocument(ctx, doc); err != nil {
			return nil, false, fmt.Errorf("save document record: %w", err)
		}
		created = true
	default:
		return nil, false, fmt.Errorf("look up document by hash: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, []string{doc.ID}, target, models.PriorityInteractive); err != nil {
		return doc, created, fmt.Errorf("enqueue document %s: %w", doc.ID, err)
	}

	return doc, created, nil
}

// Process enqueues existing documents for interactive processing up to
// target. Unknown ids are skipped; the returned count covers only documents
// actually enqueued.
func (s *Service) Process(ctx context.Context, ids []string, target models.Stage) (int, error) {
	if target == "" {
		target = models.StageTranslated
	}

	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.documents.GetDocument(ctx, id); err != nil {
			s.logger.Warn().Str("document_id", id).Msg("Skipping unknown document")
			continue
		}
		valid = append(valid, id)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	return s.queue.Enqueue(ctx, valid, target, models.PriorityInteractive)
}

// ProcessWhere enqueues every document matching the filter.
func (s *Service) ProcessWhere(ctx context.Context, filter *interfaces.DocumentFilter, target models.Stage) (int, error) {
	docs, err := s.documents.ListDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if target == "" {
		target = models.StageTranslated
	}
	return s.queue.Enqueue(ctx, ids, target, models.PriorityInteractive)
}
