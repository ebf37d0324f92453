package pipeline

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// TransitionFunc performs the unit of work for one lifecycle position and
// returns the stage the record moves to. Transitions must strictly advance
// the stage index.
type TransitionFunc func(ctx context.Context, doc *models.Document, priority models.QueuePriority) (models.Stage, error)

// Pipeline advances a document record through its lifecycle stages up to a
// requested ceiling. It persists the record after every transition attempt,
// success or failure, so an interrupted run resumes where it stopped instead
// of redoing completed work.
type Pipeline struct {
	documents   interfaces.DocumentStorage
	blobs       interfaces.BlobStore
	ocr         interfaces.OCRService
	translator  interfaces.TranslationService
	transcriber interfaces.TranscriptionService
	converter   interfaces.ConvertService
	indexer     interfaces.IndexService
	logger      arbor.ILogger

	transitions map[models.Stage]TransitionFunc
}

// New creates a pipeline wired to the stage services.
func New(
	documents interfaces.DocumentStorage,
	blobs interfaces.BlobStore,
	ocr interfaces.OCRService,
	translator interfaces.TranslationService,
	transcriber interfaces.TranscriptionService,
	converter interfaces.ConvertService,
	indexer interfaces.IndexService,
	logger arbor.ILogger,
) *Pipeline {
	p := &Pipeline{
		documents:   documents,
		blobs:       blobs,
		ocr:         ocr,
		translator:  translator,
		transcriber: transcriber,
		converter:   converter,
		indexer:     indexer,
		logger:      logger,
	}
	p.transitions = map[models.Stage]TransitionFunc{
		models.StageUnprocessed: p.markStarted,
		models.StageStarted:     p.extract,
		models.StageExtracted:   p.translate,
		models.StageTranslated:  p.index,
	}
	return p
}

// Run advances doc until the work owed at target is done or a transition
// fails. A record at target still gets that stage's transition executed:
// running to StageTranslated performs indexing and leaves the record
// completed. Stages owned by collaborating subsystems stop the run cleanly.
//
// The record is persisted after every transition attempt. On failure the
// stage is left at the position being attempted and the error is returned
// wrapped in a StageError naming it.
func (p *Pipeline) Run(ctx context.Context, doc *models.Document, target models.Stage, priority models.QueuePriority) error {
	for models.StageIndex(doc.Stage) <= models.StageIndex(target) {
		fn, ok := p.transitions[doc.Stage]
		if !ok {
			// embeddings/summarization/organization/encounter stages and
			// the completed sentinel belong to other subsystems
			return nil
		}

		attempted := doc.Stage
		next, err := fn(ctx, doc, priority)
		if err != nil {
			if saveErr := p.documents.SaveDocument(ctx, doc); saveErr != nil {
				p.logger.Error().Err(saveErr).
					Str("document_id", doc.ID).
					Str("stage", string(attempted)).
					Msg("Failed to persist document after stage failure")
			}
			return &interfaces.StageError{Stage: attempted, Err: err}
		}

		doc.Stage = next
		if err := p.documents.SaveDocument(ctx, doc); err != nil {
			return &interfaces.StageError{Stage: attempted, Err: err}
		}

		p.logger.Debug().
			Str("document_id", doc.ID).
			Str("from", string(attempted)).
			Str("to", string(next)).
			Msg("Stage transition complete")
	}
	return nil
}

// Downgrade moves every matching record whose stage is past target back to
// target, forcing reprocessing on the next run without re-ingesting. Records
// already at or below target are untouched. Returns the number of records
// changed.
func (p *Pipeline) Downgrade(ctx context.Context, target models.Stage, filter *interfaces.DocumentFilter) (int, error) {
	docs, err := p.documents.ListDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, doc := range docs {
		if models.StageIndex(doc.Stage) <= models.StageIndex(target) {
			continue
		}
		doc.Stage = target
		if err := p.documents.SaveDocument(ctx, doc); err != nil {
			return count, err
		}
		count++
	}

	p.logger.Info().
		Int("count", count).
		Str("target", string(target)).
		Msg("Downgraded documents for reprocessing")
	return count, nil
}
