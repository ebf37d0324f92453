package pipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/tabula/internal/models"
)

// markStarted records that processing has begun. No transformation.
func (p *Pipeline) markStarted(ctx context.Context, doc *models.Document, priority models.QueuePriority) (models.Stage, error) {
	return models.StageStarted, nil
}

// translate populates EnglishText from OriginalText via the remote
// translation service. An English record reaching this stage is an invariant
// violation, not a retryable condition: extraction routes English documents
// past translation, so arriving here means the record is corrupt.
func (p *Pipeline) translate(ctx context.Context, doc *models.Document, priority models.QueuePriority) (models.Stage, error) {
	if doc.IsEnglish() {
		return "", fmt.Errorf("document %s is marked English but reached translation", doc.ID)
	}
	if doc.OriginalText == "" {
		return "", fmt.Errorf("document %s has no extracted text to translate", doc.ID)
	}

	translated, err := p.translator.Translate(ctx, doc.OriginalText, doc.Language, "en")
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}

	doc.EnglishText = translated
	return models.StageTranslated, nil
}

// index submits the English text plus a normalized metadata payload to the
// external search/embedding subsystem.
func (p *Pipeline) index(ctx context.Context, doc *models.Document, priority models.QueuePriority) (models.Stage, error) {
	if doc.EnglishText == "" {
		return "", fmt.Errorf("document %s has no english text to index", doc.ID)
	}

	meta := map[string]string{
		"title":       orUnknown(doc.Title),
		"author":      orUnknown(metadataString(doc.Metadata, "author")),
		"source":      orUnknown(doc.Source),
		"date":        orUnknown(metadataString(doc.Metadata, "date")),
		"document_id": doc.ID,
	}

	if err := p.indexer.Index(ctx, doc.EnglishText, meta); err != nil {
		return "", fmt.Errorf("indexing failed: %w", err)
	}

	return models.StageCompleted, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func metadataString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
