package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// extract is the raw-extraction transition: it resolves the document's blob
// to a local path, dispatches on doctype to produce markdown text, backs the
// text up through the blob store, and routes English documents straight past
// translation.
func (p *Pipeline) extract(ctx context.Context, doc *models.Document, priority models.QueuePriority) (models.Stage, error) {
	localPath, err := p.blobs.FetchLocalPath(ctx, doc.ContentHash, false, true)
	if err != nil {
		return "", fmt.Errorf("fetch blob for extraction: %w", err)
	}

	text, err := p.extractText(ctx, doc, localPath, priority)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("extraction produced no text for doctype %s", doc.Doctype)
	}

	doc.OriginalText = text
	if doc.Title == "" {
		doc.Title = titleFromMarkdown([]byte(text))
	}

	if err := p.blobs.BackupText(ctx, text, doc.ContentHash, doc.Metadata); err != nil {
		// The backup is a convenience copy; the text lives on the record.
		p.logger.Warn().Err(err).
			Str("document_id", doc.ID).
			Msg("Text backup failed")
	}

	if doc.IsEnglish() {
		doc.EnglishText = text
		return models.StageTranslated, nil
	}
	return models.StageExtracted, nil
}

func (p *Pipeline) extractText(ctx context.Context, doc *models.Document, localPath string, priority models.QueuePriority) (string, error) {
	switch {
	case doc.Doctype == models.DoctypeMarkdown:
		return p.extractMarkdown(doc, localPath)

	case doc.Doctype == models.DoctypePDF:
		if _, err := api.PageCountFile(localPath); err != nil {
			return "", fmt.Errorf("invalid pdf: %w", err)
		}
		return p.ocr.Convert(ctx, localPath, "", ocrPriorityFor(priority))

	case doc.Doctype == models.DoctypeHTML:
		raw, err := os.ReadFile(localPath)
		if err != nil {
			return "", fmt.Errorf("read html: %w", err)
		}
		return p.converter.HTMLToMarkdown(string(raw))

	case isOfficeDoctype(doc.Doctype):
		return p.converter.OfficeToMarkdown(ctx, localPath, doc.Doctype)

	case isAudioDoctype(doc.Doctype):
		return p.transcriber.Transcribe(ctx, localPath)

	default:
		return "", fmt.Errorf("unsupported doctype %q", doc.Doctype)
	}
}

// extractMarkdown reads the file, strips any YAML front-matter and merges it
// into the record's metadata. Caller-supplied metadata wins over embedded
// values; the embedded language only applies when the record has none.
func (p *Pipeline) extractMarkdown(doc *models.Document, localPath string) (string, error) {
	raw, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read markdown: %w", err)
	}

	frontMatter, body, err := parseFrontMatter(raw)
	if err != nil {
		return "", fmt.Errorf("parse front-matter: %w", err)
	}

	if len(frontMatter) > 0 {
		if doc.Language == "" {
			if lang := metadataString(frontMatter, "lang"); lang != "" {
				doc.Language = lang
			} else if lang := metadataString(frontMatter, "language"); lang != "" {
				doc.Language = lang
			}
		}
		if doc.Title == "" {
			doc.Title = metadataString(frontMatter, "title")
		}
		doc.MergeMetadata(frontMatter)
	}

	return string(body), nil
}

var frontMatterDelim = []byte("---")

// parseFrontMatter splits a leading YAML front-matter block from the body.
// Input without a front-matter block is returned unchanged.
func parseFrontMatter(raw []byte) (map[string]interface{}, []byte, error) {
	trimmed := bytes.TrimPrefix(raw, []byte("\uFEFF"))
	if !bytes.HasPrefix(trimmed, frontMatterDelim) {
		return nil, raw, nil
	}

	rest := trimmed[len(frontMatterDelim):]
	if len(rest) == 0 || (rest[0] != '\n' && !bytes.HasPrefix(rest, []byte("\r\n"))) {
		return nil, raw, nil
	}

	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil, raw, nil
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	body = bytes.TrimPrefix(body, []byte("\r"))
	body = bytes.TrimPrefix(body, []byte("\n"))

	meta := make(map[string]interface{})
	if err := yaml.Unmarshal(block, &meta); err != nil {
		return nil, nil, err
	}
	return meta, body, nil
}

// titleFromMarkdown returns the text of the first level-1 heading, if any.
func titleFromMarkdown(body []byte) string {
	root := goldmark.New().Parser().Parse(gmtext.NewReader(body))

	var title string
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		for c := h.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(body))
			}
		}
		title = strings.TrimSpace(buf.String())
		return ast.WalkStop, nil
	})
	return title
}

func isOfficeDoctype(doctype string) bool {
	switch doctype {
	case models.DoctypeDoc, models.DoctypeDocx, models.DoctypeTex,
		models.DoctypeEpub, models.DoctypeOdt, models.DoctypeRtf:
		return true
	}
	return false
}

func isAudioDoctype(doctype string) bool {
	switch doctype {
	case models.DoctypeMP3, models.DoctypeWav, models.DoctypeM4A, models.DoctypeMP4:
		return true
	}
	return false
}

func ocrPriorityFor(priority models.QueuePriority) interfaces.OCRPriority {
	if priority == models.PriorityInteractive {
		return interfaces.OCRInteractive
	}
	return interfaces.OCRBackground
}
