package interfaces

import "context"

// OCRPriority selects the polling cadence for an OCR conversion request.
// Interactive requests poll frequently; background requests back off.
type OCRPriority string

const (
	OCRInteractive OCRPriority = "interactive"
	OCRBackground  OCRPriority = "background"
)

// OCRService converts a PDF into markdown via a remote conversion service.
// The remote side is asynchronous: Convert submits the document, polls until
// the task completes, and returns the extracted markdown.
type OCRService interface {
	// Convert accepts either a local file path or a pre-existing remote
	// object URL (documentURL wins when both are set).
	Convert(ctx context.Context, localPath, documentURL string, priority OCRPriority) (string, error)
}

// TranslationService translates text into English synchronously.
type TranslationService interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// TranscriptionService converts audio/video to text via a remote service.
type TranscriptionService interface {
	Transcribe(ctx context.Context, localPath string) (string, error)
}

// ConvertService turns HTML and office/markup formats into markdown.
type ConvertService interface {
	HTMLToMarkdown(html string) (string, error)
	// OfficeToMarkdown shells out to the generic document converter for
	// doc/docx/tex/epub/odt/rtf inputs.
	OfficeToMarkdown(ctx context.Context, localPath, format string) (string, error)
}

// IndexService is the external search/embedding collaborator. Metadata must
// include a resolvable document identifier.
type IndexService interface {
	Index(ctx context.Context, text string, metadata map[string]string) error
}
