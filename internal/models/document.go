package models

import "time"

// Doctype values the pipeline dispatches on. Anything else fails stage
// extraction with an unsupported-doctype error.
const (
	DoctypeMarkdown = "markdown"
	DoctypePDF      = "pdf"
	DoctypeHTML     = "html"
	DoctypeDoc      = "doc"
	DoctypeDocx     = "docx"
	DoctypeTex      = "tex"
	DoctypeEpub     = "epub"
	DoctypeOdt      = "odt"
	DoctypeRtf      = "rtf"
	DoctypeMP3      = "mp3"
	DoctypeWav      = "wav"
	DoctypeM4A      = "m4a"
	DoctypeMP4      = "mp4"
)

// Document is the unit of work moving through the processing pipeline.
// One record per logical document; identical uploads resolve to the same
// record via ContentHash.
type Document struct {
	// Identity, immutable after creation
	ID          string `json:"id"` // doc_<uuid>
	ContentHash string `json:"content_hash"`

	// Descriptive metadata. Doctype and Language select stage behavior,
	// the rest is opaque to the pipeline.
	Doctype  string `json:"doctype"`
	Language string `json:"language"`
	Title    string `json:"title"`
	Source   string `json:"source"`

	// Open key/value map carried through every stage, merged with any
	// document-embedded front-matter metadata during extraction.
	Metadata map[string]interface{} `json:"metadata"`

	// Current lifecycle position. Non-decreasing under normal forward
	// processing; only an explicit downgrade moves it backward.
	Stage Stage `json:"stage"`

	// Derived text payloads
	OriginalText string `json:"original_text,omitempty"`
	EnglishText  string `json:"english_text,omitempty"`
	Summary      string `json:"summary,omitempty"`
	ShortSummary string `json:"short_summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEnglish reports whether the record declares English content, which makes
// the translation stage both unnecessary and invalid.
func (d *Document) IsEnglish() bool {
	return d.Language == "en"
}

// MergeMetadata merges extracted front-matter metadata into the record.
// Existing keys win so caller-supplied metadata is never clobbered by
// document-embedded values.
func (d *Document) MergeMetadata(extra map[string]interface{}) {
	if len(extra) == 0 {
		return
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]interface{}, len(extra))
	}
	for k, v := range extra {
		if _, exists := d.Metadata[k]; !exists {
			d.Metadata[k] = v
		}
	}
}
