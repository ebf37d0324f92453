package convert

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
)

// Service converts markup and office formats to markdown: HTML in-process,
// everything else through the pandoc binary.
type Service struct {
	pandocPath string
	logger     arbor.ILogger
}

var _ interfaces.ConvertService = (*Service)(nil)

func NewService(cfg common.PipelineConfig, logger arbor.ILogger) *Service {
	pandoc := cfg.PandocPath
	if pandoc == "" {
		pandoc = "pandoc"
	}
	return &Service{pandocPath: pandoc, logger: logger}
}

// pandocFormats maps doctypes to pandoc input format names. "doc" has no
// native pandoc reader; pandoc sniffs it when the format is left empty.
var pandocFormats = map[string]string{
	"docx": "docx",
	"tex":  "latex",
	"epub": "epub",
	"odt":  "odt",
	"rtf":  "rtf",
	"doc":  "",
}

// HTMLToMarkdown converts an HTML document body to markdown.
func (s *Service) HTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("html conversion failed: %w", err)
	}
	return converted, nil
}

// OfficeToMarkdown shells out to pandoc. The format argument is the doctype
// the caller dispatched on, not a pandoc format name.
func (s *Service) OfficeToMarkdown(ctx context.Context, localPath, format string) (string, error) {
	pandocFormat, ok := pandocFormats[format]
	if !ok {
		return "", fmt.Errorf("no converter for doctype %q", format)
	}

	args := []string{"--to", "markdown"}
	if pandocFormat != "" {
		args = append(args, "--from", pandocFormat)
	}
	args = append(args, localPath)

	cmd := exec.CommandContext(ctx, s.pandocPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pandoc failed for %s: %w (%s)", format, err, strings.TrimSpace(stderr.String()))
	}

	s.logger.Debug().
		Str("format", format).
		Int("output_length", len(out)).
		Msg("Office document converted")

	return string(out), nil
}
