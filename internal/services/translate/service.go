package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
)

const systemPrompt = "You are a professional translator for regulatory and " +
	"compliance documents. Translate the user's text faithfully, preserving " +
	"markdown structure, tables and headings. Output only the translated " +
	"text with no commentary."

// Service translates document text via the Gemini API.
type Service struct {
	config  common.TranslationConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
}

var _ interfaces.TranslationService = (*Service)(nil)

// NewService creates a translation service. The API key comes from
// configuration (TABULA_TRANSLATION_API_KEY or translation.api_key).
func NewService(ctx context.Context, cfg common.TranslationConfig, logger arbor.ILogger) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("translation API key is required (set TABULA_TRANSLATION_API_KEY or translation.api_key in config)")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	svc := &Service{
		config:  cfg,
		logger:  logger,
		client:  client,
		timeout: common.Duration(cfg.Timeout, 2*time.Minute),
	}

	logger.Info().
		Str("model", cfg.Model).
		Dur("timeout", svc.timeout).
		Msg("Translation service initialized")

	return svc, nil
}

// Translate converts text from sourceLang into targetLang. The model is
// prompted with the declared source language so short or ambiguous passages
// are not misdetected.
func (s *Service) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text cannot be empty for translation")
	}
	if targetLang == "" {
		targetLang = "en"
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Translate the following document from %q to %q:\n\n%s",
		sourceLang, targetLang, text)

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(s.config.Temperature),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	start := time.Now()
	resp, err := s.client.Models.GenerateContent(timeoutCtx, s.config.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}

	var out strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out.WriteString(part.Text)
				}
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("no translation generated")
	}

	s.logger.Debug().
		Str("source_lang", sourceLang).
		Int("input_length", len(text)).
		Int("output_length", out.Len()).
		Dur("duration", time.Since(start)).
		Msg("Translation completed")

	return out.String(), nil
}
