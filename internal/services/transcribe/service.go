package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
)

// Service sends audio and video files to a remote transcription API and
// returns the recognized text.
type Service struct {
	config     common.TranscriptionConfig
	httpClient *http.Client
	logger     arbor.ILogger
}

var _ interfaces.TranscriptionService = (*Service)(nil)

func NewService(cfg common.TranscriptionConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: cfg,
		httpClient: &http.Client{
			Timeout: common.Duration(cfg.Timeout, 10*time.Minute),
		},
		logger: logger,
	}
}

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe uploads the media file and returns its transcript. Long files
// are bounded only by the configured client timeout.
func (s *Service) Transcribe(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open media file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to read media file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/transcribe", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, string(raw))
	}

	var result transcriptionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("transcription failed: %s", result.Error)
	}
	if result.Text == "" {
		return "", fmt.Errorf("transcription produced no text")
	}

	s.logger.Debug().
		Str("file", filepath.Base(localPath)).
		Int("transcript_length", len(result.Text)).
		Dur("duration", time.Since(start)).
		Msg("Transcription completed")

	return result.Text, nil
}
