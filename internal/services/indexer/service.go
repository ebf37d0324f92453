package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
)

// Service submits processed English text to the external search/embedding
// subsystem. Indexing is the last pipeline-owned stage; what the subsystem
// does with the payload afterwards is its own business.
type Service struct {
	config     common.IndexerConfig
	httpClient *http.Client
	logger     arbor.ILogger
}

var _ interfaces.IndexService = (*Service)(nil)

func NewService(cfg common.IndexerConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: cfg,
		httpClient: &http.Client{
			Timeout: common.Duration(cfg.Timeout, 2*time.Minute),
		},
		logger: logger,
	}
}

type indexRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Index submits text plus metadata. Metadata must carry a resolvable
// document identifier; the pipeline guarantees that.
func (s *Service) Index(ctx context.Context, text string, metadata map[string]string) error {
	if metadata["document_id"] == "" {
		return fmt.Errorf("index metadata requires a document_id")
	}

	payload, err := json.Marshal(indexRequest{Text: text, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("failed to marshal index request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/index", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("index service returned %d: %s", resp.StatusCode, string(raw))
	}

	s.logger.Debug().
		Str("document_id", metadata["document_id"]).
		Int("text_length", len(text)).
		Msg("Document indexed")

	return nil
}
