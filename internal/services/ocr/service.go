package ocr

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
)

// Service converts PDFs to markdown through a remote extraction API.
// Submission is asynchronous: a task is created, polled on a fixed cadence
// until it finishes, and the resulting archive is unpacked for its markdown.
type Service struct {
	config     common.OCRConfig
	httpClient *http.Client
	logger     arbor.ILogger

	interactiveInterval time.Duration
	backgroundInterval  time.Duration
}

var _ interfaces.OCRService = (*Service)(nil)

func NewService(cfg common.OCRConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:              logger,
		interactiveInterval: common.Duration(cfg.InteractiveInterval, 3*time.Second),
		backgroundInterval:  common.Duration(cfg.BackgroundInterval, 60*time.Second),
	}
}

type taskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version,omitempty"`
}

type taskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

type taskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID     string `json:"task_id"`
		State      string `json:"state"` // pending, running, converting, done, failed
		FullZipURL string `json:"full_zip_url,omitempty"`
		ErrorMsg   string `json:"err_msg,omitempty"`
	} `json:"data"`
}

// Convert submits the document and blocks until the remote task completes,
// fails, or the poll budget is exhausted. A documentURL takes precedence over
// the local path; with only a local path the file is uploaded first.
func (s *Service) Convert(ctx context.Context, localPath, documentURL string, priority interfaces.OCRPriority) (string, error) {
	var taskID string
	var err error

	if documentURL != "" {
		taskID, err = s.createTask(ctx, documentURL)
	} else {
		taskID, err = s.uploadAndCreateTask(ctx, localPath)
	}
	if err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("task_id", taskID).
		Str("priority", string(priority)).
		Msg("OCR task submitted")

	return s.pollTask(ctx, taskID, priority)
}

func (s *Service) createTask(ctx context.Context, documentURL string) (string, error) {
	payload, err := json.Marshal(taskRequest{
		URL:          documentURL,
		ModelVersion: s.config.ModelVersion,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/extract/task", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	var result taskResponse
	if err := s.doJSON(req, &result); err != nil {
		return "", err
	}
	if result.Code != 0 {
		return "", fmt.Errorf("ocr api error: %s", result.Message)
	}
	return result.Data.TaskID, nil
}

func (s *Service) uploadAndCreateTask(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	if s.config.ModelVersion != "" {
		if err := writer.WriteField("model_version", s.config.ModelVersion); err != nil {
			return "", fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/extract/upload", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result taskResponse
	if err := s.doJSON(req, &result); err != nil {
		return "", err
	}
	if result.Code != 0 {
		return "", fmt.Errorf("ocr api error: %s", result.Message)
	}
	return result.Data.TaskID, nil
}

// pollTask queries task state on a fixed cadence until the task reaches a
// terminal state or the poll budget runs out. Background requests poll far
// less often than interactive ones.
func (s *Service) pollTask(ctx context.Context, taskID string, priority interfaces.OCRPriority) (string, error) {
	interval := s.backgroundInterval
	if priority == interfaces.OCRInteractive {
		interval = s.interactiveInterval
	}

	maxPolls := s.config.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 200
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for i := 0; i < maxPolls; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}

		status, err := s.getTaskStatus(ctx, taskID)
		if err != nil {
			// Transient status-query failures burn a poll but do not abort.
			s.logger.Warn().Err(err).Str("task_id", taskID).Msg("OCR status query failed")
			continue
		}

		switch status.Data.State {
		case "done":
			return s.fetchMarkdown(ctx, status.Data.FullZipURL)
		case "failed":
			return "", fmt.Errorf("ocr task %s failed: %s", taskID, status.Data.ErrorMsg)
		default:
			// pending, running, converting
		}
	}

	return "", fmt.Errorf("ocr task %s timed out after %d polls", taskID, maxPolls)
}

func (s *Service) getTaskStatus(ctx context.Context, taskID string) (*taskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", s.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)

	var result taskStatusResponse
	if err := s.doJSON(req, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("ocr api error: %s", result.Message)
	}
	return &result, nil
}

// fetchMarkdown downloads the result archive and returns its markdown entry.
func (s *Service) fetchMarkdown(ctx context.Context, zipURL string) (string, error) {
	if zipURL == "" {
		return "", fmt.Errorf("ocr task finished without a result archive")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()

	zipData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read result: %w", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", fmt.Errorf("failed to open result archive: %w", err)
	}

	for _, file := range zipReader.File {
		if !strings.HasSuffix(file.Name, ".md") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		return string(content), nil
	}

	return "", fmt.Errorf("no markdown found in result archive")
}

func (s *Service) doJSON(req *http.Request, out interface{}) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	return nil
}
