package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
)

func writeMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hearing.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake audio"), 0o644))
	return path
}

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "hearing.mp3", header.Filename)
		json.NewEncoder(w).Encode(map[string]string{"text": "spoken words"})
	}))
	t.Cleanup(server.Close)

	svc := NewService(common.TranscriptionConfig{APIURL: server.URL}, arbor.NewLogger())
	text, err := svc.Transcribe(context.Background(), writeMedia(t))
	require.NoError(t, err)
	assert.Equal(t, "spoken words", text)
}

func TestTranscribeServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "unsupported codec"})
	}))
	t.Cleanup(server.Close)

	svc := NewService(common.TranscriptionConfig{APIURL: server.URL}, arbor.NewLogger())
	_, err := svc.Transcribe(context.Background(), writeMedia(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported codec")
}

func TestTranscribeEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": ""})
	}))
	t.Cleanup(server.Close)

	svc := NewService(common.TranscriptionConfig{APIURL: server.URL}, arbor.NewLogger())
	_, err := svc.Transcribe(context.Background(), writeMedia(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text")
}
