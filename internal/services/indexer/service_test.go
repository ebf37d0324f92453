package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
)

func TestIndexSubmitsPayload(t *testing.T) {
	var got indexRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(server.Close)

	svc := NewService(common.IndexerConfig{APIURL: server.URL}, arbor.NewLogger())
	err := svc.Index(context.Background(), "english text", map[string]string{
		"document_id": "doc_1",
		"title":       "unknown",
	})
	require.NoError(t, err)
	assert.Equal(t, "english text", got.Text)
	assert.Equal(t, "doc_1", got.Metadata["document_id"])
}

func TestIndexRequiresDocumentID(t *testing.T) {
	svc := NewService(common.IndexerConfig{APIURL: "http://unused"}, arbor.NewLogger())
	err := svc.Index(context.Background(), "text", map[string]string{"title": "x"})
	require.Error(t, err)
}

func TestIndexServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "shard unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	svc := NewService(common.IndexerConfig{APIURL: server.URL}, arbor.NewLogger())
	err := svc.Index(context.Background(), "text", map[string]string{"document_id": "doc_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
