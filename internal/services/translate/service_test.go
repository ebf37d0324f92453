package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
)

func TestNewServiceRequiresAPIKey(t *testing.T) {
	_, err := NewService(context.Background(), common.TranslationConfig{}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestNewServiceDefaultsModel(t *testing.T) {
	svc, err := NewService(context.Background(), common.TranslationConfig{
		APIKey: "test-key",
	}, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", svc.config.Model)
}

func TestTranslateRejectsEmptyText(t *testing.T) {
	svc, err := NewService(context.Background(), common.TranslationConfig{
		APIKey: "test-key",
	}, arbor.NewLogger())
	require.NoError(t, err)

	_, err = svc.Translate(context.Background(), "   ", "de", "en")
	assert.Error(t, err)
}
