package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/interfaces"
)

// StatusHandler reports queue and processing state
type StatusHandler struct {
	queue   interfaces.TaskQueue
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewStatusHandler(queue interfaces.TaskQueue, storage interfaces.StorageManager, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		queue:   queue,
		storage: storage,
		logger:  logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	priorityDepth, backgroundDepth, err := h.queue.Depths(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue depths")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue state")
		return
	}
	inFlight, err := h.queue.InFlight(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read in-flight count")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue state")
		return
	}
	daemonEnabled, err := h.queue.DaemonEnabled(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read daemon toggle")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue state")
		return
	}
	stopAt, err := h.queue.DefaultStopAt(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read default stop-at stage")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue state")
		return
	}

	documentCount, err := h.storage.DocumentStorage().CountDocuments(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count documents")
		WriteError(w, http.StatusInternalServerError, "Failed to count documents")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":   common.GetVersion(),
		"documents": documentCount,
		"queue": map[string]interface{}{
			"priority_depth":   priorityDepth,
			"background_depth": backgroundDepth,
			"in_flight":        inFlight,
		},
		"daemon": map[string]interface{}{
			"enabled": daemonEnabled,
			"stop_at": stopAt,
		},
	})
}

// HealthHandler handles GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
