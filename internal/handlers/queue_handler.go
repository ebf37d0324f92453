package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// QueueHandler handles queue administration: the daemon toggle, the default
// stop-at stage, clearing queued work and reporting queue state.
type QueueHandler struct {
	queue  interfaces.TaskQueue
	logger arbor.ILogger
}

func NewQueueHandler(queue interfaces.TaskQueue, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queue:  queue,
		logger: logger,
	}
}

type daemonRequest struct {
	Enabled *bool  `json:"enabled,omitempty"`
	StopAt  string `json:"stop_at,omitempty"`
}

// DaemonHandler handles POST /api/daemon - toggles the background refill
// daemon and/or sets its default stop-at stage.
func (h *QueueHandler) DaemonHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req daemonRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Enabled == nil && req.StopAt == "" {
		WriteError(w, http.StatusBadRequest, "Nothing to change: provide enabled and/or stop_at")
		return
	}

	if req.StopAt != "" {
		stage, ok := models.ParseStage(req.StopAt)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown stop_at stage: "+req.StopAt)
			return
		}
		if err := h.queue.SetDefaultStopAt(r.Context(), stage); err != nil {
			h.logger.Error().Err(err).Msg("Failed to set default stop-at stage")
			WriteError(w, http.StatusInternalServerError, "Failed to set stop-at stage")
			return
		}
	}

	if req.Enabled != nil {
		if err := h.queue.SetDaemonEnabled(r.Context(), *req.Enabled); err != nil {
			h.logger.Error().Err(err).Msg("Failed to toggle daemon")
			WriteError(w, http.StatusInternalServerError, "Failed to toggle daemon")
			return
		}
		h.logger.Info().Bool("enabled", *req.Enabled).Msg("Background daemon toggled")
	}

	WriteSuccess(w, "Daemon settings updated")
}

// ClearHandler handles POST /api/queue/clear - drops all queued work. Used on
// restart when queued items should not be replayed.
func (h *QueueHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.queue.Clear(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear queues")
		WriteError(w, http.StatusInternalServerError, "Failed to clear queues")
		return
	}

	h.logger.Info().Msg("Queues cleared")
	WriteSuccess(w, "Queues cleared")
}
