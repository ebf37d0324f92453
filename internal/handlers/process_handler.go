package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/models"
)

// ProcessService defines the document-processing operations the handler needs
type ProcessService interface {
	Process(ctx context.Context, ids []string, target models.Stage) (int, error)
	ProcessWhere(ctx context.Context, filter *interfaces.DocumentFilter, target models.Stage) (int, error)
}

// DowngradeService moves records back to an earlier stage for reprocessing
type DowngradeService interface {
	Downgrade(ctx context.Context, target models.Stage, filter *interfaces.DocumentFilter) (int, error)
}

// ProcessHandler handles enqueue-for-processing and downgrade requests
type ProcessHandler struct {
	process   ProcessService
	downgrade DowngradeService
	logger    arbor.ILogger
}

func NewProcessHandler(process ProcessService, downgrade DowngradeService, logger arbor.ILogger) *ProcessHandler {
	return &ProcessHandler{
		process:   process,
		downgrade: downgrade,
		logger:    logger,
	}
}

type processRequest struct {
	IDs    []string `json:"ids,omitempty"`
	Stages []string `json:"stages,omitempty"`
	Target string   `json:"target,omitempty"`
	// RegenerateFrom selects every document past this stage for
	// reprocessing, in addition to documents that have not reached the
	// target yet.
	RegenerateFrom string `json:"regenerate_from,omitempty"`
}

// parseStages converts wire stage names, failing on any unknown name.
func parseStages(names []string) ([]models.Stage, bool) {
	stages := make([]models.Stage, 0, len(names))
	for _, name := range names {
		stage, ok := models.ParseStage(name)
		if !ok {
			return nil, false
		}
		stages = append(stages, stage)
	}
	return stages, true
}

// ProcessHandler handles POST /api/process - enqueue documents by id or by
// stage filter. Returns the count of documents enqueued.
func (h *ProcessHandler) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req processRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	target := models.Stage("")
	if req.Target != "" {
		parsed, ok := models.ParseStage(req.Target)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown target stage: "+req.Target)
			return
		}
		target = parsed
	}

	var count int
	var err error
	switch {
	case len(req.IDs) > 0:
		count, err = h.process.Process(r.Context(), req.IDs, target)
	case req.RegenerateFrom != "":
		regenerateFrom, ok := models.ParseStage(req.RegenerateFrom)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown regenerate_from stage: "+req.RegenerateFrom)
			return
		}
		stopAt := target
		if stopAt == "" {
			stopAt = models.StageTranslated
		}
		filter := &interfaces.DocumentFilter{
			Match: func(d *models.Document) bool {
				return models.EligibleForProcessing(d.Stage, stopAt, regenerateFrom)
			},
		}
		count, err = h.process.ProcessWhere(r.Context(), filter, target)
	case len(req.Stages) > 0:
		stages, ok := parseStages(req.Stages)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown stage in filter")
			return
		}
		count, err = h.process.ProcessWhere(r.Context(), &interfaces.DocumentFilter{Stages: stages}, target)
	default:
		WriteError(w, http.StatusBadRequest, "Either ids, stages or regenerate_from must be provided")
		return
	}

	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to enqueue documents")
		WriteError(w, http.StatusInternalServerError, "Failed to enqueue documents")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"count":  count,
	})
}

// DowngradeHandler handles POST /api/downgrade - force documents back to an
// earlier stage so they are reprocessed on their next run.
func (h *ProcessHandler) DowngradeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req processRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Target == "" {
		WriteError(w, http.StatusBadRequest, "Target stage is required")
		return
	}
	target, ok := models.ParseStage(req.Target)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Unknown target stage: "+req.Target)
		return
	}

	var filter *interfaces.DocumentFilter
	if len(req.Stages) > 0 {
		stages, ok := parseStages(req.Stages)
		if !ok {
			WriteError(w, http.StatusBadRequest, "Unknown stage in filter")
			return
		}
		filter = &interfaces.DocumentFilter{Stages: stages}
	}
	if len(req.IDs) > 0 {
		ids := make(map[string]bool, len(req.IDs))
		for _, id := range req.IDs {
			ids[id] = true
		}
		if filter == nil {
			filter = &interfaces.DocumentFilter{}
		}
		filter.Match = func(d *models.Document) bool { return ids[d.ID] }
	}

	count, err := h.downgrade.Downgrade(r.Context(), target, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to downgrade documents")
		WriteError(w, http.StatusInternalServerError, "Failed to downgrade documents")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"count":  count,
	})
}
