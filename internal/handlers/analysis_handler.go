package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/assembler"
	"github.com/ternarybob/aditus/internal/broker"
	"github.com/ternarybob/aditus/internal/interfaces"
	"github.com/ternarybob/aditus/internal/models"
	badgerstore "github.com/ternarybob/aditus/internal/storage/badger"
)

// AnalysisHandler serves regional analysis submission, listing, and deletion
type AnalysisHandler struct {
	broker     *broker.Broker
	storage    interfaces.AnalysisStorage
	scratchDir string
	validate   *validator.Validate
	logger     arbor.ILogger
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(b *broker.Broker, storage interfaces.AnalysisStorage, scratchDir string, logger arbor.ILogger) *AnalysisHandler {
	return &AnalysisHandler{
		broker:     b,
		storage:    storage,
		scratchDir: scratchDir,
		validate:   validator.New(),
		logger:     logger,
	}
}

// SubmitHandler registers a new regional analysis with the broker
// POST /api/analyses
func (h *AnalysisHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.Warn().Err(err).Str("name", req.Name).Msg("Invalid analysis request")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	if !req.RecordTimes && !req.RecordAccessibility {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "analysis must record travel times, accessibility, or both",
		})
		return
	}

	jobID := uuid.New().String()
	template := req.ToTemplate(jobID)
	analysis := models.NewRegionalAnalysis(req.Name, template)

	redelivery := h.broker.RedeliveryTimeout()
	job := broker.NewJob(jobID, req.Name, template, req.WorkerTags, redelivery)

	asm, err := assembler.New(jobID, template, h.scratchDir, h.logger)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to create assembler")
		http.Error(w, "Failed to allocate output buffers", http.StatusInternalServerError)
		return
	}

	if err := h.broker.EnqueueRegionalJob(ctx, job, asm); err != nil {
		asm.Terminate()
		if errors.Is(err, broker.ErrJobAlreadyExists) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{"error": err.Error()})
			return
		}
		http.Error(w, "Failed to enqueue job", http.StatusInternalServerError)
		return
	}

	if err := h.storage.SaveAnalysis(ctx, analysis); err != nil {
		// The job still runs; the record just will not survive a restart
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist analysis record")
	}

	h.logger.Info().
		Str("job_id", jobID).
		Str("name", req.Name).
		Int("n_tasks_total", template.NTasksTotal()).
		Msg("Regional analysis submitted")

	writeJSON(w, http.StatusCreated, analysis)
}

// ListHandler returns all persisted analysis records, newest first
// GET /api/analyses
func (h *AnalysisHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	analyses, err := h.storage.ListAnalyses(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list analyses")
		http.Error(w, "Failed to list analyses", http.StatusInternalServerError)
		return
	}
	if analyses == nil {
		analyses = []*models.RegionalAnalysis{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses":    analyses,
		"total_count": len(analyses),
	})
}

// JobStatusesHandler returns the broker's live job progress views
// GET /api/jobs
func (h *AnalysisHandler) JobStatusesHandler(w http.ResponseWriter, r *http.Request) {
	statuses := h.broker.GetAllJobStatuses()
	if statuses == nil {
		statuses = []models.JobStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":       statuses,
		"any_active": h.broker.AnyJobsActive(),
	})
}

// AnalysisRoutes dispatches /api/analyses/{id} by method
func (h *AnalysisHandler) AnalysisRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid analysis id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getAnalysis(w, r, id)
	case http.MethodDelete:
		h.deleteAnalysis(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getAnalysis returns one record plus, when the job is still registered,
// its live progress.
func (h *AnalysisHandler) getAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	analysis, err := h.storage.GetAnalysis(r.Context(), id)
	if err != nil {
		if errors.Is(err, badgerstore.ErrAnalysisNotFound) {
			http.Error(w, "Analysis not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load analysis", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{"analysis": analysis}
	if job := h.broker.FindJob(id); job != nil {
		response["progress"] = job.Status()
	}
	writeJSON(w, http.StatusOK, response)
}

// deleteAnalysis cancels the job (if still registered) and removes the record
func (h *AnalysisHandler) deleteAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	removed := h.broker.DeleteJob(ctx, id)

	if err := h.storage.DeleteAnalysis(ctx, id); err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to delete analysis record")
		http.Error(w, "Failed to delete analysis", http.StatusInternalServerError)
		return
	}

	h.logger.Info().
		Str("job_id", id).
		Bool("was_registered", removed).
		Msg("Analysis deleted")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":        id,
		"was_registered": removed,
	})
}
