package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/broker"
	"github.com/ternarybob/aditus/internal/models"
)

// BrokerHandler serves the worker side of the protocol: short polls and
// result uploads.
type BrokerHandler struct {
	broker   *broker.Broker
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewBrokerHandler creates a new broker handler
func NewBrokerHandler(b *broker.Broker, logger arbor.ILogger) *BrokerHandler {
	return &BrokerHandler{
		broker:   b,
		validate: validator.New(),
		logger:   logger,
	}
}

// PollHandler serves worker short-polls. The poll body is the worker's
// status (which refreshes its catalog entry); the response is a batch of up
// to 16 tasks, empty when nothing matches. Workers sleep ~1s and re-poll.
// POST /api/poll
func (h *BrokerHandler) PollHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var status models.WorkerStatus
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		h.logger.Warn().Err(err).Msg("Undecodable poll body")
		http.Error(w, "Invalid poll body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(status); err != nil {
		h.logger.Warn().Err(err).Str("worker_id", status.WorkerID).Msg("Invalid worker status")
		http.Error(w, "Invalid worker status", http.StatusBadRequest)
		return
	}

	h.broker.RecordWorkerObservation(status)

	tasks := h.broker.GetSomeWork(status.Category, status.MaxTasksRequested)
	if tasks == nil {
		tasks = []models.RegionalTask{}
	}

	writeJSON(w, http.StatusOK, tasks)
}

// ResultsHandler accepts one work result per request and returns 200 for
// every well-formed result: results for unknown or inactive jobs are
// discarded silently, which is the expected outcome of racing a deletion.
// An undecodable body, or one without a job ID or with a negative task ID,
// gets 400.
// POST /api/results
func (h *BrokerHandler) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var result models.RegionalWorkResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		h.logger.Warn().Err(err).Msg("Undecodable result body")
		http.Error(w, "Invalid result body", http.StatusBadRequest)
		return
	}
	if result.JobID == "" || result.TaskID < 0 {
		http.Error(w, "Invalid result body", http.StatusBadRequest)
		return
	}

	h.broker.HandleRegionalWorkResult(r.Context(), &result)

	w.WriteHeader(http.StatusOK)
}
