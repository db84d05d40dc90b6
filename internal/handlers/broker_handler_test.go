package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/broker"
	"github.com/ternarybob/aditus/internal/launcher"
	"github.com/ternarybob/aditus/internal/models"
	"github.com/ternarybob/aditus/internal/services/events"
)

type discardFiles struct{}

func (discardFiles) MoveIntoStorage(string, string) error { return nil }

type countingAssembler struct{ needed, seen int }

func (a *countingAssembler) HandleMessage(*models.RegionalWorkResult) (bool, error) {
	a.seen++
	return a.seen >= a.needed, nil
}
func (a *countingAssembler) Finalize() (map[string]string, error) { return map[string]string{}, nil }
func (a *countingAssembler) Terminate()                           {}

func testHandlerBroker(t *testing.T) *broker.Broker {
	t.Helper()
	logger := arbor.NewLogger()
	return broker.New(broker.Options{Offline: true, MaxWorkers: 100},
		&launcher.Noop{Logger: logger}, events.NewService(logger), discardFiles{}, logger)
}

func pollBody(t *testing.T, status models.WorkerStatus) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(status)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestPollHandlerEmptyQueue(t *testing.T) {
	h := NewBrokerHandler(testHandlerBroker(t), arbor.NewLogger())

	status := models.WorkerStatus{
		WorkerID:          "w1",
		Category:          models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"},
		MaxTasksRequested: 4,
	}
	req := httptest.NewRequest(http.MethodPost, "/api/poll", pollBody(t, status))
	rec := httptest.NewRecorder()

	h.PollHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []models.RegionalTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Empty(t, tasks, "empty queue returns an empty list, not null")
	assert.Equal(t, "[]", string(bytes.TrimSpace(rec.Body.Bytes())))
}

func TestPollHandlerDeliversTasks(t *testing.T) {
	b := testHandlerBroker(t)
	h := NewBrokerHandler(b, arbor.NewLogger())

	template := models.RegionalTask{
		JobID: "job-1", GraphID: "g1", WorkerVersion: "v1",
		Zoom: 9, Width: 10, Height: 10,
		Percentiles: []int{50}, MaxTripDurationMinutes: 60,
		WalkSpeedMMPerSecond: 1300, RecordAccessibility: true,
		DestinationKeys: []string{"jobs"}, NDestinations: 100,
	}
	job := broker.NewJob("job-1", "test", template, nil, time.Minute)
	require.NoError(t, b.EnqueueRegionalJob(context.Background(), job, &countingAssembler{needed: 100}))

	status := models.WorkerStatus{
		WorkerID:          "w1",
		Category:          models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"},
		MaxTasksRequested: 100,
	}
	req := httptest.NewRequest(http.MethodPost, "/api/poll", pollBody(t, status))
	rec := httptest.NewRecorder()

	h.PollHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []models.RegionalTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks, broker.MaxTasksPerWorker, "batch capped at 16 regardless of request")
}

func TestPollHandlerRejectsInvalidStatus(t *testing.T) {
	h := NewBrokerHandler(testHandlerBroker(t), arbor.NewLogger())

	// Missing worker ID
	status := models.WorkerStatus{Category: models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/poll", pollBody(t, status))
	rec := httptest.NewRecorder()

	h.PollHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// GET is not a poll
	req = httptest.NewRequest(http.MethodGet, "/api/poll", nil)
	rec = httptest.NewRecorder()
	h.PollHandler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResultsHandlerUnknownJobReturns200(t *testing.T) {
	h := NewBrokerHandler(testHandlerBroker(t), arbor.NewLogger())

	result := models.RegionalWorkResult{JobID: "ghost", TaskID: 1}
	body, err := result.ToJSON()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/results", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ResultsHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "unknown jobs are discarded silently")
}

func TestResultsHandlerRejectsGarbage(t *testing.T) {
	h := NewBrokerHandler(testHandlerBroker(t), arbor.NewLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/results", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	h.ResultsHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
