package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventAnalysisStarted is published when a regional job is registered with
	// the broker. Payload keys: job_id, name, graph_id, n_tasks_total, timestamp.
	EventAnalysisStarted EventType = "analysis_started"

	// EventAnalysisCompleted is published after the assembler has finalized and
	// the output artifacts are durably stored.
	// Payload keys: job_id, storage_keys, timestamp.
	EventAnalysisCompleted EventType = "analysis_completed"

	// EventAnalysisCanceled is published when a job is deleted before natural
	// completion. Payload keys: job_id, timestamp.
	EventAnalysisCanceled EventType = "analysis_canceled"

	// EventWorkerRequested is published when the broker asks the launcher for
	// more workers. Payload keys: category, role ("on-demand" or "spot"),
	// count, timestamp.
	EventWorkerRequested EventType = "worker_requested"

	// EventError is published when a job accumulates an error (worker-reported,
	// malformed result, or assembler I/O failure).
	// Payload keys: job_id, error, timestamp.
	EventError EventType = "error"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus. Publish is fire-and-forget:
// callers never block on subscribers.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	Close() error
}
