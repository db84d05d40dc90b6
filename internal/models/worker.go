package models

import (
	"fmt"
	"time"
)

// WorkerCategory identifies the combination of transport network and software
// version a worker has loaded. A worker can only serve tasks whose category
// matches one it advertises. The zero value is not a valid category.
type WorkerCategory struct {
	GraphID       string `json:"graph_id" toml:"graph_id" validate:"required"`
	WorkerVersion string `json:"worker_version" toml:"worker_version" validate:"required"`
}

// String returns the canonical graphID-version form used in logs and map keys
func (c WorkerCategory) String() string {
	return fmt.Sprintf("%s-%s", c.GraphID, c.WorkerVersion)
}

// IsZero reports whether the category is unset
func (c WorkerCategory) IsZero() bool {
	return c.GraphID == "" && c.WorkerVersion == ""
}

// WorkerStatus is the body a worker POSTs on every short-poll. The poll
// doubles as a heartbeat: receiving one refreshes the worker's catalog entry.
type WorkerStatus struct {
	WorkerID           string         `json:"worker_id" validate:"required"`
	Category           WorkerCategory `json:"category" validate:"required"`
	MaxTasksRequested  int            `json:"max_tasks_requested" validate:"gte=0"`
	TasksInFlight      int            `json:"tasks_in_flight" validate:"gte=0"`
	SinglePointCapable bool           `json:"single_point_capable"`

	// Host diagnostics, informational only
	Hostname    string `json:"hostname,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	TotalCores  int    `json:"total_cores,omitempty"`
	FreeMemoryB int64  `json:"free_memory_bytes,omitempty"`
}

// WorkerObservation is a catalog entry: the most recent status a worker
// reported plus the time the broker saw it. LastSeen is monotonically
// non-decreasing for a given worker ID.
type WorkerObservation struct {
	Status   WorkerStatus `json:"status"`
	LastSeen time.Time    `json:"last_seen"`
}

// Fresh reports whether the observation is within the liveness window
func (o WorkerObservation) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(o.LastSeen) <= window
}
