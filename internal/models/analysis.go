package models

import (
	"time"

	"github.com/google/uuid"
)

// Analysis status values
const (
	AnalysisStatusActive    = "active"
	AnalysisStatusErrored   = "errored"
	AnalysisStatusCompleted = "completed"
	AnalysisStatusCanceled  = "canceled"
)

// RegionalAnalysis is the persisted record of a submitted regional job. It
// outlives the broker's in-memory queue state so errored analyses remain
// listable across restarts until the user deletes them.
type RegionalAnalysis struct {
	ID        string    `json:"id" badgerhold:"key"`
	Name      string    `json:"name"`
	GraphID   string    `json:"graph_id" badgerhold:"index"`
	Status    string    `json:"status" badgerhold:"index"`
	CreatedAt time.Time `json:"created_at" badgerhold:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	NTasksTotal int      `json:"n_tasks_total"`
	Errors      []string `json:"errors,omitempty"`

	// Keys of the stored output artifacts, populated on completion
	StorageKeys []string `json:"storage_keys,omitempty"`

	Template RegionalTask `json:"template"`
}

// NewRegionalAnalysis builds a record for a freshly submitted job. The
// record shares the job's ID when the template carries one.
func NewRegionalAnalysis(name string, template RegionalTask) *RegionalAnalysis {
	id := template.JobID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	return &RegionalAnalysis{
		ID:          id,
		Name:        name,
		GraphID:     template.GraphID,
		Status:      AnalysisStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		NTasksTotal: template.NTasksTotal(),
		Template:    template,
	}
}

// JobStatus is the read-only view of one job's progress returned by the
// broker's listing endpoints.
type JobStatus struct {
	JobID       string         `json:"job_id"`
	Name        string         `json:"name,omitempty"`
	Category    WorkerCategory `json:"category"`
	NTasksTotal int            `json:"n_tasks_total"`
	Delivered   int            `json:"delivered"`
	Completed   int            `json:"completed"`
	Errored     bool           `json:"errored"`
	Errors      []string       `json:"errors,omitempty"`
	ActiveSince time.Time      `json:"active_since"`
}

// AnalysisRequest is the submission payload for a new regional analysis
type AnalysisRequest struct {
	Name          string `json:"name" validate:"required"`
	GraphID       string `json:"graph_id" validate:"required"`
	WorkerVersion string `json:"worker_version" validate:"required"`

	Zoom   int `json:"zoom" validate:"gte=1,lte=15"`
	West   int `json:"west" validate:"gte=0"`
	North  int `json:"north" validate:"gte=0"`
	Width  int `json:"width" validate:"gt=0"`
	Height int `json:"height" validate:"gt=0"`

	Percentiles            []int `json:"percentiles" validate:"required,min=1,dive,gte=1,lte=99"`
	MaxTripDurationMinutes int   `json:"max_trip_duration_minutes" validate:"gt=0,lte=120"`
	HasTransit             bool  `json:"has_transit"`
	TimeWindowMinutes      int   `json:"time_window_minutes" validate:"gte=0"`
	DrawsPerMinute         int   `json:"draws_per_minute" validate:"gte=0"`
	MonteCarloDraws        int   `json:"monte_carlo_draws" validate:"gte=0"`
	WalkSpeedMMPerSecond   int   `json:"walk_speed_mm_per_second" validate:"gte=0"`

	RecordTimes         bool     `json:"record_times"`
	RecordAccessibility bool     `json:"record_accessibility"`
	IncludePathResults  bool     `json:"include_path_results"`
	OriginPointSetKey   string   `json:"origin_point_set_key,omitempty"`
	DestinationKeys     []string `json:"destination_keys" validate:"required,min=1"`
	NDestinations       int      `json:"n_destinations" validate:"gt=0"`

	// Tags forwarded to the worker launcher (instance sizing, billing labels)
	WorkerTags map[string]string `json:"worker_tags,omitempty"`
}

// ToTemplate converts a validated request into the job's immutable template
// task. Origin fields stay zero; they are stamped per delivery.
func (r *AnalysisRequest) ToTemplate(jobID string) RegionalTask {
	walkSpeed := r.WalkSpeedMMPerSecond
	if walkSpeed == 0 {
		walkSpeed = 1300
	}
	return RegionalTask{
		JobID:                  jobID,
		GraphID:                r.GraphID,
		WorkerVersion:          r.WorkerVersion,
		Zoom:                   r.Zoom,
		West:                   r.West,
		North:                  r.North,
		Width:                  r.Width,
		Height:                 r.Height,
		Percentiles:            r.Percentiles,
		MaxTripDurationMinutes: r.MaxTripDurationMinutes,
		HasTransit:             r.HasTransit,
		TimeWindowMinutes:      r.TimeWindowMinutes,
		DrawsPerMinute:         r.DrawsPerMinute,
		MonteCarloDraws:        r.MonteCarloDraws,
		WalkSpeedMMPerSecond:   walkSpeed,
		RecordTimes:            r.RecordTimes,
		RecordAccessibility:    r.RecordAccessibility,
		IncludePathResults:     r.IncludePathResults,
		OriginPointSetKey:      r.OriginPointSetKey,
		DestinationKeys:        r.DestinationKeys,
		NDestinations:          r.NDestinations,
	}
}
