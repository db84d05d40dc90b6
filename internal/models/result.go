package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// Unreached is the sentinel travel time for destinations with no path inside
// the search horizon. It appears both in minute-valued grids and in raw
// second-valued iteration arrays.
const Unreached = math.MaxInt32

// RegionalWorkResult is the message a worker POSTs for each completed origin
// task. Either Error is set and every value slice is empty, or the value
// shapes match the job contract. Replays are expected and must carry
// identical content, so assembly is idempotent.
type RegionalWorkResult struct {
	JobID  string `json:"job_id" validate:"required"`
	TaskID int    `json:"task_id" validate:"gte=0"`

	// Error set by the worker when computation failed. A result with an error
	// carries no values; the broker records the message and drops the result.
	Error string `json:"error,omitempty"`

	// TravelTimeValues[p][d] is the travel time in minutes at percentile p to
	// destination d, Unreached when no path exists.
	TravelTimeValues [][]int32 `json:"travel_time_values,omitempty"`

	// AccessibilityValues[s][p][c] is the opportunity count in destination
	// point set s reachable at percentile p within cutoff c.
	AccessibilityValues [][][]int32 `json:"accessibility_values,omitempty"`
}

// ToJSON serializes the result for upload
func (r *RegionalWorkResult) ToJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal work result: %w", err)
	}
	return data, nil
}

// ResultFromJSON deserializes a result message
func ResultFromJSON(data []byte) (*RegionalWorkResult, error) {
	var r RegionalWorkResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal work result: %w", err)
	}
	return &r, nil
}
