package worker

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/ternarybob/aditus/internal/models"
)

// ErrInvalidInput marks per-destination arrays whose length does not match
// the iteration count the task contract promises.
var ErrInvalidInput = errors.New("invalid reducer input")

// Reducer receives one travel-time distribution per target. Exactly one call
// is made per target, even for unreachable ones, so downstream grids have
// full coverage.
type Reducer interface {
	// RecordUnvarying records a time that does not vary by iteration
	RecordUnvarying(target int, seconds int32)

	// ExtractAndRecord destructively sorts the per-iteration array and
	// records the requested percentiles for the target
	ExtractAndRecord(target int, seconds []int32) error
}

// TravelTimeReducer converts raw seconds-per-iteration arrays into
// percentile-minute vectors and accumulates cumulative opportunities against
// the trip duration cutoff.
type TravelTimeReducer struct {
	timesPerDestination    int
	percentiles            []int
	percentileIndexes      []int
	maxTripDurationMinutes int32
	cutoffSeconds          int32

	recordTimes         bool
	recordAccessibility bool

	// travelTimes[p][d] in minutes, Unreached when out of range
	travelTimes [][]int32

	// accessibility[s][p][0] accumulates opportunity counts; float64 because
	// freeform point sets carry fractional opportunity densities
	accessibility [][][]float64

	// opportunities[s][d] is the opportunity count at destination d of set s
	opportunities [][]float64

	// minute scratch reused across targets
	minutes []int32
}

// NewTravelTimeReducer builds a reducer for one task. opportunities may be
// nil when the task does not record accessibility.
func NewTravelTimeReducer(task *models.RegionalTask, opportunities [][]float64) (*TravelTimeReducer, error) {
	timesPerDestination := task.TimesPerDestination()
	if timesPerDestination <= 0 {
		return nil, fmt.Errorf("%w: task yields %d times per destination", ErrInvalidInput, timesPerDestination)
	}
	if task.RecordAccessibility && len(opportunities) != len(task.DestinationKeys) {
		return nil, fmt.Errorf("%w: %d opportunity sets for %d destination keys",
			ErrInvalidInput, len(opportunities), len(task.DestinationKeys))
	}

	r := &TravelTimeReducer{
		timesPerDestination:    timesPerDestination,
		percentiles:            task.Percentiles,
		percentileIndexes:      make([]int, len(task.Percentiles)),
		maxTripDurationMinutes: int32(task.MaxTripDurationMinutes),
		cutoffSeconds:          int32(task.MaxTripDurationMinutes) * 60,
		recordTimes:            task.RecordTimes,
		recordAccessibility:    task.RecordAccessibility,
		opportunities:          opportunities,
		minutes:                make([]int32, len(task.Percentiles)),
	}

	// Non-interpolated percentile: the bucket for percentile p over I sorted
	// values is ceil(p*I/100)-1.
	for i, p := range task.Percentiles {
		idx := (p*timesPerDestination+99)/100 - 1
		if idx < 0 {
			idx = 0
		}
		r.percentileIndexes[i] = idx
	}

	if r.recordTimes {
		r.travelTimes = make([][]int32, len(task.Percentiles))
		for p := range r.travelTimes {
			row := make([]int32, task.NDestinations)
			for d := range row {
				row[d] = models.Unreached
			}
			r.travelTimes[p] = row
		}
	}
	if r.recordAccessibility {
		r.accessibility = make([][][]float64, len(task.DestinationKeys))
		for s := range r.accessibility {
			perSet := make([][]float64, len(task.Percentiles))
			for p := range perSet {
				perSet[p] = make([]float64, 1)
			}
			r.accessibility[s] = perSet
		}
	}

	return r, nil
}

// TimesPerDestination returns the iteration count the reducer expects
func (r *TravelTimeReducer) TimesPerDestination() int {
	return r.timesPerDestination
}

// RecordUnvarying fills every percentile with the same value. Used for
// non-transit results, where travel time does not vary by departure minute.
func (r *TravelTimeReducer) RecordUnvarying(target int, seconds int32) {
	m := r.minuteOrUnreached(seconds)
	for p := range r.minutes {
		r.minutes[p] = m
	}
	r.record(target)
}

// ExtractAndRecord destructively sorts the per-iteration array, reads off
// the precomputed percentile indexes, and records the target.
func (r *TravelTimeReducer) ExtractAndRecord(target int, seconds []int32) error {
	if len(seconds) != r.timesPerDestination {
		return fmt.Errorf("%w: %d iteration values, expected %d", ErrInvalidInput, len(seconds), r.timesPerDestination)
	}
	slices.Sort(seconds)
	for p, idx := range r.percentileIndexes {
		r.minutes[p] = r.minuteOrUnreached(seconds[idx])
	}
	r.record(target)
	return nil
}

// minuteOrUnreached converts seconds to whole minutes, clamping anything at
// or beyond the cutoff to the Unreached sentinel. Minute m represents the
// half-open bucket [m, m+1).
func (r *TravelTimeReducer) minuteOrUnreached(seconds int32) int32 {
	if seconds >= r.cutoffSeconds || seconds == models.Unreached {
		return models.Unreached
	}
	return seconds / 60
}

// record stores the scratch minutes for one target and accumulates
// accessibility. The strict-less comparison against the cutoff matches the
// half-open minute bucket convention.
func (r *TravelTimeReducer) record(target int) {
	if r.recordTimes {
		for p := range r.minutes {
			r.travelTimes[p][target] = r.minutes[p]
		}
	}
	if r.recordAccessibility {
		for s := range r.accessibility {
			count := r.opportunities[s][target]
			for p := range r.minutes {
				if r.minutes[p] < r.maxTripDurationMinutes {
					r.accessibility[s][p][0] += count
				}
			}
		}
	}
}

// Finish packages the reduced values into the result message for upload
func (r *TravelTimeReducer) Finish(jobID string, taskID int) *models.RegionalWorkResult {
	result := &models.RegionalWorkResult{
		JobID:  jobID,
		TaskID: taskID,
	}
	if r.recordTimes {
		result.TravelTimeValues = r.travelTimes
	}
	if r.recordAccessibility {
		result.AccessibilityValues = make([][][]int32, len(r.accessibility))
		for s, perSet := range r.accessibility {
			out := make([][]int32, len(perSet))
			for p, perPercentile := range perSet {
				cell := make([]int32, 1)
				rounded := math.Round(perPercentile[0])
				cell[0] = int32(rounded)
				out[p] = cell
			}
			result.AccessibilityValues[s] = out
		}
	}
	return result
}
