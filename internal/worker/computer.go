package worker

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/models"
)

// PropagationInputs is everything the kernel needs for one task, produced by
// a routing engine: street routing for the non-transit times, the transit
// search for the stop matrix, and the destination point set for egress walks
// and opportunity counts.
type PropagationInputs struct {
	// TravelTimesToStops[iter][stop] in seconds, Unreached where the search
	// never boarded
	TravelTimesToStops [][]int32

	// NonTransitTravelTimes[target] in seconds, Unreached where the street
	// search found no path
	NonTransitTravelTimes []int32

	// Egress lists the stops within walking range of each target
	Egress *EgressTable

	// Opportunities[set][target] carries the destination point sets'
	// opportunity counts; nil when the task does not record accessibility
	Opportunities [][]float64
}

// RoutingEngine produces propagation inputs for a task. Street graph
// construction, GTFS, and the transit search itself live behind this
// interface.
type RoutingEngine interface {
	Route(ctx context.Context, task *models.RegionalTask) (*PropagationInputs, error)
}

// KernelComputer runs the propagation kernel over a routing engine's output.
// Computation failures are packaged into the result's Error field so the
// broker can record them against the job.
type KernelComputer struct {
	engine RoutingEngine
	logger arbor.ILogger
}

// NewKernelComputer creates a computer backed by the given engine
func NewKernelComputer(engine RoutingEngine, logger arbor.ILogger) *KernelComputer {
	return &KernelComputer{engine: engine, logger: logger}
}

// Compute executes one regional task
func (k *KernelComputer) Compute(ctx context.Context, task models.RegionalTask) (*models.RegionalWorkResult, error) {
	inputs, err := k.engine.Route(ctx, &task)
	if err != nil {
		return errorResult(&task, fmt.Sprintf("routing: %v", err)), nil
	}

	reducer, err := NewTravelTimeReducer(&task, inputs.Opportunities)
	if err != nil {
		return errorResult(&task, fmt.Sprintf("reducer setup: %v", err)), nil
	}

	nIterations := task.TimesPerDestination()
	nStops := 0
	if len(inputs.TravelTimesToStops) > 0 {
		nStops = len(inputs.TravelTimesToStops[0])
	}

	propagator := NewPropagator(&task, nIterations, nStops, task.NDestinations)
	if err := propagator.Propagate(inputs.TravelTimesToStops, inputs.NonTransitTravelTimes, inputs.Egress, reducer); err != nil {
		return errorResult(&task, fmt.Sprintf("propagation: %v", err)), nil
	}

	return reducer.Finish(task.JobID, task.TaskID), nil
}

func errorResult(task *models.RegionalTask, msg string) *models.RegionalWorkResult {
	return &models.RegionalWorkResult{
		JobID:  task.JobID,
		TaskID: task.TaskID,
		Error:  msg,
	}
}
