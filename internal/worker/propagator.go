package worker

import (
	"fmt"

	"github.com/ternarybob/aditus/internal/models"
)

// Propagator combines an iteration-by-stop travel time matrix with
// per-target egress walks to produce the travel-time distribution at every
// target. It is pure CPU work; one propagation runs per task, fully parallel
// across tasks.
type Propagator struct {
	nIterations int
	nStops      int
	nTargets    int

	cutoffSeconds     int32
	walkSpeedMMPerSec int32
	saveTimes         bool

	// ttAtStop[stop][iter] is the transposed travel time matrix. The hot loop
	// visits all iterations of one stop at a time, so stop-major layout keeps
	// the column contiguous.
	ttAtStop [][]int32

	// perIter is the per-target distribution under construction
	perIter []int32
}

// NewPropagator sizes the scratch buffers for one task's propagation
func NewPropagator(task *models.RegionalTask, nIterations, nStops, nTargets int) *Propagator {
	flat := make([]int32, nStops*nIterations)
	ttAtStop := make([][]int32, nStops)
	for s := range ttAtStop {
		ttAtStop[s] = flat[s*nIterations : (s+1)*nIterations]
	}
	return &Propagator{
		nIterations:       nIterations,
		nStops:            nStops,
		nTargets:          nTargets,
		cutoffSeconds:     int32(task.MaxTripDurationMinutes) * 60,
		walkSpeedMMPerSec: int32(task.WalkSpeedMMPerSecond),
		saveTimes:         task.RecordTimes,
		ttAtStop:          ttAtStop,
		perIter:           make([]int32, nIterations),
	}
}

// Propagate emits one reduced distribution per target. ttToStops is
// iteration-major as produced by the transit search; nonTransitToTargets is
// the pure street time to each target in seconds, Unreached where the street
// search found no path.
func (p *Propagator) Propagate(ttToStops [][]int32, nonTransitToTargets []int32, egress *EgressTable, reducer Reducer) error {
	if len(ttToStops) != p.nIterations {
		return fmt.Errorf("travel time matrix has %d iterations, expected %d", len(ttToStops), p.nIterations)
	}
	if len(nonTransitToTargets) != p.nTargets {
		return fmt.Errorf("non-transit times cover %d targets, expected %d", len(nonTransitToTargets), p.nTargets)
	}
	if egress.NTargets() != p.nTargets {
		return fmt.Errorf("egress table covers %d targets, expected %d", egress.NTargets(), p.nTargets)
	}

	// Transpose to stop-major so the per-stop inner loop walks contiguous memory
	for i, row := range ttToStops {
		if len(row) != p.nStops {
			return fmt.Errorf("iteration %d covers %d stops, expected %d", i, len(row), p.nStops)
		}
		for s, tt := range row {
			p.ttAtStop[s][i] = tt
		}
	}

	for t := 0; t < p.nTargets; t++ {
		nonTransit := nonTransitToTargets[t]
		targetReached := nonTransit < p.cutoffSeconds

		// When only accessibility is wanted, a street-reachable target needs
		// no stop loop: reached in one iteration is reached in all, and a
		// faster transit time would not change the count.
		if targetReached && !p.saveTimes {
			reducer.RecordUnvarying(t, nonTransit)
			continue
		}

		for i := range p.perIter {
			p.perIter[i] = nonTransit
		}

		cursor := egress.Cursor(t)
		for cursor.Next() {
			// Integer division keeps egress times deterministic across
			// implementations and spares the grid any float drift.
			egressSeconds := cursor.DistanceMM() / p.walkSpeedMMPerSec
			column := p.ttAtStop[cursor.Stop()]
			for i := 0; i < p.nIterations; i++ {
				ts := column[i]
				if ts > p.cutoffSeconds {
					// Also guards Unreached sentinels against overflow below
					continue
				}
				if ts >= p.perIter[i] {
					continue
				}
				candidate := ts + egressSeconds
				if candidate < p.cutoffSeconds && candidate < p.perIter[i] {
					p.perIter[i] = candidate
					targetReached = true
				}
			}
		}

		// Exactly one reducer invocation per target keeps downstream grids
		// fully covered even when the target is unreachable.
		if !targetReached {
			reducer.RecordUnvarying(t, models.Unreached)
			continue
		}
		if err := reducer.ExtractAndRecord(t, p.perIter); err != nil {
			return fmt.Errorf("reduce target %d: %w", t, err)
		}
	}

	return nil
}
