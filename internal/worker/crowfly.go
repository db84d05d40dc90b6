package worker

import (
	"context"
	"fmt"
	"math"

	"github.com/ternarybob/aditus/internal/grid"
	"github.com/ternarybob/aditus/internal/models"
)

const earthRadiusMM = 6371000.0 * 1000

// CrowflyEngine is the development routing engine: street travel times are
// great-circle distance at walking speed, and there is no transit network.
// Destinations are the cells of the task's own grid with one opportunity
// each. Production deployments plug a real router in behind RoutingEngine;
// this engine exists so a single machine can run the whole cluster
// end-to-end.
type CrowflyEngine struct{}

// Route produces non-transit propagation inputs for the task's grid
func (e *CrowflyEngine) Route(_ context.Context, task *models.RegionalTask) (*PropagationInputs, error) {
	if task.NDestinations != task.NTasksTotal() {
		return nil, fmt.Errorf("crowfly engine serves gridded destinations only: %d destinations for a %dx%d grid",
			task.NDestinations, task.Width, task.Height)
	}
	if task.WalkSpeedMMPerSecond <= 0 {
		return nil, fmt.Errorf("walk speed must be positive, got %d", task.WalkSpeedMMPerSecond)
	}

	nonTransit := make([]int32, task.NDestinations)
	for t := range nonTransit {
		x := t % task.Width
		y := t / task.Width
		lon := grid.PixelToLon(float64(task.West+x)+0.5, task.Zoom)
		lat := grid.PixelToLat(float64(task.North+y)+0.5, task.Zoom)
		distMM := haversineMM(task.OriginLat, task.OriginLon, lat, lon)
		seconds := distMM / int64(task.WalkSpeedMMPerSecond)
		if seconds >= int64(models.Unreached) {
			nonTransit[t] = models.Unreached
		} else {
			nonTransit[t] = int32(seconds)
		}
	}

	inputs := &PropagationInputs{
		TravelTimesToStops:    make([][]int32, task.TimesPerDestination()),
		NonTransitTravelTimes: nonTransit,
		Egress:                NewEgressTableBuilder(task.NDestinations).Build(),
	}
	for i := range inputs.TravelTimesToStops {
		inputs.TravelTimesToStops[i] = []int32{}
	}

	if task.RecordAccessibility {
		inputs.Opportunities = make([][]float64, len(task.DestinationKeys))
		for s := range inputs.Opportunities {
			counts := make([]float64, task.NDestinations)
			for d := range counts {
				counts[d] = 1
			}
			inputs.Opportunities[s] = counts
		}
	}

	return inputs, nil
}

// haversineMM returns the great-circle distance in millimeters
func haversineMM(lat1, lon1, lat2, lon2 float64) int64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return int64(2 * earthRadiusMM * math.Asin(math.Sqrt(a)))
}
