package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/aditus/internal/models"
)

func reducerTask(percentiles []int, timesPerDestination, nDestinations, maxTripMinutes int) *models.RegionalTask {
	return &models.RegionalTask{
		JobID:                  "job-1",
		Percentiles:            percentiles,
		MaxTripDurationMinutes: maxTripMinutes,
		HasTransit:             timesPerDestination > 1,
		TimeWindowMinutes:      timesPerDestination,
		DrawsPerMinute:         1,
		RecordTimes:            true,
		RecordAccessibility:    true,
		DestinationKeys:        []string{"jobs"},
		NDestinations:          nDestinations,
	}
}

func uniformOpportunities(nDestinations int) [][]float64 {
	counts := make([]float64, nDestinations)
	for i := range counts {
		counts[i] = 1
	}
	return [][]float64{counts}
}

func TestPercentileExtraction(t *testing.T) {
	// 100 iterations, percentiles 5/50/95: indexes ceil(p*I/100)-1 = 4, 49, 94
	task := reducerTask([]int{5, 50, 95}, 100, 1, 120)
	r, err := NewTravelTimeReducer(task, uniformOpportunities(1))
	require.NoError(t, err)

	seconds := make([]int32, 100)
	for i := range seconds {
		seconds[i] = int32(i * 60)
	}
	require.NoError(t, r.ExtractAndRecord(0, seconds))

	result := r.Finish("job-1", 0)
	assert.Equal(t, int32(4), result.TravelTimeValues[0][0], "5th percentile: seconds[4] = 240s = 4min")
	assert.Equal(t, int32(49), result.TravelTimeValues[1][0], "50th percentile: seconds[49] = 2940s = 49min")
	assert.Equal(t, int32(94), result.TravelTimeValues[2][0], "95th percentile: seconds[94] = 5640s = 94min")
}

func TestPercentileExtractionUnsortedInput(t *testing.T) {
	task := reducerTask([]int{50}, 4, 1, 120)
	r, err := NewTravelTimeReducer(task, uniformOpportunities(1))
	require.NoError(t, err)

	// Destructive sort happens inside
	require.NoError(t, r.ExtractAndRecord(0, []int32{600, 60, 300, 120}))

	result := r.Finish("job-1", 0)
	// ceil(50*4/100)-1 = 1 -> sorted[1] = 120s = 2min
	assert.Equal(t, int32(2), result.TravelTimeValues[0][0])
}

func TestExtractRejectsWrongLength(t *testing.T) {
	task := reducerTask([]int{50}, 10, 1, 120)
	r, err := NewTravelTimeReducer(task, uniformOpportunities(1))
	require.NoError(t, err)

	err = r.ExtractAndRecord(0, make([]int32, 9))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClampAtCutoff(t *testing.T) {
	task := reducerTask([]int{50}, 1, 3, 10)
	r, err := NewTravelTimeReducer(task, uniformOpportunities(3))
	require.NoError(t, err)

	r.RecordUnvarying(0, 599) // 9 minutes, inside
	r.RecordUnvarying(1, 600) // exactly the cutoff, clamped
	r.RecordUnvarying(2, models.Unreached)

	result := r.Finish("job-1", 0)
	assert.Equal(t, int32(9), result.TravelTimeValues[0][0])
	assert.Equal(t, int32(models.Unreached), result.TravelTimeValues[0][1])
	assert.Equal(t, int32(models.Unreached), result.TravelTimeValues[0][2])

	// Only destination 0 is reached within the cutoff
	assert.Equal(t, int32(1), result.AccessibilityValues[0][0][0])
}

func TestAccessibilityAccumulation(t *testing.T) {
	// Spec scenario: 9 destinations at 60s..540s, cutoff 600s, one opportunity
	// each: all 9 count at every percentile
	task := reducerTask([]int{50}, 1, 9, 10)
	r, err := NewTravelTimeReducer(task, uniformOpportunities(9))
	require.NoError(t, err)

	for d := 0; d < 9; d++ {
		r.RecordUnvarying(d, int32((d+1)*60))
	}

	result := r.Finish("job-1", 0)
	assert.Equal(t, int32(9), result.AccessibilityValues[0][0][0])
	for d := 0; d < 9; d++ {
		assert.Equal(t, int32(d+1), result.TravelTimeValues[0][d])
	}
}

func TestReducerIdempotentOnSortedInput(t *testing.T) {
	task := reducerTask([]int{25, 75}, 8, 1, 120)

	seconds := []int32{60, 120, 180, 240, 300, 360, 420, 480}

	run := func() *models.RegionalWorkResult {
		r, err := NewTravelTimeReducer(task, uniformOpportunities(1))
		require.NoError(t, err)
		input := make([]int32, len(seconds))
		copy(input, seconds)
		require.NoError(t, r.ExtractAndRecord(0, input))
		return r.Finish("job-1", 0)
	}

	first := run()
	second := run()
	assert.Equal(t, first.TravelTimeValues, second.TravelTimeValues)
	assert.Equal(t, first.AccessibilityValues, second.AccessibilityValues)
}

func TestTimesPerDestinationDerivation(t *testing.T) {
	task := &models.RegionalTask{HasTransit: false}
	assert.Equal(t, 1, task.TimesPerDestination(), "non-transit is a single unvarying time")

	task = &models.RegionalTask{HasTransit: true, TimeWindowMinutes: 60, DrawsPerMinute: 2}
	assert.Equal(t, 120, task.TimesPerDestination(), "window length times draws per minute")

	task = &models.RegionalTask{HasTransit: true, TimeWindowMinutes: 60}
	assert.Equal(t, 60, task.TimesPerDestination(), "headway-based: window length alone")

	task = &models.RegionalTask{HasTransit: true, TimeWindowMinutes: 60, DrawsPerMinute: 2, InRoutingFareCalc: true, MonteCarloDraws: 200}
	assert.Equal(t, 200, task.TimesPerDestination(), "fare calculator pins the draw count")
}
