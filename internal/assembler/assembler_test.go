package assembler

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/grid"
	"github.com/ternarybob/aditus/internal/models"
	"github.com/ternarybob/aditus/internal/worker"
)

func assemblerTemplate(width, height, nDestinations int) models.RegionalTask {
	return models.RegionalTask{
		JobID:                  "job-1",
		GraphID:                "graph-1",
		WorkerVersion:          "v1",
		Zoom:                   9,
		West:                   100,
		North:                  200,
		Width:                  width,
		Height:                 height,
		Percentiles:            []int{50},
		MaxTripDurationMinutes: 10,
		WalkSpeedMMPerSecond:   1300,
		RecordTimes:            true,
		RecordAccessibility:    true,
		DestinationKeys:        []string{"jobs"},
		NDestinations:          nDestinations,
	}
}

func validResult(t *testing.T, template models.RegionalTask, taskID int) *models.RegionalWorkResult {
	t.Helper()
	// Non-transit times 60..540s to nine destinations, cutoff 600s
	task := template
	task.TaskID = taskID
	reducer, err := worker.NewTravelTimeReducer(&task, [][]float64{{1, 1, 1, 1, 1, 1, 1, 1, 1}})
	require.NoError(t, err)
	for d := 0; d < 9; d++ {
		reducer.RecordUnvarying(d, int32((d+1)*60))
	}
	return reducer.Finish(task.JobID, taskID)
}

func TestAssemblerTinyNonTransitJob(t *testing.T) {
	dir := t.TempDir()
	template := assemblerTemplate(2, 2, 9)

	asm, err := New("job-1", template, dir, arbor.NewLogger())
	require.NoError(t, err)

	// Results arrive out of order
	for _, taskID := range []int{2, 0, 3} {
		complete, err := asm.HandleMessage(validResult(t, template, taskID))
		require.NoError(t, err)
		assert.False(t, complete)
	}
	complete, err := asm.HandleMessage(validResult(t, template, 1))
	require.NoError(t, err)
	assert.True(t, complete, "last origin completes the job")

	artifacts, err := asm.Finalize()
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	// Accessibility grid: every origin reaches all nine opportunities
	header, values, err := grid.Decode(artifacts["job-1_jobs.access"])
	require.NoError(t, err)
	assert.Equal(t, int32(2), header.Width)
	assert.Equal(t, int32(2), header.Height)
	assert.Equal(t, int32(1), header.NValues)
	require.Len(t, values, 4)
	for _, v := range values {
		assert.Equal(t, int32(9), v)
	}

	// Travel time grid: minutes 1..9 per origin
	header, values, err = grid.Decode(artifacts["job-1_times.access"])
	require.NoError(t, err)
	assert.Equal(t, int32(9), header.NValues)
	require.Len(t, values, 4*9)
	for origin := 0; origin < 4; origin++ {
		for d := 0; d < 9; d++ {
			assert.Equal(t, int32(d+1), values[origin*9+d])
		}
	}
}

func TestAssemblerDuplicateWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	template := assemblerTemplate(2, 1, 9)

	asm, err := New("job-1", template, dir, arbor.NewLogger())
	require.NoError(t, err)

	result := validResult(t, template, 0)
	_, err = asm.HandleMessage(result)
	require.NoError(t, err)

	// Redelivery: same task, identical content
	complete, err := asm.HandleMessage(result)
	require.NoError(t, err)
	assert.False(t, complete, "duplicate does not advance completion")

	complete, err = asm.HandleMessage(validResult(t, template, 1))
	require.NoError(t, err)
	assert.True(t, complete)

	artifacts, err := asm.Finalize()
	require.NoError(t, err)

	_, values, err := grid.Decode(artifacts["job-1_jobs.access"])
	require.NoError(t, err)
	assert.Equal(t, []int32{9, 9}, values)
}

func TestAssemblerRejectsMalformedShapes(t *testing.T) {
	dir := t.TempDir()
	template := assemblerTemplate(2, 1, 9)

	asm, err := New("job-1", template, dir, arbor.NewLogger())
	require.NoError(t, err)
	defer asm.Terminate()

	// Wrong percentile count in accessibility values
	bad := &models.RegionalWorkResult{
		JobID:               "job-1",
		TaskID:              0,
		AccessibilityValues: [][][]int32{{{9}, {9}}},
		TravelTimeValues:    [][]int32{make([]int32, 9)},
	}
	_, err = asm.HandleMessage(bad)
	assert.ErrorIs(t, err, ErrMalformedResult)

	// Wrong destination count in travel times
	bad = &models.RegionalWorkResult{
		JobID:               "job-1",
		TaskID:              0,
		AccessibilityValues: [][][]int32{{{9}}},
		TravelTimeValues:    [][]int32{make([]int32, 5)},
	}
	_, err = asm.HandleMessage(bad)
	assert.ErrorIs(t, err, ErrMalformedResult)

	// Task ID outside the grid
	good := validResult(t, template, 0)
	good.TaskID = 99
	_, err = asm.HandleMessage(good)
	assert.ErrorIs(t, err, ErrMalformedResult)
}

func TestAssemblerTerminateRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	template := assemblerTemplate(2, 1, 9)

	asm, err := New("job-1", template, dir, arbor.NewLogger())
	require.NoError(t, err)

	_, err = asm.HandleMessage(validResult(t, template, 0))
	require.NoError(t, err)

	asm.Terminate()
	asm.Terminate() // safe to call twice

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory drained")
}
