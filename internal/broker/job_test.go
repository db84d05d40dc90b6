package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/aditus/internal/models"
)

func testTemplate(width, height int) models.RegionalTask {
	return models.RegionalTask{
		JobID:                  "job-1",
		GraphID:                "graph-1",
		WorkerVersion:          "v1",
		Zoom:                   9,
		West:                   10000,
		North:                  20000,
		Width:                  width,
		Height:                 height,
		Percentiles:            []int{50},
		MaxTripDurationMinutes: 60,
		WalkSpeedMMPerSecond:   1300,
		RecordAccessibility:    true,
		DestinationKeys:        []string{"jobs"},
		NDestinations:          width * height,
	}
}

func testJob(width, height int, timeout time.Duration) (*Job, *time.Time) {
	job := NewJob("job-1", "test", testTemplate(width, height), nil, timeout)
	current := time.Now()
	job.now = func() time.Time { return current }
	return job, &current
}

func TestJobDeliveryOrder(t *testing.T) {
	job, _ := testJob(4, 2, time.Minute)

	ids := job.GenerateSomeTasksToDeliver(3)
	assert.Equal(t, []int{0, 1, 2}, ids, "undelivered tasks go out lowest index first")

	ids = job.GenerateSomeTasksToDeliver(10)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, ids)

	assert.False(t, job.HasTasksToDeliver(), "everything delivered and within deadline")
	assert.Empty(t, job.GenerateSomeTasksToDeliver(4))
}

func TestJobRedeliveryAfterDeadline(t *testing.T) {
	job, clock := testJob(3, 1, time.Minute)

	ids := job.GenerateSomeTasksToDeliver(3)
	require.Len(t, ids, 3)
	require.True(t, job.MarkTaskCompleted(1))

	// Before the deadline nothing is eligible
	assert.False(t, job.HasTasksToDeliver())

	*clock = clock.Add(2 * time.Minute)
	assert.True(t, job.HasTasksToDeliver())

	ids = job.GenerateSomeTasksToDeliver(5)
	assert.Equal(t, []int{0, 2}, ids, "only unfinished tasks redeliver")
}

func TestJobRedeliveredTaskGetsNewDeadline(t *testing.T) {
	job, clock := testJob(1, 1, time.Minute)

	require.Len(t, job.GenerateSomeTasksToDeliver(1), 1)
	*clock = clock.Add(2 * time.Minute)
	require.Len(t, job.GenerateSomeTasksToDeliver(1), 1)

	// Freshly redelivered, deadline pushed out again
	assert.False(t, job.HasTasksToDeliver())
	assert.Empty(t, job.GenerateSomeTasksToDeliver(1))
}

func TestJobCompletionIdempotent(t *testing.T) {
	job, _ := testJob(2, 1, time.Minute)
	job.GenerateSomeTasksToDeliver(2)

	assert.True(t, job.MarkTaskCompleted(0), "first completion transitions the bit")
	assert.False(t, job.MarkTaskCompleted(0), "replay is a no-op")
	assert.Equal(t, 1, job.CompletedCount())

	assert.False(t, job.MarkTaskCompleted(-1))
	assert.False(t, job.MarkTaskCompleted(2))
}

func TestJobCompletionImpliesDelivery(t *testing.T) {
	job, _ := testJob(4, 1, time.Minute)

	// A result can race in for a task the bookkeeping never saw delivered
	job.MarkTaskCompleted(3)
	assert.GreaterOrEqual(t, job.DeliveredCount(), job.CompletedCount())
}

func TestJobLifecycle(t *testing.T) {
	job, _ := testJob(2, 1, time.Minute)

	assert.True(t, job.IsActive())
	assert.False(t, job.IsComplete())

	job.GenerateSomeTasksToDeliver(2)
	job.MarkTaskCompleted(0)
	job.MarkTaskCompleted(1)

	assert.True(t, job.IsComplete())
	assert.False(t, job.IsActive())
}

func TestJobErroredStopsDelivering(t *testing.T) {
	job, _ := testJob(4, 1, time.Minute)

	job.AppendError("worker exploded")
	assert.True(t, job.IsErrored())
	assert.False(t, job.IsActive())
	assert.False(t, job.HasTasksToDeliver())
	assert.Empty(t, job.GenerateSomeTasksToDeliver(4))
	assert.Equal(t, []string{"worker exploded"}, job.Errors())
}

func TestJobMaterializeTask(t *testing.T) {
	job, _ := testJob(4, 2, time.Minute)

	task := job.MaterializeTask(5)
	assert.Equal(t, 5, task.TaskID)
	assert.Equal(t, 1, task.OriginX)
	assert.Equal(t, 1, task.OriginY)
	assert.NotZero(t, task.OriginLon)
	assert.NotZero(t, task.OriginLat)
	// Template stays untouched
	assert.Zero(t, job.Template.TaskID)
}
