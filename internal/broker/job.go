package broker

import (
	"time"

	"github.com/ternarybob/aditus/internal/grid"
	"github.com/ternarybob/aditus/internal/models"
)

// Job holds one regional analysis: the immutable template task plus the
// mutable delivery and completion bookkeeping. All mutation happens under the
// owning broker's lock; Job itself carries no lock.
type Job struct {
	ID       string
	Name     string
	Template models.RegionalTask
	Category models.WorkerCategory

	// Tags forwarded to the worker launcher when this job triggers a launch
	WorkerTags map[string]string

	nTasksTotal int
	delivered   *bitset
	completed   *bitset

	// deadlines[i] is the redelivery-due time for a delivered-but-unfinished
	// task, zero while undelivered.
	deadlines         []time.Time
	redeliveryTimeout time.Duration

	errors []string

	createdAt time.Time

	// now is injected for tests; defaults to time.Now
	now func() time.Time
}

// NewJob creates the bookkeeping for a regional analysis. The template's
// origin fields are stamped per delivery; nTasksTotal is width x height.
func NewJob(id, name string, template models.RegionalTask, tags map[string]string, redeliveryTimeout time.Duration) *Job {
	n := template.NTasksTotal()
	return &Job{
		ID:                id,
		Name:              name,
		Template:          template,
		Category:          template.Category(),
		WorkerTags:        tags,
		nTasksTotal:       n,
		delivered:         newBitset(n),
		completed:         newBitset(n),
		deadlines:         make([]time.Time, n),
		redeliveryTimeout: redeliveryTimeout,
		createdAt:         time.Now(),
		now:               time.Now,
	}
}

// NTasksTotal returns the number of origin tasks in the job
func (j *Job) NTasksTotal() int { return j.nTasksTotal }

// IsComplete reports whether every task has a completion bit set
func (j *Job) IsComplete() bool {
	return j.completed.count() == j.nTasksTotal
}

// IsErrored reports whether the job has accumulated any errors. An errored
// job stops delivering tasks but remains queryable until deleted.
func (j *Job) IsErrored() bool { return len(j.errors) > 0 }

// IsActive reports whether the job should still receive deliveries
func (j *Job) IsActive() bool { return !j.IsErrored() && !j.IsComplete() }

// AppendError records an error message against the job
func (j *Job) AppendError(msg string) {
	j.errors = append(j.errors, msg)
}

// Errors returns a copy of the accumulated error messages
func (j *Job) Errors() []string {
	out := make([]string, len(j.errors))
	copy(out, j.errors)
	return out
}

// HasTasksToDeliver reports whether any task is undelivered, or delivered but
// unfinished with an elapsed redelivery deadline.
func (j *Job) HasTasksToDeliver() bool {
	if !j.IsActive() {
		return false
	}
	if j.delivered.nextClear(0) >= 0 {
		return true
	}
	now := j.now()
	for i := 0; i < j.nTasksTotal; i++ {
		if j.delivered.get(i) && !j.completed.get(i) && now.After(j.deadlines[i]) {
			return true
		}
	}
	return false
}

// GenerateSomeTasksToDeliver returns up to max eligible task IDs, marking
// each delivered and stamping its redelivery deadline. Undelivered tasks go
// out first (lowest index), then expired redeliveries, which biases the head
// of the job forward without starving the tail.
func (j *Job) GenerateSomeTasksToDeliver(max int) []int {
	if max <= 0 || !j.IsActive() {
		return nil
	}
	now := j.now()
	deadline := now.Add(j.redeliveryTimeout)
	ids := make([]int, 0, max)

	for i := j.delivered.nextClear(0); i >= 0 && len(ids) < max; i = j.delivered.nextClear(i + 1) {
		j.delivered.set(i)
		j.deadlines[i] = deadline
		ids = append(ids, i)
	}

	if len(ids) < max {
		for i := 0; i < j.nTasksTotal && len(ids) < max; i++ {
			if j.delivered.get(i) && !j.completed.get(i) && now.After(j.deadlines[i]) {
				j.deadlines[i] = deadline
				ids = append(ids, i)
			}
		}
	}

	return ids
}

// MarkTaskCompleted sets the completion bit for a task. Returns true on the
// 0-to-1 transition; replays of already-completed tasks return false and have
// no effect.
func (j *Job) MarkTaskCompleted(taskID int) bool {
	if taskID < 0 || taskID >= j.nTasksTotal {
		return false
	}
	// Completion implies delivery even under races with redelivery bookkeeping
	j.delivered.set(taskID)
	return j.completed.set(taskID)
}

// DeliveredCount returns the number of tasks delivered at least once
func (j *Job) DeliveredCount() int { return j.delivered.count() }

// CompletedCount returns the number of completed tasks
func (j *Job) CompletedCount() int { return j.completed.count() }

// MaterializeTask stamps the template with a task ID and origin coordinates
func (j *Job) MaterializeTask(taskID int) models.RegionalTask {
	task := j.Template
	task.TaskID = taskID
	task.OriginX = taskID % task.Width
	task.OriginY = taskID / task.Width
	task.OriginLon = grid.PixelToLon(float64(task.West+task.OriginX)+0.5, task.Zoom)
	task.OriginLat = grid.PixelToLat(float64(task.North+task.OriginY)+0.5, task.Zoom)
	return task
}

// Status returns a point-in-time view of the job's progress
func (j *Job) Status() models.JobStatus {
	return models.JobStatus{
		JobID:       j.ID,
		Name:        j.Name,
		Category:    j.Category,
		NTasksTotal: j.nTasksTotal,
		Delivered:   j.delivered.count(),
		Completed:   j.completed.count(),
		Errored:     j.IsErrored(),
		Errors:      j.Errors(),
		ActiveSince: j.createdAt,
	}
}
