package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aditus/internal/interfaces"
	"github.com/ternarybob/aditus/internal/metrics"
	"github.com/ternarybob/aditus/internal/models"
)

// Scheduling and autoscaling constants
const (
	// MaxTasksPerWorker caps how many tasks one poll response may carry
	MaxTasksPerWorker = 16

	// AutoStartSpotInstancesAtTask is the designated early task whose result
	// triggers the fleet-sizing decision. By task 42 the first worker has
	// produced enough results to prove the job runs, without waiting long
	// enough to waste the fleet's ramp-up window.
	AutoStartSpotInstancesAtTask = 42

	TargetTasksPerWorkerTransit    = 800
	TargetTasksPerWorkerNonTransit = 4000

	// MaxWorkersPerCategory bounds one job category's fleet regardless of size
	MaxWorkersPerCategory = 250

	// WorkerStartupTime suppresses duplicate on-demand launch requests per
	// category while a previous request may still be booting instances.
	WorkerStartupTime = 60 * time.Minute

	maxWorkersWithOriginPointSet = 80
	maxWorkersWithPathResults    = 20
)

// Broker error kinds
var (
	ErrJobAlreadyExists    = errors.New("job id already present")
	ErrUnknownJob          = errors.New("unknown job")
	ErrNegativeWorkerCount = errors.New("negative worker count requested")
	ErrCapacityExceeded    = errors.New("worker capacity exceeded")
)

// ResultAssembler receives per-origin result messages for one job and slots
// them into the job's output files. HandleMessage reports complete=true once
// every expected origin has been written; Finalize then hands back the
// storage-key to local-file map. Implementations are internally synchronized
// because the broker calls HandleMessage outside its own lock.
type ResultAssembler interface {
	HandleMessage(result *models.RegionalWorkResult) (complete bool, err error)
	Finalize() (map[string]string, error)
	Terminate()
}

// Broker is the central scheduler: it owns the job multimap keyed by worker
// category, routes results to assemblers, tracks launch cooldowns, and issues
// autoscale requests. All mutation of broker maps is serialized under one
// lock; slow work (file I/O, storage handoff, launches, events) happens off
// the critical section.
type Broker struct {
	mu sync.Mutex

	jobs           map[string]*Job
	jobsByCategory map[models.WorkerCategory][]*Job
	assemblers     map[string]ResultAssembler

	// recentlyRequestedWorkers[category] is the time of the last launch
	// request, used to enforce one pending on-demand request per category.
	recentlyRequestedWorkers map[models.WorkerCategory]time.Time

	catalog  *WorkerCatalog
	launcher interfaces.WorkerLauncher
	events   interfaces.EventService
	files    interfaces.FileStorage
	logger   arbor.ILogger

	offline           bool
	maxWorkers        int
	redeliveryTimeout time.Duration

	now func() time.Time
}

// Options configures a Broker
type Options struct {
	Offline           bool
	MaxWorkers        int
	RedeliveryTimeout time.Duration
	LivenessWindow    time.Duration
}

// New creates a Broker
func New(opts Options, launcher interfaces.WorkerLauncher, events interfaces.EventService, files interfaces.FileStorage, logger arbor.ILogger) *Broker {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1000
	}
	if opts.RedeliveryTimeout <= 0 {
		opts.RedeliveryTimeout = 4 * time.Minute
	}
	return &Broker{
		jobs:                     make(map[string]*Job),
		jobsByCategory:           make(map[models.WorkerCategory][]*Job),
		assemblers:               make(map[string]ResultAssembler),
		recentlyRequestedWorkers: make(map[models.WorkerCategory]time.Time),
		catalog:                  NewWorkerCatalog(opts.LivenessWindow),
		launcher:                 launcher,
		events:                   events,
		files:                    files,
		logger:                   logger,
		offline:                  opts.Offline,
		maxWorkers:               opts.MaxWorkers,
		redeliveryTimeout:        opts.RedeliveryTimeout,
		now:                      time.Now,
	}
}

// Catalog exposes the worker catalog for status APIs and the fleet sweep
func (b *Broker) Catalog() *WorkerCatalog { return b.catalog }

// RedeliveryTimeout returns the per-task redelivery deadline in force
func (b *Broker) RedeliveryTimeout() time.Duration { return b.redeliveryTimeout }

// EnqueueRegionalJob registers a job and its assembler, fires the started
// event, and launches one on-demand worker if none exist for the category.
func (b *Broker) EnqueueRegionalJob(ctx context.Context, job *Job, assembler ResultAssembler) error {
	b.mu.Lock()
	if _, exists := b.jobs[job.ID]; exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, job.ID)
	}
	b.jobs[job.ID] = job
	b.jobsByCategory[job.Category] = append(b.jobsByCategory[job.Category], job)
	b.assemblers[job.ID] = assembler
	b.mu.Unlock()

	b.logger.Info().
		Str("job_id", job.ID).
		Str("category", job.Category.String()).
		Int("n_tasks_total", job.NTasksTotal()).
		Msg("Regional job enqueued")

	b.publish(ctx, interfaces.EventAnalysisStarted, map[string]interface{}{
		"job_id":        job.ID,
		"name":          job.Name,
		"graph_id":      job.Category.GraphID,
		"n_tasks_total": job.NTasksTotal(),
	})

	if !b.offline && b.catalog.NoWorkersAvailable(job.Category) {
		b.createWorkersInCategory(ctx, job.Category, job.WorkerTags, 1, 0)
	}

	return nil
}

// RecordWorkerObservation forwards a worker's status to the catalog
func (b *Broker) RecordWorkerObservation(status models.WorkerStatus) {
	b.catalog.Catalog(status)
}

// GetSomeWork returns up to min(maxRequested, MaxTasksPerWorker) tasks from
// an active job matching the category. In offline mode any active job
// qualifies regardless of category. An empty slice means nothing matched.
func (b *Broker) GetSomeWork(category models.WorkerCategory, maxRequested int) []models.RegionalTask {
	if maxRequested > MaxTasksPerWorker {
		maxRequested = MaxTasksPerWorker
	}
	if maxRequested <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var candidates []*Job
	if b.offline {
		for _, jobs := range b.jobsByCategory {
			candidates = append(candidates, jobs...)
		}
	} else {
		candidates = b.jobsByCategory[category]
	}

	for _, job := range candidates {
		if !job.HasTasksToDeliver() {
			continue
		}
		ids := job.GenerateSomeTasksToDeliver(maxRequested)
		if len(ids) == 0 {
			continue
		}
		tasks := make([]models.RegionalTask, len(ids))
		for i, id := range ids {
			tasks[i] = job.MaterializeTask(id)
		}
		metrics.TasksDelivered.Add(float64(len(tasks)))
		return tasks
	}

	return nil
}

// HandleRegionalWorkResult validates and routes one result message. Nothing
// is allowed to propagate out of here: any failure is converted into a
// recorded job error plus an error event, and malformed or late results are
// dropped without poisoning the output files.
func (b *Broker) HandleRegionalWorkResult(ctx context.Context, result *models.RegionalWorkResult) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("job_id", result.JobID).
				Int("task_id", result.TaskID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic while handling work result")
			b.recordJobError(ctx, result.JobID, fmt.Sprintf("internal error handling result for task %d: %v", result.TaskID, r))
		}
	}()

	b.mu.Lock()
	job, jobOK := b.jobs[result.JobID]
	assembler, asmOK := b.assemblers[result.JobID]
	if !jobOK || !asmOK || !job.IsActive() {
		b.mu.Unlock()
		// Expected under races with deletion; workers drain in-flight tasks
		metrics.ResultsDiscarded.Inc()
		b.logger.Debug().
			Str("job_id", result.JobID).
			Int("task_id", result.TaskID).
			Msg("Discarding result for unknown or inactive job")
		return
	}

	if result.Error != "" {
		job.AppendError(fmt.Sprintf("task %d: %s", result.TaskID, result.Error))
		b.mu.Unlock()
		b.logger.Warn().
			Str("job_id", result.JobID).
			Int("task_id", result.TaskID).
			Str("error", result.Error).
			Msg("Worker reported task error - job stops delivering")
		b.publish(ctx, interfaces.EventError, map[string]interface{}{
			"job_id": result.JobID,
			"error":  result.Error,
		})
		return
	}

	if job.MarkTaskCompleted(result.TaskID) {
		metrics.TasksCompleted.Inc()
	}
	b.mu.Unlock()

	// Disk writes and the storage handoff stay off the broker lock; the
	// assembler is internally synchronized.
	complete, err := assembler.HandleMessage(result)
	if err != nil {
		b.recordJobError(ctx, result.JobID, fmt.Sprintf("task %d: %v", result.TaskID, err))
		return
	}

	if complete {
		b.finalizeJob(ctx, result.JobID, assembler)
	}

	if result.TaskID == AutoStartSpotInstancesAtTask {
		b.considerScaling(ctx, job)
	}
}

// finalizeJob flushes the assembler, moves artifacts into durable storage,
// removes the job from the maps, and fires the completed event.
func (b *Broker) finalizeJob(ctx context.Context, jobID string, assembler ResultAssembler) {
	artifacts, err := assembler.Finalize()
	if err != nil {
		b.recordJobError(ctx, jobID, fmt.Sprintf("finalize output: %v", err))
		return
	}

	keys := make([]string, 0, len(artifacts))
	for key, path := range artifacts {
		if err := b.files.MoveIntoStorage(key, path); err != nil {
			b.recordJobError(ctx, jobID, fmt.Sprintf("store %s: %v", key, err))
			return
		}
		keys = append(keys, key)
	}

	b.mu.Lock()
	job, ok := b.jobs[jobID]
	if ok {
		delete(b.jobs, jobID)
		delete(b.assemblers, jobID)
		b.removeFromCategory(job)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.logger.Info().
		Str("job_id", jobID).
		Int("n_tasks_total", job.NTasksTotal()).
		Strs("storage_keys", keys).
		Msg("Regional job completed")
	metrics.JobsCompleted.Inc()

	b.publish(ctx, interfaces.EventAnalysisCompleted, map[string]interface{}{
		"job_id":       jobID,
		"storage_keys": keys,
	})
}

// DeleteJob removes a job, terminates its assembler (releasing temporary
// files), and fires the canceled event. Returns false when the job is not
// present.
func (b *Broker) DeleteJob(ctx context.Context, jobID string) bool {
	b.mu.Lock()
	job, ok := b.jobs[jobID]
	var assembler ResultAssembler
	if ok {
		assembler = b.assemblers[jobID]
		delete(b.jobs, jobID)
		delete(b.assemblers, jobID)
		b.removeFromCategory(job)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}

	if assembler != nil {
		assembler.Terminate()
	}

	b.logger.Info().Str("job_id", jobID).Msg("Regional job deleted")
	b.publish(ctx, interfaces.EventAnalysisCanceled, map[string]interface{}{
		"job_id": jobID,
	})
	return true
}

// FindJob returns the job with the given ID, or nil
func (b *Broker) FindJob(jobID string) *Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobs[jobID]
}

// GetAllJobStatuses returns a snapshot of every registered job's progress
func (b *Broker) GetAllJobStatuses() []models.JobStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	statuses := make([]models.JobStatus, 0, len(b.jobs))
	for _, job := range b.jobs {
		statuses = append(statuses, job.Status())
	}
	return statuses
}

// AnyJobsActive reports whether at least one job is still delivering
func (b *Broker) AnyJobsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, job := range b.jobs {
		if job.IsActive() {
			return true
		}
	}
	return false
}

// considerScaling computes the target fleet size for a job and requests the
// deficit as spot instances. Runs outside the broker lock.
func (b *Broker) considerScaling(ctx context.Context, job *Job) {
	target := targetWorkers(&job.Template, job.NTasksTotal())
	current := b.catalog.ActiveWorkersPerCategory()[job.Category]
	deficit := target - current

	b.logger.Info().
		Str("job_id", job.ID).
		Str("category", job.Category.String()).
		Int("target", target).
		Int("current", current).
		Msg("Autoscale checkpoint reached")

	if deficit > 0 {
		b.createWorkersInCategory(ctx, job.Category, job.WorkerTags, 0, deficit)
	}
}

// targetWorkers implements the fleet-sizing formula. Transit jobs parallelize
// across departure minutes so they warrant denser fleets; higher zoom means
// more, cheaper origins per worker. Small jobs round down to zero and stay on
// whatever worker picked them up.
func targetWorkers(template *models.RegionalTask, nTasksTotal int) int {
	var target int
	if template.HasTransit {
		zoom := template.Zoom
		if zoom <= 0 {
			zoom = 9
		}
		target = int(float64(nTasksTotal/TargetTasksPerWorkerTransit) * 9.0 / float64(zoom))
	} else {
		target = nTasksTotal / TargetTasksPerWorkerNonTransit
	}
	if target > MaxWorkersPerCategory {
		target = MaxWorkersPerCategory
	}
	if template.OriginPointSetKey != "" && target > maxWorkersWithOriginPointSet {
		target = maxWorkersWithOriginPointSet
	}
	if template.IncludePathResults && target > maxWorkersWithPathResults {
		target = maxWorkersWithPathResults
	}
	return target
}

// createWorkersInCategory applies the launch guardrails and forwards the
// request to the launcher. Guards, in order: offline short-circuit, negative
// counts, per-category on-demand cooldown, halving headroom guard.
func (b *Broker) createWorkersInCategory(ctx context.Context, category models.WorkerCategory, tags map[string]string, nOnDemand, nSpot int) error {
	if b.offline {
		return nil
	}
	if nOnDemand < 0 || nSpot < 0 {
		return ErrNegativeWorkerCount
	}

	// One pending on-demand bootstrap per category at a time. Spot scale-ups
	// pass through: they recompute their deficit from live observations, so a
	// duplicate request converges instead of doubling the fleet.
	if nOnDemand > 0 {
		b.mu.Lock()
		requestedAt, pending := b.recentlyRequestedWorkers[category]
		b.mu.Unlock()
		if pending && b.now().Sub(requestedAt) < WorkerStartupTime {
			b.logger.Debug().
				Str("category", category.String()).
				Str("requested_at", requestedAt.Format(time.RFC3339)).
				Msg("Launch request suppressed - previous request still within startup window")
			return nil
		}
	}

	currentTotal := b.catalog.TotalActiveWorkers()

	// Request at most half the remaining headroom so successive launches
	// converge on the cap instead of overshooting it.
	maxToStart := (b.maxWorkers - currentTotal) / 2
	if maxToStart <= 0 {
		b.logger.Warn().
			Str("category", category.String()).
			Int("current_total", currentTotal).
			Int("max_workers", b.maxWorkers).
			Msg("Refusing worker launch - no capacity remaining")
		return ErrCapacityExceeded
	}
	if nOnDemand+nSpot > maxToStart {
		nSpot = maxToStart
		nOnDemand = 0
	}

	b.mu.Lock()
	b.recentlyRequestedWorkers[category] = b.now()
	b.mu.Unlock()

	if err := b.launcher.Launch(ctx, category, tags, nOnDemand, nSpot); err != nil {
		b.logger.Error().
			Err(err).
			Str("category", category.String()).
			Msg("Worker launch failed")
		return err
	}

	b.logger.Info().
		Str("category", category.String()).
		Int("on_demand", nOnDemand).
		Int("spot", nSpot).
		Msg("Workers requested")
	metrics.WorkersRequested.Add(float64(nOnDemand + nSpot))

	if nOnDemand > 0 {
		b.publish(ctx, interfaces.EventWorkerRequested, map[string]interface{}{
			"category": category.String(),
			"role":     "on-demand",
			"count":    nOnDemand,
		})
	}
	if nSpot > 0 {
		b.publish(ctx, interfaces.EventWorkerRequested, map[string]interface{}{
			"category": category.String(),
			"role":     "spot",
			"count":    nSpot,
		})
	}

	return nil
}

// recordJobError appends an error to a job (marking it errored) and fires an
// error event.
func (b *Broker) recordJobError(ctx context.Context, jobID, msg string) {
	b.mu.Lock()
	job, ok := b.jobs[jobID]
	if ok {
		job.AppendError(msg)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.logger.Error().Str("job_id", jobID).Str("error", msg).Msg("Job error recorded")
	b.publish(ctx, interfaces.EventError, map[string]interface{}{
		"job_id": jobID,
		"error":  msg,
	})
}

// removeFromCategory drops a job from the category index. Caller holds the lock.
func (b *Broker) removeFromCategory(job *Job) {
	jobs := b.jobsByCategory[job.Category]
	for i, j := range jobs {
		if j.ID == job.ID {
			b.jobsByCategory[job.Category] = append(jobs[:i], jobs[i+1:]...)
			break
		}
	}
	if len(b.jobsByCategory[job.Category]) == 0 {
		delete(b.jobsByCategory, job.Category)
	}
}

// publish fires an event with a timestamp, tolerating a nil event service
func (b *Broker) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if b.events == nil {
		return
	}
	payload["timestamp"] = time.Now().Format(time.RFC3339)
	if err := b.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		b.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Event publish failed")
	}
}
