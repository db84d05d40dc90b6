package broker

import (
	"sync"
	"time"

	"github.com/ternarybob/aditus/internal/models"
)

// DefaultLivenessWindow is how long a worker observation stays fresh after
// its last poll. Workers poll roughly once per second, so a minute of silence
// means the worker is gone or wedged.
const DefaultLivenessWindow = 60 * time.Second

// WorkerCatalog tracks the churning population of workers the broker has
// heard from. It is independently thread-safe; the broker calls it without
// holding its own lock.
type WorkerCatalog struct {
	mu             sync.Mutex
	observations   map[string]models.WorkerObservation
	byCategory     map[models.WorkerCategory]map[string]struct{}
	livenessWindow time.Duration

	now func() time.Time
}

// NewWorkerCatalog creates an empty catalog. A zero livenessWindow selects
// the default.
func NewWorkerCatalog(livenessWindow time.Duration) *WorkerCatalog {
	if livenessWindow <= 0 {
		livenessWindow = DefaultLivenessWindow
	}
	return &WorkerCatalog{
		observations:   make(map[string]models.WorkerObservation),
		byCategory:     make(map[models.WorkerCategory]map[string]struct{}),
		livenessWindow: livenessWindow,
		now:            time.Now,
	}
}

// Catalog upserts an observation for the polling worker, stamping the
// current time. Stale entries are purged on the way through.
func (c *WorkerCatalog) Catalog(status models.WorkerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeStale(now)

	if prev, ok := c.observations[status.WorkerID]; ok && prev.Status.Category != status.Category {
		c.removeFromCategory(prev.Status.Category, status.WorkerID)
	}

	c.observations[status.WorkerID] = models.WorkerObservation{Status: status, LastSeen: now}

	set, ok := c.byCategory[status.Category]
	if !ok {
		set = make(map[string]struct{})
		c.byCategory[status.Category] = set
	}
	set[status.WorkerID] = struct{}{}
}

// ActiveWorkersPerCategory returns the multiset of categories over fresh
// observations.
func (c *WorkerCatalog) ActiveWorkersPerCategory() map[models.WorkerCategory]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeStale(now)

	counts := make(map[models.WorkerCategory]int, len(c.byCategory))
	for category, workers := range c.byCategory {
		counts[category] = len(workers)
	}
	return counts
}

// TotalActiveWorkers returns the count of fresh observations across all categories
func (c *WorkerCatalog) TotalActiveWorkers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeStale(c.now())
	return len(c.observations)
}

// NoWorkersAvailable reports whether no fresh observation exists for the category
func (c *WorkerCatalog) NoWorkersAvailable(category models.WorkerCategory) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeStale(c.now())
	return len(c.byCategory[category]) == 0
}

// SinglePointWorkerFor returns the address of any fresh worker in the
// category advertising single-point capability, or empty string.
func (c *WorkerCatalog) SinglePointWorkerFor(category models.WorkerCategory) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeStale(c.now())
	for workerID := range c.byCategory[category] {
		obs := c.observations[workerID]
		if obs.Status.SinglePointCapable && obs.Status.IPAddress != "" {
			return obs.Status.IPAddress
		}
	}
	return ""
}

// Observations returns a snapshot of all fresh observations for status APIs
// and the periodic fleet sweep.
func (c *WorkerCatalog) Observations() []models.WorkerObservation {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeStale(c.now())
	out := make([]models.WorkerObservation, 0, len(c.observations))
	for _, obs := range c.observations {
		out = append(out, obs)
	}
	return out
}

// purgeStale removes observations outside the liveness window. Caller holds the lock.
func (c *WorkerCatalog) purgeStale(now time.Time) {
	for workerID, obs := range c.observations {
		if !obs.Fresh(now, c.livenessWindow) {
			delete(c.observations, workerID)
			c.removeFromCategory(obs.Status.Category, workerID)
		}
	}
}

func (c *WorkerCatalog) removeFromCategory(category models.WorkerCategory, workerID string) {
	if set, ok := c.byCategory[category]; ok {
		delete(set, workerID)
		if len(set) == 0 {
			delete(c.byCategory, category)
		}
	}
}
