package broker

import (
	"fmt"
	"testing"
	"time"

	"github.com/ternarybob/aditus/internal/models"
)

func testStatus(workerID string, category models.WorkerCategory) models.WorkerStatus {
	return models.WorkerStatus{
		WorkerID:          workerID,
		Category:          category,
		MaxTasksRequested: 4,
	}
}

func TestCatalogUpsert(t *testing.T) {
	catalog := NewWorkerCatalog(time.Minute)
	current := time.Now()
	catalog.now = func() time.Time { return current }

	category := models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"}
	catalog.Catalog(testStatus("w1", category))
	catalog.Catalog(testStatus("w2", category))
	catalog.Catalog(testStatus("w1", category)) // re-poll, same worker

	counts := catalog.ActiveWorkersPerCategory()
	if counts[category] != 2 {
		t.Errorf("category count = %d, want 2", counts[category])
	}
	if catalog.TotalActiveWorkers() != 2 {
		t.Errorf("total = %d, want 2", catalog.TotalActiveWorkers())
	}
}

func TestCatalogStaleEviction(t *testing.T) {
	catalog := NewWorkerCatalog(time.Minute)
	current := time.Now()
	catalog.now = func() time.Time { return current }

	category := models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"}
	catalog.Catalog(testStatus("w1", category))

	if catalog.NoWorkersAvailable(category) {
		t.Error("fresh worker reported unavailable")
	}

	current = current.Add(2 * time.Minute)

	if !catalog.NoWorkersAvailable(category) {
		t.Error("stale worker still reported available")
	}
	if catalog.TotalActiveWorkers() != 0 {
		t.Errorf("total after eviction = %d, want 0", catalog.TotalActiveWorkers())
	}
}

func TestCatalogWorkerSwitchesCategory(t *testing.T) {
	catalog := NewWorkerCatalog(time.Minute)

	cat1 := models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"}
	cat2 := models.WorkerCategory{GraphID: "g2", WorkerVersion: "v1"}

	catalog.Catalog(testStatus("w1", cat1))
	catalog.Catalog(testStatus("w1", cat2))

	if !catalog.NoWorkersAvailable(cat1) {
		t.Error("worker still counted in abandoned category")
	}
	if catalog.NoWorkersAvailable(cat2) {
		t.Error("worker missing from new category")
	}
}

func TestCatalogSinglePointWorker(t *testing.T) {
	catalog := NewWorkerCatalog(time.Minute)
	category := models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"}

	status := testStatus("w1", category)
	catalog.Catalog(status)

	if addr := catalog.SinglePointWorkerFor(category); addr != "" {
		t.Errorf("non-capable worker returned: %q", addr)
	}

	status.WorkerID = "w2"
	status.SinglePointCapable = true
	status.IPAddress = "10.0.0.5"
	catalog.Catalog(status)

	if addr := catalog.SinglePointWorkerFor(category); addr != "10.0.0.5" {
		t.Errorf("single point address = %q, want 10.0.0.5", addr)
	}
}

func TestCatalogObservationsSnapshot(t *testing.T) {
	catalog := NewWorkerCatalog(time.Minute)
	category := models.WorkerCategory{GraphID: "g1", WorkerVersion: "v1"}

	for i := 0; i < 5; i++ {
		catalog.Catalog(testStatus(fmt.Sprintf("w%d", i), category))
	}

	if got := len(catalog.Observations()); got != 5 {
		t.Errorf("observations = %d, want 5", got)
	}
}
