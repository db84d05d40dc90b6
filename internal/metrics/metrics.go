package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Broker throughput and fleet gauges, exposed on /metrics
var (
	TasksDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aditus_broker_tasks_delivered_total",
		Help: "Origin tasks handed out to polling workers, including redeliveries.",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aditus_broker_tasks_completed_total",
		Help: "Origin tasks whose completion bit transitioned to set.",
	})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aditus_broker_jobs_completed_total",
		Help: "Regional jobs finalized and moved into durable storage.",
	})

	WorkersRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aditus_broker_workers_requested_total",
		Help: "Workers requested from the launcher across all categories.",
	})

	ResultsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aditus_broker_results_discarded_total",
		Help: "Work results dropped because their job was unknown or inactive.",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aditus_broker_active_workers",
		Help: "Workers with a fresh catalog observation, refreshed by the fleet sweep.",
	})
)

// Handler returns the prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
