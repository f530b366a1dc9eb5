package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "http_requests_total",
			Help:      "Admin API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	tasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "tasks_processed_total",
			Help:      "Sync tasks by entity type and outcome.",
		},
		[]string{"entity_type", "outcome"},
	)

	throttled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "admissions_throttled_total",
			Help:      "Task admissions deferred because the tenant budget was exhausted.",
		},
		[]string{"tenant"},
	)

	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "remote_requests_total",
			Help:      "Requests sent to the remote platform by method and status.",
		},
		[]string{"method", "status"},
	)

	budgetRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "catalogsync",
			Name:      "budget_remaining",
			Help:      "Last observed remaining request budget per tenant.",
		},
		[]string{"tenant"},
	)

	mappingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "mappings_created_total",
			Help:      "Destination counterparts created by entity type.",
		},
		[]string{"entity_type"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, tasksProcessed, throttled, remoteRequests, budgetRemaining, mappingsCreated)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTask counts a task outcome: completed, retried, failed or throttled.
func IncTask(entityType, outcome string) {
	tasksProcessed.WithLabelValues(entityType, outcome).Inc()
}

func IncThrottled(tenant string) {
	throttled.WithLabelValues(tenant).Inc()
}

func IncRemote(method, status string) {
	remoteRequests.WithLabelValues(method, status).Inc()
}

func SetBudgetRemaining(tenant string, remaining int) {
	budgetRemaining.WithLabelValues(tenant).Set(float64(remaining))
}

func IncMappingCreated(entityType string) {
	mappingsCreated.WithLabelValues(entityType).Inc()
}
