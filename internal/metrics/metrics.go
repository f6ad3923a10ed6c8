package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the synchronization core. Registered on the default
// registerer and served by the /metrics endpoint in cmd/api.
var (
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billkeeper_gateway_requests_total",
		Help: "Backend requests by operation and outcome.",
	}, []string{"operation", "outcome"})

	GatewayRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billkeeper_gateway_retries_total",
		Help: "Retried backend request attempts.",
	})

	ConnectivityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billkeeper_connectivity_transitions_total",
		Help: "Connectivity state transitions by direction.",
	}, []string{"direction"})

	ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billkeeper_probe_results_total",
		Help: "Health probe results.",
	}, []string{"result"})

	SweepOverdue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billkeeper_sweep_overdue_total",
		Help: "Accounts flipped to overdue by the daily sweep.",
	})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billkeeper_cache_evictions_total",
		Help: "Cache entries evicted by reason.",
	}, []string{"reason"})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billkeeper_status_queue_dropped_total",
		Help: "Best-effort status updates dropped after retry exhaustion.",
	})
)
