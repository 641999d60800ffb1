// Package metrics provides Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters the client and orchestrator report into.
type Metrics struct {
	// APIRequests counts upstream requests by method and outcome
	// (success, client_error, server_error, network_error).
	APIRequests *prometheus.CounterVec
	// APIRetries counts retry attempts after retryable failures
	APIRetries prometheus.Counter
	// RecordsSynced counts records upserted per entity type
	RecordsSynced *prometheus.CounterVec
	// SyncFailures counts aborted entity syncs per entity type
	SyncFailures *prometheus.CounterVec
}

// New creates metrics registered against the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suitesync",
			Name:      "api_requests_total",
			Help:      "Upstream API requests by method and outcome",
		}, []string{"method", "outcome"}),
		APIRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "suitesync",
			Name:      "api_retries_total",
			Help:      "Retry attempts after retryable upstream failures",
		}),
		RecordsSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suitesync",
			Name:      "records_synced_total",
			Help:      "Records upserted into the local mirror by entity type",
		}, []string{"entity"}),
		SyncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suitesync",
			Name:      "sync_failures_total",
			Help:      "Entity syncs aborted by an error",
		}, []string{"entity"}),
	}
}

// Request outcome label values.
const (
	OutcomeSuccess      = "success"
	OutcomeClientError  = "client_error"
	OutcomeServerError  = "server_error"
	OutcomeNetworkError = "network_error"
)
