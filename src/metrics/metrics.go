// Package metrics holds the node's prometheus collectors. They are
// registered on the default registry and exposed by the HTTP service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ConnectAttempts counts finished outbound handshakes by outcome.
	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtxd",
		Subsystem: "overlay",
		Name:      "connect_attempts_total",
		Help:      "Outbound connect attempts by terminal outcome.",
	}, []string{"outcome"})

	// ActivePeers tracks the number of live peer sessions.
	ActivePeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtxd",
		Subsystem: "overlay",
		Name:      "active_peers",
		Help:      "Live peer sessions.",
	})

	// AcquisitionsStarted counts acquisitions created.
	AcquisitionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtxd",
		Subsystem: "acquire",
		Name:      "started_total",
		Help:      "Ledger and tx-set acquisitions started.",
	})

	// AcquisitionsCompleted counts acquisitions that obtained their artifact.
	AcquisitionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtxd",
		Subsystem: "acquire",
		Name:      "completed_total",
		Help:      "Ledger and tx-set acquisitions completed.",
	})

	// AcquisitionsFailed counts acquisitions that were abandoned.
	AcquisitionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtxd",
		Subsystem: "acquire",
		Name:      "failed_total",
		Help:      "Ledger and tx-set acquisitions abandoned.",
	})

	// PathfinderSearches counts pathfinding expansions.
	PathfinderSearches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rtxd",
		Subsystem: "paths",
		Name:      "searches_total",
		Help:      "Pathfinder search expansions.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectAttempts,
		ActivePeers,
		AcquisitionsStarted,
		AcquisitionsCompleted,
		AcquisitionsFailed,
		PathfinderSearches,
	)
}
