package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orgCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Total number of org tree cache lookups broken down by backend and hit/miss.",
	}, []string{"cache", "result"})

	orgCacheInvalidate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "cache",
		Name:      "invalidate_total",
		Help:      "Total number of org tree cache invalidations broken down by reason.",
	}, []string{"reason"})

	orgWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of storage-level write conflicts broken down by kind.",
	}, []string{"kind"})

	orgMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "write",
		Name:      "mutations_total",
		Help:      "Total number of org mutations broken down by operation and result.",
	}, []string{"operation", "result"})

	orgCapacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "assignment",
		Name:      "capacity_rejections_total",
		Help:      "Total number of assignments rejected because the position was full.",
	})
)

func recordCacheRequest(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	orgCacheRequests.WithLabelValues(cache, result).Inc()
}

func recordCacheInvalidate(reason string) {
	if reason == "" {
		reason = "manual"
	}
	orgCacheInvalidate.WithLabelValues(reason).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	orgWriteConflicts.WithLabelValues(kind).Inc()
}

func recordMutation(operation, result string) {
	orgMutations.WithLabelValues(operation, result).Inc()
}
