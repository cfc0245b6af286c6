// Package metrics registers the Prometheus collectors staticd exposes on
// /metrics, mirroring the teacher's "tr_tavern_" prefixed registerer in
// main.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "staticd"

var (
	// CacheLookups counts GetReadHandle outcomes; GetWriteHandle is not
	// counted.
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by outcome (hit, miss).",
	}, []string{"outcome"})

	// CacheEvictions counts buffers evicted from the CacheManager.
	CacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Cache buffers evicted, by reason (memory, count).",
	}, []string{"reason"})

	// CacheUsedMemory reports the CacheManager's current used_memory.
	CacheUsedMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "used_memory_bytes",
		Help:      "Bytes currently held by live cache buffers.",
	})

	// CacheEntries reports the CacheManager's current entry_count.
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live cache entries.",
	})

	// ReaderPoolRequests counts FileReaderPool completions by outcome.
	ReaderPoolRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "readerpool",
		Name:      "requests_total",
		Help:      "Reader pool requests by outcome (completed, failed, canceled).",
	}, []string{"outcome"})

	// ReaderPoolPending reports the FileReaderPool's pending_tasks gauge.
	ReaderPoolPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "readerpool",
		Name:      "pending",
		Help:      "Requests queued or in flight in the reader pool.",
	})

	// WorkerRequestDuration measures wall time from AddRequest to DONE/ERROR.
	WorkerRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "request_duration_seconds",
		Help:      "Per-connection request duration by final status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	// WorkerActiveRequests reports requests currently owned by workers.
	WorkerActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "active_requests",
		Help:      "Connections currently tracked across all workers.",
	})
)

// MustRegister registers all staticd collectors against reg. Call once at
// startup; reg is typically prometheus.DefaultRegisterer.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		CacheLookups,
		CacheEvictions,
		CacheUsedMemory,
		CacheEntries,
		ReaderPoolRequests,
		ReaderPoolPending,
		WorkerRequestDuration,
		WorkerActiveRequests,
	)
}
