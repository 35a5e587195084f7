// Package metrics holds the domain level Prometheus metrics. HTTP and Redis
// metrics live with their middleware and client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status lifecycle metrics
var (
	// StatusTransitionsTotal counts committed status changes by target status.
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexscan_status_transitions_total",
			Help: "Total number of finding status transitions by target status",
		},
		[]string{"to_status"},
	)

	// StatusTransitionsRejected counts transitions refused by a domain rule.
	StatusTransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexscan_status_transitions_rejected_total",
			Help: "Total number of rejected status transitions by error code",
		},
		[]string{"code"},
	)

	// TimeToMitigateHours observes time to mitigate when a finding is mitigated.
	TimeToMitigateHours = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vexscan_time_to_mitigate_hours",
			Help:    "Hours between first sighting and mitigation",
			Buckets: []float64{1, 4, 24, 72, 168, 336, 720, 2160, 4320},
		},
	)
)

// Evidence metrics
var (
	// EvidenceUploadsTotal counts upload requests by result.
	EvidenceUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexscan_evidence_uploads_total",
			Help: "Total number of evidence uploads by result",
		},
		[]string{"result"},
	)

	// EvidenceFileBytes observes the size of each stored evidence file.
	EvidenceFileBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vexscan_evidence_file_bytes",
			Help:    "Size of uploaded evidence files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// EvidenceRemovalsTotal counts soft deletes and single file removals.
	EvidenceRemovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexscan_evidence_removals_total",
			Help: "Total number of evidence removals by kind",
		},
		[]string{"kind"},
	)

	// BlobCleanupFailures counts blobs that could not be removed inline
	// and were left to the purge queue or sweeper.
	BlobCleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexscan_blob_cleanup_failures_total",
			Help: "Total number of failed blob cleanups by stage",
		},
		[]string{"stage"},
	)
)

// Authorization metrics
var (
	// AuthzDecisionsTotal counts access decisions by result.
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexscan_authz_decisions_total",
			Help: "Total number of authorization decisions by result",
		},
		[]string{"result"},
	)

	// AuthFailuresTotal counts rejected bearer tokens by reason.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vexscan_auth_failures_total",
			Help: "Total number of rejected API authentications by reason",
		},
		[]string{"reason"},
	)
)
