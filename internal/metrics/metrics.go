package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exposed on /metrics.
var (
	// ScansTotal counts scan probes by outcome: matched, not_recognized,
	// rejected (business rule), liveness_failed, error.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_scans_total",
		Help: "Scan probes processed, by outcome.",
	}, []string{"outcome"})

	// MarksTotal counts successful ledger transitions by action.
	MarksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_marks_total",
		Help: "Attendance marks written, by action.",
	}, []string{"action"})

	// EnrollmentsTotal counts enrollment attempts by outcome: created,
	// duplicate, error.
	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_enrollments_total",
		Help: "Face enrollments, by outcome.",
	}, []string{"outcome"})

	// OracleRetriesTotal counts face service call retries by endpoint.
	OracleRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facetrack_oracle_retries_total",
		Help: "Face service call retries, by endpoint.",
	}, []string{"endpoint"})
)
