// Package metrics exposes Prometheus instruments for reconciliation runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/schaermu/reposyncd/internal/reconcile"
)

var (
	outcomeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposyncd_repository_outcomes_total",
			Help: "Total number of reconciled repositories by outcome",
		},
		[]string{"outcome"},
	)

	runCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reposyncd_runs_total",
			Help: "Total number of reconciliation runs by result",
		},
		[]string{"result"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reposyncd_run_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	partitionGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reposyncd_partition_repositories",
			Help: "Repository count per partition in the most recent run",
		},
		[]string{"partition"},
	)
)

// Run results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultError   = "error"
)

// Recorder implements reconcile.Recorder with the package-level instruments
type Recorder struct{}

var _ reconcile.Recorder = Recorder{}

// NewRecorder returns a Recorder
func NewRecorder() Recorder {
	return Recorder{}
}

// RecordRun implements reconcile.Recorder
func (Recorder) RecordRun(report *reconcile.Report, duration time.Duration, err error) {
	runDuration.Observe(duration.Seconds())
	runCounter.WithLabelValues(result(report, err)).Inc()

	if report == nil {
		return
	}

	partitionGauge.WithLabelValues("matching").Set(float64(len(report.Partition.Matching)))
	partitionGauge.WithLabelValues("missing_locally").Set(float64(len(report.Partition.MissingLocally)))
	partitionGauge.WithLabelValues("missing_remotely").Set(float64(len(report.Partition.MissingRemotely)))

	for _, o := range report.Outcomes() {
		outcomeCounter.WithLabelValues(o.Kind.String()).Inc()
	}
}

func result(report *reconcile.Report, err error) string {
	switch {
	case err != nil:
		return ResultError
	case report != nil && report.Failed() > 0:
		return ResultPartial
	default:
		return ResultSuccess
	}
}
