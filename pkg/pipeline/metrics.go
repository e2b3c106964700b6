package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	Runs          *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Polls         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoload_import_runs_total",
			Help: "Import runs by outcome.",
		}, []string{"outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoload_stage_duration_seconds",
			Help:    "Duration of each import stage including its wait.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage", "outcome"}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoload_progress_polls_total",
			Help: "Progress tracker polls by stage.",
		}, []string{"stage"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
