package sequence

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus counters for sequence runs. Attach one to a
// run with WithMetrics; runs carry no metrics by default.
type Metrics struct {
	runsTotal         prometheus.Counter
	framesTotal       *prometheus.CounterVec
	frameSeconds      prometheus.Histogram
	termFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers the sequence metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skypipe",
			Subsystem: "sequence",
			Name:      "runs_total",
			Help:      "Number of sequence runs started.",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skypipe",
			Subsystem: "sequence",
			Name:      "frames_total",
			Help:      "Frames processed, by outcome.",
		}, []string{"status"}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skypipe",
			Subsystem: "sequence",
			Name:      "frame_duration_seconds",
			Help:      "Per-frame traversal duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		termFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skypipe",
			Subsystem: "sequence",
			Name:      "terminate_failures_total",
			Help:      "Block terminate failures collected into run reports.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runsTotal, m.framesTotal, m.frameSeconds, m.termFailuresTotal)
	}
	return m
}

func (m *Metrics) runStarted() {
	m.runsTotal.Inc()
}

func (m *Metrics) frameDone(ok bool, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.framesTotal.WithLabelValues(status).Inc()
	m.frameSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) termFailure() {
	m.termFailuresTotal.Inc()
}
