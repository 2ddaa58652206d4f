package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Outcome labels used on annotprop_annotations_total.
const (
	OutcomeBase      = "base"
	OutcomeInserted  = "inserted"
	OutcomeUpdated   = "updated"
	OutcomeUpToDate  = "up_to_date"
	OutcomeDeleted   = "deleted"
	OutcomeSkipped   = "skipped"
	OutcomeWarnings  = "warnings"
	defaultPushJob   = "annotprop"
	metricsNamespace = "annotprop"
)

// Recorder exports run outcomes as Prometheus metrics on its own registry.
type Recorder struct {
	registry    *prometheus.Registry
	annotations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	snapshot    *prometheus.GaugeVec
	failures    *prometheus.CounterVec
}

// NewRecorder registers the pipeline collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		annotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "annotations_total",
			Help:      "Annotations processed per chain, aspect and outcome.",
		}, []string{"chain", "aspect", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one chain/aspect run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"chain", "aspect"}),
		snapshot: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_size",
			Help:      "Pipeline-owned annotations after the run.",
		}, []string{"chain", "aspect"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "run_failures_total",
			Help:      "Chain/aspect runs aborted by a fatal error.",
		}, []string{"chain", "aspect"}),
	}
	r.registry.MustRegister(r.annotations, r.duration, r.snapshot, r.failures)
	return r
}

// Registry exposes the underlying registry for gathering and tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Annotations adds n to the outcome counter.
func (r *Recorder) Annotations(chain, aspect, outcome string, n int) {
	if n <= 0 {
		return
	}
	r.annotations.WithLabelValues(chain, aspect, outcome).Add(float64(n))
}

// AnnotationsCounter returns the collector for one label set.
func (r *Recorder) AnnotationsCounter(chain, aspect, outcome string) prometheus.Counter {
	return r.annotations.WithLabelValues(chain, aspect, outcome)
}

// ObserveRun records the duration of a run.
func (r *Recorder) ObserveRun(chain, aspect string, d time.Duration) {
	r.duration.WithLabelValues(chain, aspect).Observe(d.Seconds())
}

// SnapshotSize sets the final owned annotation count.
func (r *Recorder) SnapshotSize(chain, aspect string, n int) {
	r.snapshot.WithLabelValues(chain, aspect).Set(float64(n))
}

// SnapshotGauge returns the gauge for one label set.
func (r *Recorder) SnapshotGauge(chain, aspect string) prometheus.Gauge {
	return r.snapshot.WithLabelValues(chain, aspect)
}

// Failure counts an aborted run.
func (r *Recorder) Failure(chain, aspect string) {
	r.failures.WithLabelValues(chain, aspect).Inc()
}

// FailureCounter returns the failure collector for one label set.
func (r *Recorder) FailureCounter(chain, aspect string) prometheus.Counter {
	return r.failures.WithLabelValues(chain, aspect)
}

// Push sends the registry to a Prometheus Pushgateway. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = defaultPushJob
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
