package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer counts finished jobs. observability.Metrics satisfies it.
type Observer interface {
	ObserveJob(taskType string, err error)
}

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	duration *prometheus.HistogramVec
	observer Observer
}

// NewMetrics registers the job duration histogram on registerer. A nil
// registerer leaves the histogram unregistered.
func NewMetrics(registerer prometheus.Registerer, observer Observer) *Metrics {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reqtrack_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	if registerer != nil {
		registerer.MustRegister(duration)
	}
	return &Metrics{duration: duration, observer: observer}
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records duration and outcome, returning err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if t.metrics.observer != nil {
		t.metrics.observer.ObserveJob(t.job, err)
	}
	return err
}
