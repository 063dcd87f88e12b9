package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "imagesharing"

// Recorder owns a private registry with the run-level collectors.
type Recorder struct {
	registry       *prometheus.Registry
	outcomes       *prometheus.CounterVec
	accountLatency *prometheus.HistogramVec
	pollAttempts   *prometheus.GaugeVec
	lastRun        *prometheus.GaugeVec
}

// NewRecorder registers all collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_outcomes_total",
			Help:      "Workspace outcomes by action and bucket.",
		}, []string{"action", "bucket"}),
		accountLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "account_duration_seconds",
			Help:      "Time spent processing one account.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"action"}),
		pollAttempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_poll_attempts",
			Help:      "Status polls performed while waiting for convergence.",
		}, []string{"action"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run finished without failed workspaces.",
		}, []string{"action"}),
	}
	r.registry.MustRegister(r.outcomes, r.accountLatency, r.pollAttempts, r.lastRun)
	return r
}

// ObserveOutcomes adds n outcomes for the given action and bucket.
func (r *Recorder) ObserveOutcomes(action, bucket string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.outcomes.WithLabelValues(action, bucket).Add(float64(n))
}

// ObserveAccount records how long one account took.
func (r *Recorder) ObserveAccount(action string, d time.Duration) {
	if r == nil {
		return
	}
	r.accountLatency.WithLabelValues(action).Observe(d.Seconds())
}

// SetPollAttempts records the number of status polls so far.
func (r *Recorder) SetPollAttempts(action string, attempts int) {
	if r == nil {
		return
	}
	r.pollAttempts.WithLabelValues(action).Set(float64(attempts))
}

// SetRunResult records the final pass/fail state of a run.
func (r *Recorder) SetRunResult(action string, ok bool) {
	if r == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	r.lastRun.WithLabelValues(action).Set(v)
}

// Handler exposes the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and exporters.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return errors.New("nil recorder")
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the registry to a Pushgateway under the given job name.
func (r *Recorder) Push(url, job string) error {
	if r == nil {
		return errors.New("nil recorder")
	}
	if err := push.New(url, job).Gatherer(r.registry).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
