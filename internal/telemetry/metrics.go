package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "stakewatch"

// Job outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the service's prometheus collectors.
type Metrics struct {
	registry      *prometheus.Registry
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobSkips      *prometheus.CounterVec
	domainHealthy *prometheus.GaugeVec
	apyPercent    *prometheus.GaugeVec
	reconciled    *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Completed job runs segmented by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job run latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		jobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_skips_total",
			Help:      "Runs skipped because the previous run of the same job was still in flight.",
		}, []string{"job"}),
		domainHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_healthy",
			Help:      "1 when the domain's last run succeeded, 0 otherwise.",
		}, []string{"domain"}),
		apyPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "apy_percent",
			Help:      "Latest calculated APY per period.",
		}, []string{"period"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_addresses_total",
			Help:      "Addresses processed by the position reconciler segmented by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobRuns,
		m.jobDuration,
		m.jobSkips,
		m.domainHealthy,
		m.apyPercent,
		m.reconciled,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveJob records one completed run.
func (m *Metrics) ObserveJob(job string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// ObserveSkip records a skipped run.
func (m *Metrics) ObserveSkip(job string) {
	if m == nil {
		return
	}
	m.jobSkips.WithLabelValues(job).Inc()
}

// SetDomainHealth records the domain's health.
func (m *Metrics) SetDomainHealth(domain string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	m.domainHealthy.WithLabelValues(domain).Set(value)
}

// SetAPY records the latest APY for a period.
func (m *Metrics) SetAPY(period string, value float64) {
	if m == nil {
		return
	}
	m.apyPercent.WithLabelValues(period).Set(value)
}

// ObserveReconcile counts one reconciled address.
func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
