package telemetry

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordJobs(t *testing.T) {
	m := NewMetrics()
	m.ObserveJob("snapshot", nil, 50*time.Millisecond)
	m.ObserveJob("snapshot", errors.New("boom"), time.Second)
	m.ObserveSkip("snapshot")
	m.SetDomainHealth("staking", false)
	m.SetAPY("7d", 46.9)
	m.ObserveReconcile("updated")

	body := scrape(t, m)
	for _, line := range []string{
		`stakewatch_job_runs_total{job="snapshot",outcome="success"} 1`,
		`stakewatch_job_runs_total{job="snapshot",outcome="error"} 1`,
		`stakewatch_job_skips_total{job="snapshot"} 1`,
		`stakewatch_domain_healthy{domain="staking"} 0`,
		`stakewatch_apy_percent{period="7d"} 46.9`,
		`stakewatch_reconcile_addresses_total{outcome="updated"} 1`,
		`stakewatch_job_duration_seconds_count{job="snapshot"} 2`,
	} {
		assert.Contains(t, body, line)
	}
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := NewMetrics()
	m.SetDomainHealth("apy", true)
	assert.Contains(t, scrape(t, m), `stakewatch_domain_healthy{domain="apy"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveJob("x", nil, time.Second)
	m.ObserveSkip("x")
	m.SetDomainHealth("x", true)
	m.SetAPY("x", 1)
	m.ObserveReconcile("x")
}
