// Package metrics exposes Prometheus collectors for the analyzer batch.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every analyzer collector. It is separate from the default
// registry so a batch push only carries analyzer series.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	fetchAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_fetch_attempts_total",
			Help: "Project page fetch attempts, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	reportsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_reports_total",
			Help: "Generated reports, labeled by language and status.",
		},
		[]string{"language", "status"},
	)

	rowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_rows_total",
			Help: "Processed sheet rows, labeled by status.",
		},
		[]string{"status"},
	)

	sheetWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_sheet_writes_total",
			Help: "Spreadsheet write calls, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)

	batchDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyzer_batch_duration_seconds",
			Help:    "Wall time of one analyzer batch.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
		},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(rawURL, outcome string) {
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveReport counts one report generation.
func ObserveReport(language, status string) {
	reportsTotal.WithLabelValues(language, status).Inc()
}

// ObserveRow counts one processed row.
func ObserveRow(status string) {
	rowsTotal.WithLabelValues(status).Inc()
}

// ObserveSheetWrite counts one spreadsheet write.
func ObserveSheetWrite(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sheetWritesTotal.WithLabelValues(kind, status).Inc()
}

// ObserveBatch records the duration of a finished batch.
func ObserveBatch(duration time.Duration) {
	batchDurationSeconds.Observe(duration.Seconds())
}

// Push sends the registry to a Prometheus Pushgateway. An empty gatewayURL
// disables pushing.
func Push(ctx context.Context, gatewayURL, job, runID string) error {
	if gatewayURL == "" {
		return nil
	}
	pusher := push.New(gatewayURL, job).Gatherer(Registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
