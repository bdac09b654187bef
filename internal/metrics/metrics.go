// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting kenmeiwatch run metrics.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// 1. Internal State (Source of Truth)
var (
	runs                int64
	runsFailed          int64
	updatesDetected     int64
	notificationsSent   int64
	notificationsFailed int64
	seriesTracked       int64
	lastRun             int64
)

const counterInc int64 = 1

// 2. Prometheus Collectors
var (
	promRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kenmeiwatch_runs_total",
			Help: "Total check runs by result",
		},
		[]string{"result"},
	)
	promUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kenmeiwatch_updates_detected_total",
			Help: "Total chapter releases detected, excluding dry runs",
		},
	)
	promNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kenmeiwatch_notifications_total",
			Help: "Total notifications by status",
		},
		[]string{"status"},
	)
	promSeries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kenmeiwatch_series_tracked",
			Help: "Series returned by the last successful fetch",
		},
	)
	promRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kenmeiwatch_run_duration_seconds",
			Help:    "Duration of check runs",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	promLastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kenmeiwatch_last_run_timestamp_seconds",
			Help: "Unix timestamp of last run",
		},
	)
)

var collectors = []prometheus.Collector{
	promRuns,
	promUpdates,
	promNotifications,
	promSeries,
	promRunDuration,
	promLastRun,
}

func init() {
	prometheus.MustRegister(collectors...)
}

// 3. Public API (Updates both Atomic and Prometheus)

// IncRun records a finished run; failed selects the result label.
func IncRun(failed bool) {
	atomic.AddInt64(&runs, counterInc)
	if failed {
		atomic.AddInt64(&runsFailed, counterInc)
		promRuns.WithLabelValues("failure").Inc()
		return
	}
	promRuns.WithLabelValues("success").Inc()
}

// AddUpdates adds n detected chapter releases.
func AddUpdates(n int) {
	atomic.AddInt64(&updatesDetected, int64(n))
	promUpdates.Add(float64(n))
}

// IncNotificationSent increments the counter for delivered notifications.
func IncNotificationSent() {
	atomic.AddInt64(&notificationsSent, counterInc)
	promNotifications.WithLabelValues("sent").Inc()
}

// IncNotificationFailed increments the counter for notifications that could not be delivered.
func IncNotificationFailed() {
	atomic.AddInt64(&notificationsFailed, counterInc)
	promNotifications.WithLabelValues("failed").Inc()
}

// SetSeriesTracked stores the number of series in the latest fetch.
func SetSeriesTracked(n int) {
	atomic.StoreInt64(&seriesTracked, int64(n))
	promSeries.Set(float64(n))
}

// ObserveRunDuration records the duration of a run.
func ObserveRunDuration(d time.Duration) {
	promRunDuration.Observe(d.Seconds())
}

// SetLastRun stores the provided time as the last run timestamp and
// updates the corresponding Prometheus gauge.
func SetLastRun(t time.Time) {
	atomic.StoreInt64(&lastRun, t.Unix())
	promLastRun.Set(float64(t.Unix()))
}

// 4. JSON Snapshot Struct

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Runs                int64  `json:"runs"`
	RunsFailed          int64  `json:"runs_failed"`
	UpdatesDetected     int64  `json:"updates_detected"`
	NotificationsSent   int64  `json:"notifications_sent"`
	NotificationsFailed int64  `json:"notifications_failed"`
	SeriesTracked       int64  `json:"series_tracked"`
	LastRun             int64  `json:"last_run_timestamp"`
	LastRunHuman        string `json:"last_run_human"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and timestamps.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastRun)
	return StatsSnapshot{
		Runs:                atomic.LoadInt64(&runs),
		RunsFailed:          atomic.LoadInt64(&runsFailed),
		UpdatesDetected:     atomic.LoadInt64(&updatesDetected),
		NotificationsSent:   atomic.LoadInt64(&notificationsSent),
		NotificationsFailed: atomic.LoadInt64(&notificationsFailed),
		SeriesTracked:       atomic.LoadInt64(&seriesTracked),
		LastRun:             ts,
		LastRunHuman:        time.Unix(ts, 0).UTC().Format(time.RFC3339),
	}
}

// 5. Handlers and push

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}

// PushToGateway pushes the run collectors to a Prometheus Pushgateway under
// the "kenmeiwatch" job. Short-lived runs started by cron have no scrape
// window, so this is how their metrics get out.
func PushToGateway(url string) error {
	if url == "" {
		return nil
	}
	p := push.New(url, "kenmeiwatch")
	for _, c := range collectors {
		p = p.Collector(c)
	}
	if err := p.Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
