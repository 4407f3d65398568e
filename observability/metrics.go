package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	trackerMetricsOnce sync.Once
	trackerRegistry    *TrackerMetrics

	webAPIMetricsOnce sync.Once
	webAPIRegistry    *WebAPIMetrics
)

// TrackerMetrics bundles the collectors for the event dispatcher: event
// throughput, handler latency, settlement outcomes and poll progress.
type TrackerMetrics struct {
	events      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	settlements *prometheus.CounterVec
	pollCycles  prometheus.Counter
	watermark   prometheus.Gauge
}

// Tracker returns the lazily-initialised metrics registry for the tracker
// daemon.
func Tracker() *TrackerMetrics {
	trackerMetricsOnce.Do(func() {
		trackerRegistry = &TrackerMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metafusion",
				Subsystem: "tracker",
				Name:      "events_total",
				Help:      "Count of processed contract events segmented by event name and outcome.",
			}, []string{"event", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "metafusion",
				Subsystem: "tracker",
				Name:      "handler_duration_seconds",
				Help:      "Latency distribution for event handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"event"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metafusion",
				Subsystem: "tracker",
				Name:      "settlements_total",
				Help:      "Count of purchase settlements segmented by entity kind and outcome.",
			}, []string{"kind", "outcome"}),
			pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "metafusion",
				Subsystem: "tracker",
				Name:      "poll_cycles_total",
				Help:      "Count of completed log polling cycles.",
			}),
			watermark: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "metafusion",
				Subsystem: "tracker",
				Name:      "block_watermark",
				Help:      "Highest block height whose logs have been fully processed.",
			}),
		}
		prometheus.MustRegister(
			trackerRegistry.events,
			trackerRegistry.latency,
			trackerRegistry.settlements,
			trackerRegistry.pollCycles,
			trackerRegistry.watermark,
		)
	})
	return trackerRegistry
}

// ObserveEvent records one handled event with its outcome and latency.
func (m *TrackerMetrics) ObserveEvent(event string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if event = strings.TrimSpace(event); event == "" {
		event = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.events.WithLabelValues(event, outcome).Inc()
	m.latency.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordSettlement increments the settlement counter. Outcomes are stable
// strings such as "settled", "refunded_unlisted" or "refunded_underpaid" so
// dashboards stay consistent.
func (m *TrackerMetrics) RecordSettlement(kind, outcome string) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unspecified"
	}
	m.settlements.WithLabelValues(kind, outcome).Inc()
}

// RecordPollCycle counts one completed polling pass and moves the processed
// watermark.
func (m *TrackerMetrics) RecordPollCycle(watermark uint64) {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
	m.watermark.Set(float64(watermark))
}

// WebAPIMetrics wraps collectors tracking the read API surface.
type WebAPIMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// WebAPI returns the metrics registry for the web API daemon.
func WebAPI() *WebAPIMetrics {
	webAPIMetricsOnce.Do(func() {
		webAPIRegistry = &WebAPIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metafusion",
				Subsystem: "webapi",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metafusion",
				Subsystem: "webapi",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "metafusion",
				Subsystem: "webapi",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			webAPIRegistry.requests,
			webAPIRegistry.errors,
			webAPIRegistry.latency,
		)
	})
	return webAPIRegistry
}

// Observe records the outcome of one API request. The status code should be
// the HTTP status ultimately written to the response writer.
func (m *WebAPIMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}
