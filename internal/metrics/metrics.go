package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	intentsTotal        *prometheus.CounterVec
	intentDuration      *prometheus.HistogramVec
	downloadsTotal      *prometheus.CounterVec
	downloadBytes       prometheus.Histogram
	eventsTotal         *prometheus.CounterVec
	eventsDropped       prometheus.Counter
	sessionState        *prometheus.GaugeVec
}

var sessionStates = []string{"idle", "scanning", "connecting", "connected"}

// New creates a fresh Metrics registry with HTTP and controller metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tottag",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by tottagd",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tottag",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by tottagd",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	intentsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tottag",
		Name:      "intents_total",
		Help:      "Operator intents processed, by kind and outcome",
	}, []string{"kind", "outcome"})

	intentDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tottag",
		Name:      "intent_duration_seconds",
		Help:      "Time spent handling an intent on the worker",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
	}, []string{"kind"})

	downloadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tottag",
		Name:      "downloads_total",
		Help:      "Log downloads finalized, by outcome",
	}, []string{"outcome"})

	downloadBytes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tottag",
		Name:      "download_bytes",
		Help:      "Size of completed log downloads",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	})

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tottag",
		Name:      "events_total",
		Help:      "Events emitted to operators, by kind",
	}, []string{"kind"})

	eventsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tottag",
		Name:      "events_dropped_total",
		Help:      "Events not delivered to a subscriber whose buffer was full",
	})

	sessionState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tottag",
		Name:      "session_state",
		Help:      "1 for the current connection state, 0 otherwise",
	}, []string{"state"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		intentsTotal,
		intentDuration,
		downloadsTotal,
		downloadBytes,
		eventsTotal,
		eventsDropped,
		sessionState,
	)

	m := &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		intentsTotal:        intentsTotal,
		intentDuration:      intentDuration,
		downloadsTotal:      downloadsTotal,
		downloadBytes:       downloadBytes,
		eventsTotal:         eventsTotal,
		eventsDropped:       eventsDropped,
		sessionState:        sessionState,
	}
	m.SetSessionState("idle")
	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveIntent records one handled intent. outcome is "ok" or an error category.
func (m *Metrics) ObserveIntent(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.intentsTotal.WithLabelValues(kind, outcome).Inc()
	m.intentDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveDownload records a finalized download; bytes is ignored unless outcome is "complete".
func (m *Metrics) ObserveDownload(outcome string, bytes int) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "complete" {
		m.downloadBytes.Observe(float64(bytes))
	}
}

func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// SetSessionState flips the state gauge so exactly one state reads 1.
func (m *Metrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
