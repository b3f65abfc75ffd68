// Package metrics exposes Prometheus collectors for the summarizer server: sessions, rejected
// requests, stored and replayed events, and HTTP requests.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MegaGrindStone/go-mcp-streamable"
)

// Metrics holds the server's collectors. Its methods have the signatures of the
// mcp.StreamableHTTPServer hooks, so they can be passed to the options directly.
type Metrics struct {
	activeSessions prometheus.Gauge
	sessionsOpened prometheus.Counter
	rejected       *prometheus.CounterVec
	storedEvents   prometheus.Counter
	replayedEvents prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

type eventStore struct {
	mcp.EventStore
	metrics *Metrics
}

const namespace = "mcp"

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently registered.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Sessions opened since start.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests answered with an error status, by reason.",
		}, []string{"reason"}),
		storedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stored_total",
			Help:      "Events recorded in the event store.",
		}),
		replayedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "replayed_total",
			Help:      "Events replayed to resuming clients.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds. SSE requests last as long as their stream.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionsOpened,
		m.rejected,
		m.storedEvents,
		m.replayedEvents,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened(string) {
	m.sessionsOpened.Inc()
	m.activeSessions.Inc()
}

// SessionClosed records the end of a session.
func (m *Metrics) SessionClosed(string) {
	m.activeSessions.Dec()
}

// Rejected records a request answered with an error status.
func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// EventStore wraps store so stored and replayed events are counted.
func (m *Metrics) EventStore(store mcp.EventStore) mcp.EventStore {
	return eventStore{EventStore: store, metrics: m}
}

// Middleware counts and times the requests served by next. The wrapped writer keeps
// http.Flusher, which SSE responses need.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, strconv.Itoa(status)}
		m.httpRequests.WithLabelValues(labels...).Inc()
		m.httpDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (s eventStore) StoreEvent(ctx context.Context, streamID string, msg mcp.JSONRPCMessage) (string, error) {
	id, err := s.EventStore.StoreEvent(ctx, streamID, msg)
	if err == nil {
		s.metrics.storedEvents.Inc()
	}
	return id, err
}

func (s eventStore) ReplayEventsAfter(
	ctx context.Context,
	lastEventID string,
	send func(eventID string, msg mcp.JSONRPCMessage) error,
) (string, error) {
	return s.EventStore.ReplayEventsAfter(ctx, lastEventID, func(eventID string, msg mcp.JSONRPCMessage) error {
		if err := send(eventID, msg); err != nil {
			return err
		}
		s.metrics.replayedEvents.Inc()
		return nil
	})
}
