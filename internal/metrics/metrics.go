// Package metrics provides Prometheus instrumentation for the wager engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts engine transitions by operation and result
	// (ok or the domain error code).
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_transitions_total",
		Help: "Total game transitions attempted",
	}, []string{"op", "result"})

	// TransitionLatency tracks end-to-end transition latency including
	// lock waits.
	TransitionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_transition_latency_seconds",
		Help:    "Transition latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// TransitionReplans counts transactions re-planned after the account
	// set changed under them.
	TransitionReplans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_transition_replans_total",
		Help: "Transactions re-planned after touching an undeclared account",
	}, []string{"op"})

	// GamesTotal counts lifecycle milestones per game type.
	GamesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_games_total",
		Help: "Games created, settled, or cancelled",
	}, []string{"type", "event"})

	// GamesByState is refreshed by the keeper on every sweep.
	GamesByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wager_games",
		Help: "Number of games per lifecycle state",
	}, []string{"state"})

	// SettledVolume tracks cumulative pooled stake settled, in base units.
	SettledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_settled_volume_total",
		Help: "Cumulative settled pool in base units",
	}, []string{"type"})

	// FeesAccrued and FeesClaimed track house fee flow in base units.
	FeesAccrued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_fees_accrued_total",
		Help: "House fees accrued in base units",
	})
	FeesClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_fees_claimed_total",
		Help: "House fees claimed in base units",
	})

	// FulfillLatency is the time from randomness request to fulfillment.
	FulfillLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wager_randomness_fulfill_seconds",
		Help:    "Time from randomness request to fulfillment",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// ExposureRejections counts stakes rejected by the exposure limiter.
	ExposureRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_exposure_rejections_total",
		Help: "Stakes rejected by the in-play exposure limit",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition records one engine transition.
func ObserveTransition(op string, start time.Time, result string) {
	TransitionsTotal.WithLabelValues(op, result).Inc()
	TransitionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern so game ids do not explode cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
