// Package metrics provides Prometheus instrumentation for the pool engine.
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
	// OrdersPlaced counts orders accepted into the pending set, by kind.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_orders_placed_total",
		Help: "Total number of orders placed",
	}, []string{"kind"})

	// OrdersFilled counts successful broker fills, by kind.
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_orders_filled_total",
		Help: "Total number of orders filled",
	}, []string{"kind"})

	// OrdersCancelled counts cancellations, split by whether the order had expired.
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	}, []string{"kind", "expired"})

	// FillRejections counts broker fills rejected with the order left pending.
	FillRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_fill_rejections_total",
		Help: "Broker fills rejected by validation or safety checks",
	}, []string{"kind", "reason"})

	// FillLatency tracks the time an engine call spends holding the engine lock.
	FillLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_fill_latency_seconds",
		Help:    "Order fill execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// PendingOrders tracks the size of the pending order set.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_pending_orders",
		Help: "Number of orders currently pending",
	})

	// Liquidations counts liquidated positions by exposure asset symbol.
	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_liquidations_total",
		Help: "Total number of positions liquidated",
	}, []string{"asset"})

	// DebtIssued counts payouts that minted debt tokens, by asset symbol.
	DebtIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_debt_issuances_total",
		Help: "Payouts partially settled in debt tokens",
	}, []string{"asset"})

	// PersistFailures counts committed changes the store failed to record.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_persist_failures_total",
		Help: "Committed engine changes that failed to persist",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps sub-account ids and order ids out of the labels.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
