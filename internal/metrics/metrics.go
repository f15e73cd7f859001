// Package metrics provides Prometheus instrumentation for the challenge engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by side and wallet mode.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brvm_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side", "wallet"})

	// TradeRejections counts trades refused by the processor, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brvm_trade_rejections_total",
		Help: "Trades rejected by the processor",
	}, []string{"reason"})

	// RankingsComputed counts full leaderboard recomputations.
	RankingsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brvm_rankings_computed_total",
		Help: "Full leaderboard recomputations",
	})

	// RankingDuration tracks how long a full ranking pass takes.
	RankingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "brvm_ranking_duration_seconds",
		Help:    "Leaderboard recomputation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RankingParticipants tracks the size of the ranked universe.
	RankingParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brvm_ranking_participants",
		Help: "Participants in the last computed leaderboard",
	})

	// PartialValuations counts snapshots that fell back to cost for at
	// least one ticker.
	PartialValuations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brvm_partial_valuations_total",
		Help: "Valuations computed with one or more missing prices",
	})

	// CacheHits counts leaderboard cache hits by view (top/myrank).
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brvm_leaderboard_cache_hits_total",
		Help: "Leaderboard cache hits",
	}, []string{"view"})

	// CacheMisses counts leaderboard cache misses by view.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brvm_leaderboard_cache_misses_total",
		Help: "Leaderboard cache misses",
	}, []string{"view"})

	// CacheErrors counts cache backend failures that were bypassed.
	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brvm_leaderboard_cache_errors_total",
		Help: "Cache backend errors silently degraded to compute",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brvm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brvm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brvm_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
