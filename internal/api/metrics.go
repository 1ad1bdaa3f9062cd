package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute labels requests that no route pattern matched.
const unmatchedRoute = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procscript_http_requests_total",
			Help: "HTTP requests served, by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procscript_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds. Line streams are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	lineStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "procscript_http_line_streams_active",
		Help: "Open server-sent event streams of run lines.",
	})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, lineStreamsActive)
}

// metricsMiddleware counts requests by chi route pattern so that run IDs do
// not become label values. SSE streams stay open for the life of a run and
// would skew the latency histogram, so only their count is recorded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if ww.Header().Get("Content-Type") != "text/event-stream" {
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatchedRoute
}

// trackLineStream marks one SSE stream open and returns the func that marks
// it closed.
func trackLineStream() func() {
	lineStreamsActive.Inc()
	return lineStreamsActive.Dec
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
