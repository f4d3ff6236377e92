// Package http mounts compiled configuration route tables on a chi router
// with request logging, panic recovery, metrics and health endpoints.
package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/choices/adapters/metrics"
	"github.com/artpar/choices/core/route"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// VersionResponse is the body of the version endpoint.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics *metrics.Collector

	// MetricsHandler overrides the /metrics exporter. Defaults to the
	// collector's own registry.
	MetricsHandler http.Handler

	// MetricsPath is where the exporter is mounted. Defaults to /metrics.
	MetricsPath string

	// Timeout bounds each request. Zero disables it.
	Timeout time.Duration

	// Version is reported by /version. Empty disables the endpoint.
	Version string
}

// Liveness returns a simple liveness check.
func Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// NewRouter creates a router serving the given tables.
func NewRouter(logger zerolog.Logger, tables ...*route.Table) chi.Router {
	return NewRouterWithConfig(logger, RouterConfig{}, tables...)
}

// NewRouterWithConfig creates a router serving the given tables with
// optional config.
func NewRouterWithConfig(logger zerolog.Logger, cfg RouterConfig, tables ...*route.Table) chi.Router {
	r := chi.NewRouter()

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	internal := func(path string) bool {
		return strings.HasPrefix(path, "/health") || path == metricsPath
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newLoggingMiddleware(logger, internal))
	r.Use(middleware.Recoverer)
	if cfg.Timeout > 0 {
		r.Use(middleware.Timeout(cfg.Timeout))
	}

	// Metrics middleware (if enabled)
	if cfg.Metrics != nil {
		r.Use(newMetricsMiddleware(cfg.Metrics, knownPaths(tables), internal))
	}

	r.Get("/health", Liveness)

	if cfg.MetricsHandler != nil {
		r.Handle(metricsPath, cfg.MetricsHandler)
	} else if cfg.Metrics != nil {
		r.Handle(metricsPath, cfg.Metrics.Handler())
	}

	if cfg.Version != "" {
		version := cfg.Version
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(VersionResponse{Version: version, Service: "choices"})
		})
	}

	for _, t := range tables {
		logger.Debug().
			Str("path", t.Schema.RootPath()).
			Int("routes", len(t.Routes)).
			Str("serialization", t.Schema.Attrs.Serialization.String()).
			Str("lock", t.Schema.Attrs.Lock.String()).
			Msg("mounting configuration routes")
		t.Register(r)
	}

	return r
}

// knownPaths reports whether a path belongs to one of the tables, keeping
// metric label cardinality bounded.
func knownPaths(tables []*route.Table) func(string) bool {
	paths := make(map[string]bool)
	for _, t := range tables {
		paths[t.Schema.RootPath()] = true
		for _, b := range t.Bindings() {
			paths[b.Path] = true
		}
	}
	return func(p string) bool { return paths[p] }
}

func newMetricsMiddleware(m *metrics.Collector, known, internal func(string) bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics for internal endpoints
			if internal(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start).Seconds()
			status := statusLabel(ww.Status())
			path := metrics.NormalizePath(r.URL.Path, known)

			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		})
	}
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

func newLoggingMiddleware(logger zerolog.Logger, internal func(string) bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if internal(r.URL.Path) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
