package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/storm-alert-pipeline/internal/gateway"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Options configures the WebSocket endpoints.
type Options struct {
	// OriginPatterns lists extra browser origins allowed to open a WebSocket.
	// Same-origin requests and non-browser clients are always allowed.
	OriginPatterns []string
	// WriteTimeout bounds one event write; a client slower than this is dropped.
	WriteTimeout time.Duration
}

// Server exposes health, readiness, metrics, and, when a bridge is given, the
// WebSocket feeds.
type Server struct {
	httpServer *http.Server
	bridge     *gateway.Bridge
	opts       Options
	logger     *slog.Logger

	// ctx ends every live WebSocket on Shutdown; hijacked connections are not
	// tracked by http.Server.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and, if
// bridge is non-nil, /ws/weather and /ws/alerts routes.
func NewServer(addr string, ready ReadinessChecker, bridge *gateway.Bridge, opts Options, logger *slog.Logger) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	mux := http.NewServeMux()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
			// No read or write timeout: WebSocket connections are long-lived.
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		bridge: bridge,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if bridge != nil {
		mux.HandleFunc("GET /ws/weather", s.handleWeather)
		mux.HandleFunc("GET /ws/alerts", s.handleAlerts)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown tells every WebSocket client the stream is closing, then drains
// remaining connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
