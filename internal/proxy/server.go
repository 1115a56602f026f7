// Package proxy wires the admission engine into a gorilla/mux-routed HTTP
// server: health/info endpoints, the live dashboard WebSocket feed (/ws),
// an optional Prometheus scrape endpoint, and a reverse proxy to the single
// upstream this instance admission-controls.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/config"
	"github.com/brinkwatch/admission-guard/internal/logger"
	"github.com/brinkwatch/admission-guard/internal/metrics"
	"github.com/brinkwatch/admission-guard/internal/middleware"
	"github.com/brinkwatch/admission-guard/internal/ratelimit"
	"github.com/brinkwatch/admission-guard/internal/websocket"
)

// Server is the admission-controlled HTTP front door: everything that
// clears RequestLogging/RateLimit/Instrumentation/SecurityContext is reverse-proxied
// to a single configured upstream.
type Server struct {
	cfg        *config.Config
	logger     *logger.Logger
	router     *mux.Router
	httpServer *http.Server
	hub        *websocket.Hub
}

// New assembles the router and HTTP server around an already-constructed
// AdmissionEngine/PostResponseAdjuster pair. engine and adjuster must share
// the same BucketRegistry and RateConfig; New does not verify this.
func New(
	cfg *config.Config,
	log *logger.Logger,
	engine *ratelimit.AdmissionEngine,
	adjuster *ratelimit.PostResponseAdjuster,
	registry *ratelimit.BucketRegistry,
	rateCfg ratelimit.RateConfig,
	m *metrics.Metrics,
	hub *websocket.Hub,
) (*Server, error) {
	target, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid upstream.url: %w", err)
	}

	router := mux.NewRouter()
	s := &Server{cfg: cfg, logger: log.WithComponent("proxy"), router: router, hub: hub}

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	router.HandleFunc("/ws", hub.HandleWebSocket)

	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, m.Handler(cfg.Metrics.ScrapeRateLimitPerSecond)).Methods(http.MethodGet)
	}

	scResolver, err := config.BuildIPResolver(cfg.IPResolver)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid ip_resolver config: %w", err)
	}
	scCfg := ratelimit.DefaultSecurityContextConfig().WithResolver(scResolver)

	upstream := newUpstreamHandler(target, cfg.Upstream.Timeout, log)
	admitted := middleware.SecurityContext(scCfg, adjuster)(upstream)
	instrumented := Instrumentation(m, hub, rateCfg)(admitted)
	rateLimited := middleware.RateLimit(engine)(instrumented)
	chain := middleware.RequestLogging(log)(rateLimited)

	router.PathPrefix("/").Handler(chain)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		ticker := time.NewTicker(metrics.PollInterval())
		defer ticker.Stop()
		for range ticker.C {
			m.TrackedBuckets.Set(float64(registry.Len()))
			m.DashboardClients.Set(float64(hub.ActiveClients()))
		}
	}()

	return s, nil
}

// Start runs the HTTP server and the dashboard hub's event loop; it blocks
// until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting admission-guard server",
		zap.Int("port", s.cfg.Server.Port),
		zap.String("upstream", s.cfg.Upstream.URL),
	)
	go s.hub.Run()
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping admission-guard server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().Format(time.RFC3339))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"name":"admission-guard","version":"0.1.0","requests_per_minute":%d,"upstream":%q}`,
		s.cfg.RateLimit.RequestsPerMinute, s.cfg.Upstream.URL)
}
