package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/keystone-auth/internal/audit"
	"github.com/nerrad567/keystone-auth/internal/auth"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/config"
	"github.com/nerrad567/keystone-auth/internal/infrastructure/logging"
	"github.com/nerrad567/keystone-auth/internal/observability"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the credential store's database handle.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	RateLimit config.RateLimitConfig
	Logger    *logging.Logger
	Auth      *auth.Service
	Store     HealthChecker          // optional: /health reports 503 when it fails
	Audit     audit.Repository       // optional: /auth/audit is unavailable without it
	Metrics   *observability.Metrics // optional: enables request metrics and the metrics listener
	Hub       *Hub                   // optional: injected when the hub is also an event sink
	Version   string
}

// Server is the HTTP API server for Keystone Auth.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	auth       *auth.Service
	store      HealthChecker
	audit      audit.Repository
	metrics    *observability.Metrics
	limiter    *rateLimiter
	proxies    []netip.Prefix
	tickets    *ticketStore
	validate   *validator.Validate
	version    string
	startTime  time.Time
	server     *http.Server
	metricsSrv *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     withWSDefaults(deps.WS),
		logger:    deps.Logger,
		auth:      deps.Auth,
		store:     deps.Store,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		tickets:   newTicketStore(),
		validate:  newValidator(),
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.Hub,
	}

	proxies, err := parseTrustedProxies(deps.Config.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s.proxies = proxies

	if deps.RateLimit.Enabled {
		s.limiter = newRateLimiter(deps.RateLimit.RequestsPerMinute, deps.RateLimit.Burst)
	}

	if s.hub == nil {
		var gauge connGauge
		if s.metrics != nil {
			gauge = s.metrics.WSConnections
		}
		s.hub = NewHub(s.wsCfg, s.logger, gauge)
	}

	return s, nil
}

// withWSDefaults fills unset WebSocket limits so the pumps never run with
// zero intervals.
func withWSDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket and rate limiter sweepers, then
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	if s.limiter != nil {
		go s.limiter.cleanLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", s.cfg.Metrics.Host, s.cfg.Metrics.Port),
			Handler:           s.buildMetricsRouter(),
			ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		}
		go func() {
			s.logger.Info("metrics server starting", "address", s.metricsSrv.Addr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
