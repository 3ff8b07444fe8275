// Package server assembles all components into a complete HTTP server
// for the digestgate content verification gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/digestgate/digestgate/internal/audit"
	"github.com/digestgate/digestgate/internal/config"
	"github.com/digestgate/digestgate/internal/grpcadmin"
	"github.com/digestgate/digestgate/internal/health"
	"github.com/digestgate/digestgate/internal/proxy"
	"github.com/digestgate/digestgate/internal/security"
	"github.com/digestgate/digestgate/internal/upstream"
)

// cacheStarter is implemented by middleware that fetches key material in
// the background (the content signature verifier's JWKS cache).
type cacheStarter interface {
	StartCache(ctx context.Context) error
}

// Server is the main digestgate HTTP server assembling all components.
type Server struct {
	cfg           *config.Config
	mu            sync.Mutex
	httpServer    *http.Server
	grpcServer    *grpcadmin.Server
	listener      net.Listener // if non-nil, Start uses this instead of creating one
	registry      *upstream.Registry
	monitor       *upstream.Monitor
	forwarder     *proxy.Forwarder
	pipeline      []security.Middleware
	healthHandler *health.Handler
	auditor       *audit.Auditor
	metrics       *audit.Metrics
	reloader      *config.Reloader
	reloadStarted bool
	logger        *slog.Logger
	version       string
}

// New creates a Server from configuration. configPath is the file the
// reloader watches; pass "" to disable hot reload regardless of config.
func New(cfg *config.Config, configPath, version string) (*Server, error) {
	logger := buildLogger(cfg)

	metrics := audit.NewMetrics()
	metrics.SetBuildInfo(version, runtime.Version())

	registry := upstream.NewRegistry(cfg.Upstreams)
	monitor := upstream.NewMonitor(registry, metrics, logger)

	pipeline, err := security.BuildPipeline(cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("building security pipeline: %w", err)
	}

	forwarder := proxy.NewForwarder(registry, proxy.NewHTTPTransport(), metrics, logger)

	auditLogger := audit.NewLogger(logger, audit.SamplingConfig{
		Rate:      cfg.Logging.Audit.SamplingRate,
		ErrorRate: cfg.Logging.Audit.ErrorSamplingRate,
		MaxBody:   cfg.Logging.Audit.MaxBodyLogSize,
	})
	auditor := audit.NewAuditor(auditLogger, metrics, cfg.Listen.TrustedProxies)

	healthHandler := health.NewHandler(registry, version,
		cfg.Health.LivenessPath, cfg.Health.ReadinessPath, cfg.Health.ReadinessMode)

	srv := &Server{
		cfg:           cfg,
		registry:      registry,
		monitor:       monitor,
		forwarder:     forwarder,
		pipeline:      pipeline,
		healthHandler: healthHandler,
		auditor:       auditor,
		metrics:       metrics,
		logger:        logger,
		version:       version,
	}

	if cfg.Listen.GRPCPort > 0 {
		srv.grpcServer = grpcadmin.New(healthHandler, 5*time.Second, logger)
		logger.Info("gRPC health server configured", "port", cfg.Listen.GRPCPort)
	}

	if cfg.Reload.Enabled && configPath != "" {
		srv.reloader = config.NewReloader(configPath, cfg, logger)
		srv.reloader.Register(registry)
		srv.reloader.Register(srv)
	}

	return srv, nil
}

// OnConfigReload records reload metrics. Routing changes are applied by the
// upstream registry, which subscribes separately.
func (s *Server) OnConfigReload(newCfg *config.Config) error {
	s.metrics.RecordConfigReload(true)
	s.metrics.SetConfigReloadTime(time.Now())
	return nil
}

// Start begins listening and serving. It blocks until the context is
// canceled or an unrecoverable error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.monitor.Start(ctx)

	for _, mw := range s.pipeline {
		if cs, ok := mw.(cacheStarter); ok {
			if err := cs.StartCache(ctx); err != nil {
				return fmt.Errorf("starting key cache: %w", err)
			}
		}
	}

	if s.reloader != nil {
		if err := s.reloader.Start(ctx); err != nil {
			return fmt.Errorf("starting config reloader: %w", err)
		}
		s.reloadStarted = true
	}

	handler := s.handler()

	listenAddr := fmt.Sprintf("%s:%d", s.cfg.Listen.Host, s.cfg.Listen.Port)

	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", listenAddr, err)
		}

		if s.cfg.Listen.MaxConnections > 0 {
			ln = newLimitedListener(ln, s.cfg.Listen.MaxConnections)
		}
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	if s.grpcServer != nil {
		grpcAddr := fmt.Sprintf("%s:%d", s.cfg.Listen.Host, s.cfg.Listen.GRPCPort)
		grpcLn, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("listening gRPC on %s: %w", grpcAddr, err)
		}
		go func() {
			errCh <- s.grpcServer.Serve(ctx, grpcLn)
		}()
	}

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.Timeout.Duration)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Shutdown performs graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()

	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
	}

	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}

	if s.reloadStarted {
		s.reloader.Stop()
	}

	s.monitor.Stop()
	security.StopAll(s.pipeline)

	return nil
}

// handler builds the complete HTTP handler. Health and metrics endpoints
// bypass the verification pipeline; everything else is verified, audited,
// and forwarded.
func (s *Server) handler() http.Handler {
	verified := security.ApplyPipeline(s.forwarder, s.pipeline)

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Health.LivenessPath, s.healthHandler)
	mux.Handle(s.cfg.Health.ReadinessPath, s.healthHandler)
	mux.HandleFunc("/metrics", s.metrics.Handler())
	mux.Handle("/", s.auditor.Middleware(verified))

	return mux
}

// buildLogger creates an slog.Logger based on configuration.
func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var output *os.File
	switch cfg.Logging.Output {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// ── LimitedListener ──

// limitedListener wraps a net.Listener to limit maximum concurrent connections.
type limitedListener struct {
	net.Listener
	sem chan struct{}
}

// newLimitedListener creates a listener that limits concurrent connections.
func newLimitedListener(l net.Listener, maxConns int) net.Listener {
	return &limitedListener{
		Listener: l,
		sem:      make(chan struct{}, maxConns),
	}
}

// Accept waits for and returns the next connection, blocking if at limit.
func (l *limitedListener) Accept() (net.Conn, error) {
	l.sem <- struct{}{}
	c, err := l.Listener.Accept()
	if err != nil {
		<-l.sem
		return nil, err
	}
	return &limitedConn{Conn: c, sem: l.sem}, nil
}

// limitedConn wraps a net.Conn to release the semaphore slot on close.
type limitedConn struct {
	net.Conn
	sem    chan struct{}
	closed sync.Once
}

// Close releases the connection and frees the semaphore slot.
func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.closed.Do(func() { <-c.sem })
	return err
}
