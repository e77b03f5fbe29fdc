// ABOUTME: Server orchestrator wiring store, cache, dispatcher, lifecycle and transports
// ABOUTME: Runs the HTTP and optional gRPC health listeners and coordinates graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/mcp-foundation/internal/auth"
	"github.com/2389/mcp-foundation/internal/builtins"
	"github.com/2389/mcp-foundation/internal/cache"
	"github.com/2389/mcp-foundation/internal/config"
	"github.com/2389/mcp-foundation/internal/health"
	"github.com/2389/mcp-foundation/internal/mcp"
	"github.com/2389/mcp-foundation/internal/store"
	"github.com/2389/mcp-foundation/internal/watch"
)

// storeOpenTimeout bounds the initial database connection.
const storeOpenTimeout = 10 * time.Second

// Server owns every long-lived component of a running MCP server.
type Server struct {
	config *config.Config
	logger *slog.Logger

	store       *store.Store
	cache       cache.Cache
	registry    *mcp.Registry
	dispatcher  *mcp.Dispatcher
	broadcaster *mcp.Broadcaster
	mcpServer   *mcp.Server
	lifecycle   *health.Manager
	httpServer  *http.Server

	// grpcServer serves grpc.health.v1 when grpc_health_port is set
	grpcServer *grpc.Server
	grpcHealth *grpchealth.Server

	// watcher announces storage changes in development
	watcher     *watch.Watcher
	watchCancel context.CancelFunc

	listenOnce sync.Once
	listening  chan struct{}
	httpAddr   net.Addr
	grpcAddr   net.Addr
}

// New builds a Server from a private copy of cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Clone()

	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()
	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	c, err := cache.New(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	s := &Server{
		config:    cfg,
		logger:    logger.With("component", "server"),
		store:     st,
		cache:     c,
		listening: make(chan struct{}),
	}

	if err := s.init(logger); err != nil {
		_ = c.Close()
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(logger *slog.Logger) error {
	cfg := s.config

	s.lifecycle = health.NewManager(health.Options{
		DeploymentMode: string(cfg.DeploymentMode),
		Version:        config.Version,
		StartupGrace:   cfg.Lifecycle.StartupGrace,
		CleanupWindow:  cfg.Lifecycle.ShutdownTimeout,
		Checks: []health.Checker{
			health.CheckFunc("database", s.store.Ping),
			health.CheckFunc("cache", s.cache.Ping),
		},
		StubChecks: cfg.IsDevelopment(),
		Logger:     logger,
	})

	s.registry = mcp.NewRegistry()
	if err := builtins.Register(s.registry, builtins.Deps{Config: cfg, Health: s.lifecycle}); err != nil {
		return err
	}

	dispatcher, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Registry:       s.registry,
		ServerName:     cfg.Server.Name,
		Version:        config.Version,
		RequestTimeout: cfg.Performance.RequestTimeout,
		MaxConcurrent:  cfg.Performance.MaxConnections,
		Admitter:       s.lifecycle,
		Cache:          s.cache,
		CacheTTL:       cfg.Performance.CacheTTL,
		Recorder:       s.store,
		Logger:         logger.With("component", "dispatcher"),
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	s.dispatcher = dispatcher
	s.broadcaster = mcp.NewBroadcaster(logger)

	var middleware func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		middleware = auth.Middleware(auth.Options{
			HeaderName: cfg.Auth.APIKeyHeader,
			SecretKey:  cfg.Auth.SecretKey,
			Verifier:   auth.NewJWTVerifier([]byte(cfg.Auth.SecretKey), cfg.Server.Name),
			Logger:     logger,
		})
	}

	s.mcpServer, err = mcp.NewServer(mcp.Config{
		Dispatcher:  dispatcher,
		Broadcaster: s.broadcaster,
		Logger:      logger.With("component", "mcp"),
		Middleware:  middleware,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()
	// Health endpoints - no auth required
	s.lifecycle.RegisterRoutes(mux)
	s.mcpServer.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCHealthPort > 0 {
		s.initGRPCHealth()
	}

	if cfg.IsDevelopment() && cfg.UseFileWatcher && cfg.Storage.Backend == config.StorageLocal {
		s.watcher, err = watch.New(watch.Options{
			Path:     cfg.Storage.Path,
			Notifier: s.broadcaster,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("creating file watcher: %w", err)
		}
	}

	s.lifecycle.OnCleanup(s.closeComponents)
	return nil
}

// initGRPCHealth mirrors the lifecycle state into the gRPC health service,
// both for the overall server ("") and for the configured server name.
func (s *Server) initGRPCHealth() {
	s.grpcServer = grpc.NewServer()
	s.grpcHealth = grpchealth.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)

	services := []string{"", s.config.Server.Name}
	setAll := func(status healthpb.HealthCheckResponse_ServingStatus) {
		for _, svc := range services {
			s.grpcHealth.SetServingStatus(svc, status)
		}
	}
	setAll(healthpb.HealthCheckResponse_NOT_SERVING)

	s.lifecycle.OnTransition(func(_, to health.State) {
		switch to {
		case health.StateReady:
			setAll(healthpb.HealthCheckResponse_SERVING)
		case health.StateShuttingDown:
			setAll(healthpb.HealthCheckResponse_NOT_SERVING)
		case health.StateStopped:
			s.grpcHealth.Shutdown()
		}
	})
}

// Lifecycle returns the lifecycle manager, e.g. to watch signals.
func (s *Server) Lifecycle() *health.Manager {
	return s.lifecycle
}

// Listening is closed once Run has bound its listeners.
func (s *Server) Listening() <-chan struct{} {
	return s.listening
}

// HTTPAddr returns the bound HTTP address. Valid after Listening is closed.
func (s *Server) HTTPAddr() net.Addr {
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC health address, or nil when disabled.
func (s *Server) GRPCAddr() net.Addr {
	return s.grpcAddr
}

// setupListeners binds the HTTP listener and, when enabled, the gRPC one.
func (s *Server) setupListeners() (httpLn, grpcLn net.Listener, err error) {
	httpLn, err = net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.grpcServer != nil {
		addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.GRPCHealthPort))
		grpcLn, err = net.Listen("tcp", addr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC health address: %w", err)
		}
	}

	return httpLn, grpcLn, nil
}

// startServers starts the listeners' servers in goroutines, returning an error channel.
func (s *Server) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 3)

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	if s.watcher != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.watchCancel = cancel
		go func() {
			if err := s.watcher.Run(ctx); err != nil {
				errCh <- fmt.Errorf("file watcher: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for a shutdown request, context cancellation
// or server error. Every path leaves the lifecycle in ShuttingDown.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-s.lifecycle.ShutdownRequested():
		s.logger.Info("shutdown requested, initiating shutdown")
		return nil
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		s.lifecycle.BeginShutdown("context canceled")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		s.lifecycle.BeginShutdown("server error")
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts serving and blocks until shutdown completes. It returns nil
// after a requested shutdown (signal or context cancellation), or the server
// error that forced it.
func (s *Server) Run(ctx context.Context) error {
	httpLn, grpcLn, err := s.setupListeners()
	if err != nil {
		s.lifecycle.BeginShutdown("listen failed")
		return errors.Join(err, s.gracefulShutdown())
	}
	s.httpAddr = httpLn.Addr()
	if grpcLn != nil {
		s.grpcAddr = grpcLn.Addr()
	}
	s.listenOnce.Do(func() { close(s.listening) })

	errCh := s.startServers(httpLn, grpcLn)
	s.lifecycle.Start(ctx)

	serverErr := s.waitForShutdownSignal(ctx, errCh)
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context, since the
// caller's may already be canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Lifecycle.ShutdownTimeout+5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops accepting work, waits for in-flight requests within the
// cleanup window, then releases every component. Safe to call repeatedly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.lifecycle.BeginShutdown("shutdown")

	// End event streams first so HTTP shutdown is not held open by them.
	s.broadcaster.Close()

	return s.lifecycle.Drain(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents runs as the lifecycle cleanup hook.
func (s *Server) closeComponents(ctx context.Context) error {
	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.grpcServer != nil {
		s.shutdownGRPCServer(ctx)
	}
	if s.watcher != nil {
		if s.watchCancel != nil {
			s.watchCancel()
		}
		errs = appendCloseError(errs, "watcher close", s.watcher.Close())
	}
	errs = appendCloseError(errs, "cache close", s.cache.Close())
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
