package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/api/handlers"
	"github.com/BaSui01/agentwire/config"
	"github.com/BaSui01/agentwire/internal/metrics"
	"github.com/BaSui01/agentwire/internal/server"
	"github.com/BaSui01/agentwire/protocol"
	"github.com/BaSui01/agentwire/stream"
)

// Server assembles the protocol runtime and its HTTP surfaces.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	runtime *protocol.Protocol

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler  *handlers.HealthHandler
	agentHandler   *handlers.AgentHandler
	taskHandler    *handlers.TaskHandler
	messageHandler *handlers.MessageHandler
	eventHandler   *handlers.EventHandler
	streamHandler  *stream.Handler

	metricsCollector *metrics.Collector
	hotReloadManager *config.HotReloadManager

	rateLimiterCancel context.CancelFunc
	runtimeCancel     context.CancelFunc
}

// NewServer creates a server from loaded configuration. configPath may
// be empty, which disables hot reload.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Start brings up the runtime, the API server and the metrics server.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("agentwire", s.logger)

	if err := s.initRuntime(); err != nil {
		return fmt.Errorf("failed to init runtime: %w", err)
	}
	s.initHandlers()

	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

func (s *Server) initRuntime() error {
	runtime, err := protocol.New(s.cfg,
		protocol.WithLogger(s.logger),
		protocol.WithMetrics(s.metricsCollector),
	)
	if err != nil {
		return err
	}
	s.runtime = runtime

	ctx, cancel := context.WithCancel(context.Background())
	s.runtimeCancel = cancel
	s.runtime.Start(ctx)
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.agentHandler = handlers.NewAgentHandler(s.runtime, s.logger)
	s.taskHandler = handlers.NewTaskHandler(s.runtime, s.logger)
	s.messageHandler = handlers.NewMessageHandler(s.runtime, s.logger)
	s.eventHandler = handlers.NewEventHandler(s.runtime, s.logger)
	s.streamHandler = stream.NewHandler(s.runtime, stream.Config{
		MaxSessions:  s.cfg.Stream.MaxSessions,
		WriteTimeout: s.cfg.Stream.WriteTimeout,
	}, s.logger)

	// The broadcaster is the one component that can refuse new work
	// after shutdown begins, so readiness tracks it.
	s.healthHandler.RegisterCheck(handlers.NewCheckFunc("broadcaster", func(ctx context.Context) error {
		_, err := s.runtime.EventHistory(s.runtime.LastSequence())
		return err
	}))
}

func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
		)
	})
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("configuration reloaded")
		s.cfg = newConfig
	})

	return s.hotReloadManager.Start(context.Background())
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /v1/agents", s.agentHandler.HandleRegister)
	mux.HandleFunc("GET /v1/agents", s.agentHandler.HandleList)
	mux.HandleFunc("GET /v1/agents/{id}", s.agentHandler.HandleGet)
	mux.HandleFunc("DELETE /v1/agents/{id}", s.agentHandler.HandleDeregister)
	mux.HandleFunc("POST /v1/agents/{id}/touch", s.agentHandler.HandleTouch)

	mux.HandleFunc("POST /v1/tasks", s.taskHandler.HandleCreate)
	mux.HandleFunc("GET /v1/tasks", s.taskHandler.HandleList)
	mux.HandleFunc("GET /v1/tasks/{id}", s.taskHandler.HandleGet)
	mux.HandleFunc("POST /v1/tasks/{id}/claim", s.taskHandler.HandleClaim)
	mux.HandleFunc("POST /v1/tasks/{id}/complete", s.taskHandler.HandleComplete)
	mux.HandleFunc("POST /v1/tasks/{id}/fail", s.taskHandler.HandleFail)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.taskHandler.HandleCancel)

	mux.HandleFunc("POST /v1/messages", s.messageHandler.HandleSend)

	mux.HandleFunc("GET /v1/events", s.eventHandler.HandleHistory)
	mux.HandleFunc("GET /v1/stats", s.eventHandler.HandleStats)

	mux.Handle("GET /ws", s.streamHandler)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal, then shuts
// everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the servers and the runtime in dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("hot reload manager shutdown error", zap.Error(err))
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.runtimeCancel != nil {
		s.runtimeCancel()
	}
	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil {
			s.logger.Error("runtime shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
