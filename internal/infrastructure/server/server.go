package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/GriffinCanCode/webterm/internal/api/http"
	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/api/ws"
	"github.com/GriffinCanCode/webterm/internal/domain/connection"
	"github.com/GriffinCanCode/webterm/internal/domain/session"
	"github.com/GriffinCanCode/webterm/internal/domain/workspace"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webterm/internal/providers/jsruntime"
	"github.com/GriffinCanCode/webterm/internal/providers/process"
	"github.com/GriffinCanCode/webterm/internal/terminal"
	"github.com/GriffinCanCode/webterm/internal/vfs"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	store      *vfs.Store
	sessions   *session.Manager
	workspaces *workspace.Manager
	runner     *process.Runner
	hub        *connection.Hub
	sweeper    *session.Sweeper
	tracer     *tracing.Tracer
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// New creates a new server instance. Everything opened here is released by
// Close, including on a failed construction.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *Server, err error) {
	if logger == nil {
		logger = logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing webterm server",
		zap.String("port", cfg.Server.Port),
		zap.String("vfs_driver", cfg.Store.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("auth_required", cfg.Auth.Required),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("webterm", logger.Logger)

	s := &Server{logger: logger, config: cfg, metrics: metrics, tracer: tracer}
	defer func() {
		if err != nil {
			s.release(context.Background())
		}
	}()

	s.store, err = vfs.Open(ctx, cfg.Store, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open virtual filesystem: %w", err)
	}

	// Session snapshots go to Redis when enabled; an unreachable Redis at
	// startup falls back to memory rather than refusing to serve.
	var repo session.Repository
	if cfg.Redis.Enabled {
		redisRepo, rerr := session.NewRedisRepository(ctx, cfg.Redis)
		if rerr != nil {
			logger.Warn("Redis unavailable, session snapshots kept in memory", zap.Error(rerr))
		} else {
			repo = redisRepo
			logger.Info("Session snapshots stored in Redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	s.sessions = session.NewManager(session.Options{
		Repository:  repo,
		HistorySize: cfg.Terminal.HistorySize,
		IdleTimeout: cfg.Session.IdleTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})

	s.workspaces = workspace.NewManager(s.store, workspace.Options{
		Root:         cfg.Terminal.WorkspaceRoot,
		MaxSyncBytes: int64(cfg.Terminal.MaxOutputBytes),
		Logger:       logger,
		Metrics:      metrics,
	})

	s.runner = process.NewRunner(process.Options{
		MaxOutputBytes: cfg.Terminal.MaxOutputBytes,
		BaseEnv:        []string{"PATH=" + os.Getenv("PATH"), "HOME=" + os.Getenv("HOME"), "LANG=C.UTF-8"},
		Logger:         logger,
		Metrics:        metrics,
	})

	s.hub = connection.NewHub(connection.Options{
		Sessions:     s.sessions,
		PendingLimit: cfg.Connection.PendingLimit,
		Logger:       logger,
		Metrics:      metrics,
	})

	router := terminal.NewRouter(terminal.Options{
		Sessions:  s.sessions,
		Store:     s.store,
		Workspace: s.workspaces,
		Runner:    s.runner,
		JS: jsruntime.New(jsruntime.Config{
			Timeout:        cfg.Terminal.JavaScriptTimeout,
			MaxOutputBytes: cfg.Terminal.MaxOutputBytes,
		}),
		Validator:      terminal.NewValidator(cfg.Terminal.AllowedExecRoots),
		Notifier:       s.hub,
		PythonBin:      cfg.Terminal.PythonBin,
		DefaultTimeout: cfg.Terminal.CommandTimeout,
		SyncBack:       cfg.Terminal.SyncBack,
		PipSelfUpgrade: cfg.Terminal.PipSelfUpgrade,
		Logger:         logger,
		Metrics:        metrics,
	})

	// A terminated session loses its sockets and temp workspace
	s.sessions.OnTerminate(func(_ context.Context, sessionID string) {
		s.hub.CloseSession(sessionID)
		if err := s.workspaces.Cleanup(sessionID); err != nil {
			logger.Warn("Workspace cleanup failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	})

	s.sweeper, err = session.NewSweeper(s.sessions, cfg.Session.SweepSchedule, logger)
	if err != nil {
		return nil, err
	}

	files := workspace.NewService(s.store, s.workspaces)
	s.engine = s.routes(router, files)

	s.httpServer = &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: s.engine,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) routes(router *terminal.Router, files *workspace.Service) *gin.Engine {
	cfg := s.config
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// Add middleware
	engine.Use(gin.Recovery())
	engine.Use(tracing.HTTPMiddleware(s.tracer))
	engine.Use(monitoring.Middleware(s.metrics))
	engine.Use(middleware.CORS(middleware.CORSFromConfig(cfg.Server)))
	if cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
			zap.Int("command_rps", cfg.RateLimit.CommandsPerSecond),
		)
		engine.Use(middleware.RateLimit(middleware.RateLimitFromConfig(cfg.RateLimit)))
	}
	engine.Use(middleware.Auth(middleware.NewAuthenticator(cfg.Auth)))

	handlers := httpapi.NewHandlers(router, files, s.hub, s.logger)
	wsHandler := ws.NewHandler(router, files, s.hub, ws.Config{
		MaxMessageBytes: cfg.Connection.MaxMessageBytes,
		RateLimit:       cfg.RateLimit,
		Tracer:          s.tracer,
	}, s.logger, s.metrics)

	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// WebSocket
	engine.GET("/ws/terminal", wsHandler.Terminal)
	engine.GET("/ws/terminal/:session_id", wsHandler.Terminal)
	engine.GET("/ws/files/:session_id", wsHandler.Files)

	api := engine.Group("/api")
	api.POST("/logs", handlers.StreamLogs)
	api.GET("/sessions", handlers.ListSessions)
	api.GET("/sessions/:session_id", handlers.GetSession)
	api.DELETE("/sessions/:session_id", handlers.DeleteSession)
	api.GET("/sessions/:session_id/files", handlers.ListFiles)
	api.GET("/sessions/:session_id/history", handlers.History)
	api.POST("/sessions/:session_id/execute", handlers.Execute)

	return engine
}

// Handler exposes the routed engine
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.sweeper.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		return s.Close(shutdownCtx)
	})
	return g.Wait()
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.release(ctx); err != nil {
		errs = append(errs, err)
	}

	// Sync logger before exit
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// release stops background work and closes storage in dependency order
func (s *Server) release(ctx context.Context) error {
	var errs []error
	if s.sweeper != nil {
		s.sweeper.Stop(ctx)
	}
	if s.sessions != nil {
		if err := s.sessions.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	if s.runner != nil {
		if n := s.runner.InterruptAll(); n > 0 {
			s.logger.Info("Interrupted running commands", zap.Int("count", n))
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.workspaces != nil {
		s.workspaces.CleanupAll()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	s.tracer.Close()
	return errors.Join(errs...)
}
