package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/lobbyshell/internal/api/http"
	"github.com/GriffinCanCode/lobbyshell/internal/api/middleware"
	"github.com/GriffinCanCode/lobbyshell/internal/api/ws"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/autoplay"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/controller"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/instance"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/session"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/cdp"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/control"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/viewport"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

// Version is reported by /health.
const Version = "1.0.0"

// Option customises server construction.
type Option func(*options)

type options struct {
	factory browser.Factory
	logger  *logging.Logger
}

// WithFactory hosts instances on factory instead of launching Chrome.
func WithFactory(f browser.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Server wraps the HTTP server and dependencies
type Server struct {
	config      *config.Config
	logger      *logging.Logger
	metrics     *monitoring.Metrics
	tracer      *tracing.Tracer
	sched       *scheduler.Loop
	browser     *cdp.Browser
	coord       *instance.Coordinator
	controllers *controller.Registry
	hub         *ws.Hub
	router      *gin.Engine
	httpServer  *http.Server
	stop        context.CancelFunc
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
	}

	logger.Info("Initializing lobby shell",
		zap.String("port", cfg.Server.Port),
		zap.String("target_url", cfg.Browser.TargetURL),
		zap.Int("max_instances", cfg.Instances.Max),
		zap.Bool("control_enabled", cfg.Control.Enabled),
	)

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		tracer:  tracing.New("lobbyshell", logger.Component("trace")),
		sched:   scheduler.NewLoop(logger.Component("scheduler")),
		stop:    stop,
	}

	factory := o.factory
	if factory == nil {
		b, err := cdp.Launch(ctx, cdp.Config{
			ExecPath:     cfg.Browser.ExecPath,
			Headless:     cfg.Browser.Headless,
			UserAgent:    cfg.Browser.UserAgent,
			WindowWidth:  cfg.Viewport.Width,
			WindowHeight: cfg.Viewport.Height,
		}, logger.Component("browser"))
		if err != nil {
			s.release()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		s.browser = b
		factory = b
		logger.Info("Browser launched", zap.Bool("headless", cfg.Browser.Headless))
	}

	policy, err := loadPolicy(cfg.Automation, logger)
	if err != nil {
		s.release()
		return nil, err
	}

	var (
		controlClient apihttp.ControlServer
		assigner      instance.Assigner
	)
	if cfg.Control.Enabled {
		client := control.New(cfg.Control, s.metrics, logger.Component("control"))
		s.controllers = controller.New(controller.Config{
			Client:    client,
			Scheduler: s.sched,
			Interval:  cfg.Control.StatusInterval,
			Timeout:   cfg.Control.Timeout,
			Logger:    logger.Component("controllers"),
		})
		s.controllers.Start(ctx)
		controlClient = client
		assigner = s.controllers
		logger.Info("Control server integration enabled", zap.String("url", cfg.Control.URL))
	}

	s.hub = ws.NewHub(s.metrics, logger.Logger)
	s.coord = instance.NewCoordinator(instance.Config{
		Factory:          factory,
		Scheduler:        s.sched,
		Isolator:         session.NewIsolator(session.NewMemorySubstrate(), logger.Component("session")),
		Spoofer:          viewport.New(cfg.Viewport.Width, cfg.Viewport.Height, logger.Component("viewport")),
		Policy:           policy,
		Assigner:         assigner,
		Events:           s.hub,
		Metrics:          s.metrics,
		Logger:           logger.Component("instances"),
		TargetURL:        cfg.Browser.TargetURL,
		Max:              cfg.Instances.Max,
		SpoofSettleDelay: cfg.Instances.SpoofSettleDelay,
		AutoPlayDelay:    cfg.Instances.AutoPlayDelay,
		MountTimeout:     cfg.Instances.MountTimeout,
		AssignTimeout:    cfg.Control.Timeout,
	})

	s.router = s.newRouter(controlClient)
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

func loadPolicy(auto config.AutomationConfig, logger *logging.Logger) (autoplay.Policy, error) {
	var profile *config.Profile
	if auto.ProfilePath != "" {
		p, err := config.LoadProfile(auto.ProfilePath)
		if err != nil {
			return autoplay.Policy{}, err
		}
		p.Apply(&auto)
		profile = p
		logger.Info("Automation profile loaded", zap.String("path", auto.ProfilePath))
	}
	policy, err := autoplay.NewPolicy(auto, profile)
	if err != nil {
		return autoplay.Policy{}, fmt.Errorf("invalid automation policy: %w", err)
	}
	return policy, nil
}

func (s *Server) newRouter(controlClient apihttp.ControlServer) *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.RequestLogger(s.logger.Logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		rl.Burst = s.config.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(apihttp.Config{
		Coordinator: s.coord,
		Controllers: s.controllers,
		Control:     controlClient,
		Metrics:     s.metrics,
		Logger:      s.logger.Component("api"),
		Version:     Version,
	})
	handlers.Register(router)

	router.GET("/stream", s.hub.HandleConnection)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	return router
}

// Router exposes the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// Coordinator exposes the instance coordinator.
func (s *Server) Coordinator() *instance.Coordinator { return s.coord }

// Run serves HTTP until Shutdown.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, destroys every instance and releases
// the browser.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.hub.Close()

	closed := s.coord.Shutdown()
	s.logger.Info("Instances closed", zap.Int("count", closed))

	s.release()
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("browser close: %w", err))
		}
	}

	s.logger.Close()
	return errors.Join(errs...)
}

// release stops background work shared by every component.
func (s *Server) release() {
	if s.controllers != nil {
		s.controllers.Stop()
	}
	s.stop()
	s.sched.Close()
	s.tracer.Close()
}
