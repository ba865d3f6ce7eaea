package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/controller"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/instance"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/control"
)

// ControlServer is the part of the control client the settings and status
// routes use.
type ControlServer interface {
	Status(ctx context.Context) (*control.ServerStatus, error)
	BreakerState() resilience.State
	GamepadConfig(ctx context.Context) (control.GamepadConfig, error)
	SaveGamepadConfig(ctx context.Context, cfg control.GamepadConfig) (*control.Result, error)
	ResetGamepadConfig(ctx context.Context) (*control.Result, error)
	DefaultGamepadConfig(ctx context.Context) (control.GamepadConfig, error)
	Settings(ctx context.Context) (control.GamepadConfig, error)
	UpdateSetting(ctx context.Context, section, key string, value any) (*control.Result, error)
}

// Config wires Handlers. Controllers and Control are nil when the control
// server integration is disabled.
type Config struct {
	Coordinator *instance.Coordinator
	Controllers *controller.Registry
	Control     ControlServer
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
	Version     string
	// StatusTimeout bounds the control server call behind /status.
	StatusTimeout time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	coord         *instance.Coordinator
	controllers   *controller.Registry
	control       ControlServer
	metrics       *monitoring.Metrics
	logger        *zap.Logger
	version       string
	statusTimeout time.Duration
	started       time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(cfg Config) *Handlers {
	if cfg.Metrics == nil {
		cfg.Metrics = monitoring.NewMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 2 * time.Second
	}
	return &Handlers{
		coord:         cfg.Coordinator,
		controllers:   cfg.Controllers,
		control:       cfg.Control,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		version:       cfg.Version,
		statusTimeout: cfg.StatusTimeout,
		started:       time.Now(),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	instances := r.Group("/instances")
	instances.GET("", h.ListInstances)
	instances.POST("", h.OpenInstances)
	instances.DELETE("", h.CloseAllInstances)
	instances.POST("/refresh", h.RefreshAllInstances)
	instances.GET("/:id", h.GetInstance)
	instances.DELETE("/:id", h.CloseInstance)
	instances.POST("/:id/refresh", h.RefreshInstance)
	instances.POST("/:id/autoplay", h.TriggerAutoPlay)
	instances.GET("/:id/gamepad", h.GetGamepad)
	instances.POST("/:id/gamepad", h.UpdateGamepad)
	instances.POST("/:id/gamepad/test", h.ExerciseGamepad)
	instances.GET("/:id/storage", h.GetStorage)
	instances.DELETE("/:id/storage", h.WipeStorage)

	controllers := r.Group("/controllers")
	controllers.GET("", h.ListControllers)
	controllers.POST("/movement", h.ToggleMovement)
	controllers.POST("/anti-afk", h.ToggleAntiAFK)
	controllers.POST("/select-class", h.SelectClass)
	controllers.POST("/:id/movement", h.SetMovement)
	controllers.POST("/:id/anti-afk", h.SetAntiAFK)

	settings := r.Group("/settings")
	settings.GET("/gamepad", h.GetGamepadConfig)
	settings.POST("/gamepad", h.SaveGamepadConfig)
	settings.POST("/gamepad/reset", h.ResetGamepadConfig)
	settings.GET("/gamepad/default", h.DefaultGamepadConfig)
	settings.GET("/controller", h.GetControllerSettings)
	settings.POST("/controller", h.UpdateControllerSetting)
}
