package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/tracing"
)

// HeaderRequestID carries the per-call identifier. Retries of one call
// reuse it so the control server can drop duplicates.
const HeaderRequestID = "X-Request-ID"

// Client calls the control server.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// New creates a client for cfg.URL. metrics and logger may be nil.
func New(cfg config.ControlConfig, metrics *monitoring.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	// keep the last answer so its error envelope can still be decoded
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "lobbyshell/1.0")

	breaker := resilience.New("control-server", resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.Rejected())
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Control server breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	return &Client{
		resty:   restyClient,
		limiter: limiter,
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
	}
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Status asks the server whether it is running.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var out ServerStatus
	if err := c.do(ctx, "status", http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Connect binds a controller to lobbyID.
func (c *Client) Connect(ctx context.Context, lobbyID string) (*Result, error) {
	return c.action(ctx, "connect", "/api/controller/connect", lobbyRequest{LobbyID: lobbyID})
}

// Disconnect releases the controller bound to lobbyID. A nil controllerID
// is left out of the request and the server resolves it from the lobby.
func (c *Client) Disconnect(ctx context.Context, lobbyID string, controllerID *int) (*Result, error) {
	return c.action(ctx, "disconnect", "/api/controller/disconnect",
		lobbyRequest{LobbyID: lobbyID, ControllerID: controllerID})
}

// ControllerStatus returns the status of the default controller.
func (c *Client) ControllerStatus(ctx context.Context) (*ControllerStatus, error) {
	var out ControllerStatus
	if err := c.do(ctx, "controller_status", http.MethodGet, "/api/controller/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllControllerStatus returns the per-lobby status report.
func (c *Client) AllControllerStatus(ctx context.Context) (*AllStatus, error) {
	var out AllStatus
	if err := c.do(ctx, "status_all", http.MethodGet, "/api/controller/status-all", nil, &out); err != nil {
		return nil, err
	}
	if out.Controllers == nil {
		out.Controllers = map[string]ControllerStatus{}
	}
	return &out, nil
}

// SetMovement switches automated movement for one controller.
func (c *Client) SetMovement(ctx context.Context, lobbyID string, controllerID int, enabled bool) (*Result, error) {
	return c.action(ctx, "movement", "/api/controller/movement",
		lobbyRequest{LobbyID: lobbyID, ControllerID: &controllerID, Enabled: &enabled})
}

// SetAntiAFK switches anti-AFK for one controller.
func (c *Client) SetAntiAFK(ctx context.Context, lobbyID string, controllerID int, enabled bool) (*Result, error) {
	return c.action(ctx, "anti_afk", "/api/controller/anti-afk",
		lobbyRequest{LobbyID: lobbyID, ControllerID: &controllerID, Enabled: &enabled})
}

// SelectClass runs the class selection macro on one controller.
func (c *Client) SelectClass(ctx context.Context, lobbyID string, controllerID int) (*Result, error) {
	return c.action(ctx, "select_class", "/api/controller/select-class",
		lobbyRequest{LobbyID: lobbyID, ControllerID: &controllerID})
}

// GamepadConfig returns the stored gamepad configuration.
func (c *Client) GamepadConfig(ctx context.Context) (GamepadConfig, error) {
	var out configResponse
	if err := c.do(ctx, "config_get", http.MethodGet, "/api/controller/config", nil, &out); err != nil {
		return nil, err
	}
	return out.Config, nil
}

// SaveGamepadConfig replaces the stored gamepad configuration.
func (c *Client) SaveGamepadConfig(ctx context.Context, cfg GamepadConfig) (*Result, error) {
	if len(cfg) == 0 {
		return nil, errors.New("empty gamepad configuration")
	}
	return c.action(ctx, "config_save", "/api/controller/config", configRequest{Config: cfg})
}

// ResetGamepadConfig restores the default gamepad configuration.
func (c *Client) ResetGamepadConfig(ctx context.Context) (*Result, error) {
	return c.action(ctx, "config_reset", "/api/controller/config/reset", nil)
}

// DefaultGamepadConfig returns the built-in gamepad configuration.
func (c *Client) DefaultGamepadConfig(ctx context.Context) (GamepadConfig, error) {
	var out configResponse
	if err := c.do(ctx, "config_default", http.MethodGet, "/api/controller/config/default", nil, &out); err != nil {
		return nil, err
	}
	return out.Config, nil
}

// Settings returns the live controller settings.
func (c *Client) Settings(ctx context.Context) (GamepadConfig, error) {
	var out configResponse
	if err := c.do(ctx, "settings_get", http.MethodGet, "/api/controller/settings", nil, &out); err != nil {
		return nil, err
	}
	return out.Settings, nil
}

// UpdateSetting changes one controller setting.
func (c *Client) UpdateSetting(ctx context.Context, section, key string, value any) (*Result, error) {
	if section == "" || key == "" || value == nil {
		return nil, errors.New("section, key and value are required")
	}
	return c.action(ctx, "settings_update", "/api/controller/settings",
		settingRequest{Section: section, Key: key, Value: value})
}

func (c *Client) action(ctx context.Context, op, path string, body any) (*Result, error) {
	var out Result
	if err := c.do(ctx, op, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	timer := monitoring.NewTimer(c.metrics, op)

	if err := c.limiter.Wait(ctx); err != nil {
		timer.Stop("limited")
		return fmt.Errorf("control %s: rate limit: %w", op, err)
	}

	requestID := uuid.NewString()
	err := c.breaker.Call(func() error {
		headers := map[string]string{HeaderRequestID: requestID}
		tracing.InjectTraceContext(ctx, headers)
		req := c.resty.R().SetContext(ctx).SetHeaders(headers).SetError(&errorEnvelope{})
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
		}
		if resp.IsError() {
			apiErr := &APIError{Op: op, Status: resp.StatusCode()}
			if env, ok := resp.Error().(*errorEnvelope); ok && env != nil {
				apiErr.Message = env.Error
			}
			return apiErr
		}
		return nil
	})

	timer.Stop(resultLabel(err))
	if err != nil {
		c.logger.Debug("Control call failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	return err
}

func resultLabel(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "open"
	case errors.As(err, &apiErr) && apiErr.Rejected():
		return "rejected"
	default:
		return "error"
	}
}
