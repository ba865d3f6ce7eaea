// Package viewport makes a hosted page report a fixed screen size.
//
// The engine strategy overrides device metrics through the surface's debug
// channel, which changes what layout and media queries see. When the
// channel is unusable the DOM strategy rewrites the viewport meta tag and
// the screen/window size properties instead. Every step is fail-soft.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/script"
)

// Default spoofed size, the tile size of the lobby grid.
const (
	DefaultWidth  = 464
	DefaultHeight = 264

	defaultStepTimeout = 5 * time.Second
)

// Strategy is the way a spoof was applied.
type Strategy string

const (
	StrategyEngine Strategy = "engine"
	StrategyDOM    Strategy = "dom"
	StrategyNone   Strategy = "none"
)

// ErrAlreadyAttached is recorded when the debug channel is in an
// unexpected attachment state.
var ErrAlreadyAttached = errors.New("debug channel attachment state unknown")

// Result describes one Apply. Err is the failure that caused a fallback,
// or both failures when nothing could be applied.
type Result struct {
	Strategy Strategy
	Err      error
}

// Applied reports whether either strategy succeeded.
func (r Result) Applied() bool {
	return r.Strategy == StrategyEngine || r.Strategy == StrategyDOM
}

// Spoofer applies one target size.
type Spoofer struct {
	width       int
	height      int
	stepTimeout time.Duration
	logger      *zap.Logger
}

// New creates a spoofer for width x height. Non-positive sizes fall back
// to the defaults.
func New(width, height int, logger *zap.Logger) *Spoofer {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spoofer{
		width:       width,
		height:      height,
		stepTimeout: defaultStepTimeout,
		logger:      logger,
	}
}

// Metrics is the device metrics override sent by the engine strategy.
func (s *Spoofer) Metrics() browser.Metrics {
	return browser.Metrics{
		Width:             s.width,
		Height:            s.height,
		DeviceScaleFactor: 1,
		Mobile:            false,
		Orientation:       browser.LandscapePrimary,
	}
}

// Apply spoofs the viewport of surface. It never fails outright: the
// outcome is reported in the Result.
func (s *Spoofer) Apply(ctx context.Context, surface browser.Surface) Result {
	logger := s.logger.With(zap.String("instance_id", surface.ID()))

	primaryErr := s.engine(ctx, surface)
	if primaryErr == nil {
		logger.Debug("Viewport spoofed",
			zap.String("strategy", string(StrategyEngine)),
			zap.Int("width", s.width),
			zap.Int("height", s.height),
		)
		return Result{Strategy: StrategyEngine}
	}
	logger.Info("Engine viewport override unavailable, using DOM override", zap.Error(primaryErr))

	if err := s.dom(ctx, surface); err != nil {
		err = errors.Join(primaryErr, err)
		logger.Warn("Viewport spoof failed, instance runs unspoofed", zap.Error(err))
		return Result{Strategy: StrategyNone, Err: err}
	}
	logger.Debug("Viewport spoofed", zap.String("strategy", string(StrategyDOM)))
	return Result{Strategy: StrategyDOM, Err: primaryErr}
}

// engine runs the debug channel path. Panics from the channel count as
// failures.
func (s *Spoofer) engine(ctx context.Context, surface browser.Surface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine override panicked: %v", r)
		}
	}()

	ch, err := surface.AttachDebugChannel()
	if err != nil {
		return fmt.Errorf("attach debug channel: %w", err)
	}
	if ch == nil {
		return browser.ErrDebugChannelUnavailable
	}

	attached, err := ch.Attached()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAlreadyAttached, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	if !attached {
		if err := ch.Attach(ctx); err != nil {
			return fmt.Errorf("attach: %w", err)
		}
	}
	if err := ch.SetDeviceMetricsOverride(ctx, s.Metrics()); err != nil {
		return fmt.Errorf("set device metrics override: %w", err)
	}
	return nil
}

func (s *Spoofer) dom(ctx context.Context, surface browser.Surface) error {
	src, err := script.ViewportOverride(s.width, s.height)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()
	if err := surface.ExecuteScript(ctx, src); err != nil {
		return fmt.Errorf("dom override: %w", err)
	}
	return nil
}
