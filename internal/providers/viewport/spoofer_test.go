package viewport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/surfacetest"
)

func newSurface(t *testing.T) *surfacetest.Surface {
	t.Helper()
	s := surfacetest.New("lobby_1", "persist:lobby_1")
	t.Cleanup(func() { s.Close() })
	return s
}

// domOverrides counts DOM fallback injections.
func domOverrides(s *surfacetest.Surface) int {
	n := 0
	for _, src := range s.Scripts() {
		if strings.Contains(src, `meta[name="viewport"]`) {
			n++
		}
	}
	return n
}

func pageWidth(t *testing.T, s *surfacetest.Surface) interface{} {
	t.Helper()
	v, err := s.Page().Eval(context.Background(), "window.innerWidth")
	require.NoError(t, err)
	return v
}

func TestEngineStrategy(t *testing.T) {
	s := newSurface(t)
	sp := New(464, 264, nil)

	res := sp.Apply(context.Background(), s)
	assert.Equal(t, StrategyEngine, res.Strategy)
	assert.NoError(t, res.Err)
	assert.True(t, res.Applied())

	assert.Equal(t, 1, s.Channel().Attaches())
	require.Len(t, s.Channel().Overrides(), 1)
	assert.Equal(t, browser.Metrics{
		Width:             464,
		Height:            264,
		DeviceScaleFactor: 1,
		Mobile:            false,
		Orientation:       browser.Orientation{Type: "landscapePrimary", Angle: 0},
	}, s.Channel().Overrides()[0])
	assert.Zero(t, domOverrides(s))
}

func TestAlreadyAttachedChannelIsReused(t *testing.T) {
	s := newSurface(t)
	s.Channel().IsAttached = true

	res := New(464, 264, nil).Apply(context.Background(), s)
	assert.Equal(t, StrategyEngine, res.Strategy)
	assert.Zero(t, s.Channel().Attaches())
	assert.Len(t, s.Channel().Overrides(), 1)
}

func TestFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*surfacetest.Surface)
		wantErr error
	}{
		{
			name:    "channel unavailable",
			setup:   func(s *surfacetest.Surface) { s.DisableChannel(nil) },
			wantErr: browser.ErrDebugChannelUnavailable,
		},
		{
			name:    "attachment state unknown",
			setup:   func(s *surfacetest.Surface) { s.Channel().AttachedErr = errors.New("target busy") },
			wantErr: ErrAlreadyAttached,
		},
		{
			name:  "attach throws",
			setup: func(s *surfacetest.Surface) { s.Channel().AttachErr = errors.New("attach refused") },
		},
		{
			name:  "override fails",
			setup: func(s *surfacetest.Surface) { s.Channel().OverrideErr = errors.New("not supported") },
		},
		{
			name:  "override panics",
			setup: func(s *surfacetest.Surface) { s.Channel().PanicOnOverride = true },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSurface(t)
			tt.setup(s)

			res := New(464, 264, nil).Apply(context.Background(), s)
			assert.Equal(t, StrategyDOM, res.Strategy)
			assert.True(t, res.Applied())
			require.Error(t, res.Err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			}
			assert.Equal(t, 1, domOverrides(s))
			assert.Equal(t, int64(464), pageWidth(t, s))
		})
	}
}

func TestBothStrategiesFail(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := newSurface(t)
	s.Channel().AttachErr = errors.New("attach refused")
	injectErr := errors.New("script blocked")
	s.ScriptErr = func(string) error { return injectErr }

	res := New(464, 264, zap.New(core)).Apply(context.Background(), s)
	assert.Equal(t, StrategyNone, res.Strategy)
	assert.False(t, res.Applied())
	assert.ErrorIs(t, res.Err, injectErr)
	assert.Equal(t, 1, domOverrides(s), "fallback is attempted exactly once")
	assert.Equal(t, 1, logs.FilterMessage("Viewport spoof failed, instance runs unspoofed").Len())
}

func TestDefaultSize(t *testing.T) {
	m := New(0, -1, nil).Metrics()
	assert.Equal(t, DefaultWidth, m.Width)
	assert.Equal(t, DefaultHeight, m.Height)
}
