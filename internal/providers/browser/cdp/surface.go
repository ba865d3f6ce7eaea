package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/script"
)

const mutationDebounce = 250 * time.Millisecond

var errNotAttached = errors.New("surface target not attached")

// Surface is one tab in its own browser context.
type Surface struct {
	id        string
	partition string
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	attached bool
	observed bool
	onClose  func()
	preloads map[string]page.ScriptIdentifier

	listeners browser.Listeners
}

var _ browser.Surface = (*Surface)(nil)

func newSurface(id, partition string, ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *Surface {
	return &Surface{
		id:        id,
		partition: partition,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		preloads:  make(map[string]page.ScriptIdentifier),
	}
}

func (s *Surface) ID() string { return s.id }

// handleEvent runs on the chromedp event goroutine and must not block or
// issue commands.
func (s *Surface) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventDomContentEventFired:
		s.listeners.Emit(browser.Event{Type: browser.EventDOMReady})
	case *page.EventLoadEventFired:
		s.listeners.Emit(browser.Event{Type: browser.EventLoadComplete})
	case *runtime.EventBindingCalled:
		if e.Name == script.MutationBinding {
			s.listeners.Emit(browser.Event{Type: browser.EventMutation})
			return
		}
		s.listeners.Emit(browser.Event{Type: browser.EventBinding, Name: e.Name, Payload: e.Payload})
	case *inspector.EventDetached:
		s.listeners.Emit(browser.Event{Type: browser.EventGone, Reason: string(e.Reason)})
	case *inspector.EventTargetCrashed:
		s.listeners.Emit(browser.Event{Type: browser.EventGone, Reason: "target crashed"})
	}
}

// attach creates the tab's target. chromedp binds the target's message
// loop to the context of the first Run, so that Run must use the tab
// context itself; ctx only bounds how long we wait for it.
func (s *Surface) attach(ctx context.Context) error {
	s.mu.Lock()
	closed, attached := s.closed, s.attached
	s.mu.Unlock()
	if closed {
		return browser.ErrSurfaceClosed
	}
	if attached {
		return nil
	}

	stop := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(s.ctx)
	if !stop() {
		return fmt.Errorf("attach: %w", context.Cause(ctx))
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
	return nil
}

// run executes actions on an attached tab, bounded by both the tab and ctx.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed, attached := s.closed, s.attached
	s.mu.Unlock()
	if closed {
		return browser.ErrSurfaceClosed
	}
	if !attached {
		return errNotAttached
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Surface) AttachDebugChannel() (browser.DebugChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSurfaceClosed
	}
	return &channel{s: s}, nil
}

func (s *Surface) ExecuteScript(ctx context.Context, src string) error {
	return s.run(ctx, chromedp.Evaluate(src, nil))
}

func (s *Surface) Preload(ctx context.Context, name, src string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		s.mu.Lock()
		old, ok := s.preloads[name]
		delete(s.preloads, name)
		s.mu.Unlock()
		if ok {
			if err := page.RemoveScriptToEvaluateOnNewDocument(old).Do(ctx); err != nil {
				return fmt.Errorf("replace preload %s: %w", name, err)
			}
		}

		id, err := page.AddScriptToEvaluateOnNewDocument(src).Do(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.preloads[name] = id
		s.mu.Unlock()
		return nil
	}))
}

func (s *Surface) ExposeBinding(ctx context.Context, name string) error {
	return s.run(ctx, runtime.AddBinding(name))
}

// ObserveMutations installs the observer in the current document and in
// every document loaded afterwards.
func (s *Surface) ObserveMutations(ctx context.Context) error {
	src, err := script.MutationObserver(mutationDebounce)
	if err != nil {
		return err
	}

	s.mu.Lock()
	first := !s.observed
	s.observed = true
	s.mu.Unlock()

	if first {
		if err := s.ExposeBinding(ctx, script.MutationBinding); err != nil {
			return err
		}
		if err := s.Preload(ctx, "mutations", src); err != nil {
			return err
		}
	}
	return s.ExecuteScript(ctx, src)
}

func (s *Surface) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	src, err := script.Snapshot()
	if err != nil {
		return nil, err
	}
	var out struct {
		HTML string `json:"html"`
		Text string `json:"text"`
	}
	if err := s.run(ctx, chromedp.Evaluate(src, &out)); err != nil {
		return nil, err
	}
	return &browser.Snapshot{HTML: out.HTML, Text: out.Text}, nil
}

func (s *Surface) DispatchPointer(ctx context.Context, ev browser.PointerEvent) error {
	typ := input.MousePressed
	if ev.Type == browser.PointerUp {
		typ = input.MouseReleased
	}
	return s.run(ctx, input.DispatchMouseEvent(typ, ev.X, ev.Y).
		WithButton(input.Left).
		WithClickCount(1))
}

func (s *Surface) ClickElement(ctx context.Context, handle string) error {
	src, err := script.Click(handle)
	if err != nil {
		return err
	}
	var found bool
	if err := s.run(ctx, chromedp.Evaluate(src, &found)); err != nil {
		return err
	}
	if !found {
		return browser.ErrElementNotFound
	}
	return nil
}

// Navigate starts a navigation and returns once it is committed; load
// progress is reported through events.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("navigate %s: %s", url, res.ErrorText)
		}
		return nil
	}))
}

func (s *Surface) Reload(ctx context.Context) error {
	return s.run(ctx, page.Reload())
}

func (s *Surface) Listen(fn func(browser.Event)) func() {
	return s.listeners.Add(fn)
}

// Close closes the tab and its browser context.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.listeners.Clear()
	if onClose != nil {
		onClose()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// channel is the emulation side of the tab's DevTools session.
type channel struct {
	s *Surface
}

func (c *channel) Attached() (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.closed {
		return false, browser.ErrSurfaceClosed
	}
	return c.s.attached, nil
}

func (c *channel) Attach(ctx context.Context) error {
	return c.s.attach(ctx)
}

func (c *channel) SetDeviceMetricsOverride(ctx context.Context, m browser.Metrics) error {
	return c.s.run(ctx, emulation.SetDeviceMetricsOverride(int64(m.Width), int64(m.Height), m.DeviceScaleFactor, m.Mobile).
		WithScreenWidth(int64(m.Width)).
		WithScreenHeight(int64(m.Height)).
		WithScreenOrientation(&emulation.ScreenOrientation{
			Type:  emulation.OrientationType(m.Orientation.Type),
			Angle: int64(m.Orientation.Angle),
		}))
}
