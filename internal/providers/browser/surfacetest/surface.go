// Package surfacetest provides an in-memory render surface for tests.
//
// Scripts run in a sandbox.Runtime, so injected shims behave as they would
// in a page. Lifecycle events are fired explicitly by the test, and the
// document returned by Snapshot is whatever the test last set.
package surfacetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/script"
)

type preload struct{ name, src string }

// Surface is a fake browser.Surface.
type Surface struct {
	id        string
	partition string

	mu          sync.Mutex
	page        *sandbox.Runtime
	channel     *Channel
	channelErr  error
	preloads    []preload
	scripts     []string
	pointers    []browser.PointerEvent
	clicks      []string
	navigations []string
	reloads     int
	html        string
	text        string
	closed      bool
	bindings    map[string]bool

	// Fault injection, consulted on every call.
	ScriptErr   func(src string) error
	SnapshotErr error
	// SnapshotHook runs before every snapshot outside the surface lock.
	// A hook that blocks stands in for a page that stopped answering.
	SnapshotHook func(ctx context.Context) error
	ClickErr    error
	NavigateErr error
	// OnClick runs after a direct element click on handle.
	OnClick func(handle string)

	listeners browser.Listeners
}

var _ browser.Surface = (*Surface)(nil)

// New creates a fake surface with an attached-capable debug channel.
func New(id, partition string) *Surface {
	page, err := sandbox.New(sandbox.DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("surfacetest: sandbox: %v", err))
	}
	return &Surface{
		id:        id,
		partition: partition,
		page:      page,
		channel:   &Channel{},
		bindings:  make(map[string]bool),
	}
}

// Factory returns a browser.Factory producing fake surfaces. Every created
// surface is also sent to created when it is non-nil.
func Factory(created func(*Surface)) browser.Factory {
	return browser.FactoryFunc(func(_ context.Context, id, partition string) (browser.Surface, error) {
		s := New(id, partition)
		if created != nil {
			created(s)
		}
		return s, nil
	})
}

func (s *Surface) ID() string        { return s.id }
func (s *Surface) Partition() string { return s.partition }

// Page exposes the sandboxed document.
func (s *Surface) Page() *sandbox.Runtime { return s.page }

// Channel returns the fake debug channel for configuration.
func (s *Surface) Channel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// DisableChannel makes AttachDebugChannel fail with err.
func (s *Surface) DisableChannel(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = browser.ErrDebugChannelUnavailable
	}
	s.channelErr = err
}

func (s *Surface) AttachDebugChannel() (browser.DebugChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSurfaceClosed
	}
	if s.channelErr != nil {
		return nil, s.channelErr
	}
	return s.channel, nil
}

func (s *Surface) ExecuteScript(ctx context.Context, src string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrSurfaceClosed
	}
	s.scripts = append(s.scripts, src)
	fault := s.ScriptErr
	s.mu.Unlock()

	if fault != nil {
		if err := fault(src); err != nil {
			return err
		}
	}
	_, err := s.page.Execute(ctx, src)
	return err
}

func (s *Surface) Preload(_ context.Context, name, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSurfaceClosed
	}
	for i, p := range s.preloads {
		if p.name == name {
			s.preloads = append(s.preloads[:i:i], s.preloads[i+1:]...)
			break
		}
	}
	s.preloads = append(s.preloads, preload{name, src})
	return nil
}

func (s *Surface) ExposeBinding(_ context.Context, name string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrSurfaceClosed
	}
	s.bindings[name] = true
	s.mu.Unlock()

	return s.page.ExposeBinding(name, func(payload string) {
		s.listeners.Emit(browser.Event{Type: browser.EventBinding, Name: name, Payload: payload})
	})
}

func (s *Surface) ObserveMutations(ctx context.Context) error {
	if err := s.page.ExposeBinding(script.MutationBinding, func(string) {
		s.listeners.Emit(browser.Event{Type: browser.EventMutation})
	}); err != nil {
		return err
	}
	src, err := script.MutationObserver(0)
	if err != nil {
		return err
	}
	return s.ExecuteScript(ctx, src)
}

// SetDocument replaces the document returned by Snapshot. When text is
// empty it is derived from the body of html.
func (s *Surface) SetDocument(html, text string) {
	if text == "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			text = doc.Find("body").Text()
		}
	}
	s.mu.Lock()
	s.html, s.text = html, text
	s.mu.Unlock()
}

func (s *Surface) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	s.mu.Lock()
	hook := s.SnapshotHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrSurfaceClosed
	}
	if s.SnapshotErr != nil {
		return nil, s.SnapshotErr
	}
	return &browser.Snapshot{HTML: s.html, Text: s.text}, nil
}

func (s *Surface) DispatchPointer(_ context.Context, ev browser.PointerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSurfaceClosed
	}
	s.pointers = append(s.pointers, ev)
	return nil
}

func (s *Surface) ClickElement(_ context.Context, handle string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrSurfaceClosed
	}
	if s.ClickErr != nil {
		err := s.ClickErr
		s.mu.Unlock()
		return err
	}
	if !strings.Contains(s.html, `data-lobby-handle="`+handle+`"`) {
		s.mu.Unlock()
		return browser.ErrElementNotFound
	}
	s.clicks = append(s.clicks, handle)
	hook := s.OnClick
	s.mu.Unlock()

	if hook != nil {
		hook(handle)
	}
	return nil
}

// Navigate loads a fresh document and runs every preload in it.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrSurfaceClosed
	}
	if s.NavigateErr != nil {
		err := s.NavigateErr
		s.mu.Unlock()
		return err
	}
	s.navigations = append(s.navigations, url)
	s.mu.Unlock()
	return s.newDocument(ctx)
}

func (s *Surface) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrSurfaceClosed
	}
	s.reloads++
	s.mu.Unlock()
	return s.newDocument(ctx)
}

func (s *Surface) newDocument(ctx context.Context) error {
	if err := s.page.Reset(); err != nil {
		return err
	}
	s.mu.Lock()
	preloads := append([]preload(nil), s.preloads...)
	s.mu.Unlock()
	for _, p := range preloads {
		if _, err := s.page.Execute(ctx, p.src); err != nil {
			return err
		}
	}
	return nil
}

func (s *Surface) Listen(fn func(browser.Event)) func() {
	return s.listeners.Add(fn)
}

// Close marks the surface closed. It does not emit EventGone; tests use
// Vanish for that.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.page.Close()
}

// Fire emits ev to every listener.
func (s *Surface) Fire(ev browser.Event) { s.listeners.Emit(ev) }

func (s *Surface) FireDOMReady()     { s.Fire(browser.Event{Type: browser.EventDOMReady}) }
func (s *Surface) FireLoadComplete() { s.Fire(browser.Event{Type: browser.EventLoadComplete}) }
func (s *Surface) FireMutation()     { s.Fire(browser.Event{Type: browser.EventMutation}) }

// Vanish simulates the render target disappearing underneath the host.
func (s *Surface) Vanish(reason string) {
	s.Fire(browser.Event{Type: browser.EventGone, Reason: reason})
}

// Recorded state accessors.

func (s *Surface) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// Preloads returns the registered preload scripts in run order.
func (s *Surface) Preloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.preloads))
	for _, p := range s.preloads {
		out = append(out, p.src)
	}
	return out
}

func (s *Surface) Pointers() []browser.PointerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]browser.PointerEvent(nil), s.pointers...)
}

func (s *Surface) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

func (s *Surface) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

func (s *Surface) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

func (s *Surface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Surface) HasBinding(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings[name]
}

func (s *Surface) ListenerCount() int { return s.listeners.Len() }

// Channel is a configurable fake debug channel.
type Channel struct {
	mu sync.Mutex

	IsAttached  bool
	AttachedErr error
	AttachErr   error
	OverrideErr error
	// PanicOnOverride makes SetDeviceMetricsOverride panic.
	PanicOnOverride bool

	attaches  int
	overrides []browser.Metrics
}

func (c *Channel) Attached() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.IsAttached, c.AttachedErr
}

func (c *Channel) Attach(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attaches++
	if c.AttachErr != nil {
		return c.AttachErr
	}
	c.IsAttached = true
	return nil
}

func (c *Channel) SetDeviceMetricsOverride(_ context.Context, m browser.Metrics) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PanicOnOverride {
		panic("override exploded")
	}
	if c.OverrideErr != nil {
		return c.OverrideErr
	}
	c.overrides = append(c.overrides, m)
	return nil
}

// Attaches counts Attach calls.
func (c *Channel) Attaches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attaches
}

// Overrides returns every accepted metrics override.
func (c *Channel) Overrides() []browser.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]browser.Metrics(nil), c.overrides...)
}
