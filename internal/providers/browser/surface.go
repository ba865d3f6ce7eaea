package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSurfaceClosed is returned by every operation on a closed surface.
	ErrSurfaceClosed = errors.New("render surface closed")
	// ErrDebugChannelUnavailable means the surface cannot expose an
	// engine-level control channel.
	ErrDebugChannelUnavailable = errors.New("debug channel unavailable")
	// ErrElementNotFound is returned by ClickElement for a stale handle.
	ErrElementNotFound = errors.New("element not found")
)

// EventType identifies a render surface notification.
type EventType int

const (
	// EventDOMReady fires when the document has been parsed.
	EventDOMReady EventType = iota
	// EventLoadComplete fires when the page and its subresources loaded.
	EventLoadComplete
	// EventMutation fires when the observed document subtree changed.
	EventMutation
	// EventBinding carries a payload a page script sent to an exposed binding.
	EventBinding
	// EventGone fires when the underlying render target vanished.
	EventGone
)

func (t EventType) String() string {
	switch t {
	case EventDOMReady:
		return "dom-ready"
	case EventLoadComplete:
		return "load-complete"
	case EventMutation:
		return "mutation"
	case EventBinding:
		return "binding"
	case EventGone:
		return "gone"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a notification from a render surface. Name and Payload are only
// set for EventBinding; Reason only for EventGone.
type Event struct {
	Type    EventType
	Name    string
	Payload string
	Reason  string
}

// Orientation describes the reported screen orientation.
type Orientation struct {
	Type  string
	Angle int
}

// LandscapePrimary is the orientation reported for spoofed viewports.
var LandscapePrimary = Orientation{Type: "landscapePrimary", Angle: 0}

// Metrics is a device metrics override.
type Metrics struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
	Mobile            bool
	Orientation       Orientation
}

// DebugChannel is the engine-level control channel of a surface.
type DebugChannel interface {
	// Attached reports whether the channel is currently attached. An error
	// means the attachment state cannot be determined.
	Attached() (bool, error)
	Attach(ctx context.Context) error
	SetDeviceMetricsOverride(ctx context.Context, m Metrics) error
}

// PointerType is the phase of a synthesized pointer event.
type PointerType int

const (
	PointerDown PointerType = iota
	PointerUp
)

func (p PointerType) String() string {
	if p == PointerDown {
		return "down"
	}
	return "up"
}

// PointerEvent is a synthesized primary-button pointer event in viewport
// coordinates.
type PointerEvent struct {
	Type PointerType
	X    float64
	Y    float64
}

// Snapshot is a serialized view of the document. Candidate elements carry
// data-lobby-handle, data-lobby-rect and data-lobby-visible attributes.
type Snapshot struct {
	HTML string
	Text string
}

// Surface is the render surface hosting one page instance. Implementations
// must be safe for concurrent use; listeners may be invoked from any
// goroutine.
type Surface interface {
	ID() string
	AttachDebugChannel() (DebugChannel, error)

	// ExecuteScript runs src in the current document, discarding the result.
	ExecuteScript(ctx context.Context, src string) error
	// Preload registers src under name to run in every new document before
	// page scripts. Preloading a name again replaces its script.
	Preload(ctx context.Context, name, src string) error
	// ExposeBinding installs window[name](payload) delivering EventBinding.
	ExposeBinding(ctx context.Context, name string) error
	// ObserveMutations starts delivering EventMutation for the document.
	ObserveMutations(ctx context.Context) error

	Snapshot(ctx context.Context) (*Snapshot, error)
	DispatchPointer(ctx context.Context, ev PointerEvent) error
	ClickElement(ctx context.Context, handle string) error

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	// Listen registers fn for every subsequent event and returns a function
	// that removes it.
	Listen(fn func(Event)) (cancel func())
	Close() error
}

// Factory creates surfaces bound to a storage partition.
type Factory interface {
	NewSurface(ctx context.Context, id, partition string) (Surface, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, id, partition string) (Surface, error)

// NewSurface calls f.
func (f FactoryFunc) NewSurface(ctx context.Context, id, partition string) (Surface, error) {
	return f(ctx, id, partition)
}
