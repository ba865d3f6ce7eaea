package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/autoplay"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/viewport"
)

var (
	ErrInvalidCount     = errors.New("instance count must be at least 1")
	ErrCapacityExceeded = errors.New("instance ceiling exceeded")
	ErrNotFound         = errors.New("instance not found")
	ErrNotReady         = errors.New("instance not active yet")
)

// AdmissionError rejects an open request before anything was created.
type AdmissionError struct {
	Reason    error
	Requested int
	Current   int
	Max       int
}

func (e *AdmissionError) Error() string {
	if errors.Is(e.Reason, ErrCapacityExceeded) {
		return fmt.Sprintf("%v: %d open + %d requested > %d", e.Reason, e.Current, e.Requested, e.Max)
	}
	return fmt.Sprintf("%v: requested %d", e.Reason, e.Requested)
}

func (e *AdmissionError) Unwrap() error { return e.Reason }

// State is the lifecycle position of an instance.
type State string

const (
	StateCreating     State = "creating"
	StateLoaded       State = "loaded"
	StateSpoofApplied State = "spoof_applied"
	StateActive       State = "active"
	StateDestroyed    State = "destroyed"
)

var stateRank = map[State]int{
	StateCreating:     0,
	StateLoaded:       1,
	StateSpoofApplied: 2,
	StateActive:       3,
	StateDestroyed:    4,
}

// AtLeast reports whether s is o or a later state.
func (s State) AtLeast(o State) bool {
	return stateRank[s] >= stateRank[o]
}

// Info is a read-only view of an instance.
type Info struct {
	ID        string            `json:"id"`
	Partition string            `json:"partition"`
	State     State             `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	Spoof     viewport.Strategy `json:"spoof,omitempty"`
	Reloads   int               `json:"reloads"`
	Gamepad   bool              `json:"gamepad_attached"`
	AutoPlay  *autoplay.Session `json:"autoplay,omitempty"`
}

// StorageView is the content of an instance's storage namespace.
type StorageView struct {
	Partition string            `json:"partition"`
	Local     map[string]string `json:"local"`
	Session   map[string]string `json:"session"`
}

// Event types published to the EventSink.
const (
	EventOpened           = "instance.opened"
	EventState            = "instance.state"
	EventClosed           = "instance.closed"
	EventAutoPlayOutcome  = "autoplay.outcome"
	EventControllerAssign = "controller.assigned"
)

// Event is a notification about one instance.
type Event struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	Time       time.Time `json:"time"`
	Data       any       `json:"data,omitempty"`
}

// EventSink receives coordinator events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Assigner binds external controllers to instances.
type Assigner interface {
	Assign(ctx context.Context, instanceID string) error
	Release(ctx context.Context, instanceID string) error
}
