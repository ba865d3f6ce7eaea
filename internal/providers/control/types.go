package control

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable wraps failures that never produced a server answer.
var ErrUnavailable = errors.New("control server unavailable")

// APIError is an answer the control server rejected.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control %s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("control %s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

// Rejected reports whether the server understood the request and refused
// it, as opposed to failing.
func (e *APIError) Rejected() bool {
	return e.Status < http.StatusInternalServerError
}

// ServerStatus is the /api/status reply.
type ServerStatus struct {
	Status     string  `json:"status"`
	Timestamp  float64 `json:"timestamp"`
	GamesCount int     `json:"games_count"`
}

// Result is the envelope returned by controller actions.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ControllerStatus describes the controller bound to one lobby.
type ControllerStatus struct {
	Connected       bool `json:"connected"`
	MovementEnabled bool `json:"movement_enabled"`
	AntiAFKEnabled  bool `json:"anti_afk_enabled"`
	ControllerID    int  `json:"controller_id,omitempty"`
}

// AllStatus is the multi-lobby status report keyed by lobby id.
type AllStatus struct {
	Controllers    map[string]ControllerStatus `json:"controllers"`
	TotalLobbies   int                         `json:"total_lobbies"`
	ConnectedCount int                         `json:"connected_count"`
}

// GamepadConfig maps section -> key -> value.
type GamepadConfig map[string]map[string]any

type lobbyRequest struct {
	LobbyID      string `json:"lobby_id"`
	ControllerID *int   `json:"controller_id,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

type configRequest struct {
	Config GamepadConfig `json:"config"`
}

type settingRequest struct {
	Section string `json:"section"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
}

type configResponse struct {
	Success  bool          `json:"success"`
	Config   GamepadConfig `json:"config"`
	Settings GamepadConfig `json:"settings"`
	Error    string        `json:"error,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
