package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/controller"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/instance"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/surfacetest"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/control"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

// controlServer is an in-memory control server.
type controlServer struct {
	mu          sync.Mutex
	controllers map[string]control.ControllerStatus
	movement    map[string]bool
	config      control.GamepadConfig
}

func newControlServer() *controlServer {
	return &controlServer{
		controllers: map[string]control.ControllerStatus{
			"lobby_A": {Connected: true, ControllerID: 1},
			"lobby_B": {Connected: true, ControllerID: 2},
		},
		movement: map[string]bool{},
		config:   control.GamepadConfig{"buttons": {"a": 0}},
	}
}

func (s *controlServer) handler() http.Handler {
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"status": "running", "games_count": 2})
	})
	mux.HandleFunc("GET /api/controller/status-all", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"controllers": s.controllers, "connected_count": len(s.controllers)})
	})
	mux.HandleFunc("POST /api/controller/movement", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LobbyID string `json:"lobby_id"`
			Enabled bool   `json:"enabled"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.movement[req.LobbyID] = req.Enabled
		s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "enabled": req.Enabled})
	})
	mux.HandleFunc("POST /api/controller/select-class", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusInternalServerError, map[string]any{"error": "macro crashed"})
	})
	mux.HandleFunc("GET /api/controller/config", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"config": s.config})
	})
	mux.HandleFunc("POST /api/controller/config/reset", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"success": true, "message": "Configuration réinitialisée"})
	})
	mux.HandleFunc("POST /api/controller/settings", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusBadRequest, map[string]any{"success": false, "error": "unknown section"})
	})
	return mux
}

type fixture struct {
	router   *gin.Engine
	coord    *instance.Coordinator
	sched    *scheduler.Manual
	control  *controlServer
	surfaces map[string]*surfacetest.Surface
}

func newFixture(t *testing.T, withControl bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		sched:    scheduler.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		surfaces: map[string]*surfacetest.Surface{},
	}
	var mu sync.Mutex
	f.coord = instance.NewCoordinator(instance.Config{
		Factory: surfacetest.Factory(func(s *surfacetest.Surface) {
			mu.Lock()
			f.surfaces[s.ID()] = s
			mu.Unlock()
		}),
		Scheduler: f.sched,
		TargetURL: "https://example.test/play",
	})
	t.Cleanup(func() { f.coord.CloseAll() })

	cfg := Config{Coordinator: f.coord, Version: "test"}
	if withControl {
		f.control = newControlServer()
		srv := httptest.NewServer(f.control.handler())
		t.Cleanup(srv.Close)

		client := control.New(config.ControlConfig{URL: srv.URL, Timeout: 2 * time.Second}, nil, nil)
		registry := controller.New(controller.Config{Client: client, Scheduler: f.sched})
		require.NoError(t, registry.Refresh(context.Background()))
		cfg.Control = client
		cfg.Controllers = registry
	}

	f.router = gin.New()
	NewHandlers(cfg).Register(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (f *fixture) open(t *testing.T, n int) []string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/instances", map[string]any{"count": n})
	require.Equal(t, http.StatusCreated, code, body)
	var ids []string
	for _, raw := range body["instances"].([]any) {
		ids = append(ids, raw.(map[string]any)["id"].(string))
	}
	return ids
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestOpenInstances(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"over the ceiling", map[string]any{"count": 25}, http.StatusConflict},
		{"zero", map[string]any{"count": 0}, http.StatusBadRequest},
		{"malformed", "three", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, "/instances", tt.body)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}

	ids := f.open(t, 3)
	assert.Len(t, ids, 3)

	code, body := f.do(t, http.MethodGet, "/instances", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, float64(instance.MaxInstances), body["max"])

	code, body = f.do(t, http.MethodPost, "/instances", map[string]any{"count": 18})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "ceiling")
}

func TestInstanceRoutes(t *testing.T) {
	f := newFixture(t, false)
	id := f.open(t, 1)[0]

	code, body := f.do(t, http.MethodGet, "/instances/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	inst := body["instance"].(map[string]any)
	assert.Equal(t, "persist:"+id, inst["partition"])
	assert.Equal(t, "creating", inst["state"])

	code, _ = f.do(t, http.MethodPost, "/instances/"+id+"/autoplay", nil)
	assert.Equal(t, http.StatusConflict, code, "auto-play starts once active")

	code, body = f.do(t, http.MethodPost, "/instances/"+id+"/refresh", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["instance_id"])

	code, body = f.do(t, http.MethodGet, "/instances/"+id+"/storage", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "persist:"+id, body["storage"].(map[string]any)["partition"])

	code, body = f.do(t, http.MethodDelete, "/instances/"+id+"/storage", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["removed"])

	code, _ = f.do(t, http.MethodDelete, "/instances/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	code, body = f.do(t, http.MethodGet, "/instances/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	code, _ = f.do(t, http.MethodDelete, "/instances/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBulkInstanceRoutes(t *testing.T) {
	f := newFixture(t, false)
	f.open(t, 4)

	code, body := f.do(t, http.MethodPost, "/instances/refresh", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(4), body["refreshed"])

	code, body = f.do(t, http.MethodDelete, "/instances", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(4), body["closed"])
	assert.Zero(t, f.coord.Count())
}

func TestGamepadRoutes(t *testing.T) {
	f := newFixture(t, false)
	id := f.open(t, 1)[0]

	code, body := f.do(t, http.MethodGet, "/instances/"+id+"/gamepad", nil)
	require.Equal(t, http.StatusOK, code)
	pads := body["gamepads"].([]any)
	require.Len(t, pads, 4)
	assert.NotNil(t, pads[0])
	assert.Nil(t, pads[1])
	assert.Equal(t, "standard", pads[0].(map[string]any)["mapping"])

	code, body = f.do(t, http.MethodPost, "/instances/"+id+"/gamepad", map[string]any{
		"buttons": []any{map[string]any{"index": 0, "pressed": true, "value": 1}},
		"axes":    []float64{0.5, -3},
	})
	require.Equal(t, http.StatusOK, code)
	pad := body["gamepad"].(map[string]any)
	assert.Equal(t, true, pad["buttons"].([]any)[0].(map[string]any)["pressed"])
	assert.Equal(t, []any{0.5, -1.0, 0.0, 0.0}, pad["axes"])
	before := pad["timestamp"].(float64)

	// unknown buttons and extra axes are dropped, the rest still applies
	code, body = f.do(t, http.MethodPost, "/instances/"+id+"/gamepad", map[string]any{
		"buttons": []any{
			map[string]any{"index": 1, "pressed": true, "value": 1},
			map[string]any{"index": 17, "pressed": true},
			map[string]any{"index": -1, "pressed": true},
		},
		"axes": []float64{0.1, 0.2, 0.3, 0.4, 0.9},
	})
	require.Equal(t, http.StatusOK, code, "%v", body)
	pad = body["gamepad"].(map[string]any)
	buttons := pad["buttons"].([]any)
	require.Len(t, buttons, 17)
	assert.Equal(t, true, buttons[1].(map[string]any)["pressed"])
	assert.Equal(t, []any{0.1, 0.2, 0.3, 0.4}, pad["axes"])
	assert.Greater(t, pad["timestamp"].(float64), before)

	code, body = f.do(t, http.MethodPost, "/instances/"+id+"/gamepad", map[string]any{
		"buttons": []any{map[string]any{"index": 42, "pressed": true}},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Greater(t, body["gamepad"].(map[string]any)["timestamp"].(float64), before)

	code, body = f.do(t, http.MethodPost, "/instances/"+id+"/gamepad/test", nil)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, float64(11500), body["duration_ms"])

	code, _ = f.do(t, http.MethodGet, "/instances/lobby_missing/gamepad", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestControllerRoutes(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodGet, "/controllers", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["connected_count"])
	assert.Len(t, body["connected"], 2)

	code, body = f.do(t, http.MethodPost, "/controllers/movement", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(2), body["success_count"])
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, "movement enabled on 2/2 controller(s)", body["message"])
	f.control.mu.Lock()
	assert.True(t, f.control.movement["lobby_A"])
	f.control.mu.Unlock()

	code, body = f.do(t, http.MethodPost, "/controllers/select-class", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, false, body["success"])
	assert.Len(t, body["failures"], 2)

	code, body = f.do(t, http.MethodPost, "/controllers/lobby_A/movement", map[string]any{"enabled": false})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["enabled"])

	code, _ = f.do(t, http.MethodPost, "/controllers/lobby_Z/movement", map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/controllers/lobby_A/anti-afk", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestControlDisabled(t *testing.T) {
	f := newFixture(t, false)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/controllers"},
		{http.MethodPost, "/controllers/movement"},
		{http.MethodPost, "/controllers/lobby_A/anti-afk"},
		{http.MethodGet, "/settings/gamepad"},
		{http.MethodPost, "/settings/gamepad/reset"},
	} {
		code, body := f.do(t, route.method, route.path, map[string]any{"enabled": true})
		assert.Equal(t, http.StatusServiceUnavailable, code, route.path)
		assert.Equal(t, errControlDisabled.Error(), body["error"])
	}

	code, body := f.do(t, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["control"].(map[string]any)["enabled"])
}

func TestSettingsRoutes(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodGet, "/settings/gamepad", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"buttons": map[string]any{"a": float64(0)}}, body["config"])

	code, _ = f.do(t, http.MethodPost, "/settings/gamepad", map[string]any{"config": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/settings/gamepad/reset", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Configuration réinitialisée", body["message"])

	code, body = f.do(t, http.MethodPost, "/settings/controller", map[string]any{"section": "x", "key": "y", "value": 1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unknown section")

	code, _ = f.do(t, http.MethodPost, "/settings/controller", map[string]any{"section": "x", "key": "y"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)
	f.open(t, 2)

	code, body := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["instances"].(map[string]any)["count"])
	ctl := body["control"].(map[string]any)
	assert.Equal(t, true, ctl["reachable"])
	assert.Equal(t, "running", ctl["status"])
	assert.Equal(t, "closed", ctl["breaker"])
	assert.Equal(t, float64(2), body["controllers"].(map[string]any)["connected_count"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", errInvalidRequest), http.StatusBadRequest},
		{&instance.AdmissionError{Reason: instance.ErrInvalidCount}, http.StatusBadRequest},
		{&instance.AdmissionError{Reason: instance.ErrCapacityExceeded}, http.StatusConflict},
		{fmt.Errorf("%w: x", instance.ErrNotFound), http.StatusNotFound},
		{controller.ErrUnknownLobby, http.StatusNotFound},
		{controller.ErrNoControllers, http.StatusConflict},
		{instance.ErrShutdown, http.StatusServiceUnavailable},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{&control.APIError{Op: "movement", Status: 404}, http.StatusBadRequest},
		{&control.APIError{Op: "movement", Status: 503}, http.StatusBadGateway},
		{fmt.Errorf("%w: dial", control.ErrUnavailable), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
