package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/control"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

type fakeControl struct {
	mu       sync.Mutex
	status   map[string]control.ControllerStatus
	statusFn func() error
	fail     map[string]bool
	calls    []string
	// assigned is the id Connect binds; zero leaves the status table alone
	assigned int
	released []*int
}

func (f *fakeControl) record(op, lobby string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+lobby)
	if f.fail[lobby] {
		return &control.APIError{Op: op, Status: 400, Message: "Manette non connectée"}
	}
	return nil
}

func (f *fakeControl) AllControllerStatus(context.Context) (*control.AllStatus, error) {
	if f.statusFn != nil {
		if err := f.statusFn(); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := &control.AllStatus{Controllers: map[string]control.ControllerStatus{}}
	for k, v := range f.status {
		all.Controllers[k] = v
	}
	return all, nil
}

func (f *fakeControl) Connect(_ context.Context, lobby string) (*control.Result, error) {
	if err := f.record("connect", lobby); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assigned != 0 {
		if f.status == nil {
			f.status = map[string]control.ControllerStatus{}
		}
		f.status[lobby] = control.ControllerStatus{Connected: true, ControllerID: f.assigned}
	}
	return &control.Result{Success: true}, nil
}

func (f *fakeControl) Disconnect(_ context.Context, lobby string, id *int) (*control.Result, error) {
	f.mu.Lock()
	f.released = append(f.released, id)
	f.mu.Unlock()
	return &control.Result{Success: true}, f.record("disconnect", lobby)
}

func (f *fakeControl) SetMovement(_ context.Context, lobby string, _ int, _ bool) (*control.Result, error) {
	return &control.Result{Success: true}, f.record("movement", lobby)
}

func (f *fakeControl) SetAntiAFK(_ context.Context, lobby string, _ int, _ bool) (*control.Result, error) {
	return &control.Result{Success: true}, f.record("anti_afk", lobby)
}

func (f *fakeControl) SelectClass(_ context.Context, lobby string, _ int) (*control.Result, error) {
	return &control.Result{Success: true}, f.record("select_class", lobby)
}

func newRegistry(t *testing.T, fc *fakeControl) *Registry {
	t.Helper()
	r := New(Config{Client: fc, Scheduler: scheduler.NewManual(time.Unix(0, 0))})
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func threeLobbies() *fakeControl {
	return &fakeControl{status: map[string]control.ControllerStatus{
		"lobby1": {Connected: true, ControllerID: 1},
		"lobby2": {Connected: true, ControllerID: 2},
		"lobby3": {Connected: false, ControllerID: 3},
	}}
}

func TestRefreshAndConnected(t *testing.T) {
	r := newRegistry(t, threeLobbies())

	connected := r.Connected()
	require.Len(t, connected, 2)
	assert.Equal(t, "lobby1", connected[0].LobbyID)
	assert.Equal(t, 2, connected[1].ControllerID)

	snap := r.Snapshot()
	assert.Equal(t, 2, snap.ConnectedCount)
	assert.Len(t, snap.Controllers, 3)
	assert.False(t, snap.LastRefresh.IsZero())
}

func TestRefreshFailureKeepsTable(t *testing.T) {
	fc := threeLobbies()
	r := newRegistry(t, fc)

	fc.statusFn = func() error { return control.ErrUnavailable }
	assert.ErrorIs(t, r.Refresh(context.Background()), control.ErrUnavailable)

	snap := r.Snapshot()
	assert.Len(t, snap.Controllers, 3)
	assert.NotEmpty(t, snap.LastError)
}

func TestToggleMovementCountsSuccesses(t *testing.T) {
	fc := threeLobbies()
	fc.fail = map[string]bool{"lobby2": true}
	r := newRegistry(t, fc)

	sum, err := r.ToggleMovement(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Success)
	assert.Equal(t, 2, sum.Total)
	require.NotNil(t, sum.Enabled)
	assert.True(t, *sum.Enabled)
	assert.Contains(t, sum.Failures, "lobby2")
	assert.Equal(t, "movement enabled on 1/2 controller(s)", sum.Message())

	snap := r.Snapshot()
	assert.True(t, snap.MovementEnabled)
	assert.True(t, snap.Controllers["lobby1"].MovementEnabled)
	assert.False(t, snap.Controllers["lobby2"].MovementEnabled)

	sum, err = r.ToggleMovement(context.Background())
	require.NoError(t, err)
	assert.False(t, *sum.Enabled)
}

func TestToggleKeepsFlagWhenEverythingFails(t *testing.T) {
	fc := threeLobbies()
	fc.fail = map[string]bool{"lobby1": true, "lobby2": true}
	r := newRegistry(t, fc)

	sum, err := r.ToggleAntiAFK(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Success)
	assert.False(t, r.Snapshot().AntiAFKEnabled)
}

func TestFanOutWithoutControllers(t *testing.T) {
	r := newRegistry(t, &fakeControl{})
	_, err := r.SelectClass(context.Background())
	assert.ErrorIs(t, err, ErrNoControllers)
}

func TestSelectClassSkipsDisconnected(t *testing.T) {
	fc := threeLobbies()
	r := newRegistry(t, fc)

	sum, err := r.SelectClass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Success)
	assert.Nil(t, sum.Enabled)
	assert.ElementsMatch(t, []string{"select_class:lobby1", "select_class:lobby2"}, fc.calls)
}

func TestSingleLobbyActions(t *testing.T) {
	fc := threeLobbies()
	r := newRegistry(t, fc)

	require.NoError(t, r.SetAntiAFK(context.Background(), "lobby1", true))
	assert.True(t, r.Snapshot().Controllers["lobby1"].AntiAFKEnabled)

	err := r.SetMovement(context.Background(), "lobby3", true)
	assert.ErrorIs(t, err, ErrUnknownLobby)

	fc.fail = map[string]bool{"lobby2": true}
	err = r.SetMovement(context.Background(), "lobby2", true)
	var apiErr *control.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.False(t, r.Snapshot().Controllers["lobby2"].MovementEnabled)
}

func TestAssignAndRelease(t *testing.T) {
	fc := &fakeControl{assigned: 7}
	r := newRegistry(t, fc)

	require.NoError(t, r.Assign(context.Background(), "lobby_a"))
	require.Len(t, r.Connected(), 1)
	assert.Equal(t, 7, r.Connected()[0].ControllerID)

	require.NoError(t, r.Release(context.Background(), "lobby_a"))
	assert.Empty(t, r.Connected())
	require.NoError(t, r.Release(context.Background(), "lobby_a"), "releasing twice is a no-op")
	assert.Equal(t, []string{"connect:lobby_a", "disconnect:lobby_a"}, fc.calls)
	require.Len(t, fc.released, 1)
	require.NotNil(t, fc.released[0])
	assert.Equal(t, 7, *fc.released[0])
}

func TestReleaseBeforeIDIsKnownNamesOnlyLobby(t *testing.T) {
	fc := &fakeControl{assigned: 7}
	r := newRegistry(t, fc)
	fc.statusFn = func() error { return errors.New("control server unreachable") }

	require.NoError(t, r.Assign(context.Background(), "lobby_a"))
	assert.Empty(t, r.Connected(), "not listed until a refresh reports it")

	require.NoError(t, r.Release(context.Background(), "lobby_a"))
	assert.Equal(t, []string{"connect:lobby_a", "disconnect:lobby_a"}, fc.calls)
	require.Len(t, fc.released, 1)
	assert.Nil(t, fc.released[0], "controller_id 0 is never sent")

	require.NoError(t, r.Release(context.Background(), "lobby_a"))
	assert.Len(t, fc.released, 1)
}

func TestPeriodicRefresh(t *testing.T) {
	fc := threeLobbies()
	var mu sync.Mutex
	refreshed := 0
	fc.statusFn = func() error {
		mu.Lock()
		refreshed++
		mu.Unlock()
		return nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return refreshed
	}
	sched := scheduler.NewManual(time.Unix(0, 0))
	r := New(Config{Client: fc, Scheduler: sched, Interval: 30 * time.Second})

	r.Start(context.Background())
	sched.Flush()
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		sched.Advance(30 * time.Second)
		return count() >= 2
	}, time.Second, 10*time.Millisecond)

	r.Stop()
	assert.Zero(t, sched.Pending("controllers"))
}
