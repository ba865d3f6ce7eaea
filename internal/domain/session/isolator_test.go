package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/script"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/surfacetest"
)

const (
	partA = "persist:lobby_01JB000000000000000000000A"
	partB = "persist:lobby_01JB000000000000000000000B"
	partC = "persist:lobby_01JB000000000000000000000C"
	partD = "persist:lobby_01JB000000000000000000000D"
)

func namespace(t *testing.T, iso *Isolator, partition string) *Namespace {
	t.Helper()
	ns, err := iso.Namespace(partition)
	require.NoError(t, err)
	return ns
}

func TestNamespacedKey(t *testing.T) {
	assert.Equal(t, partA+"_token", NamespacedKey(partA, "token"))
}

func TestNamespacesAreIsolated(t *testing.T) {
	iso := NewIsolator(nil, nil)
	a, b := namespace(t, iso, partA), namespace(t, iso, partB)

	a.SetItem(AreaLocal, "token", "a")
	_, ok := b.GetItem(AreaLocal, "token")
	assert.False(t, ok)

	b.SetItem(AreaLocal, "token", "b")
	v, _ := a.GetItem(AreaLocal, "token")
	assert.Equal(t, "a", v)

	a.SetItem(AreaSession, "tab", "1")
	_, ok = b.GetItem(AreaSession, "tab")
	assert.False(t, ok)
	_, ok = a.GetItem(AreaLocal, "tab")
	assert.False(t, ok, "areas are separate")
}

func TestConcurrentSameKeyWrites(t *testing.T) {
	iso := NewIsolator(NewMemorySubstrate(), nil)
	parts := []string{partA, partB, partC, partD}

	var wg sync.WaitGroup
	for _, p := range parts {
		ns := namespace(t, iso, p)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(ns *Namespace) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					ns.SetItem(AreaLocal, "shared", ns.Partition())
					v, ok := ns.GetItem(AreaLocal, "shared")
					assert.True(t, ok)
					assert.Equal(t, ns.Partition(), v)
				}
			}(ns)
		}
	}
	wg.Wait()

	for _, p := range parts {
		v, ok := iso.Substrate().Get(NamespacedKey(p, "shared"))
		require.True(t, ok)
		assert.Equal(t, p, v)
	}
}

func TestClearOnlyTouchesOwnPartition(t *testing.T) {
	sub := NewMemorySubstrate()
	iso := NewIsolator(sub, nil)
	a, b := namespace(t, iso, partA), namespace(t, iso, partB)

	for i := 0; i < 3; i++ {
		a.SetItem(AreaLocal, fmt.Sprintf("k%d", i), "a")
		b.SetItem(AreaLocal, fmt.Sprintf("k%d", i), "b")
	}
	// written by an earlier document and never read back
	sub.Set(NamespacedKey(partA, "old"), "a")

	assert.Equal(t, 4, a.Clear(AreaLocal))
	assert.Zero(t, a.Len(AreaLocal))
	assert.Equal(t, 3, b.Len(AreaLocal))
	assert.Equal(t, 3, sub.Len())
	assert.Equal(t, []string{"k0", "k1", "k2"}, b.Keys(AreaLocal))
}

func TestLocalEntriesOutliveDocument(t *testing.T) {
	iso := NewIsolator(nil, nil)
	ns := namespace(t, iso, partA)
	ns.SetItem(AreaLocal, "token", "t")
	ns.SetItem(AreaSession, "tab", "1")

	iso.Reset(partA)

	v, ok := ns.GetItem(AreaLocal, "token")
	assert.True(t, ok)
	assert.Equal(t, "t", v)
	_, ok = ns.GetItem(AreaSession, "tab")
	assert.False(t, ok)

	iso.Release(partA)
	assert.Zero(t, iso.Len())
	v, _ = namespace(t, iso, partA).GetItem(AreaLocal, "token")
	assert.Equal(t, "t", v)

	n, err := iso.Wipe(partA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok = namespace(t, iso, partA).GetItem(AreaLocal, "token")
	assert.False(t, ok)
}

func TestHandleBinding(t *testing.T) {
	iso := NewIsolator(nil, nil)

	require.NoError(t, iso.HandleBinding(partA, fmt.Sprintf(`{"partition":%q,"op":"set","key":"k","value":"v"}`, partA)))
	v, ok := namespace(t, iso, partA).GetItem(AreaLocal, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, iso.HandleBinding(partA, fmt.Sprintf(`{"partition":%q,"op":"remove","key":"k","value":null}`, partA)))
	_, ok = namespace(t, iso, partA).GetItem(AreaLocal, "k")
	assert.False(t, ok)

	err := iso.HandleBinding(partA, fmt.Sprintf(`{"partition":%q,"op":"set","key":"k","value":"x"}`, partB))
	assert.ErrorIs(t, err, ErrPartitionMismatch)
	_, ok = namespace(t, iso, partB).GetItem(AreaLocal, "k")
	assert.False(t, ok)

	assert.ErrorIs(t, iso.HandleBinding(partA, fmt.Sprintf(`{"partition":%q,"op":"drop"}`, partA)), ErrUnknownOp)
	assert.Error(t, iso.HandleBinding(partA, `not json`))
}

func TestAttachMirrorsPageWrites(t *testing.T) {
	ctx := context.Background()
	iso := NewIsolator(nil, nil)
	namespace(t, iso, partA).SetItem(AreaLocal, "saved", "1")

	surface := surfacetest.New("lobby_A", partA)
	defer surface.Close()
	surface.Listen(func(ev browser.Event) {
		if ev.Type == browser.EventBinding && ev.Name == script.StorageBinding {
			assert.NoError(t, iso.HandleBinding(partA, ev.Payload))
		}
	})

	require.NoError(t, iso.Attach(ctx, surface, partA))
	assert.True(t, surface.HasBinding(script.StorageBinding))

	v, err := surface.Page().Eval(ctx, `localStorage.getItem("saved")`)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = surface.Page().Execute(ctx, `localStorage.setItem("token", "abc"); sessionStorage.setItem("tab", "x")`)
	require.NoError(t, err)

	v2, ok := namespace(t, iso, partA).GetItem(AreaLocal, "token")
	require.True(t, ok)
	assert.Equal(t, "abc", v2)
	_, ok = namespace(t, iso, partA).GetItem(AreaLocal, "tab")
	assert.False(t, ok, "session area is not mirrored")
}

func TestAttachSurvivesReload(t *testing.T) {
	ctx := context.Background()
	iso := NewIsolator(nil, nil)
	surface := surfacetest.New("lobby_A", partA)
	defer surface.Close()
	surface.Listen(func(ev browser.Event) {
		if ev.Type == browser.EventBinding {
			_ = iso.HandleBinding(partA, ev.Payload)
		}
	})

	require.NoError(t, iso.Preload(ctx, surface, partA))
	require.NoError(t, surface.Navigate(ctx, "https://example.test/play"))
	require.NoError(t, iso.Attach(ctx, surface, partA))

	_, err := surface.Page().Execute(ctx, `localStorage.setItem("token", "abc")`)
	require.NoError(t, err)

	iso.Reset(partA)
	require.NoError(t, iso.Preload(ctx, surface, partA))
	require.NoError(t, surface.Reload(ctx))
	require.NoError(t, iso.Attach(ctx, surface, partA))

	v, err := surface.Page().Eval(ctx, `localStorage.getItem("token")`)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	assert.Len(t, surface.Preloads(), 1, "the shim is replaced, not stacked")
}

func TestEarlyScriptsSeePersistedEntries(t *testing.T) {
	ctx := context.Background()
	iso := NewIsolator(nil, nil)
	surface := surfacetest.New("lobby_A", partA)
	defer surface.Close()
	surface.Listen(func(ev browser.Event) {
		if ev.Type == browser.EventBinding {
			_ = iso.HandleBinding(partA, ev.Payload)
		}
	})

	require.NoError(t, iso.Preload(ctx, surface, partA))
	require.NoError(t, surface.Navigate(ctx, "https://example.test/play"))
	_, err := surface.Page().Execute(ctx, `localStorage.setItem("token", "abc")`)
	require.NoError(t, err)

	// reload and run a page script before DOM-ready attach
	iso.Reset(partA)
	require.NoError(t, iso.Preload(ctx, surface, partA))
	require.NoError(t, surface.Reload(ctx))
	v, err := surface.Page().Eval(ctx, `(function () {
		var saved = localStorage.getItem("token");
		if (saved === null) {
			localStorage.setItem("token", "fresh");
		}
		return saved;
	})()`)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	stored, ok := namespace(t, iso, partA).GetItem(AreaLocal, "token")
	require.True(t, ok)
	assert.Equal(t, "abc", stored)
}

func TestPartitionsMustBeInstanceKeys(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, ValidatePartition(partA))
	for _, p := range []string{"", "a", "a_b", "persist:", "persist:lobby_A", partA + "_b", "memory:lobby_01JB000000000000000000000A"} {
		assert.ErrorIs(t, ValidatePartition(p), ErrInvalidPartition, p)
	}

	iso := NewIsolator(nil, nil)
	_, err := iso.Namespace("a")
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = iso.Wipe("a")
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = iso.Shim("a")
	assert.ErrorIs(t, err, ErrInvalidPartition)

	surface := surfacetest.New("a", "a")
	defer surface.Close()
	assert.ErrorIs(t, iso.Attach(ctx, surface, "a"), ErrInvalidPartition)
	assert.ErrorIs(t, iso.Preload(ctx, surface, "a"), ErrInvalidPartition)
	assert.ErrorIs(t, iso.HandleBinding("a", `{"partition":"a","op":"clear"}`), ErrInvalidPartition)
	assert.Zero(t, iso.Len())
}

func TestParseArea(t *testing.T) {
	a, err := ParseArea("session")
	require.NoError(t, err)
	assert.Equal(t, AreaSession, a)
	_, err = ParseArea("cookies")
	assert.Error(t, err)
}
