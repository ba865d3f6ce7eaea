/*
Package sandbox runs page scripts in a goja VM that imitates a browser page.

The prelude provides just enough of a page for the injected shims:
window events, virtual setTimeout/setInterval driven by Advance, a
MutationObserver triggered by Mutate, navigator, screen, a minimal document
with head/body and viewport meta lookup, plus default storage areas.
Bindings exposed with ExposeBinding behave like devtools bindings: page
code calls window[name](payload) and the host callback receives payload.

The fake render surface used in tests executes every injected script here,
so shim behavior is checked end to end without a browser.

	rt, _ := sandbox.New(sandbox.DefaultConfig())
	rt.ExposeBinding("__lobbyStorage", func(p string) { ... })
	rt.Execute(ctx, shim)
	rt.Advance(time.Second)
*/
package sandbox
