// Package script renders the page-side shims injected into hosted pages.
//
// Every script is a text/template under js/. Rendered output is compiled
// with goja before it leaves this package, so a template or data error
// surfaces as a Go error instead of a silent SyntaxError inside the page.
package script

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dop251/goja"
)

//go:embed js/*.js.tmpl
var assets embed.FS

var templates = template.Must(
	template.New("shims").Funcs(template.FuncMap{
		"json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}).ParseFS(assets, "js/*.js.tmpl"),
)

// Binding names shared between shims and the host.
const (
	StorageBinding  = "__lobbyStorage"
	MutationBinding = "__lobbyMutation"
)

// CandidateSelector lists the elements stamped by Snapshot.
const CandidateSelector = `button, [role="button"], a, [data-testid], [data-automation-id], [aria-label], [class*="play"]`

// Render executes the named template and syntax-checks the result.
func Render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name+".js.tmpl", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	src := buf.String()
	if err := Check(name, src); err != nil {
		return "", err
	}
	return src, nil
}

// Check compiles src without running it.
func Check(name, src string) error {
	if _, err := goja.Compile(name+".js", src, false); err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	return nil
}

// GamepadShim installs navigator.getGamepads and the __lobbyPad update hook.
func GamepadShim(id string, connected bool, announceDelay time.Duration) (string, error) {
	return Render("gamepad", struct {
		ID              string
		Connected       bool
		AnnounceDelayMS int64
	}{id, connected, announceDelay.Milliseconds()})
}

// GamepadApply pushes a full pad state into an installed shim. state must
// marshal to the shim's {buttons, axes, connected, timestamp} shape.
func GamepadApply(state interface{}) (string, error) {
	return Render("gamepad_apply", struct{ State interface{} }{state})
}

// StorageShim replaces localStorage and sessionStorage with partition-local
// areas whose local writes are mirrored through StorageBinding. The local
// area starts out holding entries, so page scripts that run before
// DOM-ready already see persisted values.
func StorageShim(partition string, entries map[string]string) (string, error) {
	if entries == nil {
		entries = map[string]string{}
	}
	return Render("storage", struct {
		Partition string
		Binding   string
		Entries   map[string]string
	}{partition, StorageBinding, entries})
}

// StorageSeed loads persisted entries into the installed local area
// without overwriting keys the page already wrote.
func StorageSeed(partition string, entries map[string]string) (string, error) {
	if entries == nil {
		entries = map[string]string{}
	}
	return Render("storage_seed", struct {
		Partition string
		Entries   map[string]string
	}{partition, entries})
}

// ViewportOverride is the DOM-level viewport spoof.
func ViewportOverride(width, height int) (string, error) {
	return Render("viewport", struct{ Width, Height int }{width, height})
}

// MutationObserver reports debounced body mutations through MutationBinding.
func MutationObserver(debounce time.Duration) (string, error) {
	return Render("mutations", struct {
		Binding    string
		DebounceMS int64
	}{MutationBinding, debounce.Milliseconds()})
}

// Snapshot stamps candidate elements and returns {html, text}.
func Snapshot() (string, error) {
	return Render("snapshot", struct{ Candidates string }{CandidateSelector})
}

// Click performs a direct element.click() on a stamped handle and
// evaluates to whether the element was found.
func Click(handle string) (string, error) {
	return Render("click", struct{ Handle string }{handle})
}

// Names lists the available templates.
func Names() []string {
	var names []string
	for _, t := range templates.Templates() {
		if n, ok := strings.CutSuffix(t.Name(), ".js.tmpl"); ok {
			names = append(names, n)
		}
	}
	return names
}
