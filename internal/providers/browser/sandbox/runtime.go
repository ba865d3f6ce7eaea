package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("sandbox closed")

// Runtime is a goja VM dressed up as a single page. It is used to run the
// page shims outside a real browser.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex

	console   []LogEntry
	consoleMu sync.Mutex

	bindings map[string]func(payload string)
}

// New creates a sandboxed page runtime
func New(config Config) (*Runtime, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.ScreenWidth <= 0 || config.ScreenHeight <= 0 {
		config.ScreenWidth, config.ScreenHeight = DefaultConfig().ScreenWidth, DefaultConfig().ScreenHeight
	}

	r := &Runtime{
		config:   config,
		bindings: make(map[string]func(string)),
	}
	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// Execute runs a script with timeout and context cancellation
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}

	start := time.Now()
	mark := r.consoleLen()

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()
	stop := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-timer.C:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-stop:
		}
	}()

	val, err := r.vm.RunString(script)
	close(stop)
	<-watcher
	r.vm.ClearInterrupt()

	result := &Result{
		Duration: time.Since(start),
		Console:  r.consoleSince(mark),
	}
	if err != nil {
		result.Error = err
		return result, err
	}
	result.Value = exportValue(val)
	return result, nil
}

// Eval runs expr and returns its exported value.
func (r *Runtime) Eval(ctx context.Context, expr string) (interface{}, error) {
	res, err := r.Execute(ctx, expr)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// ExposeBinding installs a global function that forwards its first
// argument to fn, the way a devtools binding reaches the host.
func (r *Runtime) ExposeBinding(name string, fn func(payload string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return ErrClosed
	}
	r.bindings[name] = fn
	return r.installBinding(name, fn)
}

func (r *Runtime) installBinding(name string, fn func(string)) error {
	return r.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		payload := ""
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			payload = call.Argument(0).String()
		}
		fn(payload)
		return goja.Undefined()
	})
}

// Advance moves the page's virtual timer clock forward.
func (r *Runtime) Advance(d time.Duration) error {
	_, err := r.call("__sandbox.advance", d.Milliseconds())
	return err
}

// Mutate notifies every attached MutationObserver.
func (r *Runtime) Mutate() error {
	_, err := r.call("__sandbox.mutate")
	return err
}

// Events returns the types of all events dispatched on window so far.
func (r *Runtime) Events() []string {
	v, err := r.call("__sandbox.events.slice")
	if err != nil {
		return nil
	}
	var out []string
	if arr, ok := v.([]interface{}); ok {
		for _, e := range arr {
			out = append(out, fmt.Sprint(e))
		}
	}
	return out
}

// PendingTimers counts scheduled page timers.
func (r *Runtime) PendingTimers() int {
	v, err := r.call("__sandbox.timers.slice")
	if err != nil {
		return 0
	}
	arr, _ := v.([]interface{})
	return len(arr)
}

func (r *Runtime) call(path string, args ...interface{}) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}

	parts := strings.Split(path, ".")
	var this goja.Value = r.vm.GlobalObject()
	target := this
	for _, p := range parts {
		obj := target.ToObject(r.vm)
		this = obj
		target = obj.Get(p)
		if target == nil || goja.IsUndefined(target) {
			return nil, fmt.Errorf("%s is undefined", path)
		}
	}
	fn, ok := goja.AssertFunction(target)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", path)
	}

	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = r.vm.ToValue(a)
	}
	v, err := fn(this, vals...)
	if err != nil {
		return nil, err
	}
	return exportValue(v), nil
}

// Console returns all captured console output
func (r *Runtime) Console() []LogEntry {
	return r.consoleSince(0)
}

func (r *Runtime) setupGlobals() error {
	vm := goja.New()

	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	console := vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		console.Set(level, r.makeConsoleFunc(level))
	}
	vm.Set("console", console)

	vm.Set("__config", map[string]interface{}{
		"userAgent":    r.config.UserAgent,
		"screenWidth":  r.config.ScreenWidth,
		"screenHeight": r.config.ScreenHeight,
	})
	if _, err := vm.RunString(prelude); err != nil {
		return fmt.Errorf("failed to install page prelude: %w", err)
	}

	r.vm = vm
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.installBinding(name, r.bindings[name]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()
		return goja.Undefined()
	}
}

func (r *Runtime) consoleLen() int {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return len(r.console)
}

func (r *Runtime) consoleSince(mark int) []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	if mark > len(r.console) {
		return nil
	}
	return append([]LogEntry{}, r.console[mark:]...)
}

func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// Reset replaces the page with a fresh document, the way a reload does.
// Exposed bindings survive; page state and timers do not.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return ErrClosed
	}
	r.consoleMu.Lock()
	r.console = nil
	r.consoleMu.Unlock()
	return r.setupGlobals()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.console = nil
	return nil
}
