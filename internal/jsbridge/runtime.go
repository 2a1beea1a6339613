// Package jsbridge bridges native Go values and asynchronous native
// completions into an embedded goja JavaScript runtime.
//
// It has three parts: a Runtime wrapper that owns the goja_nodejs event
// loop (the runtime's single execution context), a bidirectional value
// converter (convert.go), and a promise bridge that lets native code settle
// a JavaScript promise exactly once from any goroutine (promise.go).
package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PrinceK001/d11-react-native-mqtt/internal/goroutineid"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// ErrLoopStopped is returned when an operation is attempted against a
// runtime whose event loop is no longer running.
var ErrLoopStopped = errors.New("jsbridge: event loop not running")

// DefaultSyncTimeout bounds how long RunOnLoopSync waits for the loop to
// execute a job before giving up.
const DefaultSyncTimeout = 5 * time.Second

// Runtime owns a goja VM and the event loop that serializes all access to
// it. goja.Runtime is not goroutine-safe: every touch of the VM, including
// value conversion and promise settlement, must happen inside a RunOnLoop
// callback. The Runtime is the only component that hands out the VM.
type Runtime struct {
	loop     *eventloop.EventLoop
	registry *require.Registry
	timeout  time.Duration

	// loopGoroutineID is captured once at startup; TryRunOnLoopSync uses
	// it to detect reentrant calls from the loop goroutine itself.
	loopGoroutineID atomic.Int64

	mu      sync.RWMutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Runtime during construction.
type Option func(*Runtime)

// WithRegistry shares an existing require.Registry instead of creating a
// fresh one. Module registrations must happen before any script that
// requires them runs.
func WithRegistry(registry *require.Registry) Option {
	return func(rt *Runtime) { rt.registry = registry }
}

// WithSyncTimeout overrides DefaultSyncTimeout. Zero disables the timeout.
func WithSyncTimeout(d time.Duration) Option {
	return func(rt *Runtime) { rt.timeout = d }
}

// New creates a Runtime and starts its event loop. The loop keeps running
// until Close is called or ctx is canceled.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	lifecycle, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		timeout: DefaultSyncTimeout,
		ctx:     lifecycle,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.registry == nil {
		rt.registry = require.NewRegistry()
	}

	rt.loop = eventloop.NewEventLoop(
		eventloop.WithRegistry(rt.registry),
		eventloop.EnableConsole(true),
	)
	rt.loop.Start()
	rt.mu.Lock()
	rt.running = true
	rt.mu.Unlock()

	startup := make(chan struct{})
	if !rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		rt.loopGoroutineID.Store(goroutineid.Get())
		close(startup)
	}) {
		cancel()
		rt.loop.Stop()
		return nil, ErrLoopStopped
	}
	<-startup

	if ctx.Done() != nil {
		context.AfterFunc(ctx, func() { _ = rt.Close() })
	}

	return rt, nil
}

// Registry returns the require.Registry used for native module
// registration.
func (rt *Runtime) Registry() *require.Registry {
	return rt.registry
}

// Close stops the event loop after pending jobs drain. It is safe to call
// multiple times.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if !rt.running {
		rt.mu.Unlock()
		return nil
	}
	rt.running = false
	rt.mu.Unlock()

	// Cancel before stopping so goroutines blocked on Done() unwind first.
	rt.cancel()
	rt.loop.Stop()
	return nil
}

// Done returns a channel closed when the runtime has been stopped.
func (rt *Runtime) Done() <-chan struct{} {
	return rt.ctx.Done()
}

// IsRunning reports whether the event loop is still accepting jobs.
func (rt *Runtime) IsRunning() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.running
}

// RunOnLoop schedules fn on the event loop goroutine and returns
// immediately. It reports whether the job was accepted.
func (rt *Runtime) RunOnLoop(fn func(vm *goja.Runtime)) bool {
	if !rt.IsRunning() {
		return false
	}
	return rt.loop.RunOnLoop(fn)
}

// RunOnLoopSync schedules fn on the event loop and waits for it to finish,
// honoring the configured sync timeout and runtime shutdown.
func (rt *Runtime) RunOnLoopSync(fn func(vm *goja.Runtime) error) error {
	rt.mu.RLock()
	running, timeout := rt.running, rt.timeout
	rt.mu.RUnlock()
	if !running {
		return ErrLoopStopped
	}

	errCh := make(chan error, 1)
	if !rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- fn(vm)
	}) {
		return ErrLoopStopped
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case err := <-errCh:
		return err
	case <-rt.Done():
		return fmt.Errorf("jsbridge: runtime stopped before job completed: %w", ErrLoopStopped)
	case <-expired:
		return fmt.Errorf("jsbridge: loop job timed out after %v", timeout)
	}
}

// TryRunOnLoopSync runs fn on the event loop, executing it directly when
// the caller is already on the loop goroutine. currentVM must be the VM
// handed to the enclosing loop callback (nil when calling from elsewhere).
// Reentrant execution is what lets JS-invoked native code call back into
// the VM without deadlocking.
func (rt *Runtime) TryRunOnLoopSync(currentVM *goja.Runtime, fn func(vm *goja.Runtime) error) error {
	if !rt.IsRunning() {
		return ErrLoopStopped
	}
	if id := rt.loopGoroutineID.Load(); id > 0 && id == goroutineid.Get() {
		return fn(currentVM)
	}
	return rt.RunOnLoopSync(fn)
}

// LoadScript compiles and runs a script on the event loop.
func (rt *Runtime) LoadScript(name, code string) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		prg, err := goja.Compile(name, code, true)
		if err != nil {
			return fmt.Errorf("jsbridge: compile %s: %w", name, err)
		}
		if _, err := vm.RunProgram(prg); err != nil {
			return fmt.Errorf("jsbridge: run %s: %w", name, err)
		}
		return nil
	})
}

// SetGlobal sets a global variable on the VM.
func (rt *Runtime) SetGlobal(name string, value any) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		return vm.Set(name, value)
	})
}

// GetGlobal returns the exported value of a global variable, or nil when
// it is absent, undefined, or null.
func (rt *Runtime) GetGlobal(name string) (any, error) {
	var result any
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		val := vm.Get(name)
		if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
			return nil
		}
		result = val.Export()
		return nil
	})
	return result, err
}

// GetCallable returns a global function as a goja.Callable. The returned
// callable must only be invoked on the event loop.
func (rt *Runtime) GetCallable(name string) (goja.Callable, error) {
	var result goja.Callable
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		val := vm.Get(name)
		if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
			return fmt.Errorf("jsbridge: global %q not found", name)
		}
		fn, ok := goja.AssertFunction(val)
		if !ok {
			return fmt.Errorf("jsbridge: global %q is not callable", name)
		}
		result = fn
		return nil
	})
	return result, err
}
