package jsbridge

import (
	"errors"
	"sync/atomic"

	"github.com/dop251/goja"
)

// Promise is a one-shot settlement handle for a JS promise. Native
// asynchronous code holds the handle and eventually calls exactly one of
// Resolve or Reject, from any goroutine; settlement is enqueued onto the
// event loop rather than applied directly, so the VM is never touched off
// its own execution context.
//
// The handle settles at most once: the second and any subsequent calls to
// Resolve or Reject are no-ops that return false. A handle that is never
// settled leaves its promise pending forever; no timeout is imposed here.
type Promise struct {
	rt      *Runtime
	resolve func(result any) error
	reject  func(reason any) error
	settled atomic.Bool
}

// NewPromise constructs a JS promise and synchronously invokes setup with
// the handle that settles it, before returning the promise value. It must
// be called on the event loop, i.e. from inside a native function invoked
// by script, with that invocation's VM.
//
// The setup function typically captures the handle and starts asynchronous
// native work; it may also settle the handle immediately.
func NewPromise(rt *Runtime, vm *goja.Runtime, setup func(p *Promise)) goja.Value {
	promise, resolve, reject := vm.NewPromise()
	p := &Promise{rt: rt, resolve: resolve, reject: reject}
	if setup != nil {
		setup(p)
	}
	return vm.ToValue(promise)
}

// Resolve converts result (a native value) on the event loop and fulfills
// the promise with it. If the conversion fails the promise is rejected
// with the conversion error instead of being fulfilled with a coerced
// value. It reports whether this call settled the handle; false means the
// handle was already settled or the runtime has stopped.
func (p *Promise) Resolve(result any) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	return p.rt.RunOnLoop(func(vm *goja.Runtime) {
		val, err := ToValue(p.rt, vm, result)
		if err != nil {
			p.reject(newErrorValue(vm, err.Error()))
			return
		}
		p.resolve(val)
	})
}

// Reject builds a JS Error from message and rejects the promise with it,
// on the event loop. Same settle-once semantics as Resolve.
func (p *Promise) Reject(message string) bool {
	if !p.settled.CompareAndSwap(false, true) {
		return false
	}
	return p.rt.RunOnLoop(func(vm *goja.Runtime) {
		p.reject(newErrorValue(vm, message))
	})
}

// newErrorValue constructs a proper Error instance so script-side handlers
// see .message and instanceof Error.
func newErrorValue(vm *goja.Runtime, message string) goja.Value {
	if obj, err := vm.New(vm.Get("Error"), vm.ToValue(message)); err == nil {
		return obj
	}
	return vm.NewGoError(errors.New(message))
}
