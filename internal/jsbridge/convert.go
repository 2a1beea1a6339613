package jsbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strconv"

	"github.com/dop251/goja"
	"github.com/iancoleman/orderedmap"
)

// Callback is the native completion-callback shape: a function the native
// side can invoke with a list of native values. Converting a JS function
// produces a Callback that marshals its arguments back onto the event loop,
// so it is safe to invoke from any goroutine.
type Callback func(args []any)

// ErrUnsupportedType is the sentinel wrapped by every conversion failure
// caused by a value outside the supported variant set.
var ErrUnsupportedType = errors.New("jsbridge: unsupported type")

// UnsupportedTypeError reports the Go type or JS class that could not be
// converted. Conversion never coerces unknown values to null; the whole
// structure either converts or fails.
type UnsupportedTypeError struct {
	// TypeName is the offending Go type (e.g. "chan int") or JS class
	// name (e.g. "Date").
	TypeName string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("jsbridge: unsupported type %s", e.TypeName)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrUnsupportedType }

// ToValue converts a native value into a runtime value. Must be called on
// the event loop. Supported variants: nil, bool, all integer and float
// kinds, string, []any, *orderedmap.OrderedMap, map[string]any (keys
// sorted, since Go maps carry no order), Callback, and goja.Value
// passthrough. Arrays and dictionaries convert recursively, preserving
// element and insertion-key order.
func ToValue(rt *Runtime, vm *goja.Runtime, native any) (goja.Value, error) {
	switch v := native.(type) {
	case nil:
		return goja.Null(), nil
	case goja.Value:
		return v, nil
	case bool:
		return vm.ToValue(v), nil
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return vm.ToValue(v), nil
	case string:
		return vm.ToValue(v), nil
	case []any:
		return SliceToArray(rt, vm, v)
	case *orderedmap.OrderedMap:
		return DictToObject(rt, vm, v)
	case map[string]any:
		return mapToObject(rt, vm, v)
	case Callback:
		return CallbackToFunction(rt, vm, v), nil
	default:
		return nil, &UnsupportedTypeError{TypeName: fmt.Sprintf("%T", native)}
	}
}

// SliceToArray converts a native slice into a JS array, element order
// preserved. An empty slice yields an empty array.
func SliceToArray(rt *Runtime, vm *goja.Runtime, s []any) (goja.Value, error) {
	vals, err := SliceToValues(rt, vm, s)
	if err != nil {
		return nil, err
	}
	items := make([]any, len(vals))
	for i, v := range vals {
		items[i] = v
	}
	return vm.NewArray(items...), nil
}

// SliceToValues converts each element of a native slice into a runtime
// value, for use as call arguments.
func SliceToValues(rt *Runtime, vm *goja.Runtime, s []any) ([]goja.Value, error) {
	vals := make([]goja.Value, len(s))
	for i, elem := range s {
		v, err := ToValue(rt, vm, elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// DictToObject converts an ordered dictionary into a plain JS object. Keys
// are assigned in the dictionary's insertion order, which goja preserves
// for string-keyed properties.
func DictToObject(rt *Runtime, vm *goja.Runtime, d *orderedmap.OrderedMap) (*goja.Object, error) {
	obj := vm.NewObject()
	for _, key := range d.Keys() {
		raw, _ := d.Get(key)
		v, err := ToValue(rt, vm, raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if err := obj.Set(key, v); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
	}
	return obj, nil
}

func mapToObject(rt *Runtime, vm *goja.Runtime, m map[string]any) (*goja.Object, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj := vm.NewObject()
	for _, key := range keys {
		v, err := ToValue(rt, vm, m[key])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if err := obj.Set(key, v); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
	}
	return obj, nil
}

// CallbackToFunction wraps a native callback as a JS-invocable function.
// Arguments passed from JS are converted to native values before the
// callback runs; a conversion failure is thrown into the calling script.
func CallbackToFunction(rt *Runtime, vm *goja.Runtime, cb Callback) goja.Value {
	return vm.ToValue(func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			native, err := ToNative(rt, vm, arg)
			if err != nil {
				panic(vm.NewGoError(fmt.Errorf("callback argument %d: %w", i, err)))
			}
			args[i] = native
		}
		cb(args)
		return goja.Undefined()
	})
}

// ToNative converts a runtime value into a native value. Must be called on
// the event loop. undefined and null map to nil; booleans, numbers, and
// strings map to bool, int64/float64, and string; arrays map to []any in
// index order; functions map to Callback; plain objects map to
// *orderedmap.OrderedMap in the object's own enumerable key order. Any
// other class (Date, Symbol, Map, ...) yields an UnsupportedTypeError.
func ToNative(rt *Runtime, vm *goja.Runtime, v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	if fn, ok := goja.AssertFunction(v); ok {
		return FunctionToCallback(rt, vm, fn), nil
	}

	if t := v.ExportType(); t != nil {
		switch t.Kind() {
		case reflect.Bool:
			return v.ToBoolean(), nil
		case reflect.Int64:
			return v.ToInteger(), nil
		case reflect.Float64:
			return v.ToFloat(), nil
		case reflect.String:
			return v.String(), nil
		}
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, &UnsupportedTypeError{TypeName: v.String()}
	}
	switch obj.ClassName() {
	case "Array":
		return ArrayToSlice(rt, vm, obj)
	case "Object":
		return ObjectToDict(rt, vm, obj)
	default:
		return nil, &UnsupportedTypeError{TypeName: obj.ClassName()}
	}
}

// ArrayToSlice converts a JS array into a []any, index order preserved and
// elements converted recursively.
func ArrayToSlice(rt *Runtime, vm *goja.Runtime, arr *goja.Object) ([]any, error) {
	length := arr.Get("length").ToInteger()
	out := make([]any, 0, length)
	for i := int64(0); i < length; i++ {
		elem, err := ToNative(rt, vm, arr.Get(strconv.FormatInt(i, 10)))
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out = append(out, elem)
	}
	return out, nil
}

// ObjectToDict converts a plain JS object into an ordered dictionary,
// iterating the object's own enumerable keys in insertion order.
func ObjectToDict(rt *Runtime, vm *goja.Runtime, obj *goja.Object) (*orderedmap.OrderedMap, error) {
	dict := orderedmap.New()
	for _, key := range obj.Keys() {
		val, err := ToNative(rt, vm, obj.Get(key))
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		dict.Set(key, val)
	}
	return dict, nil
}

// FunctionToCallback wraps a JS function as a native callback. The
// returned Callback may be invoked from any goroutine: the call is
// marshaled onto the event loop (or run directly when already on it) and
// the function is applied to the converted arguments. Failures inside the
// function are logged rather than propagated, matching fire-and-forget
// completion-callback semantics.
func FunctionToCallback(rt *Runtime, vm *goja.Runtime, fn goja.Callable) Callback {
	return func(args []any) {
		err := rt.TryRunOnLoopSync(vm, func(vm *goja.Runtime) error {
			jsArgs, err := SliceToValues(rt, vm, args)
			if err != nil {
				return err
			}
			_, err = fn(goja.Undefined(), jsArgs...)
			return err
		})
		if err != nil {
			slog.Warn("jsbridge: callback invocation failed", "error", err)
		}
	}
}

// RegisterFunc binds fn as a named method on obj. It is the helper native
// modules use to assemble their exported API objects.
func RegisterFunc(vm *goja.Runtime, obj *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) error {
	if err := obj.Set(name, vm.ToValue(fn)); err != nil {
		return fmt.Errorf("jsbridge: register %q: %w", name, err)
	}
	return nil
}
