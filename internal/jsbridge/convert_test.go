package jsbridge

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/iancoleman/orderedmap"
	"github.com/stretchr/testify/require"
)

// onLoop runs fn on the runtime's event loop and fails the test on error.
func onLoop(t *testing.T, rt *Runtime, fn func(vm *goja.Runtime) error) {
	t.Helper()
	require.NoError(t, rt.RunOnLoopSync(fn))
}

func TestToValue_Primitives(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		v, err := ToValue(rt, vm, nil)
		require.NoError(t, err)
		require.True(t, goja.IsNull(v))

		v, err = ToValue(rt, vm, true)
		require.NoError(t, err)
		require.True(t, v.ToBoolean())

		v, err = ToValue(rt, vm, 42)
		require.NoError(t, err)
		require.Equal(t, int64(42), v.ToInteger())

		v, err = ToValue(rt, vm, 1.5)
		require.NoError(t, err)
		require.Equal(t, 1.5, v.ToFloat())

		v, err = ToValue(rt, vm, uint16(7))
		require.NoError(t, err)
		require.Equal(t, int64(7), v.ToInteger())

		v, err = ToValue(rt, vm, "héllo")
		require.NoError(t, err)
		require.Equal(t, "héllo", v.String())
		return nil
	})
}

func TestToValue_Unsupported(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		_, err := ToValue(rt, vm, make(chan int))
		require.ErrorIs(t, err, ErrUnsupportedType)

		var typed *UnsupportedTypeError
		require.ErrorAs(t, err, &typed)
		require.Equal(t, "chan int", typed.TypeName)

		// A supported container holding an unsupported element fails as a
		// whole; no partial conversion.
		_, err = ToValue(rt, vm, []any{1, make(chan int)})
		require.ErrorIs(t, err, ErrUnsupportedType)
		return nil
	})
}

func TestToValue_DictPreservesInsertionOrder(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		dict := orderedmap.New()
		dict.Set("zebra", 1)
		dict.Set("alpha", 2)
		dict.Set("mike", 3)

		obj, err := DictToObject(rt, vm, dict)
		require.NoError(t, err)
		require.Equal(t, []string{"zebra", "alpha", "mike"}, obj.Keys())
		return nil
	})
}

// The dictionary {"a": 1, "b": [true, "x"]} must convert to an object with
// keys a, b in that order, a as number 1 and b as a two-element array.
func TestToValue_NestedDict(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		dict := orderedmap.New()
		dict.Set("a", 1)
		dict.Set("b", []any{true, "x"})

		v, err := ToValue(rt, vm, dict)
		require.NoError(t, err)
		require.NoError(t, vm.Set("converted", v))

		result, err := vm.RunString(`
			(Object.keys(converted).join(",") === "a,b") &&
			(converted.a === 1) &&
			Array.isArray(converted.b) &&
			(converted.b.length === 2) &&
			(converted.b[0] === true) &&
			(converted.b[1] === "x")
		`)
		require.NoError(t, err)
		require.True(t, result.ToBoolean())
		return nil
	})
}

func TestToValue_MapSortsKeys(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		v, err := ToValue(rt, vm, map[string]any{"b": 2, "a": 1, "c": 3})
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c"}, v.(*goja.Object).Keys())
		return nil
	})
}

func TestToValue_EmptyContainers(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		v, err := ToValue(rt, vm, []any{})
		require.NoError(t, err)
		require.Equal(t, int64(0), v.(*goja.Object).Get("length").ToInteger())

		v, err = ToValue(rt, vm, orderedmap.New())
		require.NoError(t, err)
		require.Empty(t, v.(*goja.Object).Keys())
		return nil
	})
}

func TestToNative_Variants(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		val, err := vm.RunString(`({flag: true, count: 3, ratio: 1.25, name: "hi", list: [1, "two"], inner: {x: null}})`)
		require.NoError(t, err)

		native, err := ToNative(rt, vm, val)
		require.NoError(t, err)

		dict, ok := native.(*orderedmap.OrderedMap)
		require.True(t, ok)
		require.Equal(t, []string{"flag", "count", "ratio", "name", "list", "inner"}, dict.Keys())

		flag, _ := dict.Get("flag")
		require.Equal(t, true, flag)
		count, _ := dict.Get("count")
		require.Equal(t, int64(3), count)
		ratio, _ := dict.Get("ratio")
		require.Equal(t, 1.25, ratio)
		name, _ := dict.Get("name")
		require.Equal(t, "hi", name)
		list, _ := dict.Get("list")
		require.Equal(t, []any{int64(1), "two"}, list)

		inner, _ := dict.Get("inner")
		innerDict, ok := inner.(*orderedmap.OrderedMap)
		require.True(t, ok)
		x, present := innerDict.Get("x")
		require.True(t, present)
		require.Nil(t, x)
		return nil
	})
}

func TestToNative_NullAndUndefined(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		for _, v := range []goja.Value{goja.Null(), goja.Undefined(), nil} {
			native, err := ToNative(rt, vm, v)
			require.NoError(t, err)
			require.Nil(t, native)
		}
		return nil
	})
}

func TestToNative_Unsupported(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		for _, src := range []string{"new Date()", "Symbol('s')", "new Map()", "/re/"} {
			val, err := vm.RunString(src)
			require.NoError(t, err)
			_, err = ToNative(rt, vm, val)
			require.ErrorIs(t, err, ErrUnsupportedType, src)
		}
		return nil
	})
}

// Converting native→runtime→native must reproduce the original structure,
// including key and element order.
func TestRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		inner := orderedmap.New()
		inner.Set("x", int64(9))
		original := orderedmap.New()
		original.Set("b", []any{true, "x", nil})
		original.Set("a", int64(1))
		original.Set("s", "text")
		original.Set("nested", inner)

		converted, err := ToValue(rt, vm, original)
		require.NoError(t, err)
		back, err := ToNative(rt, vm, converted)
		require.NoError(t, err)

		require.Equal(t, original, back)
		return nil
	})
}

func TestCallbackToFunction(t *testing.T) {
	rt := newTestRuntime(t)

	var mu sync.Mutex
	var got []any
	cb := Callback(func(args []any) {
		mu.Lock()
		defer mu.Unlock()
		got = args
	})

	onLoop(t, rt, func(vm *goja.Runtime) error {
		require.NoError(t, vm.Set("notify", CallbackToFunction(rt, vm, cb)))
		_, err := vm.RunString(`notify("done", 2, [false])`)
		return err
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []any{"done", int64(2), []any{false}}, got)
}

func TestFunctionToCallback(t *testing.T) {
	rt := newTestRuntime(t)

	var cb Callback
	onLoop(t, rt, func(vm *goja.Runtime) error {
		val, err := vm.RunString(`
			var received = null;
			(function (topic, payload) { received = topic + ":" + payload; })
		`)
		require.NoError(t, err)

		native, err := ToNative(rt, vm, val)
		require.NoError(t, err)
		var ok bool
		cb, ok = native.(Callback)
		require.True(t, ok)
		return nil
	})

	// Invoke from off the event loop, the way a transport goroutine would.
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb([]any{"sensors/a", "17"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not complete")
	}

	val, err := rt.GetGlobal("received")
	require.NoError(t, err)
	require.Equal(t, "sensors/a:17", val)
}

func TestRegisterFunc(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		api := vm.NewObject()
		err := RegisterFunc(vm, api, "greet", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue("hello " + call.Argument(0).String())
		})
		require.NoError(t, err)
		require.NoError(t, vm.Set("api", api))

		result, err := vm.RunString(`api.greet("world")`)
		require.NoError(t, err)
		require.Equal(t, "hello world", result.String())
		return nil
	})
}

func TestCallbackToFunction_BadArgumentThrows(t *testing.T) {
	rt := newTestRuntime(t)
	onLoop(t, rt, func(vm *goja.Runtime) error {
		require.NoError(t, vm.Set("notify", CallbackToFunction(rt, vm, func(args []any) {})))
		_, err := vm.RunString(`notify(new Date())`)
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "unsupported type"), err.Error())
		return nil
	})
}

func TestUnsupportedTypeError_Unwrap(t *testing.T) {
	err := error(&UnsupportedTypeError{TypeName: "Date"})
	require.True(t, errors.Is(err, ErrUnsupportedType))
	require.Equal(t, "jsbridge: unsupported type Date", err.Error())
}
