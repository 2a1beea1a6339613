// Package mqtt is the native module that exposes MQTT to scripts, wired
// through the jsbridge converter and promise bridge. It is registered as
// "mqtt:client".
//
// JS surface:
//
//	const { createClient } = require("mqtt:client");
//	const client = createClient({ brokerUrl: "tcp://host:1883" });
//	client.connect()                      // Promise<{clientId}>
//	client.publish(topic, payload, opts)  // Promise<null>
//	client.subscribe(topic, qos, onMsg)   // Promise<null>
//	client.unsubscribe(topic, ...)        // Promise<null>
//	client.disconnect(quiesceMs)          // Promise<null>
//	client.onConnectionLost(fn)
//
// Every operation returning a Promise runs its broker I/O on a background
// goroutine and settles the promise through the bridge; the VM is only
// ever touched on the event loop.
package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/PrinceK001/d11-react-native-mqtt/internal/jsbridge"
	transport "github.com/PrinceK001/d11-react-native-mqtt/internal/mqtt"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/iancoleman/orderedmap"
)

// Broker is the slice of the MQTT client this module needs. *transport.Client
// implements it; tests substitute a fake.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte, handler transport.MessageHandler) error
	Unsubscribe(ctx context.Context, topics ...string) error
	Disconnect(quiesce time.Duration)
	OnConnectionLost(h transport.StatusHandler)
	ClientID() string
	IsConnected() bool
}

// DialFunc builds a Broker from parsed options. The production wiring
// passes transport.NewClient.
type DialFunc func(opts transport.Options) Broker

// Require returns the module loader for "mqtt:client".
func Require(ctx context.Context, rt *jsbridge.Runtime, dial DialFunc) require.ModuleLoader {
	return func(vm *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		_ = exports.Set("createClient", func(call goja.FunctionCall) goja.Value {
			opts, err := parseClientOptions(rt, vm, call.Argument(0))
			if err != nil {
				panic(vm.NewTypeError("createClient: %v", err))
			}
			c := &client{ctx: ctx, rt: rt, broker: dial(opts)}
			return c.toObject(vm)
		})
	}
}

// client binds one Broker to its JS handle object.
type client struct {
	ctx    context.Context
	rt     *jsbridge.Runtime
	broker Broker
}

func (c *client) toObject(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	_ = jsbridge.RegisterFunc(vm, obj, "connect", c.jsConnect(vm))
	_ = jsbridge.RegisterFunc(vm, obj, "publish", c.jsPublish(vm))
	_ = jsbridge.RegisterFunc(vm, obj, "subscribe", c.jsSubscribe(vm))
	_ = jsbridge.RegisterFunc(vm, obj, "unsubscribe", c.jsUnsubscribe(vm))
	_ = jsbridge.RegisterFunc(vm, obj, "disconnect", c.jsDisconnect(vm))
	_ = jsbridge.RegisterFunc(vm, obj, "onConnectionLost", c.jsOnConnectionLost(vm))
	_ = jsbridge.RegisterFunc(vm, obj, "isConnected", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(c.broker.IsConnected())
	})
	_ = obj.Set("clientId", c.broker.ClientID())
	return obj
}

func (c *client) jsConnect(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		return jsbridge.NewPromise(c.rt, vm, func(p *jsbridge.Promise) {
			go func() {
				if err := c.broker.Connect(c.ctx); err != nil {
					p.Reject(err.Error())
					return
				}
				info := orderedmap.New()
				info.Set("clientId", c.broker.ClientID())
				p.Resolve(info)
			}()
		})
	}
}

func (c *client) jsPublish(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		topicArg := call.Argument(0)
		if goja.IsUndefined(topicArg) || goja.IsNull(topicArg) || topicArg.String() == "" {
			panic(vm.NewTypeError("publish: topic is required"))
		}
		topic := topicArg.String()
		payload := []byte(call.Argument(1).String())

		qos := byte(0)
		retained := false
		if optsArg := call.Argument(2); !goja.IsUndefined(optsArg) && !goja.IsNull(optsArg) {
			opts, err := toDict(c.rt, vm, optsArg)
			if err != nil {
				panic(vm.NewTypeError("publish: %v", err))
			}
			qos = dictQoS(opts)
			if v, ok := dictBool(opts, "retain"); ok {
				retained = v
			}
		}

		return jsbridge.NewPromise(c.rt, vm, func(p *jsbridge.Promise) {
			go func() {
				if err := c.broker.Publish(c.ctx, topic, qos, retained, payload); err != nil {
					p.Reject(err.Error())
					return
				}
				p.Resolve(nil)
			}()
		})
	}
}

func (c *client) jsSubscribe(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		topic := call.Argument(0).String()
		qos := byte(call.Argument(1).ToInteger())
		fn, ok := goja.AssertFunction(call.Argument(2))
		if !ok {
			panic(vm.NewTypeError("subscribe: onMessage must be a function"))
		}

		// The JS handler becomes a native callback; deliveries arrive on
		// paho goroutines and the callback marshals them onto the loop.
		deliver := jsbridge.FunctionToCallback(c.rt, vm, fn)
		handler := func(m transport.Message) {
			deliver([]any{messageDict(m)})
		}

		return jsbridge.NewPromise(c.rt, vm, func(p *jsbridge.Promise) {
			go func() {
				if err := c.broker.Subscribe(c.ctx, topic, qos, handler); err != nil {
					p.Reject(err.Error())
					return
				}
				p.Resolve(nil)
			}()
		})
	}
}

func (c *client) jsUnsubscribe(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("unsubscribe: at least one topic is required"))
		}
		topics := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			topics[i] = arg.String()
		}

		return jsbridge.NewPromise(c.rt, vm, func(p *jsbridge.Promise) {
			go func() {
				if err := c.broker.Unsubscribe(c.ctx, topics...); err != nil {
					p.Reject(err.Error())
					return
				}
				p.Resolve(nil)
			}()
		})
	}
}

func (c *client) jsDisconnect(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		quiesce := 250 * time.Millisecond
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			quiesce = time.Duration(arg.ToInteger()) * time.Millisecond
		}

		return jsbridge.NewPromise(c.rt, vm, func(p *jsbridge.Promise) {
			go func() {
				c.broker.Disconnect(quiesce)
				p.Resolve(nil)
			}()
		})
	}
}

func (c *client) jsOnConnectionLost(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("onConnectionLost: handler must be a function"))
		}
		notify := jsbridge.FunctionToCallback(c.rt, vm, fn)
		c.broker.OnConnectionLost(func(err error) {
			notify([]any{err.Error()})
		})
		return goja.Undefined()
	}
}

// messageDict renders one delivery as an ordered dictionary for the
// script-side handler.
func messageDict(m transport.Message) *orderedmap.OrderedMap {
	dict := orderedmap.New()
	dict.Set("topic", m.Topic)
	dict.Set("payload", string(m.Payload))
	dict.Set("qos", int(m.QoS))
	dict.Set("retained", m.Retained)
	dict.Set("duplicate", m.Duplicate)
	dict.Set("messageId", int(m.MessageID))
	return dict
}

// parseClientOptions converts the createClient options object into
// transport options.
func parseClientOptions(rt *jsbridge.Runtime, vm *goja.Runtime, v goja.Value) (transport.Options, error) {
	var opts transport.Options
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return opts, fmt.Errorf("options object is required")
	}
	dict, err := toDict(rt, vm, v)
	if err != nil {
		return opts, err
	}

	opts.BrokerURL, _ = dictString(dict, "brokerUrl")
	if opts.BrokerURL == "" {
		return opts, fmt.Errorf("brokerUrl is required")
	}
	opts.ClientID, _ = dictString(dict, "clientId")
	opts.Username, _ = dictString(dict, "username")
	opts.Password, _ = dictString(dict, "password")
	if n, ok := dictInt(dict, "keepAliveSeconds"); ok {
		opts.KeepAlive = time.Duration(n) * time.Second
	}
	if n, ok := dictInt(dict, "connectTimeoutSeconds"); ok {
		opts.ConnectTimeout = time.Duration(n) * time.Second
	}
	if b, ok := dictBool(dict, "autoReconnect"); ok {
		opts.AutoReconnect = b
	}
	if b, ok := dictBool(dict, "cleanSession"); ok {
		opts.CleanSession = b
	}
	return opts, nil
}

func toDict(rt *jsbridge.Runtime, vm *goja.Runtime, v goja.Value) (*orderedmap.OrderedMap, error) {
	native, err := jsbridge.ToNative(rt, vm, v)
	if err != nil {
		return nil, err
	}
	dict, ok := native.(*orderedmap.OrderedMap)
	if !ok {
		return nil, fmt.Errorf("expected an options object, got %T", native)
	}
	return dict, nil
}

func dictString(d *orderedmap.OrderedMap, key string) (string, bool) {
	if raw, ok := d.Get(key); ok {
		if s, ok := raw.(string); ok {
			return s, true
		}
	}
	return "", false
}

func dictInt(d *orderedmap.OrderedMap, key string) (int64, bool) {
	raw, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func dictBool(d *orderedmap.OrderedMap, key string) (bool, bool) {
	if raw, ok := d.Get(key); ok {
		if b, ok := raw.(bool); ok {
			return b, true
		}
	}
	return false, false
}

func dictQoS(d *orderedmap.OrderedMap) byte {
	if n, ok := dictInt(d, "qos"); ok && n >= 0 && n <= 2 {
		return byte(n)
	}
	return 0
}
