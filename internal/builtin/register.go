// Package builtin wires the native Go modules into a runtime's require
// registry.
package builtin

import (
	"context"

	mqttmod "github.com/PrinceK001/d11-react-native-mqtt/internal/builtin/mqtt"
	"github.com/PrinceK001/d11-react-native-mqtt/internal/jsbridge"
	transport "github.com/PrinceK001/d11-react-native-mqtt/internal/mqtt"
)

// Register registers all native modules under the "mqtt:" prefix. It must
// run before any script that requires them. The dial function is how the
// mqtt module obtains broker connections; pass nil to use the real client.
func Register(ctx context.Context, rt *jsbridge.Runtime, dial mqttmod.DialFunc) {
	if dial == nil {
		dial = func(opts transport.Options) mqttmod.Broker {
			return transport.NewClient(opts)
		}
	}

	const prefix = "mqtt:"
	rt.Registry().RegisterNativeModule(prefix+"client", mqttmod.Require(ctx, rt, dial))
}
