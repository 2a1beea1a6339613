// Package mqtt wraps the Eclipse Paho client behind a small context-aware
// API. It owns token waiting and connection status plumbing so callers
// never block on a broker without a deadline.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultKeepAlive      = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// Options configures a Client. Zero values are filled with defaults by
// NewClient; only BrokerURL is required.
type Options struct {
	// BrokerURL is the broker address, e.g. "tcp://host:1883" or
	// "ssl://host:8883".
	BrokerURL string
	// ClientID identifies this session to the broker. Defaults to a
	// generated "d11-mqtt-<uuid>" id.
	ClientID string
	Username string
	Password string
	// KeepAlive is the MQTT keepalive interval. Defaults to 30s.
	KeepAlive time.Duration
	// ConnectTimeout bounds the initial connect handshake. Defaults to 10s.
	ConnectTimeout time.Duration
	// AutoReconnect re-establishes the session after a connection loss.
	AutoReconnect bool
	// CleanSession requests a fresh session on connect.
	CleanSession bool
	// Logger receives connection lifecycle events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "d11-mqtt-" + uuid.NewString()
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Message is a single delivery from the broker.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// MessageHandler receives deliveries for a subscription. Handlers run on
// paho's router goroutines; anything touching a JS runtime must marshal
// itself accordingly.
type MessageHandler func(msg Message)

// StatusHandler is notified when the broker connection is lost.
type StatusHandler func(err error)

// Client is a connection to one broker.
type Client struct {
	pc   paho.Client
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	lost []StatusHandler
}

// NewClient builds a Client from opts. No network activity happens until
// Connect.
func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{opts: opts, log: opts.Logger}

	po := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetAutoReconnect(opts.AutoReconnect).
		SetCleanSession(opts.CleanSession)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", "broker", opts.BrokerURL, "clientId", opts.ClientID, "error", err)
		c.mu.Lock()
		handlers := make([]StatusHandler, len(c.lost))
		copy(handlers, c.lost)
		c.mu.Unlock()
		for _, h := range handlers {
			h(err)
		}
	})
	po.SetOnConnectHandler(func(paho.Client) {
		c.log.Info("mqtt connected", "broker", opts.BrokerURL, "clientId", opts.ClientID)
	})

	c.pc = paho.NewClient(po)
	return c
}

// ClientID returns the effective (possibly generated) client id.
func (c *Client) ClientID() string { return c.opts.ClientID }

// IsConnected reports whether the underlying session is up.
func (c *Client) IsConnected() bool { return c.pc.IsConnected() }

// OnConnectionLost registers a handler invoked whenever the connection
// drops. Registration is append-only for the client's lifetime.
func (c *Client) OnConnectionLost(h StatusHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.lost = append(c.lost, h)
	c.mu.Unlock()
}

// Connect establishes the session, waiting until the handshake completes,
// ctx is done, or the configured connect timeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.waitToken(ctx, c.pc.Connect()); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", c.opts.BrokerURL, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the delivery token at the
// given QoS level.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := c.waitToken(ctx, c.pc.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for the topic filter and waits for the
// broker's acknowledgement.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	token := c.pc.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		handler(toMessage(m))
	})
	if err := c.waitToken(ctx, token); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes subscriptions for the given topic filters.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	if err := c.waitToken(ctx, c.pc.Unsubscribe(topics...)); err != nil {
		return fmt.Errorf("mqtt: unsubscribe %v: %w", topics, err)
	}
	return nil
}

// Disconnect closes the session, allowing up to quiesce for in-flight
// work to finish.
func (c *Client) Disconnect(quiesce time.Duration) {
	c.pc.Disconnect(uint(quiesce / time.Millisecond))
}

// waitToken blocks until the token completes or ctx is done. Paho tokens
// have no cancellation, so a context abort abandons the operation rather
// than stopping it.
func (c *Client) waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

func toMessage(m paho.Message) Message {
	return Message{
		Topic:     m.Topic(),
		Payload:   m.Payload(),
		QoS:       m.Qos(),
		Retained:  m.Retained(),
		Duplicate: m.Duplicate(),
		MessageID: m.MessageID(),
	}
}
