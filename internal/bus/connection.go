package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
)

// MessageHandler is the callback signature for received bus messages.
//
// The payload is guaranteed to be valid JSON by the time a handler sees it;
// malformed frames are logged and dropped before dispatch. Handlers are
// invoked in registration order. A handler's error (or panic) is logged and
// does not prevent dispatch to subsequent handlers.
type MessageHandler func(topic string, payload []byte) error

// newPahoClient constructs the underlying MQTT client.
// Overridable in tests to inject a fake transport.
var newPahoClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	return pahomqtt.NewClient(opts)
}

// Connection owns at most one live connection to the MQTT broker.
//
// All lifecycle triggers (connect requests, connection loss, retry timer
// fires, disconnect) funnel through internal methods that hold a single
// mutex, so the state and the reconnect attempt counter are only ever
// mutated from one place at a time and at most one reconnect attempt is in
// flight.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Connection struct {
	cfg    config.MQTTConfig
	logger *logging.Logger
	client pahomqtt.Client

	mu         sync.Mutex
	state      State
	attempts   int
	handlers   map[string][]MessageHandler
	waiters    []chan error
	retryTimer *time.Timer

	onConnect    func()
	onDisconnect func(err error)
}

// New creates a bus connection. It does not dial the broker; call Connect.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - logger: Logger for connection and dispatch events
//
// Returns:
//   - *Connection: Connection in the Disconnected state
func New(cfg config.MQTTConfig, logger *logging.Logger) *Connection {
	c := &Connection{
		cfg:      cfg,
		logger:   logger,
		state:    StateDisconnected,
		handlers: make(map[string][]MessageHandler),
	}

	opts := buildClientOptions(cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connectionLost(err)
	})
	c.client = newPahoClient(opts)

	return c
}

// Connect establishes the broker connection.
//
// Connect is idempotent: if the connection is already established it
// returns nil immediately, and if an attempt is already in flight the call
// joins it and returns that attempt's eventual result rather than opening a
// second underlying connection.
//
// On success the attempt counter resets and the fixed topic set is
// re-subscribed. On failure the connection keeps retrying on a fixed
// interval up to the configured maximum; the caller receives the final
// outcome (nil, or an error wrapping ErrMaxReconnectExceeded).
//
// Parameters:
//   - ctx: Cancels the caller's wait (the attempt itself continues)
//
// Returns:
//   - error: nil once connected, or the terminal failure
func (c *Connection) Connect(ctx context.Context) error {
	done := make(chan error, 1)

	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateShuttingDown:
		c.mu.Unlock()
		return ErrShuttingDown
	case StateConnecting, StateReconnecting:
		// Join the in-flight attempt.
		c.waiters = append(c.waiters, done)
		c.mu.Unlock()
	default:
		c.state = StateConnecting
		c.waiters = append(c.waiters, done)
		c.mu.Unlock()
		go c.attempt()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt performs one connection attempt and reports the result back into
// the state machine.
func (c *Connection) attempt() {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.attemptFailed(fmt.Errorf("%w: timeout after %v", ErrConnectFailed, connectTimeout))
		return
	}
	if err := token.Error(); err != nil {
		c.attemptFailed(fmt.Errorf("%w: %w", ErrConnectFailed, err))
		return
	}
	c.attemptSucceeded()
}

// attemptSucceeded transitions to Connected, resets the attempt counter,
// restores subscriptions, and releases any waiting Connect callers.
func (c *Connection) attemptSucceeded() {
	c.mu.Lock()
	if c.state == StateShuttingDown {
		// Disconnect raced the attempt; drop the fresh connection.
		c.mu.Unlock()
		c.client.Disconnect(disconnectQuiesce)
		return
	}
	c.state = StateConnected
	c.attempts = 0
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	waiters := c.takeWaiters()
	onConnect := c.onConnect
	c.mu.Unlock()

	for _, topic := range topics {
		c.subscribe(topic)
	}

	c.logger.Info("bus connected", "broker", c.cfg.Broker.Host, "topics", len(topics))

	for _, w := range waiters {
		w <- nil
	}
	if onConnect != nil {
		onConnect()
	}
}

// attemptFailed increments the attempt counter and either schedules the
// next fixed-interval retry or gives up with a terminal error. Attempt
// number maxAttempts+1 is never made.
func (c *Connection) attemptFailed(err error) {
	c.mu.Lock()
	if c.state == StateShuttingDown {
		waiters := c.takeWaiters()
		c.mu.Unlock()
		for _, w := range waiters {
			w <- ErrShuttingDown
		}
		return
	}

	c.attempts++
	attempts := c.attempts

	if attempts >= c.cfg.Reconnect.MaxAttempts {
		c.state = StateDisconnected
		waiters := c.takeWaiters()
		onDisconnect := c.onDisconnect
		c.mu.Unlock()

		terminal := fmt.Errorf("%w after %d attempts: %w", ErrMaxReconnectExceeded, attempts, err)
		c.logger.Error("bus reconnect abandoned", "attempts", attempts, "error", err)
		for _, w := range waiters {
			w <- terminal
		}
		if onDisconnect != nil {
			onDisconnect(terminal)
		}
		return
	}

	c.state = StateReconnecting
	c.scheduleRetryLocked()
	c.mu.Unlock()

	c.logger.Warn("bus connect failed, will retry",
		"attempt", attempts,
		"max_attempts", c.cfg.Reconnect.MaxAttempts,
		"retry_in", c.cfg.Reconnect.ReconnectDelay(),
		"error", err,
	)
}

// connectionLost handles an unexpected close reported by the transport.
// During shutdown it is a no-op; otherwise it counts against the reconnect
// budget and schedules a retry.
func (c *Connection) connectionLost(err error) {
	c.mu.Lock()
	if c.state == StateShuttingDown {
		c.mu.Unlock()
		return
	}

	c.attempts++
	attempts := c.attempts
	onDisconnect := c.onDisconnect

	if attempts >= c.cfg.Reconnect.MaxAttempts {
		c.state = StateDisconnected
		c.mu.Unlock()
		terminal := fmt.Errorf("%w after %d attempts: %w", ErrMaxReconnectExceeded, attempts, err)
		c.logger.Error("bus connection lost, reconnect budget exhausted", "error", err)
		if onDisconnect != nil {
			onDisconnect(terminal)
		}
		return
	}

	c.state = StateReconnecting
	c.scheduleRetryLocked()
	c.mu.Unlock()

	c.logger.Warn("bus connection lost, reconnecting",
		"attempt", attempts,
		"max_attempts", c.cfg.Reconnect.MaxAttempts,
		"error", err,
	)
	if onDisconnect != nil {
		onDisconnect(err)
	}
}

// retryFired launches the next attempt if the connection is still reconnecting.
func (c *Connection) retryFired() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.mu.Unlock()
	c.attempt()
}

// scheduleRetryLocked arms the fixed-interval retry timer.
// Caller must hold c.mu.
func (c *Connection) scheduleRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(c.cfg.Reconnect.ReconnectDelay(), c.retryFired)
}

// takeWaiters drains pending Connect callers. Caller must hold c.mu.
func (c *Connection) takeWaiters() []chan error {
	waiters := c.waiters
	c.waiters = nil
	return waiters
}

// Disconnect shuts the connection down.
//
// The state moves to ShuttingDown first, so an in-flight reconnect observes
// the flag and becomes a no-op instead of retrying. The underlying
// connection is then closed and handler registrations cleared. Safe to call
// when never connected, and safe to call twice.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state == StateShuttingDown {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected
	c.state = StateShuttingDown
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.handlers = make(map[string][]MessageHandler)
	waiters := c.takeWaiters()
	c.mu.Unlock()

	for _, w := range waiters {
		w <- ErrShuttingDown
	}

	if wasConnected {
		c.client.Disconnect(disconnectQuiesce)
	}
	c.logger.Info("bus disconnected")
}

// Publish sends a message to the given bus topic.
//
// It fails fast with ErrNotConnected when the connection is not in the
// Connected state; the connection never queues or retries on behalf of the
// caller.
//
// Parameters:
//   - topic: The bus topic to publish to
//   - payload: The message payload (JSON, max 1MB)
//
// Returns:
//   - error: nil on success, ErrNotConnected, or a wrapped transport error
func (c *Connection) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Handle registers a handler for messages on the given bus topic.
//
// Handlers registered before Connect are subscribed as part of connecting
// (and re-subscribed on every reconnect). Registering while connected
// subscribes immediately. Multiple handlers per topic are dispatched in
// registration order.
func (c *Connection) Handle(topic string, handler MessageHandler) {
	if topic == "" || handler == nil {
		return
	}

	c.mu.Lock()
	_, known := c.handlers[topic]
	c.handlers[topic] = append(c.handlers[topic], handler)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && !known {
		c.subscribe(topic)
	}
}

// subscribe attaches the dispatcher to a topic on the underlying client.
func (c *Connection) subscribe(topic string) {
	token := c.client.Subscribe(topic, byte(c.cfg.QoS), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		c.logger.Warn("bus subscribe timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Warn("bus subscribe failed", "topic", topic, "error", err)
	}
}

// dispatch validates an inbound payload and fans it out to the topic's
// handlers in registration order. Malformed payloads are logged and
// dropped; one handler's failure never affects the others or the
// connection itself.
func (c *Connection) dispatch(topic string, payload []byte) {
	if !json.Valid(payload) {
		c.logger.Warn("dropping malformed bus message", "topic", topic, "bytes", len(payload))
		return
	}

	c.mu.Lock()
	handlers := make([]MessageHandler, len(c.handlers[topic]))
	copy(handlers, c.handlers[topic])
	c.mu.Unlock()

	for _, handler := range handlers {
		c.invoke(topic, payload, handler)
	}
}

// invoke runs one handler with panic recovery.
func (c *Connection) invoke(topic string, payload []byte, handler MessageHandler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("bus handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil {
		c.logger.Warn("bus handler returned error", "topic", topic, "error", err)
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns the current consecutive failed attempt count.
// It resets to zero on every successful connect.
func (c *Connection) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// SetOnConnect sets a callback invoked after every successful connect,
// including reconnects.
func (c *Connection) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
// A terminal failure (reconnect budget exhausted) is reported with an error
// wrapping ErrMaxReconnectExceeded; intermediate losses report the
// transport error.
func (c *Connection) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}
