/*
Package mqtt owns the broker connection shared by every protocol layer of a client.

  - Dispatch: each inbound message goes to the handlers registered for its exact
    topic first, then to the wildcard chain, in registration order. At most one
    dispatch runs at a time.
  - Fire-and-forget: Subscribe, Unsubscribe and Publish never block on the broker;
    failures surface through the error observers.
  - Recovery: an unexpected connection loss is retried every ReconnectPolicy.Interval
    until it succeeds or Disconnect clears the reconnect intent.
*/
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	apperr "github.com/webitel/im-mqtt-chat/pkg/errors"
)

// Wildcard is the reserved handler key that receives every inbound message.
const Wildcard = "*"

// Handler consumes one inbound message.
type Handler func(topic string, payload []byte)

type (
	StatusObserver func(connected bool)
	ErrorObserver  func(err error)
)

// Client is the transport shared by the chat and group services.
type Client struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	// [SESSION_STATE]
	mu             sync.RWMutex
	session        Session
	handlers       map[string][]Handler
	subscriptions  map[string]QoS // restored after a reconnect
	reconnectTimer *time.Timer

	// [OBSERVERS]
	obsMu     sync.Mutex
	obsSeq    uint64
	statusObs map[uint64]StatusObserver
	errorObs  map[uint64]ErrorObserver

	connected       atomic.Bool
	shouldReconnect atomic.Bool
	generation      atomic.Uint64

	// serializes inbound dispatch regardless of the driver
	dispatchMu sync.Mutex
}

// NewClient prepares a client; nothing touches the network until Connect.
// An empty ClientID is replaced with a random one.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID()
	}
	c := &Client{
		cfg:           cfg,
		logger:        slog.Default(),
		handlers:      make(map[string][]Handler),
		subscriptions: make(map[string]QoS),
		statusObs:     make(map[uint64]StatusObserver),
		errorObs:      make(map[uint64]ErrorObserver),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewPahoDialer()
	}
	c.logger = c.logger.With("client_id", cfg.ClientID)
	return c
}

func (c *Client) ClientID() string  { return c.cfg.ClientID }
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Connect dials the broker and blocks until it accepts or refuses the session.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := c.dial(ctx); err != nil {
		c.notifyError(err)
		return err
	}

	c.shouldReconnect.Store(true)
	c.logger.Info("BROKER_CONNECTED", "broker", c.cfg.BrokerURL())
	return nil
}

// Disconnect closes the session for good; it never triggers a reconnect.
func (c *Client) Disconnect() {
	// [INTENT_FIRST] clear the flag before the session goes away
	c.shouldReconnect.Store(false)

	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	// a late connection-lost callback of the closed session is ignored
	c.generation.Add(1)

	if sess != nil {
		sess.Close()
	}
	if c.connected.Swap(false) {
		c.notifyStatus(false)
		c.logger.Info("BROKER_DISCONNECTED")
	}
}

// Subscribe registers handler (optional) for topic and asks the broker for the
// subscription. The Wildcard topic only registers a global handler.
func (c *Client) Subscribe(topic string, handler Handler, qos QoS) {
	if topic == Wildcard {
		c.Chain(handler)
		return
	}

	sess, ok := c.activeSession()
	if !ok {
		c.notifyError(apperr.Wrap(apperr.CodeNotConnected, "subscribe "+topic, nil))
		return
	}

	c.mu.Lock()
	if handler != nil {
		c.handlers[topic] = append(c.handlers[topic], handler)
	}
	c.subscriptions[topic] = qos
	c.mu.Unlock()

	sess.Subscribe(topic, qos, func(err error) {
		if err != nil {
			c.notifyError(fmt.Errorf("subscribe %s: %w", topic, err))
		}
	})
}

// Unsubscribe drops every handler of topic and the broker subscription.
func (c *Client) Unsubscribe(topic string) {
	sess, ok := c.activeSession()
	if !ok {
		c.notifyError(apperr.Wrap(apperr.CodeNotConnected, "unsubscribe "+topic, nil))
		return
	}

	c.mu.Lock()
	delete(c.handlers, topic)
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	sess.Unsubscribe(topic, func(err error) {
		if err != nil {
			c.notifyError(fmt.Errorf("unsubscribe %s: %w", topic, err))
			return
		}
		c.logger.Debug("TOPIC_UNSUBSCRIBED", "topic", topic)
	})
}

// Publish sends payload to topic. Strings and byte slices travel verbatim,
// anything else is JSON-encoded.
func (c *Client) Publish(topic string, payload any, qos QoS, retained bool) {
	sess, ok := c.activeSession()
	if !ok {
		c.notifyError(apperr.Wrap(apperr.CodeNotConnected, "publish "+topic, nil))
		return
	}

	data, err := encodePayload(payload)
	if err != nil {
		c.notifyError(fmt.Errorf("publish %s: marshal failure: %w", topic, err))
		return
	}

	sess.Publish(topic, qos, retained, data, func(err error) {
		if err != nil {
			c.notifyError(fmt.Errorf("publish %s: %w", topic, err))
		}
	})
}

// Chain appends handler to the global chain. Services chain in the order they
// are initialized, which is the order in which they observe each message.
func (c *Client) Chain(handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.handlers[Wildcard] = append(c.handlers[Wildcard], handler)
	c.mu.Unlock()
}

// OnConnectionStatus registers an observer and returns its removal func.
func (c *Client) OnConnectionStatus(fn StatusObserver) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.obsSeq++
	id := c.obsSeq
	c.statusObs[id] = fn
	return func() {
		c.obsMu.Lock()
		delete(c.statusObs, id)
		c.obsMu.Unlock()
	}
}

// OnError registers an observer and returns its removal func.
func (c *Client) OnError(fn ErrorObserver) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.obsSeq++
	id := c.obsSeq
	c.errorObs[id] = fn
	return func() {
		c.obsMu.Lock()
		delete(c.errorObs, id)
		c.obsMu.Unlock()
	}
}

func (c *Client) dial(ctx context.Context) error {
	gen := c.generation.Add(1)
	sess, err := c.dialer.Dial(ctx, c.cfg, SessionHandlers{
		OnMessage: c.dispatch,
		OnConnectionLost: func(err error) {
			if c.generation.Load() == gen {
				c.handleConnectionLost(err)
			}
		},
	})
	if err != nil {
		return apperr.Connection(err)
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.connected.Store(true)
	c.notifyStatus(true)
	return nil
}

func (c *Client) activeSession() (Session, bool) {
	if !c.connected.Load() {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.session != nil
}

func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	c.connected.Store(false)
	c.notifyStatus(false)
	c.notifyError(apperr.Wrap(apperr.CodeConnection, "connection lost", err))
	c.logger.Warn("BROKER_CONNECTION_LOST", "err", err)

	if c.cfg.Reconnect.Enabled && c.shouldReconnect.Load() {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil || !c.shouldReconnect.Load() {
		return
	}
	c.reconnectTimer = time.AfterFunc(c.cfg.Reconnect.Interval, c.reconnect)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	c.mu.Unlock()

	if c.connected.Load() || !c.shouldReconnect.Load() {
		return
	}

	ctx := context.Background()
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	c.logger.Info("BROKER_RECONNECTING")
	if err := c.dial(ctx); err != nil {
		c.logger.Warn("RECONNECT_FAILED", "err", err)
		c.notifyError(err)
		c.scheduleReconnect()
		return
	}

	// A Disconnect may have raced the dial.
	if !c.shouldReconnect.Load() {
		c.Disconnect()
		return
	}
	c.restoreSubscriptions()
	c.logger.Info("BROKER_RECONNECTED")
}

func (c *Client) restoreSubscriptions() {
	sess, ok := c.activeSession()
	if !ok {
		return
	}

	c.mu.RLock()
	subs := make(map[string]QoS, len(c.subscriptions))
	for topic, qos := range c.subscriptions {
		subs[topic] = qos
	}
	c.mu.RUnlock()

	for topic, qos := range subs {
		sess.Subscribe(topic, qos, func(err error) {
			if err != nil {
				c.notifyError(fmt.Errorf("resubscribe %s: %w", topic, err))
			}
		})
	}
}

func (c *Client) dispatch(d Delivery) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.RLock()
	exact := append([]Handler(nil), c.handlers[d.Topic]...)
	global := append([]Handler(nil), c.handlers[Wildcard]...)
	c.mu.RUnlock()

	for _, h := range exact {
		c.invoke(h, d)
	}
	for _, h := range global {
		c.invoke(h, d)
	}
}

// invoke isolates handlers from each other: a panic is reported, never propagated.
func (c *Client) invoke(h Handler, d Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("PANIC_RECOVERED",
				"err", r,
				"topic", d.Topic,
				"stack", string(debug.Stack()))
			c.notifyError(fmt.Errorf("handler panic on %s: %v", d.Topic, r))
		}
	}()
	h(d.Topic, d.Payload)
}

func (c *Client) notifyStatus(connected bool) {
	c.obsMu.Lock()
	obs := make([]StatusObserver, 0, len(c.statusObs))
	for _, fn := range c.statusObs {
		obs = append(obs, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range obs {
		fn(connected)
	}
}

func (c *Client) notifyError(err error) {
	c.obsMu.Lock()
	obs := make([]ErrorObserver, 0, len(c.errorObs))
	for _, fn := range c.errorObs {
		obs = append(obs, fn)
	}
	c.obsMu.Unlock()

	if len(obs) == 0 {
		c.logger.Warn("TRANSPORT_ERROR", "err", err)
	}
	for _, fn := range obs {
		fn(err)
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
