// Package mqtt provides the resilient broker transport for the tracker.
//
// The client owns its own reconnection state machine instead of relying on
// the paho library's automatic reconnect: backoff timing, subscription
// replay, and readiness reporting all need to be observable by the rest of
// the process. Subscription intent is tracked independently of the live
// connection, so Subscribe calls made while disconnected are honored once
// connectivity returns.
package mqtt

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/scenetrack/tracker/internal/config"
	"github.com/scenetrack/tracker/internal/monitoring"
)

const (
	// QoS 1 gives at-least-once delivery in both directions.
	qosAtLeastOnce = 1

	keepAliveInterval = 60 * time.Second
	connectTimeout    = 10 * time.Second

	// initialBackoff is the first reconnect delay; it doubles per attempt
	// up to the configured maximum.
	initialBackoff = 1 * time.Second

	// DefaultMaxReconnectDelay caps the exponential backoff.
	DefaultMaxReconnectDelay = 30 * time.Second

	// postConnectGrace gives the broker time to run the connect callback
	// before the reconnect loop re-evaluates state.
	postConnectGrace = 100 * time.Millisecond
)

// MessageCallback receives every inbound message. It runs on the transport
// library's callback goroutine; the pipeline executes synchronously inside
// it.
type MessageCallback func(topic string, payload []byte)

// Client is the broker transport seen by the rest of the service.
// Implementations adapt a concrete broker library behind this interface so
// the message handler stays library-agnostic.
type Client interface {
	// Connect initiates the first connection attempt. Failures do not
	// surface here; they drive the reconnection state machine.
	Connect()

	// Disconnect stops reconnection, attempts a bounded clean disconnect,
	// and tears down. Idempotent.
	Disconnect(drainTimeout time.Duration)

	// Subscribe records subscription intent and subscribes now when
	// connected. Deferred subscriptions replay on (re)connect.
	Subscribe(topic string)

	// Unsubscribe removes subscription intent and unsubscribes when
	// connected.
	Unsubscribe(topic string)

	// Publish sends a payload. While disconnected it is a logged no-op.
	Publish(topic string, payload []byte)

	// SetMessageCallback installs the single inbound-message callback.
	// Passing nil clears it.
	SetMessageCallback(cb MessageCallback)

	// IsConnected reports live broker connectivity.
	IsConnected() bool

	// IsSubscribed reports whether the last subscribe round-trip succeeded.
	IsSubscribed() bool
}

// PahoClient implements Client on eclipse/paho.mqtt.golang.
type PahoClient struct {
	client            paho.Client
	maxReconnectDelay time.Duration

	connected     atomic.Bool
	subscribed    atomic.Bool
	reconnecting  atomic.Bool
	stopRequested atomic.Bool

	subsMu  sync.Mutex
	pending map[string]struct{}

	cbMu     sync.Mutex
	callback MessageCallback

	// wake is signalled when stop is requested or a connection succeeds,
	// so a sleeping reconnect worker exits its backoff wait immediately.
	wake     chan struct{}
	workerWG sync.WaitGroup
}

// clientID returns tracker-<hostname>-<pid>, unique enough for a broker
// that disconnects duplicate client IDs.
func clientID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("tracker-%s-%d", hostname, os.Getpid())
}

// NewPahoClient builds the transport from broker configuration. TLS
// material referenced by the configuration must exist; a missing file is a
// construction error, never a silent fallback to plaintext.
func NewPahoClient(cfg config.BrokerConfig, maxReconnectDelay time.Duration) (*PahoClient, error) {
	clearEmptyProxyEnvVars()

	if maxReconnectDelay <= 0 {
		maxReconnectDelay = DefaultMaxReconnectDelay
	}

	scheme := "ssl"
	if cfg.Insecure {
		scheme = "tcp"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
	id := clientID()

	monitoring.NewEntry().
		Component("mqtt_client").
		Str("broker", brokerURL).
		Str("client_id", id).
		Info("MQTT client initializing")

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(id).
		SetCleanSession(true).
		SetAutoReconnect(false). // reconnection is handled here
		SetKeepAlive(keepAliveInterval).
		SetConnectTimeout(connectTimeout)

	if !cfg.Insecure {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	c := &PahoClient{
		maxReconnectDelay: maxReconnectDelay,
		pending:           make(map[string]struct{}),
		wake:              make(chan struct{}, 1),
	}

	opts.SetOnConnectHandler(func(paho.Client) { c.onConnected() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { c.onConnectionLost(err) })
	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) { c.onMessage(msg) })

	c.client = paho.NewClient(opts)
	return c, nil
}

// Connect initiates the first connection attempt. A failed attempt starts
// the reconnect worker.
func (c *PahoClient) Connect() {
	monitoring.NewEntry().Component("mqtt_client").Operation("connect").Info("MQTT connecting")

	token := c.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.NewEntry().
				Component("mqtt_client").
				Operation("connect").
				Err(err).
				Error("MQTT connect failed")
			c.scheduleReconnect()
		}
	}()
}

// Disconnect is guarded so repeated calls are safe. It stops the reconnect
// worker, then bounds the clean-disconnect handshake by drainTimeout.
func (c *PahoClient) Disconnect(drainTimeout time.Duration) {
	if c.stopRequested.Swap(true) {
		monitoring.NewEntry().Component("mqtt_client").Debug("MQTT disconnect already in progress or completed")
		return
	}

	monitoring.NewEntry().
		Component("mqtt_client").
		Operation("disconnect").
		Int("drain_timeout_ms", int(drainTimeout.Milliseconds())).
		Info("MQTT disconnecting")

	c.notifyWake()
	c.workerWG.Wait()

	if c.client.IsConnected() {
		c.client.Disconnect(uint(drainTimeout.Milliseconds()))
		monitoring.NewEntry().Component("mqtt_client").Debug("MQTT disconnect completed")
	}

	c.connected.Store(false)
	c.subscribed.Store(false)
	monitoring.BrokerConnected.Set(0)
}

// Subscribe records intent and subscribes immediately when connected.
func (c *PahoClient) Subscribe(topic string) {
	c.subsMu.Lock()
	c.pending[topic] = struct{}{}
	c.subsMu.Unlock()

	if !c.connected.Load() {
		monitoring.NewEntry().
			Component("mqtt_client").
			Broker(topic, "", "inbound").
			Debug("MQTT subscribe deferred (not connected)")
		return
	}

	c.subscribeNow(topic)
}

func (c *PahoClient) subscribeNow(topic string) {
	monitoring.NewEntry().
		Component("mqtt_client").
		Operation("subscribe").
		Broker(topic, "", "inbound").
		Info("MQTT subscribing")

	token := c.client.Subscribe(topic, qosAtLeastOnce, nil)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.NewEntry().
				Component("mqtt_client").
				Operation("subscribe").
				Broker(topic, "", "inbound").
				Err(err).
				Error("MQTT subscribe failed")
			c.subscribed.Store(false)
			return
		}
		c.subscribed.Store(true)
	}()
}

// Unsubscribe removes intent and unsubscribes when connected. Subscribed
// status drops only when no subscription intent remains.
func (c *PahoClient) Unsubscribe(topic string) {
	c.subsMu.Lock()
	delete(c.pending, topic)
	remaining := len(c.pending)
	c.subsMu.Unlock()

	if remaining == 0 {
		c.subscribed.Store(false)
	}

	if !c.connected.Load() {
		monitoring.NewEntry().
			Component("mqtt_client").
			Broker(topic, "", "inbound").
			Debug("MQTT unsubscribe skipped (not connected)")
		return
	}

	monitoring.NewEntry().
		Component("mqtt_client").
		Operation("unsubscribe").
		Broker(topic, "", "inbound").
		Info("MQTT unsubscribing")

	token := c.client.Unsubscribe(topic)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.NewEntry().
				Component("mqtt_client").
				Operation("unsubscribe").
				Err(err).
				Error("MQTT unsubscribe failed")
		}
	}()
}

// Publish sends with QoS 1. While disconnected it drops the message;
// at-most-once loss during an outage is acceptable by design.
func (c *PahoClient) Publish(topic string, payload []byte) {
	if !c.connected.Load() {
		monitoring.NewEntry().
			Component("mqtt_client").
			Broker(topic, "", "outbound").
			Warn("MQTT publish dropped (not connected)")
		return
	}

	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			monitoring.NewEntry().
				Component("mqtt_client").
				Operation("publish").
				Broker(topic, "", "outbound").
				Err(err).
				Error("MQTT publish failed")
		}
	}()
}

// SetMessageCallback installs or clears the inbound-message callback.
func (c *PahoClient) SetMessageCallback(cb MessageCallback) {
	c.cbMu.Lock()
	c.callback = cb
	c.cbMu.Unlock()
}

// IsConnected reports live connectivity.
func (c *PahoClient) IsConnected() bool { return c.connected.Load() }

// IsSubscribed reports whether all requested subscriptions are live.
func (c *PahoClient) IsSubscribed() bool { return c.subscribed.Load() }

// onConnected runs on every successful connection, initial or not, and
// replays all recorded subscription intent.
func (c *PahoClient) onConnected() {
	monitoring.NewEntry().Component("mqtt_client").Info("MQTT connected")
	c.connected.Store(true)
	monitoring.BrokerConnected.Set(1)
	c.notifyWake()

	c.subsMu.Lock()
	topics := make([]string, 0, len(c.pending))
	for topic := range c.pending {
		topics = append(topics, topic)
	}
	c.subsMu.Unlock()

	for _, topic := range topics {
		c.subscribeNow(topic)
	}
}

func (c *PahoClient) onConnectionLost(err error) {
	monitoring.NewEntry().
		Component("mqtt_client").
		Err(err).
		Warn("MQTT connection lost")

	c.connected.Store(false)
	c.subscribed.Store(false)
	monitoring.BrokerConnected.Set(0)

	if !c.stopRequested.Load() {
		c.scheduleReconnect()
	}
}

func (c *PahoClient) onMessage(msg paho.Message) {
	c.cbMu.Lock()
	cb := c.callback
	c.cbMu.Unlock()

	if cb != nil {
		cb(msg.Topic(), msg.Payload())
	}
}

// notifyWake signals the reconnect worker without blocking.
func (c *PahoClient) notifyWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// scheduleReconnect starts the reconnect worker unless one is already
// running; at most one worker is alive at a time.
func (c *PahoClient) scheduleReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		monitoring.NewEntry().Component("mqtt_client").Debug("reconnect already in progress")
		return
	}

	c.workerWG.Add(1)
	go c.reconnectWorker()
}

// reconnectWorker retries the connection with exponential backoff until it
// succeeds or shutdown is requested. The backoff wait is the only blocking
// point; notifyWake cuts it short.
func (c *PahoClient) reconnectWorker() {
	defer c.workerWG.Done()
	defer c.reconnecting.Store(false)

	attempt := 0
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for !c.stopRequested.Load() && !c.connected.Load() {
		delay := backoffDelay(attempt, initialBackoff, c.maxReconnectDelay)
		monitoring.NewEntry().
			Component("mqtt_client").
			Operation("reconnect").
			Int("delay_ms", int(delay.Milliseconds())).
			Int("attempt", attempt+1).
			Info("MQTT reconnecting")

		timer.Reset(delay)
		select {
		case <-c.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		if c.stopRequested.Load() || c.connected.Load() {
			return
		}

		attempt++

		token := c.client.Connect()
		if token.WaitTimeout(connectTimeout) {
			if err := token.Error(); err != nil {
				monitoring.NewEntry().
					Component("mqtt_client").
					Operation("reconnect").
					Err(err).
					Error("MQTT reconnect attempt failed")
			}
		}
		// Give the connect callback a moment to flip state before the
		// loop condition is re-evaluated.
		time.Sleep(postConnectGrace)
	}
}
