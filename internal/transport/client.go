package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/logging"
)

// DefaultQueueSize is the outbound queue capacity.
const DefaultQueueSize = 256

var (
	// ErrQueueFull is returned by Publish when the outbound queue is full.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("client closed")

	// ErrNotConnected is returned by Publish before Connect.
	ErrNotConnected = errors.New("client not connected")
)

// Config holds the broker connection settings.
type Config struct {
	BrokerURL    string
	ClientID     string
	KeepAlive    uint16 // seconds
	Username     string
	Password     string
	QoS          byte   // used for the subscription
	Subscription string // topic filter to subscribe to on every connect
	QueueSize    int
}

// MessageHandler consumes one inbound message.
type MessageHandler func(topic string, payload []byte) error

// session is the part of *autopaho.ConnectionManager the client uses.
type session interface {
	AwaitConnection(ctx context.Context) error
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(ctx context.Context) error
	Done() <-chan struct{}
}

type outboundMessage struct {
	topic   string
	qos     byte
	payload []byte
}

// Client is an MQTT client with an ordered, non-blocking publish queue.
type Client struct {
	config    Config
	serverURL *url.URL

	mu       sync.Mutex
	handler  MessageHandler
	session  session
	outbound chan outboundMessage
	closed   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and creates an unconnected client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID cannot be empty")
	}
	if cfg.Subscription == "" {
		return nil, fmt.Errorf("subscription filter cannot be empty")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", cfg.QoS)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL %q: %w", cfg.BrokerURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid broker URL %q: missing host", cfg.BrokerURL)
	}

	return &Client{
		config:    cfg,
		serverURL: u,
		outbound:  make(chan outboundMessage, cfg.QueueSize),
	}, nil
}

// OnMessage sets the handler for inbound messages. Call before Connect.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Connect dials the broker and blocks until the first connection is up or
// ctx is done. The connection is kept alive (with reconnects) until Close.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	cm, err := autopaho.NewConnection(runCtx, c.pahoConfig())
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start MQTT connection: %w", err)
	}

	if err := c.start(ctx, runCtx, cancel, cm); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.config.BrokerURL, err)
	}
	return nil
}

// start waits for the session and launches the publish loop.
func (c *Client) start(ctx, runCtx context.Context, cancel context.CancelFunc, s session) error {
	if err := s.AwaitConnection(ctx); err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	c.session = s
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.publishLoop(runCtx, s)
	return nil
}

func (c *Client) pahoConfig() autopaho.ClientConfig {
	broker := c.serverURL.String()

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{c.serverURL},
		KeepAlive:                     c.config.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			logging.LogConnection(broker, "connection_up")
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: c.config.Subscription, QoS: c.config.QoS},
				},
			}); err != nil {
				logging.Error("Failed to subscribe",
					zap.String("broker", broker),
					zap.String("filter", c.config.Subscription),
					zap.Error(err),
				)
				return
			}
			logging.Info("Subscribed to feedback topics",
				zap.String("filter", c.config.Subscription),
				zap.Uint8("qos", c.config.QoS),
			)
		},
		OnConnectError: func(err error) {
			logging.Warn("Broker connection attempt failed",
				zap.String("broker", broker),
				zap.Error(err),
			)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.config.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.deliver(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				logging.Error("MQTT client error", zap.Error(err))
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				logging.LogConnection(broker, fmt.Sprintf("server_disconnect reason=%d", d.ReasonCode))
			},
		},
	}

	if c.config.Username != "" {
		cfg.ConnectUsername = c.config.Username
		cfg.ConnectPassword = []byte(c.config.Password)
	}

	return cfg
}

// deliver passes one inbound message to the handler. Handler errors are
// already logged by the handler and never stop delivery.
func (c *Client) deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		logging.Debug("Dropping message, no handler set", zap.String("topic", topic))
		return
	}
	_ = handler(topic, payload)
}

// Publish queues payload for topic. It returns immediately; delivery happens
// in queue order on a background goroutine.
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.session == nil {
		return ErrNotConnected
	}

	select {
	case c.outbound <- outboundMessage{topic: topic, qos: qos, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Client) publishLoop(ctx context.Context, s session) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			c.send(ctx, s, msg)
		}
	}
}

func (c *Client) send(ctx context.Context, s session, msg outboundMessage) {
	_, err := s.Publish(ctx, &paho.Publish{
		Topic:   msg.topic,
		QoS:     msg.qos,
		Payload: msg.payload,
	})
	if err != nil {
		logging.Error("Publish failed",
			zap.String("topic", msg.topic),
			zap.Int("length", len(msg.payload)),
			zap.Error(err),
		)
	}
}

// Done is closed when the connection manager stops, or immediately if the
// client was never connected.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.session.Done()
}

// Close flushes queued messages (until ctx is done), disconnects and stops
// the background goroutine. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	cancel := c.cancel
	close(c.outbound)
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	// The publish loop exits once the closed queue is drained.
	flushed := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
	case <-ctx.Done():
		logging.Warn("Timed out flushing outbound queue", zap.Int("pending", len(c.outbound)))
	}

	err := s.Disconnect(ctx)
	cancel()
	c.wg.Wait()

	logging.LogConnection(c.serverURL.String(), "disconnected")
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}
