package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/logging"
)

// QoS for every SentientLock topic. At-least-once delivery is made
// idempotent by call-id dedupe in the sequencer.
const QoS byte = 1

// Bus is the subset of the broker client the submit and presence paths use.
type Bus interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, payload []byte) error
}

// Client wraps the Paho MQTT client for SentientLock.
type Client struct {
	client    paho.Client
	brokerURL string
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	handlers map[string]paho.MessageHandler
}

// NewClient creates a new MQTT client but does not connect. Subscriptions
// are restored automatically after a reconnect.
func NewClient(brokerURL, clientID string, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Client{
		brokerURL: brokerURL,
		logger:    logger,
		handlers:  make(map[string]paho.MessageHandler),
	}

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOnConnectHandler(c.resubscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warnw("mqtt connection lost", "broker", brokerURL, "error", err)
		})

	c.client = paho.NewClient(opts)
	return c
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return &ConnectTimeoutError{}
	}
	return token.Error()
}

// Subscribe subscribes to a topic with the given handler.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()

	token := c.client.Subscribe(topic, QoS, handler)
	if !token.WaitTimeout(10 * time.Second) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, QoS, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return &PublishTimeoutError{Topic: topic}
	}
	return token.Error()
}

// resubscribe runs on every (re)connect. It must not wait on tokens.
func (c *Client) resubscribe(pc paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.handlers {
		pc.Subscribe(topic, QoS, handler)
	}
	if len(c.handlers) > 0 {
		c.logger.Infow("mqtt resubscribed", "topics", len(c.handlers))
	}
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// SubscribeTimeoutError indicates subscription timed out.
type SubscribeTimeoutError struct {
	Topic string
}

func (e *SubscribeTimeoutError) Error() string {
	return "mqtt subscribe timeout: " + e.Topic
}

// PublishTimeoutError indicates a publish was not acknowledged in time.
type PublishTimeoutError struct {
	Topic string
}

func (e *PublishTimeoutError) Error() string {
	return "mqtt publish timeout: " + e.Topic
}

// StartWithRetry connects and subscribes every handler, logging errors but
// not crashing. Returns true if connected and subscribed.
func (c *Client) StartWithRetry(handlers map[string]paho.MessageHandler) bool {
	if err := c.Connect(); err != nil {
		c.logger.Warnw("mqtt connect failed", "broker", c.brokerURL, "error", err)
		return false
	}

	for topic, handler := range handlers {
		if err := c.Subscribe(topic, handler); err != nil {
			c.logger.Warnw("mqtt subscribe failed", "topic", topic, "error", err)
			return false
		}
		c.logger.Infow("mqtt subscribed", "topic", topic)
	}
	return true
}
