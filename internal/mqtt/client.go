// Package mqtt exposes items on an MQTT broker.
package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
)

// MessageHandler receives messages for a subscription.
type MessageHandler func(topic string, payload []byte)

// Broker is the subset of a broker connection the item exposure needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Close()
}

// Options configures a broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// StatusTopic receives a retained "online" message on connect and
	// "offline" on close or as the last will.
	StatusTopic string
	QoS         byte
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps a paho connection. Subscriptions are restored on reconnect.
type Client struct {
	client pahomqtt.Client
	opts   Options
	logger zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[string]subscription
}

// Connect connects to the broker and waits for the first connection.
func Connect(opts Options, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		opts:          opts,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	po := pahomqtt.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID(opts.ClientID)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}
	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectTimeout(connectTimeout)
	po.SetKeepAlive(keepAlive)
	if opts.StatusTopic != "" {
		po.SetWill(opts.StatusTopic, "offline", 1, true)
	}

	po.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

func (c *Client) handleConnect() {
	c.logger.Info().Str("broker", c.opts.Broker).Msg("MQTT connected")

	c.mu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrap(sub.handler))
	}
	c.mu.RUnlock()

	if c.opts.StatusTopic != "" {
		c.client.Publish(c.opts.StatusTopic, 1, true, "online")
	}
}

// Publish sends payload to topic and waits for the broker to accept it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic, which may contain wildcards.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrap(handler))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() {
	if c.client.IsConnected() && c.opts.StatusTopic != "" {
		c.client.Publish(c.opts.StatusTopic, 1, true, "offline").WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
}

func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("topic", msg.Topic()).Msg("MQTT handler panic recovered")
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}
