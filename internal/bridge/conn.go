package bridge

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/idgen"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second

	statusOnline  = "online"
	statusOffline = "offline"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("not connected to mqtt broker")

// MessageHandler receives messages for a subscription. A returned error is
// logged but does not affect message delivery.
type MessageHandler func(topic string, payload []byte) error

// Config holds the MQTT broker settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
	TLS      bool
	QoS      byte
}

// Conn wraps the paho client with the connection behavior the bridge needs:
// a retained last-will on the bridge status topic, re-subscription after
// reconnects, and panic recovery around message handlers.
type Conn struct {
	client pahomqtt.Client
	qos    byte
	status string
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]MessageHandler
}

// Connect establishes the broker connection. The broker keeps "offline"
// retained on the status topic as last will; "online" is published on every
// (re)connect.
func Connect(cfg Config, statusTopic string, logger *slog.Logger) (*Conn, error) {
	c := &Conn{
		qos:    cfg.QoS,
		status: statusTopic,
		logger: logger,
		subs:   make(map[string]MessageHandler),
	}

	opts := pahomqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = idgen.NewClientID()
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(statusTopic, statusOffline, cfg.QoS, true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.onConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}

	return c, nil
}

// onConnect runs on initial connect and on every reconnect
func (c *Conn) onConnect() {
	c.logger.Info("MQTT connected")

	c.mu.RLock()
	for topic, handler := range c.subs {
		c.client.Subscribe(topic, c.qos, c.wrapHandler(handler))
	}
	c.mu.RUnlock()

	c.client.Publish(c.status, c.qos, true, statusOnline)
}

// Publish sends payload to topic and waits for the broker acknowledgment
func (c *Conn) Publish(topic string, payload []byte, retained bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish on %s failed: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription survives
// reconnects.
func (c *Conn) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	token := c.client.Subscribe(topic, c.qos, c.wrapHandler(handler))
	if !token.WaitTimeout(publishTimeout) {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return fmt.Errorf("mqtt subscribe timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return fmt.Errorf("mqtt subscribe on %s failed: %w", topic, err)
	}
	return nil
}

// wrapHandler isolates handler failures so a bad message never takes the
// receive loop down.
func (c *Conn) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler failed",
				"topic", msg.Topic(),
				"error", err)
		}
	}
}

// Close publishes a graceful offline status and disconnects
func (c *Conn) Close() {
	if c.client.IsConnected() {
		token := c.client.Publish(c.status, c.qos, true, statusOffline)
		token.WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
}
