// Package mqtt implements broker.Broker on top of an MQTT 3.1.1 server.
package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/broker"
)

const (
	disconnectQuiesce = 250 // milliseconds
	offlineStatement  = `{"status": "OFFLINE"}`
	onlineStatement   = `{"status": "ONLINE"}`
	defaultClientID   = "pg-backup-manager"
)

var _ broker.Broker = (*MQTTBroker)(nil)

var ErrNoConnection = errors.New("no connection to broker server")

// MQTTBroker publishes and receives job events through an MQTT server.
type MQTTBroker struct {
	uri         *url.URL
	clientID    string
	statusTopic string
	qos         byte
	timeout     time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	client paho.Client
}

// NewBroker creates an unconnected broker. WithURL is required.
func NewBroker(opts ...Option) (*MQTTBroker, error) {
	m := &MQTTBroker{qos: 1, timeout: 10 * time.Second}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.uri == nil {
		return nil, errors.New("empty broker url")
	}
	if m.clientID == "" {
		m.clientID = defaultClientID
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

func (m *MQTTBroker) brokerAddr() string {
	switch m.uri.Scheme {
	case "mqtts", "ssl", "tls":
		return "ssl://" + m.uri.Host
	case "ws", "wss":
		return m.uri.Scheme + "://" + m.uri.Host + m.uri.Path
	}
	return "tcp://" + m.uri.Host
}

func (m *MQTTBroker) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(m.brokerAddr())
	opts.SetUsername(m.uri.User.Username())
	if p, ok := m.uri.User.Password(); ok {
		opts.SetPassword(p)
	}
	opts.SetClientID(m.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(m.timeout)

	opts.OnConnect = func(c paho.Client) {
		m.logger.Info("connected to broker", zap.String("broker", m.uri.Host))
		if m.statusTopic != "" {
			c.Publish(m.statusTopic, 0, true, onlineStatement)
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		m.logger.Error("connection lost with broker", zap.Error(err))
	}
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) {
		m.logger.Warn("reconnecting to broker")
	}
	if m.statusTopic != "" {
		opts.SetWill(m.statusTopic, offlineStatement, 0, true)
	}
	return opts
}

// Connect dials the server and fails if it does not answer within the
// connect timeout. Lost connections are re-established in the background.
func (m *MQTTBroker) Connect() error {
	c := paho.NewClient(m.clientOptions())
	if err := wait(c.Connect(), m.timeout, "connect to "+m.uri.Host); err != nil {
		return err
	}
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
	return nil
}

func (m *MQTTBroker) connected() paho.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *MQTTBroker) IsConnected() bool {
	c := m.connected()
	return c != nil && c.IsConnectionOpen()
}

func (m *MQTTBroker) Disconnect() error {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c == nil {
		return ErrNoConnection
	}
	if m.statusTopic != "" {
		_ = wait(c.Publish(m.statusTopic, 0, true, offlineStatement), m.timeout, "publish status")
	}
	c.Disconnect(disconnectQuiesce)
	return nil
}

func (m *MQTTBroker) Publish(topic string, payload []byte) error {
	c := m.connected()
	if c == nil {
		return ErrNoConnection
	}
	return wait(c.Publish(topic, m.qos, false, payload), m.timeout, "publish to "+topic)
}

// Subscribe calls h for every message on topics until Disconnect.
func (m *MQTTBroker) Subscribe(topics []string, h broker.Handler) error {
	c := m.connected()
	if c == nil {
		return ErrNoConnection
	}
	if len(topics) == 0 {
		return errors.New("no topics provided")
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = m.qos
	}

	token := c.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		if err := h(broker.Event{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			Retained: msg.Retained(),
		}); err != nil {
			m.logger.Warn("event handler failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	return wait(token, m.timeout, "subscribe")
}

func (m *MQTTBroker) String() string {
	return fmt.Sprintf("mqtt [%s@%s]", m.clientID, m.uri.Host)
}

func wait(t paho.Token, timeout time.Duration, what string) error {
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("%s: timed out after %s", what, timeout)
	}
	return t.Error()
}
