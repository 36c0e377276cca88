package mqtt

import (
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
)

type Option func(m *MQTTBroker) error

// WithURL returns an Option which set the broker url.
func WithURL(u string) Option {
	return func(m *MQTTBroker) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		m.uri = uri
		return nil
	}
}

// WithClientID returns an Option which set the broker client id.
func WithClientID(id string) Option {
	return func(m *MQTTBroker) error {
		m.clientID = id
		return nil
	}
}

// WithStatusTopic publishes ONLINE on connect and registers OFFLINE as the last will.
func WithStatusTopic(topic string) Option {
	return func(m *MQTTBroker) error {
		m.statusTopic = topic
		return nil
	}
}

// WithLogger returns an Option which set the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *MQTTBroker) error {
		m.logger = l
		return nil
	}
}

// WithTimeout bounds connect, publish and subscribe round trips.
func WithTimeout(d time.Duration) Option {
	return func(m *MQTTBroker) error {
		if d <= 0 {
			return errors.New("broker timeout must be positive")
		}
		m.timeout = d
		return nil
	}
}
