// Package broker carries job lifecycle events over a message broker.
package broker

// Publisher sends payloads to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Broker is a connection to a message broker.
type Broker interface {
	Publisher
	Connect() error
	Disconnect() error
	Subscribe(topics []string, h Handler) error
	String() string
}

// Handler is called for every payload received on a subscribed topic.
type Handler func(Event) error

// Event is one payload received from the broker.
type Event struct {
	Topic    string
	Payload  []byte
	Retained bool
}
