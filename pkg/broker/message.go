package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	JobStarted   = "job_started"
	JobSucceeded = "job_succeeded"
	JobFailed    = "job_failed"
	JobCancelled = "job_cancelled"
)

// ErrUnknownEventType is raised when receiving unhandled event from broker.
var ErrUnknownEventType = errors.New("unknown event type")

// Message is the message event format.
type Message struct {
	EventType string `json:"event_type"`
	CreatedAt string `json:"created_at"`

	JobID        string `json:"job_id"`
	Kind         string `json:"kind"`
	Trigger      string `json:"trigger"`
	ConnectionID uint   `json:"connection_id"`
	Destination  string `json:"destination"`
	ScheduleID   *uint  `json:"schedule_id,omitempty"`

	// Set once the job has finished.
	Filename string `json:"filename,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ParseMessage decodes and checks a message received from the broker.
func ParseMessage(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	switch msg.EventType {
	case JobStarted, JobSucceeded, JobFailed, JobCancelled:
		return &msg, nil
	}
	return nil, fmt.Errorf("event %q: %w", msg.EventType, ErrUnknownEventType)
}

// Notifier publishes job messages to one topic. A nil Notifier drops them.
type Notifier struct {
	p     Publisher
	topic string
}

func NewNotifier(p Publisher, topic string) *Notifier {
	return &Notifier{p: p, topic: topic}
}

// Notify stamps msg and publishes it as JSON. Messages are dropped while the
// broker is disconnected.
func (n *Notifier) Notify(msg Message) error {
	if n == nil || n.p == nil || !n.p.IsConnected() {
		return nil
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.p.Publish(n.topic, payload)
}
