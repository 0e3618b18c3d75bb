package domain

import (
	"encoding/json"
	"time"
)

// ChangeEvent is produced once per change notification, published and then
// discarded.
type ChangeEvent struct {
	PointName       string    `json:"point"`
	Value           float64   `json:"value"`
	ServerTimestamp time.Time `json:"timestamp"`
}

// ValueWithTimestamp is the composite payload of points that publish value
// and timestamp together.
type ValueWithTimestamp struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is one outward publication: a payload on a named topic.
type Message struct {
	Topic   string
	Payload any
}

// EncodePayload renders the payload as JSON, the wire form shared by every
// publisher.
func (m *Message) EncodePayload() ([]byte, error) {
	return json.Marshal(m.Payload)
}
