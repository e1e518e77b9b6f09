package messaging

import (
	"context"
)

// Broker defines the interface for message brokers. Messages are JSON encoded
// on Publish and delivered to subscribers as raw bytes.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe returns once the subscription is live. The channel is closed
	// when ctx is cancelled or the broker is closed.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope used for lifecycle events.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
