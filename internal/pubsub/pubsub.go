// Package pubsub provides an interface-driven pub/sub bus for the observer
// feed. The in-memory implementation covers single-instance deployments; the
// Redis backend lets several coordinator instances feed one dashboard.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned when operations are attempted on a closed PubSub
var ErrClosed = errors.New("pubsub: closed")

// Message represents a pub/sub message with typed payload
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is a callback for processing messages
type Handler func(ctx context.Context, msg *Message)

// Subscription represents an active subscription that can be closed
type Subscription interface {
	// Unsubscribe removes the subscription
	Unsubscribe() error
}

// PubSub defines the interface for publish/subscribe operations.
// All implementations must be safe for concurrent use.
type PubSub interface {
	// Publish sends a message to all subscribers of the given topic.
	// Returns error if the message could not be published.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers a handler for messages on the given topic.
	// The handler is called for each message published to the topic.
	// Returns a Subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close shuts down the pub/sub system and releases resources.
	Close() error
}

// TopicBuilder helps construct consistent topic names
type TopicBuilder struct{}

// Observer returns the topic carrying dashboard-bound events
// (activity log, client list, server stats, room state mirrors).
func (t TopicBuilder) Observer() string {
	return "observer"
}

// Topics is a helper for building topic names
var Topics = TopicBuilder{}
