// Package eventing provides the messaging transport used by the broker: a
// fan-out publish/subscribe channel for responses and a consumer-group work
// queue for requests, both carried over redis.
package eventing

import "context"

// Message represents a message received from the event system.
type Message interface {
	Data() []byte
	Headers() Headers
}

// Headers carries message metadata, including trace propagation context.
type Headers map[string]string

func (h Headers) Get(key string) string {
	return h[key]
}

func (h Headers) Set(key string, value string) {
	h[key] = value
}

func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

type MessageCallback func(ctx context.Context, msg Message)

type Subscriber interface {
	// Close stops the subscriber
	Close() error
}

type PublishOption func(*publishOptions)

type publishOptions struct {
	Headers [][]string
}

func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		o.Headers = append(o.Headers, []string{key, value})
	}
}

// Client defines the interface for event clients.
type Client interface {
	// Publish delivers a message to every current subscriber of subject
	// (fan-out).
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	// QueuePublish appends a message to the subject's work queue; exactly
	// one consumer in each group receives it.
	QueuePublish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	// Subscribe receives every message published to subject.
	Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error)
	// QueueSubscribe joins the named consumer group on subject's work
	// queue, competing with the group's other consumers.
	QueueSubscribe(ctx context.Context, subject, group string, cb MessageCallback) (Subscriber, error)
	// Close closes the client
	Close() error
}
