// Package messaging is the broker side of the feed sinks: the message
// shape, the publisher contract and the subject layout. Implementations
// live in subpackages.
package messaging

import "context"

// Header holds the string headers of a message.
type Header map[string]string

// Message is one payload on a subject.
type Message struct {
	Subject string
	Data    []byte
	Header  Header
}

// Handler receives the messages of a subscription.
type Handler func(ctx context.Context, msg *Message) error

// Publisher is what feed sinks forward through.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishMsg(ctx context.Context, msg *Message) error
	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	Subject() string
	Unsubscribe() error
}

// FeedHeader returns the headers stamped on a forwarded feed message.
// Empty values are left out.
func FeedHeader(source, logType, requestID string) Header {
	h := Header{}
	for k, v := range map[string]string{
		HeaderSource:    source,
		HeaderLogType:   logType,
		HeaderRequestID: requestID,
	} {
		if v != "" {
			h[k] = v
		}
	}
	return h
}
