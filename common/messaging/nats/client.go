// Package nats forwards feed messages over NATS and tails them back.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/common/messaging"
)

// Config holds the connection settings.
type Config struct {
	URL  string
	Name string
	// MaxReconnects of -1 reconnects forever.
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Logger        *slog.Logger
}

// DefaultConfig connects to a local server and reconnects forever.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "feedctl",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client is a NATS connection. It implements messaging.Publisher.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewClient connects to cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	logger := logging.OrDiscard(cfg.Logger).With(logging.Service("nats"))

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", logging.URL(c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Publish sends data on subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// PublishMsg sends msg with its headers.
func (c *Client) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.PublishMsg(natsMsg(msg))
}

// Subscribe delivers subject to h. A non-empty queue joins that queue
// group so members share the messages.
func (c *Client) Subscribe(subject, queue string, h messaging.Handler) (messaging.Subscription, error) {
	cb := func(m *nats.Msg) {
		if err := h(context.Background(), feedMsg(m)); err != nil {
			c.logger.Error("message handler failed", logging.Topic(m.Subject), logging.Error(err))
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.conn.Subscribe(subject, cb)
	} else {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return subscription{sub: sub}, nil
}

// Drain lets pending messages reach their handlers, then closes.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// Close closes the connection and every subscription on it.
func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

type subscription struct {
	sub *nats.Subscription
}

func (s subscription) Subject() string    { return s.sub.Subject }
func (s subscription) Unsubscribe() error { return s.sub.Unsubscribe() }

func natsMsg(msg *messaging.Message) *nats.Msg {
	m := nats.NewMsg(msg.Subject)
	m.Data = msg.Data
	for k, v := range msg.Header {
		m.Header.Set(k, v)
	}
	return m
}

func feedMsg(m *nats.Msg) *messaging.Message {
	msg := &messaging.Message{Subject: m.Subject, Data: m.Data}
	if len(m.Header) > 0 {
		msg.Header = make(messaging.Header, len(m.Header))
		for k := range m.Header {
			msg.Header[k] = m.Header.Get(k)
		}
	}
	return msg
}
