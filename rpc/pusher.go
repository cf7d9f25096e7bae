package rpc

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ruby2elixir/protein-go/internal/rabbitmq"
)

// Pusher publishes fire-and-forget messages. Every push opens a fresh
// connection and channel, publishes without reply metadata, and tears both
// down again. Delivery is best effort: no confirms, no retry, and no
// response is ever awaited.
type Pusher struct {
	url    string
	queue  string
	dial   rabbitmq.Dialer
	logger *slog.Logger
}

// PusherOption configures the Pusher.
type PusherOption func(*Pusher)

// WithPusherLogger sets the logger.
func WithPusherLogger(logger *slog.Logger) PusherOption {
	return func(p *Pusher) {
		p.logger = logger
	}
}

// withPusherDialer replaces the dial function for tests.
func withPusherDialer(dial rabbitmq.Dialer) PusherOption {
	return func(p *Pusher) {
		if dial != nil {
			p.dial = dial
		}
	}
}

// NewPusher creates a pusher targeting queue. No connection is opened until
// Push is called.
func NewPusher(url, queue string, options ...PusherOption) (*Pusher, error) {
	if queue == "" {
		return nil, fmt.Errorf("rpc: request queue name is required")
	}

	p := &Pusher{
		url:    url,
		queue:  queue,
		dial:   rabbitmq.Dial,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p, nil
}

// Push publishes payload to the request queue and returns without waiting
// for any acknowledgement or response.
func (p *Pusher) Push(ctx context.Context, payload []byte) error {
	conn, err := p.dial(p.url)
	if err != nil {
		return &ConnectionError{Op: "dial", URL: rabbitmq.SanitizeURL(p.url), Err: err}
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		return &ConnectionError{Op: "channel", URL: rabbitmq.SanitizeURL(p.url), Err: err}
	}
	defer channel.Close()

	msg := amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	}

	if err := channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return &ConnectionError{Op: "publish", URL: rabbitmq.SanitizeURL(p.url), Err: err}
	}

	p.logger.Debug("pushed message", "queue", p.queue, "bytes", len(payload))
	return nil
}
