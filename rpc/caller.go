package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ruby2elixir/protein-go/internal/rabbitmq"
)

// Caller performs synchronous calls: publish a request to the shared
// request queue, then block until the correlated reply arrives on the
// caller's exclusive reply queue or the timeout elapses.
//
// All concurrent calls multiplex one connection and one channel; isolation
// between them is by correlation id only.
type Caller struct {
	conn       rabbitmq.Connection
	channel    rabbitmq.Channel
	queue      string
	replyQueue string
	timeout    time.Duration
	pending    *pendingCalls
	logger     *slog.Logger
	dial       rabbitmq.Dialer

	done      chan struct{}
	closeOnce sync.Once
}

// CallerOption configures the Caller.
type CallerOption func(*Caller)

// WithCallTimeout sets how long a call waits for its reply. Zero waits
// indefinitely. The timeout is also stamped on the published message as its
// expiration, so the broker discards requests nobody consumed in time.
func WithCallTimeout(timeout time.Duration) CallerOption {
	return func(c *Caller) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithReplyQueue overrides the generated reply queue name.
func WithReplyQueue(name string) CallerOption {
	return func(c *Caller) {
		if name != "" {
			c.replyQueue = name
		}
	}
}

// WithCallerLogger sets the logger.
func WithCallerLogger(logger *slog.Logger) CallerOption {
	return func(c *Caller) {
		c.logger = logger
	}
}

// withCallerDialer replaces the dial function, so tests can run against a
// fake broker.
func withCallerDialer(dial rabbitmq.Dialer) CallerOption {
	return func(c *Caller) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// NewCaller connects to the broker, declares the exclusive reply queue and
// starts the reply consumer.
func NewCaller(url, queue string, options ...CallerOption) (*Caller, error) {
	if queue == "" {
		return nil, fmt.Errorf("rpc: request queue name is required")
	}

	c := &Caller{
		queue:      queue,
		replyQueue: fmt.Sprintf("reply.%s", uuid.New().String()[:8]),
		pending:    newPendingCalls(),
		logger:     slog.Default(),
		dial:       rabbitmq.Dial,
		done:       make(chan struct{}),
	}

	for _, opt := range options {
		opt(c)
	}

	conn, err := c.dial(url)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", URL: rabbitmq.SanitizeURL(url), Err: err}
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: "channel", URL: rabbitmq.SanitizeURL(url), Err: err}
	}

	// Per-caller reply queue: exclusive and auto-deleted, consumed without
	// manual acknowledgement.
	if _, err := channel.QueueDeclare(c.replyQueue, false, true, true, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rpc: declare reply queue %s: %w", c.replyQueue, err)
	}

	deliveries, err := channel.Consume(c.replyQueue, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rpc: consume reply queue %s: %w", c.replyQueue, err)
	}

	c.conn = conn
	c.channel = channel

	go c.consumeReplies(deliveries)

	c.logger.Debug("caller ready",
		"queue", c.queue,
		"replyQueue", c.replyQueue,
		"timeout", c.timeout)

	return c, nil
}

// Call publishes payload to the request queue and blocks until the
// correlated reply arrives. It returns the reply body, a *ServiceError if
// the service failed, or a *TimeoutError when no reply arrived in time.
// There is no retry on timeout.
func (c *Caller) Call(ctx context.Context, payload []byte) ([]byte, error) {
	select {
	case <-c.done:
		return nil, ErrCallerClosed
	default:
	}

	correlationID, err := newCorrelationID()
	if err != nil {
		return nil, err
	}

	replyCh := c.pending.add(correlationID)
	defer c.pending.remove(correlationID)

	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          payload,
		CorrelationId: correlationID,
		ReplyTo:       c.replyQueue,
	}
	if c.timeout > 0 {
		msg.Expiration = strconv.FormatInt(c.timeout.Milliseconds(), 10)
	}

	if err := c.channel.PublishWithContext(ctx, "", c.queue, false, false, msg); err != nil {
		return nil, &ConnectionError{Op: "publish", Err: err}
	}

	var timeoutCh <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case reply := <-replyCh:
		return DecodeResponse(reply)
	case <-timeoutCh:
		return nil, &TimeoutError{Timeout: c.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrCallerClosed
	}
}

// consumeReplies resolves pending calls by correlation id. Replies nobody
// is waiting for are dropped.
func (c *Caller) consumeReplies(deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("reply stream closed", "replyQueue", c.replyQueue)
				return
			}
			if d.CorrelationId == "" {
				continue
			}
			if !c.pending.resolve(d.CorrelationId, d.Body) {
				c.logger.Debug("dropping uncorrelated reply",
					"correlationId", d.CorrelationId)
			}
		}
	}
}

// Close shuts the caller down and releases its connection. In-flight calls
// fail with ErrCallerClosed.
func (c *Caller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.channel != nil {
			c.channel.Close()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
