package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	"github.com/ruby2elixir/protein-go/internal/rabbitmq"
)

// ErrConsumerCancelled is surfaced on Err when the broker cancels the
// consumer. That is fatal to this server instance; the surrounding
// supervision is expected to restart it.
var ErrConsumerCancelled = errors.New("rpc: consumer cancelled by broker")

// FailureMode selects what happens to a delivery whose dispatch failed
// before the acknowledgement was sent.
type FailureMode int

const (
	// FailureReject nacks without requeue (default). Dead-letter routing,
	// where configured on the queue, picks the message up.
	FailureReject FailureMode = iota
	// FailureRequeue nacks with requeue, so the broker redelivers.
	FailureRequeue
	// FailureDrop leaves the delivery unacknowledged; its fate is decided
	// by broker policy when the channel eventually closes.
	FailureDrop
)

func (m FailureMode) String() string {
	switch m {
	case FailureReject:
		return "reject"
	case FailureRequeue:
		return "requeue"
	case FailureDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Dispatch concurrency bounds.
const (
	DefaultConcurrency = 15
	MaxConcurrency     = 1024
)

// Server consumes the request queue and dispatches every delivery to a
// registered service in its own goroutine, bounded by a semaphore. The
// delivery is acknowledged only after its reply was published; earlier
// failures are local to the dispatch unit and disposed of per FailureMode.
type Server struct {
	queue          string
	router         *Router
	manager        *rabbitmq.ConnectionManager
	sem            *semaphore.Weighted
	concurrency    int
	failureMode    FailureMode
	reconnectDelay time.Duration
	dial           rabbitmq.Dialer
	logger         *slog.Logger

	mu      sync.Mutex
	started bool

	wg        sync.WaitGroup
	errCh     chan error
	done      chan struct{}
	closeOnce sync.Once
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithConcurrency bounds the number of in-flight dispatch units. Values
// are clamped to [1, MaxConcurrency]; the default is DefaultConcurrency.
func WithConcurrency(n int) ServerOption {
	return func(s *Server) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrency {
			n = MaxConcurrency
		}
		s.concurrency = n
	}
}

// WithFailureMode sets the disposition of deliveries whose dispatch failed.
func WithFailureMode(mode FailureMode) ServerOption {
	return func(s *Server) {
		s.failureMode = mode
	}
}

// WithReconnectDelay sets the flat delay between reconnection attempts.
func WithReconnectDelay(delay time.Duration) ServerOption {
	return func(s *Server) {
		if delay > 0 {
			s.reconnectDelay = delay
		}
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// withServerDialer replaces the dial function for tests.
func withServerDialer(dial rabbitmq.Dialer) ServerOption {
	return func(s *Server) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// NewServer creates a server for the given request queue and router. The
// connection is not opened until Start.
func NewServer(url, queue string, router *Router, options ...ServerOption) (*Server, error) {
	if queue == "" {
		return nil, fmt.Errorf("rpc: request queue name is required")
	}
	if router == nil {
		return nil, fmt.Errorf("rpc: router is required")
	}

	s := &Server{
		queue:          queue,
		router:         router,
		concurrency:    DefaultConcurrency,
		failureMode:    FailureReject,
		reconnectDelay: rabbitmq.DefaultReconnectDelay,
		dial:           rabbitmq.Dial,
		logger:         slog.Default(),
		errCh:          make(chan error, 1),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	s.sem = semaphore.NewWeighted(int64(s.concurrency))
	s.manager = rabbitmq.NewConnectionManager(url,
		rabbitmq.WithDialer(s.dial),
		rabbitmq.WithReconnectDelay(s.reconnectDelay),
		rabbitmq.WithLogger(s.logger),
	)

	return s, nil
}

// Start connects and begins consuming in the background. It returns
// immediately; connection failures are retried at the fixed delay until
// ctx is cancelled or the server is stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrServerClosed
	default:
	}
	if s.started {
		return fmt.Errorf("rpc: server already started")
	}
	s.started = true

	go s.run(ctx)
	return nil
}

// Err reports the fatal error that stopped consuming, if any. Only
// broker-initiated consumer cancellation is fatal; everything else is
// retried or local to a dispatch unit.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// IsConnected reports whether the server currently holds a broker
// connection.
func (s *Server) IsConnected() bool {
	return s.manager.IsConnected()
}

// run drives the connect/consume loop until the context is cancelled, the
// server is stopped, or the broker cancels the consumer.
func (s *Server) run(ctx context.Context) {
	if err := s.manager.Connect(ctx); err != nil {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.manager.Connection(ctx)
		if err != nil {
			return
		}

		err = s.consume(ctx, conn)
		switch {
		case err == nil:
			// Delivery stream ended: the connection or channel is gone.
			// The manager rebuilds it; loop and consume again.
		case errors.Is(err, ErrConsumerCancelled):
			s.fatal(err)
			return
		case ctx.Err() != nil:
			return
		default:
			s.logger.Error("consume failed", "queue", s.queue, "error", err)
			select {
			case <-time.After(s.reconnectDelay):
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

// consume declares the queue, starts the consumer and dispatches
// deliveries until the stream ends. A nil return means the stream ended
// and consuming should resume on a fresh connection.
func (s *Server) consume(ctx context.Context, conn rabbitmq.Connection) error {
	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer channel.Close()

	if _, err := channel.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", s.queue, err)
	}

	if err := channel.Qos(s.concurrency, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	tag := fmt.Sprintf("protein.%s", uuid.New().String()[:8])
	deliveries, err := channel.Consume(s.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", s.queue, err)
	}

	cancels := channel.NotifyCancel(make(chan string, 1))

	s.logger.Info("consuming requests",
		"queue", s.queue,
		"consumerTag", tag,
		"concurrency", s.concurrency,
		"failureMode", s.failureMode)

	for {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case cancelled := <-cancels:
			return fmt.Errorf("%w: consumer %s", ErrConsumerCancelled, cancelled)
		case d, ok := <-deliveries:
			if !ok {
				s.logger.Warn("request stream ended", "queue", s.queue)
				return nil
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			s.wg.Add(1)
			go s.dispatch(ctx, channel, d)
		}
	}
}

// dispatch is one unit of concurrent work handling exactly one delivery.
// Its failures never propagate beyond this goroutine.
func (s *Server) dispatch(ctx context.Context, channel rabbitmq.Channel, d amqp.Delivery) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	if err := s.handle(ctx, channel, d); err != nil {
		s.logger.Error("dispatch failed",
			"queue", s.queue,
			"deliveryTag", d.DeliveryTag,
			"error", err)
		s.dispose(d)
	}
}

// handle decodes the envelope, routes to the service, publishes the reply
// and acknowledges the delivery. The ack is sent only after the reply went
// out; any earlier error leaves the delivery unacknowledged.
func (s *Server) handle(ctx context.Context, channel rabbitmq.Channel, d amqp.Delivery) error {
	env, err := DecodeRequest(d.Body)
	if err != nil {
		return err
	}

	svc, ok := s.router.Lookup(env.Service)
	if !ok {
		return &UnknownServiceError{Service: env.Service}
	}

	req, err := svc.RequestCodec.Decode(env.Body)
	if err != nil {
		return fmt.Errorf("decode request for %q: %w", env.Service, err)
	}

	var reply []byte
	result, handlerErr := svc.Handler.Handle(ctx, req)
	if handlerErr != nil {
		s.logger.Warn("service handler failed",
			"service", env.Service,
			"error", &HandlerError{Service: env.Service, Err: handlerErr})
		reply, err = EncodeErrorResponse(handlerErr.Error())
		if err != nil {
			return err
		}
	} else {
		body, err := svc.ResponseCodec.Encode(result)
		if err != nil {
			return fmt.Errorf("encode response for %q: %w", env.Service, err)
		}
		reply, err = EncodeResponse(body)
		if err != nil {
			return err
		}
	}

	if d.ReplyTo != "" {
		msg := amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          reply,
		}
		if err := channel.PublishWithContext(ctx, "", d.ReplyTo, false, false, msg); err != nil {
			return fmt.Errorf("publish reply to %s: %w", d.ReplyTo, err)
		}
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

// dispose applies the configured failure disposition to an unacknowledged
// delivery.
func (s *Server) dispose(d amqp.Delivery) {
	var err error
	switch s.failureMode {
	case FailureReject:
		err = d.Nack(false, false)
	case FailureRequeue:
		err = d.Nack(false, true)
	case FailureDrop:
		// Leave unacknowledged.
		return
	}
	if err != nil {
		s.logger.Error("failed to nack delivery",
			"deliveryTag", d.DeliveryTag,
			"failureMode", s.failureMode,
			"error", err)
	}
}

// fatal records the error that stopped the server for Err watchers.
func (s *Server) fatal(err error) {
	s.logger.Error("server stopping", "queue", s.queue, "error", err)
	select {
	case s.errCh <- err:
	default:
	}
}

// Stop shuts the server down: consuming stops, in-flight dispatch units
// drain, and the connection is closed.
func (s *Server) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.manager.Close()
	})
	return err
}
