package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// State describes the connection lifecycle. Transitions are serialized:
// Disconnected -> Connecting -> Connected, and back to Connecting whenever
// the monitored connection reports an abnormal close.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultReconnectDelay is the flat delay between connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// ConnectionManager owns one broker connection and rebuilds it from scratch
// after failure. Retries are unbounded and run at a fixed delay; there is no
// backoff growth and no circuit breaker. Consumers wait on Connection for a
// usable connection after a loss.
type ConnectionManager struct {
	url            string
	dial           Dialer
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu        sync.RWMutex
	conn      Connection
	state     State
	connected chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the flat delay between connection attempts.
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		if delay > 0 {
			cm.reconnectDelay = delay
		}
	}
}

// WithDialer replaces the dial function. Used by tests to simulate
// connection failures without a broker.
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		if dial != nil {
			cm.dial = dial
		}
	}
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           Dial,
		reconnectDelay: DefaultReconnectDelay,
		logger:         slog.Default(),
		state:          StateDisconnected,
		connected:      make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection, retrying at the fixed delay
// until it succeeds, the context is cancelled, or the manager is closed.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	if cm.state == StateConnected {
		cm.mu.Unlock()
		return nil
	}
	cm.state = StateConnecting
	cm.mu.Unlock()

	for attempt := 1; ; attempt++ {
		select {
		case <-cm.done:
			return ErrManagerClosed
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := cm.dial(cm.url)
		if err == nil {
			cm.adopt(conn)
			cm.logger.Info("connected to broker",
				"url", SanitizeURL(cm.url),
				"attempt", attempt)
			return nil
		}

		cm.logger.Error("broker connection failed",
			"url", SanitizeURL(cm.url),
			"attempt", attempt,
			"retryIn", cm.reconnectDelay,
			"error", err)

		select {
		case <-time.After(cm.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		case <-cm.done:
			return ErrManagerClosed
		}
	}
}

// adopt installs a freshly dialed connection, flips the state to Connected,
// and starts the close monitor for it.
func (cm *ConnectionManager) adopt(conn Connection) {
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))

	cm.mu.Lock()
	cm.conn = conn
	cm.state = StateConnected
	connected := cm.connected
	cm.mu.Unlock()

	close(connected)
	go cm.monitor(notify)
}

// monitor waits for the current connection to terminate and triggers a
// rebuild. Each adopted connection gets its own monitor, so reconnect
// attempts never run concurrently.
func (cm *ConnectionManager) monitor(notify chan *amqp.Error) {
	select {
	case <-cm.done:
		return
	case err := <-notify:
		if err != nil {
			cm.logger.Error("broker connection lost", "error", err)
		} else {
			cm.logger.Info("broker connection closed")
		}

		cm.mu.Lock()
		cm.conn = nil
		cm.state = StateConnecting
		cm.connected = make(chan struct{})
		cm.mu.Unlock()

		cm.reconnect()
	}
}

// reconnect rebuilds the connection from scratch, retrying forever at the
// fixed delay.
func (cm *ConnectionManager) reconnect() {
	for attempt := 1; ; attempt++ {
		select {
		case <-cm.done:
			return
		default:
		}

		conn, err := cm.dial(cm.url)
		if err == nil {
			cm.adopt(conn)
			cm.logger.Info("reconnected to broker",
				"url", SanitizeURL(cm.url),
				"attempt", attempt)
			return
		}

		cm.logger.Error("reconnection failed",
			"attempt", attempt,
			"retryIn", cm.reconnectDelay,
			"error", err)

		select {
		case <-time.After(cm.reconnectDelay):
		case <-cm.done:
			return
		}
	}
}

// Connection returns the current connection, blocking through reconnects
// until one is available, the context is cancelled, or the manager closes.
func (cm *ConnectionManager) Connection(ctx context.Context) (Connection, error) {
	for {
		cm.mu.RLock()
		conn := cm.conn
		state := cm.state
		connected := cm.connected
		cm.mu.RUnlock()

		if state == StateConnected && conn != nil {
			if !conn.IsClosed() {
				return conn, nil
			}
			// The close has not reached the monitor yet; give it a beat.
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-cm.done:
				return nil, ErrManagerClosed
			}
			continue
		}

		select {
		case <-connected:
			// State changed, re-check.
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cm.done:
			return nil, ErrManagerClosed
		}
	}
}

// State returns the current lifecycle state.
func (cm *ConnectionManager) State() State {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// IsConnected reports whether a usable connection is held.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state == StateConnected && cm.conn != nil && !cm.conn.IsClosed()
}

// Close shuts the manager down and closes the held connection, if any.
// The manager does not reconnect after Close.
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)

		cm.mu.Lock()
		conn := cm.conn
		cm.conn = nil
		cm.state = StateDisconnected
		cm.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}
