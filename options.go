package protein

import (
	"log/slog"
	"time"

	"github.com/ruby2elixir/protein-go/rpc"
)

// Codec encodes requests and decodes responses on the client side. The
// default codec is JSON.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type clientConfig struct {
	timeout time.Duration
	logger  *slog.Logger
	codec   Codec
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithTimeout sets how long Call waits for a reply. Zero waits
// indefinitely.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCodec sets the codec used to encode requests and decode responses.
func WithCodec(codec Codec) ClientOption {
	return func(c *clientConfig) {
		if codec != nil {
			c.codec = codec
		}
	}
}

type serverConfig struct {
	concurrency    int
	failureMode    rpc.FailureMode
	reconnectDelay time.Duration
	logger         *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

// WithConcurrency bounds the number of concurrently dispatched requests.
func WithConcurrency(n int) ServerOption {
	return func(c *serverConfig) {
		c.concurrency = n
	}
}

// WithFailureMode sets the disposition of requests whose dispatch failed.
func WithFailureMode(mode rpc.FailureMode) ServerOption {
	return func(c *serverConfig) {
		c.failureMode = mode
	}
}

// WithReconnectDelay sets the flat delay between broker reconnection
// attempts.
func WithReconnectDelay(delay time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.reconnectDelay = delay
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(c *serverConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
