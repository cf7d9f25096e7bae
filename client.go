package protein

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ruby2elixir/protein-go/rpc"
)

// caller is the synchronous call transport. Satisfied by *rpc.Caller.
type caller interface {
	Call(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// pusher is the fire-and-forget transport. Satisfied by *rpc.Pusher.
type pusher interface {
	Push(ctx context.Context, payload []byte) error
}

// Client performs calls and pushes against one request queue.
type Client struct {
	caller caller
	pusher pusher
	codec  Codec
	queue  string
	logger *slog.Logger
}

// NewClient connects to the broker and prepares the client's exclusive
// reply queue.
func NewClient(url, queue string, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger: slog.Default(),
		codec:  jsonCodec{},
	}

	for _, opt := range options {
		opt(cfg)
	}

	callerOpts := []rpc.CallerOption{
		rpc.WithCallerLogger(cfg.logger),
	}
	if cfg.timeout > 0 {
		callerOpts = append(callerOpts, rpc.WithCallTimeout(cfg.timeout))
	}

	cl, err := rpc.NewCaller(url, queue, callerOpts...)
	if err != nil {
		return nil, err
	}

	pu, err := rpc.NewPusher(url, queue, rpc.WithPusherLogger(cfg.logger))
	if err != nil {
		cl.Close()
		return nil, err
	}

	return &Client{
		caller: cl,
		pusher: pu,
		codec:  cfg.codec,
		queue:  queue,
		logger: cfg.logger,
	}, nil
}

// Call invokes the named service and decodes its reply into resp. A nil
// resp discards the reply body. Failures surface as *rpc.TimeoutError,
// *rpc.ServiceError or *rpc.ConnectionError.
func (c *Client) Call(ctx context.Context, service string, req, resp interface{}) error {
	body, err := c.codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("protein: marshal request for %q: %w", service, err)
	}

	out, err := c.CallRaw(ctx, service, body)
	if err != nil {
		return err
	}

	if resp == nil || len(out) == 0 {
		return nil
	}
	if err := c.codec.Unmarshal(out, resp); err != nil {
		return fmt.Errorf("protein: unmarshal response from %q: %w", service, err)
	}
	return nil
}

// CallRaw invokes the named service with a pre-encoded body and returns the
// raw reply body.
func (c *Client) CallRaw(ctx context.Context, service string, body []byte) ([]byte, error) {
	payload, err := rpc.EncodeRequest(service, body)
	if err != nil {
		return nil, err
	}
	return c.caller.Call(ctx, payload)
}

// Push publishes a request for the named service and returns without
// waiting for any response. Delivery is best effort.
func (c *Client) Push(ctx context.Context, service string, req interface{}) error {
	body, err := c.codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("protein: marshal request for %q: %w", service, err)
	}
	payload, err := rpc.EncodeRequest(service, body)
	if err != nil {
		return err
	}
	return c.pusher.Push(ctx, payload)
}

// Close releases the client's connection. In-flight calls fail.
func (c *Client) Close() error {
	return c.caller.Close()
}

// jsonCodec is the default client codec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
