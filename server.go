package protein

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruby2elixir/protein-go/rpc"
)

// Server hosts registered services on one request queue. Services are
// registered before Start; the router is immutable once serving.
type Server struct {
	url   string
	queue string
	cfg   serverConfig

	mu       sync.Mutex
	services []rpc.Service
	inner    *rpc.Server
}

// NewServer creates a server for the given request queue. No connection is
// opened until Start.
func NewServer(url, queue string, options ...ServerOption) (*Server, error) {
	if queue == "" {
		return nil, fmt.Errorf("protein: request queue name is required")
	}

	cfg := serverConfig{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(&cfg)
	}

	return &Server{
		url:   url,
		queue: queue,
		cfg:   cfg,
	}, nil
}

// Register adds a service. Missing codecs default to JSON. Registration
// after Start is an error.
func (s *Server) Register(svc rpc.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inner != nil {
		return fmt.Errorf("protein: cannot register %q after start", svc.Name)
	}
	s.services = append(s.services, svc)
	return nil
}

// RegisterFunc adds a JSON service backed by fn.
func (s *Server) RegisterFunc(name string, fn rpc.HandlerFunc) error {
	return s.Register(rpc.Service{Name: name, Handler: fn})
}

// Start builds the router and begins consuming in the background.
// Connection failures are retried forever at the configured delay.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inner != nil {
		return fmt.Errorf("protein: server already started")
	}

	router, err := rpc.NewRouter(s.services...)
	if err != nil {
		return err
	}

	opts := []rpc.ServerOption{
		rpc.WithServerLogger(s.cfg.logger),
		rpc.WithFailureMode(s.cfg.failureMode),
	}
	if s.cfg.concurrency > 0 {
		opts = append(opts, rpc.WithConcurrency(s.cfg.concurrency))
	}
	if s.cfg.reconnectDelay > 0 {
		opts = append(opts, rpc.WithReconnectDelay(s.cfg.reconnectDelay))
	}

	inner, err := rpc.NewServer(s.url, s.queue, router, opts...)
	if err != nil {
		return err
	}
	if err := inner.Start(ctx); err != nil {
		return err
	}

	s.inner = inner
	s.cfg.logger.Info("server started",
		"queue", s.queue,
		"services", router.Names())
	return nil
}

// Err reports the fatal error that stopped consuming. Valid after Start.
func (s *Server) Err() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		return nil
	}
	return s.inner.Err()
}

// IsConnected reports whether the server holds a broker connection.
func (s *Server) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner != nil && s.inner.IsConnected()
}

// Stop shuts the server down and drains in-flight dispatches.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		return nil
	}
	return s.inner.Stop()
}
