package rpc

import (
	"context"
	"fmt"
	"sort"
)

// Handler processes a decoded request and returns a response value. A
// returned error is signaled to the caller as a service failure.
type Handler interface {
	Handle(ctx context.Context, req interface{}) (interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, req interface{}) (interface{}, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req interface{}) (interface{}, error) {
	return f(ctx, req)
}

// Service binds a service name to its handler and codecs. Constructed once
// at startup and looked up read-only at dispatch time.
type Service struct {
	Name          string
	Handler       Handler
	RequestCodec  RequestCodec
	ResponseCodec ResponseCodec
}

// Router is an immutable table mapping service names to services.
type Router struct {
	services map[string]Service
}

// NewRouter builds a router from the given services. Names must be unique
// and handlers non-nil; missing codecs default to JSONCodec.
func NewRouter(services ...Service) (*Router, error) {
	table := make(map[string]Service, len(services))

	for _, svc := range services {
		if svc.Name == "" {
			return nil, fmt.Errorf("rpc: service name cannot be empty")
		}
		if svc.Handler == nil {
			return nil, fmt.Errorf("rpc: service %q has no handler", svc.Name)
		}
		if _, exists := table[svc.Name]; exists {
			return nil, fmt.Errorf("rpc: duplicate service %q", svc.Name)
		}

		if svc.RequestCodec == nil {
			svc.RequestCodec = JSONCodec{}
		}
		if svc.ResponseCodec == nil {
			svc.ResponseCodec = JSONCodec{}
		}

		table[svc.Name] = svc
	}

	return &Router{services: table}, nil
}

// Lookup returns the service registered under name.
func (r *Router) Lookup(name string) (Service, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the registered service names, sorted.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
