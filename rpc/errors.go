package rpc

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCallerClosed is returned by Call after the caller was closed.
	ErrCallerClosed = errors.New("rpc: caller is closed")

	// ErrServerClosed is returned when operating on a stopped server.
	ErrServerClosed = errors.New("rpc: server is closed")
)

// TimeoutError reports that no correlated reply arrived within the
// configured timeout. The caller must retry explicitly if desired.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: no reply within %s", e.Timeout)
}

// ServiceError reports that the remote service signaled an application
// level failure. Message is empty when the peer replied with the bare
// legacy sentinel.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return "rpc: service reported an error"
	}
	return fmt.Sprintf("rpc: service reported an error: %s", e.Message)
}

// ConnectionError reports a failure to reach the broker.
type ConnectionError struct {
	Op  string // dial, channel, publish
	URL string // sanitized broker URL
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("rpc: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("rpc: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// UnknownServiceError reports a request for a service the router does not
// know. It is local to the dispatch unit that hit it.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("rpc: unknown service %q", e.Service)
}

// HandlerError reports that an invoked service handler failed.
type HandlerError struct {
	Service string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("rpc: handler for %q failed: %v", e.Service, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
