package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ErrorSentinel is the reserved reply payload older peers publish to signal
// a service failure. New servers reply with a structured envelope instead;
// callers accept both.
const ErrorSentinel = "ESRV"

// Reply status tags.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// RequestEnvelope routes a request body to a named service. The body must
// be valid JSON; beyond that the transport never inspects it, only the
// server parses the envelope to pick a service.
type RequestEnvelope struct {
	Service string          `json:"service"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// ResponseEnvelope carries a reply with an explicit status tag, so an error
// reply can never collide with legitimate response bytes.
type ResponseEnvelope struct {
	Status string          `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EncodeRequest wraps an encoded body for the named service.
func EncodeRequest(service string, body []byte) ([]byte, error) {
	if service == "" {
		return nil, fmt.Errorf("rpc: service name is required")
	}
	payload, err := json.Marshal(RequestEnvelope{Service: service, Body: body})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request envelope: %w", err)
	}
	return payload, nil
}

// DecodeRequest parses an inbound request envelope.
func DecodeRequest(payload []byte) (*RequestEnvelope, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal request envelope: %w", err)
	}
	if env.Service == "" {
		return nil, fmt.Errorf("rpc: request envelope has no service name")
	}
	return &env, nil
}

// EncodeResponse wraps an encoded response body in an ok envelope.
func EncodeResponse(body []byte) ([]byte, error) {
	payload, err := json.Marshal(ResponseEnvelope{Status: StatusOK, Body: body})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal response envelope: %w", err)
	}
	return payload, nil
}

// EncodeErrorResponse wraps a service failure in an error envelope.
func EncodeErrorResponse(message string) ([]byte, error) {
	payload, err := json.Marshal(ResponseEnvelope{Status: StatusError, Error: message})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal error envelope: %w", err)
	}
	return payload, nil
}

// DecodeResponse interprets a reply payload. It returns the response body,
// or a *ServiceError when the peer signaled a failure. Payloads that are
// neither the legacy sentinel nor a status envelope pass through untouched,
// so replies from peers that never wrap their responses still work.
func DecodeResponse(payload []byte) ([]byte, error) {
	if bytes.Equal(payload, []byte(ErrorSentinel)) {
		return nil, &ServiceError{}
	}

	var env ResponseEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return payload, nil
	}

	switch env.Status {
	case StatusOK:
		return env.Body, nil
	case StatusError:
		return nil, &ServiceError{Message: env.Error}
	default:
		return payload, nil
	}
}
