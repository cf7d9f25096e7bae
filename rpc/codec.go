package rpc

import (
	"encoding/json"
	"fmt"
)

// RequestCodec decodes an application request body into the value a
// handler expects. Codecs are external collaborators; services supply
// their own typed implementations or use one of the codecs below.
type RequestCodec interface {
	Decode(data []byte) (interface{}, error)
}

// ResponseCodec encodes a handler result into a reply body.
type ResponseCodec interface {
	Encode(v interface{}) ([]byte, error)
}

// DecodeFunc is a function adapter for RequestCodec.
type DecodeFunc func(data []byte) (interface{}, error)

func (f DecodeFunc) Decode(data []byte) (interface{}, error) {
	return f(data)
}

// EncodeFunc is a function adapter for ResponseCodec.
type EncodeFunc func(v interface{}) ([]byte, error)

func (f EncodeFunc) Encode(v interface{}) ([]byte, error) {
	return f(v)
}

// JSONCodec decodes request bodies into generic JSON values and encodes
// results with encoding/json. It is the default codec for services that do
// not supply their own.
type JSONCodec struct{}

func (JSONCodec) Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("rpc: decode json request: %w", err)
	}
	return v, nil
}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode json response: %w", err)
	}
	return data, nil
}

// RawCodec passes byte slices through untouched, for services that do their
// own wire handling.
type RawCodec struct{}

func (RawCodec) Decode(data []byte) (interface{}, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (RawCodec) Encode(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("rpc: raw codec cannot encode %T", v)
	}
}
