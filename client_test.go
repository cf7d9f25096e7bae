package protein

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruby2elixir/protein-go/rpc"
)

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Call(ctx context.Context, payload []byte) ([]byte, error) {
	args := m.Called(ctx, payload)
	if body := args.Get(0); body != nil {
		return body.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCaller) Close() error {
	return m.Called().Error(0)
}

type mockPusher struct {
	mock.Mock
}

func (m *mockPusher) Push(ctx context.Context, payload []byte) error {
	return m.Called(ctx, payload).Error(0)
}

func newMockedClient(ca caller, pu pusher) *Client {
	return &Client{
		caller: ca,
		pusher: pu,
		codec:  jsonCodec{},
		queue:  "rpc.test",
		logger: slog.Default(),
	}
}

// envelopeFor matches a published payload carrying the given service name.
func envelopeFor(service string) interface{} {
	return mock.MatchedBy(func(payload []byte) bool {
		env, err := rpc.DecodeRequest(payload)
		return err == nil && env.Service == service
	})
}

func TestClientCall(t *testing.T) {
	t.Run("wraps the request in an envelope and decodes the reply", func(t *testing.T) {
		ca := new(mockCaller)
		client := newMockedClient(ca, new(mockPusher))

		reply, err := rpc.EncodeResponse([]byte(`{"sum":3}`))
		require.NoError(t, err)
		ca.On("Call", mock.Anything, envelopeFor("calc.add")).Return(reply, nil)

		var resp struct {
			Sum int `json:"sum"`
		}
		req := map[string]int{"a": 1, "b": 2}
		require.NoError(t, client.Call(context.Background(), "calc.add", req, &resp))
		assert.Equal(t, 3, resp.Sum)

		// The request body must survive the envelope round trip.
		payload := ca.Calls[0].Arguments.Get(1).([]byte)
		env, err := rpc.DecodeRequest(payload)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1,"b":2}`, string(env.Body))

		ca.AssertExpectations(t)
	})

	t.Run("nil response target discards the reply body", func(t *testing.T) {
		ca := new(mockCaller)
		client := newMockedClient(ca, new(mockPusher))

		reply, err := rpc.EncodeResponse([]byte(`{"ignored":true}`))
		require.NoError(t, err)
		ca.On("Call", mock.Anything, mock.Anything).Return(reply, nil)

		assert.NoError(t, client.Call(context.Background(), "fire", nil, nil))
	})

	t.Run("service errors pass through untouched", func(t *testing.T) {
		ca := new(mockCaller)
		client := newMockedClient(ca, new(mockPusher))

		svcErr := &rpc.ServiceError{Message: "boom"}
		ca.On("Call", mock.Anything, mock.Anything).Return(nil, svcErr)

		err := client.Call(context.Background(), "broken", nil, nil)
		var got *rpc.ServiceError
		require.ErrorAs(t, err, &got)
		assert.Equal(t, "boom", got.Message)
	})

	t.Run("unmarshalable request never reaches the transport", func(t *testing.T) {
		ca := new(mockCaller)
		client := newMockedClient(ca, new(mockPusher))

		err := client.Call(context.Background(), "calc.add", func() {}, nil)
		assert.Error(t, err)
		ca.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	})

	t.Run("malformed reply body fails decoding", func(t *testing.T) {
		ca := new(mockCaller)
		client := newMockedClient(ca, new(mockPusher))

		reply, err := rpc.EncodeResponse([]byte(`"not an object"`))
		require.NoError(t, err)
		ca.On("Call", mock.Anything, mock.Anything).Return(reply, nil)

		var target map[string]interface{}
		err = client.Call(context.Background(), "calc.add", nil, &target)
		assert.Error(t, err)
	})
}

func TestClientCallRaw(t *testing.T) {
	ca := new(mockCaller)
	client := newMockedClient(ca, new(mockPusher))

	reply, err := rpc.EncodeResponse([]byte(`"raw-out"`))
	require.NoError(t, err)
	ca.On("Call", mock.Anything, envelopeFor("blob.store")).Return(reply, nil)

	out, err := client.CallRaw(context.Background(), "blob.store", []byte(`{"k":"v"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte(`"raw-out"`), out)
}

func TestClientPush(t *testing.T) {
	t.Run("pushes an envelope without waiting for a reply", func(t *testing.T) {
		pu := new(mockPusher)
		client := newMockedClient(new(mockCaller), pu)

		pu.On("Push", mock.Anything, envelopeFor("audit.log")).Return(nil)

		req := map[string]string{"event": "login"}
		require.NoError(t, client.Push(context.Background(), "audit.log", req))
		pu.AssertExpectations(t)
	})

	t.Run("transport failures surface", func(t *testing.T) {
		pu := new(mockPusher)
		client := newMockedClient(new(mockCaller), pu)

		pushErr := &rpc.ConnectionError{Op: "dial", Err: errors.New("refused")}
		pu.On("Push", mock.Anything, mock.Anything).Return(pushErr)

		err := client.Push(context.Background(), "audit.log", nil)
		var connErr *rpc.ConnectionError
		assert.ErrorAs(t, err, &connErr)
	})
}

func TestClientClose(t *testing.T) {
	ca := new(mockCaller)
	client := newMockedClient(ca, new(mockPusher))

	ca.On("Close").Return(nil)
	require.NoError(t, client.Close())
	ca.AssertExpectations(t)
}
