// Package rpc implements a request/response RPC layer on top of AMQP
// queue delivery.
//
// A Caller publishes a request to a shared request queue and blocks until a
// correlated reply arrives on its exclusive reply queue or a timeout
// elapses. A Pusher publishes fire-and-forget messages with no reply. A
// Server consumes the request queue, routes each delivery to a registered
// service through a Router, and acknowledges the delivery only after its
// reply was published.
//
// Replies travel in a small JSON envelope carrying an explicit status tag.
// The legacy "ESRV" sentinel payload is still recognized by callers for
// compatibility with older peers.
package rpc
