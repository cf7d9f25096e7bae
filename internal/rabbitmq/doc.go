// Package rabbitmq owns the broker connection lifecycle for protein-go.
//
// It provides:
//   - ConnectionManager: connect, monitor, and rebuild the AMQP connection
//     after failure using an unbounded fixed-delay retry loop
//   - Connection and Channel: narrow interfaces over amqp091-go so the
//     lifecycle and dispatch paths can be exercised without a live broker
package rabbitmq
