package rpc

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ruby2elixir/protein-go/internal/rabbitmq"
)

// Fakes over the narrow broker interfaces so the call and dispatch paths
// can be exercised without a live broker.

type publishRecord struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type declareRecord struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
}

type consumeRecord struct {
	queue     string
	tag       string
	autoAck   bool
	exclusive bool
}

type fakeChannel struct {
	mu         sync.Mutex
	declares   []declareRecord
	consumes   []consumeRecord
	published  []publishRecord
	qosCount   int
	declareErr error
	qosErr     error
	consumeErr error
	publishErr error
	closed     bool
	cancels    []chan string

	deliveries chan amqp.Delivery
	publishCh  chan publishRecord
	consumeCh  chan consumeRecord
	endOnce    sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		deliveries: make(chan amqp.Delivery, 16),
		publishCh:  make(chan publishRecord, 16),
		consumeCh:  make(chan consumeRecord, 4),
	}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declares = append(f.declares, declareRecord{name, durable, autoDelete, exclusive})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qosCount = prefetchCount
	return f.qosErr
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	if f.consumeErr != nil {
		f.mu.Unlock()
		return nil, f.consumeErr
	}
	rec := consumeRecord{queue, consumer, autoAck, exclusive}
	f.consumes = append(f.consumes, rec)
	f.mu.Unlock()

	select {
	case f.consumeCh <- rec:
	default:
	}
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	if f.publishErr != nil {
		f.mu.Unlock()
		return f.publishErr
	}
	rec := publishRecord{exchange, key, msg}
	f.published = append(f.published, rec)
	f.mu.Unlock()

	select {
	case f.publishCh <- rec:
	default:
	}
	return nil
}

func (f *fakeChannel) NotifyCancel(c chan string) chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, c)
	return c
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// cancelConsumer simulates a broker-initiated consumer cancel.
func (f *fakeChannel) cancelConsumer(tag string) {
	f.mu.Lock()
	listeners := append([]chan string(nil), f.cancels...)
	f.mu.Unlock()
	for _, c := range listeners {
		c <- tag
	}
}

// endDeliveries simulates the delivery stream ending, as it does when the
// underlying channel or connection dies.
func (f *fakeChannel) endDeliveries() {
	f.endOnce.Do(func() {
		close(f.deliveries)
	})
}

type fakeConnection struct {
	mu       sync.Mutex
	channels []*fakeChannel
	next     int
	chanErr  error
	closed   bool
	notify   []chan *amqp.Error
}

func newFakeConnection(channels ...*fakeChannel) *fakeConnection {
	return &fakeConnection{channels: channels}
}

func (f *fakeConnection) Channel() (rabbitmq.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chanErr != nil {
		return nil, f.chanErr
	}
	if f.next >= len(f.channels) {
		return nil, errors.New("fake: no more channels")
	}
	ch := f.channels[f.next]
	f.next++
	return ch, nil
}

func (f *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = append(f.notify, receiver)
	return receiver
}

func (f *fakeConnection) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// terminate simulates an abrupt connection loss observed by NotifyClose.
func (f *fakeConnection) terminate(err *amqp.Error) {
	f.mu.Lock()
	f.closed = true
	listeners := append([]chan *amqp.Error(nil), f.notify...)
	f.notify = nil
	f.mu.Unlock()
	for _, c := range listeners {
		if err != nil {
			c <- err
		}
		close(c)
	}
}

// singleConnDialer always hands out the same connection.
func singleConnDialer(conn *fakeConnection) rabbitmq.Dialer {
	return func(url string) (rabbitmq.Connection, error) {
		return conn, nil
	}
}

// sequenceDialer hands out connections in order and fails when exhausted.
func sequenceDialer(conns ...*fakeConnection) rabbitmq.Dialer {
	var mu sync.Mutex
	i := 0
	return func(url string) (rabbitmq.Connection, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(conns) {
			return nil, errors.New("fake: no more connections")
		}
		conn := conns[i]
		i++
		return conn, nil
	}
}

type nackRecord struct {
	tag     uint64
	requeue bool
}

// recordingAcknowledger satisfies amqp.Acknowledger and records every call.
type recordingAcknowledger struct {
	mu     sync.Mutex
	acks   []uint64
	nacks  []nackRecord
	ackErr error

	ackCh  chan uint64
	nackCh chan nackRecord
}

func newRecordingAcknowledger() *recordingAcknowledger {
	return &recordingAcknowledger{
		ackCh:  make(chan uint64, 8),
		nackCh: make(chan nackRecord, 8),
	}
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	if a.ackErr != nil {
		a.mu.Unlock()
		return a.ackErr
	}
	a.acks = append(a.acks, tag)
	a.mu.Unlock()
	a.ackCh <- tag
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	rec := nackRecord{tag, requeue}
	a.mu.Lock()
	a.nacks = append(a.nacks, rec)
	a.mu.Unlock()
	a.nackCh <- rec
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *recordingAcknowledger) ackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks)
}

func (a *recordingAcknowledger) nackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nacks)
}
