package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of amqp.Channel operations used by this module.
// *amqp.Channel satisfies it directly.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyCancel(c chan string) chan string
	Close() error
}

// Connection is the subset of amqp.Connection operations used by this module.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection. Tests substitute a fake; production
// code uses Dial.
type Dialer func(url string) (Connection, error)

// Dial opens a real AMQP connection.
func Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &liveConnection{conn}, nil
}

// liveConnection adapts *amqp.Connection to the Connection interface.
// The only impedance is Channel returning our interface type.
type liveConnection struct {
	*amqp.Connection
}

func (c *liveConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}
