package queue

import (
	"github.com/streadway/amqp"
)

// AMQPConnection defines the interface for AMQP connection operations.
// This interface abstracts the RabbitMQ connection to enable dependency
// injection and testing with mock implementations.
type AMQPConnection interface {
	// Channel opens a channel on the connection
	Channel() (AMQPChannel, error)

	// Close closes the connection
	Close() error
}

// AMQPChannel defines the interface for AMQP channel operations.
// This interface abstracts the RabbitMQ channel to enable dependency
// injection and testing with mock implementations.
type AMQPChannel interface {
	// ExchangeDeclare declares an exchange
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error

	// QueueDeclare declares a queue
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)

	// QueueBind binds a queue to an exchange with a routing key
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error

	// Qos controls how many deliveries the server keeps in flight
	Qos(prefetchCount, prefetchSize int, global bool) error

	// Publish publishes a message to the specified exchange
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

	// Consume starts consuming messages from a queue
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)

	// Confirm puts the channel into confirm mode
	Confirm(noWait bool) error

	// NotifyPublish registers a listener for publish confirmations
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation

	// Ack acknowledges a delivery by tag
	Ack(tag uint64, multiple bool) error

	// Nack negatively acknowledges a delivery by tag
	Nack(tag uint64, multiple, requeue bool) error

	// Cancel stops deliveries to the given consumer
	Cancel(consumer string, noWait bool) error

	// Close closes the channel
	Close() error
}

// AMQPDialer defines the interface for dialing AMQP connections.
// This interface allows injecting custom dialers for testing.
type AMQPDialer interface {
	// Dial connects to the AMQP server
	Dial(url string) (AMQPConnection, error)
}

// RealAMQPConnection wraps a real amqp.Connection to implement AMQPConnection
type RealAMQPConnection struct {
	conn *amqp.Connection
}

// Channel opens a channel on the real connection
func (r *RealAMQPConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &RealAMQPChannel{ch: ch}, nil
}

// Close closes the real connection
func (r *RealAMQPConnection) Close() error {
	return r.conn.Close()
}

// RealAMQPChannel wraps a real amqp.Channel to implement AMQPChannel
type RealAMQPChannel struct {
	ch *amqp.Channel
}

// ExchangeDeclare declares an exchange on the real channel
func (r *RealAMQPChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return r.ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

// QueueDeclare declares a queue on the real channel
func (r *RealAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return r.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

// QueueBind binds a queue on the real channel
func (r *RealAMQPChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return r.ch.QueueBind(name, key, exchange, noWait, args)
}

// Qos configures delivery prefetching on the real channel
func (r *RealAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return r.ch.Qos(prefetchCount, prefetchSize, global)
}

// Publish publishes a message to the real channel
func (r *RealAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.ch.Publish(exchange, key, mandatory, immediate, msg)
}

// Consume starts consuming messages from a queue on the real channel
func (r *RealAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return r.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

// Confirm puts the real channel into confirm mode
func (r *RealAMQPChannel) Confirm(noWait bool) error {
	return r.ch.Confirm(noWait)
}

// NotifyPublish registers a publish confirmation listener on the real channel
func (r *RealAMQPChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	return r.ch.NotifyPublish(confirm)
}

// Ack acknowledges a delivery on the real channel
func (r *RealAMQPChannel) Ack(tag uint64, multiple bool) error {
	return r.ch.Ack(tag, multiple)
}

// Nack negatively acknowledges a delivery on the real channel
func (r *RealAMQPChannel) Nack(tag uint64, multiple, requeue bool) error {
	return r.ch.Nack(tag, multiple, requeue)
}

// Cancel stops deliveries to a consumer on the real channel
func (r *RealAMQPChannel) Cancel(consumer string, noWait bool) error {
	return r.ch.Cancel(consumer, noWait)
}

// Close closes the real channel
func (r *RealAMQPChannel) Close() error {
	return r.ch.Close()
}

// RealAMQPDialer implements AMQPDialer using the real AMQP library
type RealAMQPDialer struct{}

// Dial connects to the AMQP server using the real library
func (r *RealAMQPDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &RealAMQPConnection{conn: conn}, nil
}
