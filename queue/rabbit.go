// Package queue provides the RabbitMQ client used by the OPERANDI broker and
// its worker subprocesses. It implements connection management with bounded
// exponential backoff, queue declaration against a single direct exchange,
// publishing with optional delivery confirmations, and manual-acknowledgement
// consumption with one message in flight at a time.
//
// Features:
//   - RabbitMQ connection management with reconnect backoff
//   - Idempotent queue declaration and exchange binding
//   - Publishing with Confirm.Select delivery confirmations
//   - Manual-ack consumption with prefetch=1
//   - Error handling with wrapped errors
//
// Topology: every queue is bound to one direct exchange with the routing key
// equal to the queue name, so publishing "to a queue" means publishing to the
// exchange with that routing key.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"operandi.gwdg.de/broker/common"
)

var (
	// ErrNotConnected is returned when an operation requires an open
	// channel but Connect has not succeeded yet.
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrPublishNack is returned when delivery confirmations are enabled
	// and the broker refuses a published message.
	ErrPublishNack = errors.New("message was nacked by the broker")
)

// confirmTimeout bounds how long a confirmed publish waits for the broker.
const confirmTimeout = 10 * time.Second

// Service manages one connection and one channel to a RabbitMQ server.
// A Service instance is owned by exactly one process (a worker owns its
// channel exclusively); it is not safe for concurrent use.
type Service struct {
	url         string
	dialer      AMQPDialer
	connection  AMQPConnection
	channel     AMQPChannel
	consumerTag string
	confirmMode bool
	confirms    chan amqp.Confirmation
}

// NewService creates a RabbitMQ service for the given AMQP URL using the
// real dialer. Connect must be called before any other operation.
func NewService(url string) *Service {
	return NewServiceWithDialer(url, &RealAMQPDialer{})
}

// NewServiceWithDialer creates a RabbitMQ service with dependency injection.
// This constructor allows injecting a custom dialer for testing purposes.
func NewServiceWithDialer(url string, dialer AMQPDialer) *Service {
	return &Service{
		url:    url,
		dialer: dialer,
	}
}

// Connect establishes the connection and opens a channel. A failure here is
// treated as permanent by the caller (the worker exits and is respawned by
// the supervisor); reconnection with backoff is the job of Reconnect.
func (s *Service) Connect() error {
	conn, err := s.dialer.Dial(s.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	s.connection = conn
	s.channel = ch
	return nil
}

// Reconnect re-establishes a lost connection with bounded exponential
// backoff: initial interval 1 s, capped at 30 s, with ±20 % jitter. It
// retries until the connection succeeds or the context is cancelled.
func (s *Service) Reconnect(ctx context.Context) error {
	confirmMode := s.confirmMode
	s.Close()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.MaxInterval = 30 * time.Second
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0 // retry until cancelled

	operation := func() error {
		common.Logger.Info("Attempting to reconnect to RabbitMQ")
		return s.Connect()
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("failed to reconnect to RabbitMQ: %w", err)
	}

	if confirmMode {
		if err := s.EnableDeliveryConfirmations(); err != nil {
			return err
		}
	}
	return nil
}

// DeclareQueue declares a queue and binds it to the default direct exchange
// with the routing key equal to the queue name. The declaration is
// idempotent: re-declaring an existing queue with the same properties is a
// no-op on the broker side.
func (s *Service) DeclareQueue(name string, durable, autoDelete bool) error {
	if s.channel == nil {
		return ErrNotConnected
	}

	err := s.channel.ExchangeDeclare(
		common.ExchangeName, // name
		"direct",            // kind
		true,                // durable
		false,               // auto-delete
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = s.channel.QueueDeclare(
		name,       // name
		durable,    // durable
		autoDelete, // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	// The routing key must match the queue name
	err = s.channel.QueueBind(name, name, common.ExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", name, err)
	}
	return nil
}

// EnableDeliveryConfirmations switches the channel into confirm mode.
// After this call every Publish blocks until the broker acknowledges the
// message and fails with ErrPublishNack if it is refused.
func (s *Service) EnableDeliveryConfirmations() error {
	if s.channel == nil {
		return ErrNotConnected
	}
	if s.confirmMode {
		return nil
	}
	if err := s.channel.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable delivery confirmations: %w", err)
	}
	s.confirms = s.channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	s.confirmMode = true
	return nil
}

// Publish publishes a message body to the named queue through the default
// exchange. With delivery confirmations enabled the call returns only after
// the broker has acked the message.
func (s *Service) Publish(queueName string, body []byte, contentType string) error {
	if s.channel == nil {
		return ErrNotConnected
	}
	if contentType == "" {
		contentType = "application/json"
	}

	err := s.channel.Publish(
		common.ExchangeName, // exchange
		queueName,           // routing key (matches the queue name)
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			AppId:        "operandi-broker",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queueName, err)
	}

	if !s.confirmMode {
		return nil
	}

	select {
	case confirmation, ok := <-s.confirms:
		if !ok {
			return fmt.Errorf("confirmation channel closed: %w", ErrNotConnected)
		}
		if !confirmation.Ack {
			return fmt.Errorf("publish to queue %s: %w", queueName, ErrPublishNack)
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("timed out waiting for publish confirmation on queue %s", queueName)
	}
}

// Consume starts consuming from the named queue with manual acknowledgement
// and prefetch=1, so at most one delivery is in flight at a time. The caller
// ranges over the returned channel; a closed channel signals connection loss.
func (s *Service) Consume(queueName string) (<-chan amqp.Delivery, error) {
	if s.channel == nil {
		return nil, ErrNotConnected
	}

	if err := s.channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	s.consumerTag = fmt.Sprintf("operandi_%s_%s", queueName, uuid.NewString()[:8])
	deliveries, err := s.channel.Consume(
		queueName,     // queue
		s.consumerTag, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer on queue %s: %w", queueName, err)
	}
	return deliveries, nil
}

// Ack acknowledges a single delivery by tag.
func (s *Service) Ack(tag uint64) error {
	if s.channel == nil {
		return ErrNotConnected
	}
	return s.channel.Ack(tag, false)
}

// Nack negatively acknowledges a single delivery by tag, optionally
// requeueing it.
func (s *Service) Nack(tag uint64, requeue bool) error {
	if s.channel == nil {
		return ErrNotConnected
	}
	return s.channel.Nack(tag, false, requeue)
}

// CancelConsumer stops deliveries to the active consumer without closing
// the channel, letting an in-flight acknowledgement still go through.
func (s *Service) CancelConsumer() error {
	if s.channel == nil || s.consumerTag == "" {
		return nil
	}
	return s.channel.Cancel(s.consumerTag, false)
}

// Close closes the channel and the connection. Safe to call multiple times
// and on a service that never connected.
func (s *Service) Close() {
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.connection != nil {
		s.connection.Close()
		s.connection = nil
	}
	s.confirmMode = false
	s.confirms = nil
}
