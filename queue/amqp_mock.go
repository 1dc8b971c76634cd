package queue

import (
	"github.com/streadway/amqp"
)

// MockAMQPConnection is a mock implementation of AMQPConnection for testing
type MockAMQPConnection struct {
	// MockChannel is the channel to return from Channel()
	MockChannel AMQPChannel
	// Errors to return from operations
	ChannelErr error
	CloseErr   error
	// Track function calls
	ChannelCalled bool
	CloseCalled   bool
}

// Channel returns the mock channel
func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	m.ChannelCalled = true
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

// Close mocks closing the connection
func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPChannel is a mock implementation of AMQPChannel for testing
type MockAMQPChannel struct {
	// PublishedMessages stores all published messages for verification
	PublishedMessages []amqp.Publishing
	// PublishedKeys stores routing keys for published messages
	PublishedKeys []string
	// Deliveries is the channel returned from Consume
	Deliveries chan amqp.Delivery
	// Confirmations is fed to the NotifyPublish listener; when ConfirmAll
	// is set, every publish auto-acks itself
	Confirmations chan amqp.Confirmation
	ConfirmAll    bool
	// Errors to return from operations
	ExchangeDeclareErr error
	QueueDeclareErr    error
	QueueBindErr       error
	QosErr             error
	PublishErr         error
	ConsumeErr         error
	ConfirmErr         error
	AckErr             error
	NackErr            error
	CancelErr          error
	CloseErr           error
	// Track function calls
	ExchangeDeclareCalled bool
	QueueDeclareCalled    bool
	QueueBindCalled       bool
	QosCalled             bool
	PublishCalled         bool
	ConsumeCalled         bool
	ConfirmCalled         bool
	CancelCalled          bool
	CloseCalled           bool
	// Recorded acknowledgements
	AckedTags  []uint64
	NackedTags []uint64
	// Store last call parameters
	LastExchangeName string
	LastQueueName    string
	LastBindKey      string
	LastKey          string
	LastConsumer     string
	LastQosPrefetch  int
	LastQueueDurable bool
	LastQueueAutoDel bool

	publishSeq uint64
}

// ExchangeDeclare mocks declaring an exchange
func (m *MockAMQPChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	m.ExchangeDeclareCalled = true
	m.LastExchangeName = name
	return m.ExchangeDeclareErr
}

// QueueDeclare mocks declaring a queue
func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.QueueDeclareCalled = true
	m.LastQueueName = name
	m.LastQueueDurable = durable
	m.LastQueueAutoDel = autoDelete
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

// QueueBind mocks binding a queue
func (m *MockAMQPChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	m.QueueBindCalled = true
	m.LastBindKey = key
	return m.QueueBindErr
}

// Qos mocks configuring prefetch
func (m *MockAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.QosCalled = true
	m.LastQosPrefetch = prefetchCount
	return m.QosErr
}

// Publish mocks publishing a message
func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.PublishCalled = true
	m.LastExchangeName = exchange
	m.LastKey = key
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishedMessages = append(m.PublishedMessages, msg)
	m.PublishedKeys = append(m.PublishedKeys, key)
	if m.ConfirmAll && m.Confirmations != nil {
		m.publishSeq++
		m.Confirmations <- amqp.Confirmation{DeliveryTag: m.publishSeq, Ack: true}
	}
	return nil
}

// Consume mocks starting a consumer
func (m *MockAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.ConsumeCalled = true
	m.LastQueueName = queue
	m.LastConsumer = consumer
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	if m.Deliveries == nil {
		m.Deliveries = make(chan amqp.Delivery, 16)
	}
	return m.Deliveries, nil
}

// Confirm mocks switching the channel into confirm mode
func (m *MockAMQPChannel) Confirm(noWait bool) error {
	m.ConfirmCalled = true
	return m.ConfirmErr
}

// NotifyPublish mocks registering a confirmation listener
func (m *MockAMQPChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	m.Confirmations = confirm
	return confirm
}

// Ack records an acknowledged delivery tag
func (m *MockAMQPChannel) Ack(tag uint64, multiple bool) error {
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedTags = append(m.AckedTags, tag)
	return nil
}

// Nack records a negatively acknowledged delivery tag
func (m *MockAMQPChannel) Nack(tag uint64, multiple, requeue bool) error {
	if m.NackErr != nil {
		return m.NackErr
	}
	m.NackedTags = append(m.NackedTags, tag)
	return nil
}

// Cancel mocks stopping a consumer
func (m *MockAMQPChannel) Cancel(consumer string, noWait bool) error {
	m.CancelCalled = true
	return m.CancelErr
}

// Close mocks closing the channel
func (m *MockAMQPChannel) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPDialer is a mock implementation of AMQPDialer for testing
type MockAMQPDialer struct {
	// MockConnection is the connection to return from Dial()
	MockConnection AMQPConnection
	// Error to return from Dial
	DialErr error
	// Track function calls
	DialCalled bool
	DialCount  int
	// Store last call parameters
	LastURL string
}

// Dial mocks dialing an AMQP connection
func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.DialCalled = true
	m.DialCount++
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// NewMockAMQPDialer creates a mock AMQP dialer wired to a fresh channel and
// connection, ready for a successful Connect.
func NewMockAMQPDialer() (*MockAMQPDialer, *MockAMQPChannel) {
	mockChannel := &MockAMQPChannel{
		PublishedMessages: make([]amqp.Publishing, 0),
		PublishedKeys:     make([]string, 0),
	}
	mockConn := &MockAMQPConnection{
		MockChannel: mockChannel,
	}
	return &MockAMQPDialer{MockConnection: mockConn}, mockChannel
}
