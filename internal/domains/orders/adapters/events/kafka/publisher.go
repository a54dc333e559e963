package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Apurer/go-order-reconciler/internal/domains/orders/domain"
	"github.com/Apurer/go-order-reconciler/internal/domains/orders/ports"
)

var _ ports.EventPublisher = (*Publisher)(nil)

// DefaultTopic receives every order event unless overridden.
const DefaultTopic = "orders.events"

// Envelope is the JSON document written to Kafka for each domain event.
type Envelope struct {
	Name       string          `json:"name"`
	OrderID    string          `json:"orderId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher sends order events to Kafka keyed by order id so a consumer sees
// one order's events in order.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// Option customizes the publisher.
type Option func(*Publisher)

// WithTopic overrides the destination topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// NewPublisher wraps an existing producer. Caller manages its lifecycle.
func NewPublisher(producer sarama.SyncProducer, opts ...Option) *Publisher {
	p := &Publisher{producer: producer, topic: DefaultTopic}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewSyncProducer dials the brokers with acknowledgements from all replicas.
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	return sarama.NewSyncProducer(brokers, ProducerConfig(clientID))
}

// ProducerConfig returns the sarama configuration used by the publisher.
func ProducerConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Net.MaxOpenRequests = 1
	return config
}

// Publish writes the events in a single batch.
func (p *Publisher) Publish(ctx context.Context, events ...domain.Event) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka publisher not configured")
	}
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	messages := make([]*sarama.ProducerMessage, 0, len(events))
	for _, event := range events {
		msg, err := p.message(event)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}
	if len(messages) == 1 {
		_, _, err := p.producer.SendMessage(messages[0])
		return err
	}
	return p.producer.SendMessages(messages)
}

// Close releases the underlying producer.
func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

func (p *Publisher) message(event domain.Event) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	body, err := json.Marshal(Envelope{
		Name:       event.EventName(),
		OrderID:    event.AggregateID(),
		OccurredAt: event.OccurredAt().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", event.EventName(), err)
	}
	return &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.AggregateID()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-name"), Value: []byte(event.EventName())},
		},
	}, nil
}
