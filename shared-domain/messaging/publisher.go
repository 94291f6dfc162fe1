package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// EventPublisher delivers an event to the bus. A nil error means the broker
// accepted the message.
type EventPublisher interface {
	Publish(ctx context.Context, event events.SagaEvent) error
}

var ErrNacked = errors.New("broker rejected the message")

// Publisher publishes on a dedicated confirm-mode channel so that a
// successful Publish means the broker has taken ownership of the message.
type Publisher struct {
	client         *RabbitMQClient
	confirmTimeout time.Duration

	mu       sync.Mutex
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
}

func NewPublisher(client *RabbitMQClient) *Publisher {
	return &Publisher{
		client:         client,
		confirmTimeout: 5 * time.Second,
	}
}

func (p *Publisher) Publish(ctx context.Context, event events.SagaEvent) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event serialization error: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}

	routingKey := event.RoutingKey()
	err = ch.Publish(
		p.client.config.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    event.Timestamp,
			Headers: amqp.Table{
				headerOrderID:       event.OrderID.String(),
				headerCorrelationID: event.CorrelationID.String(),
				headerService:       event.Service,
				headerEventType:     string(event.EventType),
			},
		},
	)
	if err != nil {
		p.resetChannel()
		return fmt.Errorf("event publish error: %w", err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetChannel()
			return fmt.Errorf("publish confirm channel closed: %w", ErrNotConnected)
		}
		if !confirm.Ack {
			return fmt.Errorf("%s: %w", routingKey, ErrNacked)
		}
	case <-timer.C:
		// The channel is discarded so a late confirm cannot be matched to the next publish.
		p.resetChannel()
		return fmt.Errorf("publish confirm timeout for %s", routingKey)
	case <-ctx.Done():
		p.resetChannel()
		return ctx.Err()
	}

	log.Debug().Str("routing_key", routingKey).Stringer("order_id", event.OrderID).Stringer("event_id", event.ID).Msg("Event published")
	return nil
}

func (p *Publisher) ensureChannel() (*amqp.Channel, error) {
	if p.channel != nil {
		return p.channel, nil
	}
	ch, err := p.client.OpenChannel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	p.channel = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return ch, nil
}

func (p *Publisher) resetChannel() {
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = nil
	p.confirms = nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetChannel()
	return nil
}
