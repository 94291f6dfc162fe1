package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}

func newEvent(t *testing.T, eventType events.SagaEventType) events.SagaEvent {
	t.Helper()
	event, err := events.NewSagaEvent(events.OrderService, eventType, uuid.New(), uuid.Nil, map[string]string{"k": "v"})
	require.NoError(t, err)
	return event
}

func TestDispatchDecisions(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name    string
		err     error
		attempt int
		want    Decision
	}{
		{"success", nil, 1, Ack},
		{"retryable first attempt", errBoom, 1, Retry},
		{"retryable last attempt", errBoom, 3, DeadLetter},
		{"permanent", retry.Permanent(errBoom), 1, DeadLetter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher("test-service").Handle(events.OrderService, events.OrderCreatedEvent, testPolicy,
				func(ctx context.Context, event events.SagaEvent) error { return tt.err })
			assert.Equal(t, tt.want, d.Dispatch(context.Background(), newEvent(t, events.OrderCreatedEvent), tt.attempt))
		})
	}
}

func TestDispatchUnroutedEventIsAcked(t *testing.T) {
	d := NewDispatcher("test-service")
	assert.Equal(t, Ack, d.Dispatch(context.Background(), newEvent(t, events.OrderCancelledEvent), 1))
}

func TestRoutingKeysSorted(t *testing.T) {
	noop := func(ctx context.Context, event events.SagaEvent) error { return nil }
	d := NewDispatcher("order-service").
		Handle(events.PaymentService, events.PaymentProcessedEvent, testPolicy, noop).
		Handle(events.InventoryService, events.InventoryOutcomeEvent, testPolicy, noop)

	assert.Equal(t, []string{
		"saga.inventory-service.inventory.outcome",
		"saga.payment-service.payment.processed",
	}, d.RoutingKeys())
}

func TestMemoryBusRetriesThenDeadLetters(t *testing.T) {
	calls := 0
	d := NewDispatcher("q").Handle(events.OrderService, events.OrderCreatedEvent, testPolicy,
		func(ctx context.Context, event events.SagaEvent) error {
			calls++
			return errors.New("store unavailable")
		})
	bus := NewMemoryBus()
	bus.Subscribe("q", d)

	require.NoError(t, bus.Publish(context.Background(), newEvent(t, events.OrderCreatedEvent)))

	assert.Equal(t, 3, calls)
	dead := bus.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "q", dead[0].Queue)
	assert.Equal(t, 3, dead[0].Attempts)
}

func TestMemoryBusOnlyDeliversBoundKeys(t *testing.T) {
	got := 0
	d := NewDispatcher("q").Handle(events.OrderService, events.OrderCreatedEvent, testPolicy,
		func(ctx context.Context, event events.SagaEvent) error {
			got++
			return nil
		})
	bus := NewMemoryBus()
	bus.Subscribe("q", d)

	require.NoError(t, bus.Publish(context.Background(), newEvent(t, events.OrderCancelledEvent)))
	require.NoError(t, bus.Publish(context.Background(), newEvent(t, events.OrderCreatedEvent)))

	assert.Equal(t, 1, got)
	assert.Len(t, bus.Published(), 2)
	assert.Empty(t, bus.DeadLetters())
}

func TestAttemptHeader(t *testing.T) {
	assert.Equal(t, 1, attemptOf(nil))
	assert.Equal(t, 3, attemptOf(amqp.Table{headerAttempt: int32(3)}))
	assert.Equal(t, 4, attemptOf(amqp.Table{headerAttempt: int64(4)}))
}

func TestLaneForIsStablePerOrder(t *testing.T) {
	orderID := uuid.NewString()
	msg := amqp.Delivery{Headers: amqp.Table{headerOrderID: orderID}}
	first := laneFor(msg, 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, laneFor(msg, 8))
	}
	assert.Less(t, first, 8)
}

func TestRabbitMQConnectionURL(t *testing.T) {
	cfg := &RabbitMQConfig{Username: "guest", Password: "secret", Host: "mq", Port: 5672, VHost: "saga", Exchange: "saga.events", DeadLetterSuffix: ".dlx"}
	assert.Equal(t, "amqp://guest:secret@mq:5672/saga", cfg.ConnectionURL())
	assert.Equal(t, "saga.events.dlx", cfg.DeadLetterExchange())
}
