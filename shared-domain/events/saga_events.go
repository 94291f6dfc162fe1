package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SagaEventType string

const (
	// Order Events
	OrderCreatedEvent   SagaEventType = "order.created"
	OrderCancelledEvent SagaEventType = "order.cancelled"

	// Inventory Events
	InventoryOutcomeEvent SagaEventType = "inventory.outcome"

	// Payment Events
	PaymentProcessedEvent SagaEventType = "payment.processed"
)

// Service names used as the second segment of routing keys.
const (
	OrderService     = "order-service"
	PaymentService   = "payment-service"
	InventoryService = "inventory-service"
	PromotionService = "promotion-service"
)

// SagaEvent is the envelope of every message on the bus. OrderID is the
// ordering key.
type SagaEvent struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	EventType     SagaEventType   `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	Service       string          `json:"service"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
}

// NewSagaEvent builds an envelope around payload. A nil correlation id
// starts a new correlation chain.
func NewSagaEvent(service string, eventType SagaEventType, orderID, correlationID uuid.UUID, payload any) (SagaEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return SagaEvent{}, fmt.Errorf("event payload serialization error: %w", err)
	}
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	return SagaEvent{
		ID:            uuid.New(),
		OrderID:       orderID,
		EventType:     eventType,
		Payload:       body,
		Timestamp:     time.Now().UTC(),
		Service:       service,
		CorrelationID: correlationID,
	}, nil
}

// RoutingKey returns saga.<service>.<event_type>.
func (e SagaEvent) RoutingKey() string {
	return RoutingKey(e.Service, e.EventType)
}

func RoutingKey(service string, eventType SagaEventType) string {
	return fmt.Sprintf("saga.%s.%s", service, eventType)
}

// Decode unmarshals the payload of event into T. Malformed payloads and
// unknown enum values can never succeed on redelivery, so the returned
// error is marked permanent.
func Decode[T any](event SagaEvent) (T, error) {
	var payload T
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return payload, retry.Permanent(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return payload, nil
}

type OrderItemRef struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderCreatedPayload struct {
	OrderID     uuid.UUID         `json:"orderId"`
	UserID      uuid.UUID         `json:"userId"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Status      types.OrderStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	Items       []OrderItemRef    `json:"items"`
}

type OrderCancelledPayload struct {
	OrderID uuid.UUID `json:"orderId"`
	Reason  string    `json:"reason"`
}

type InventoryOutcomePayload struct {
	OrderID uuid.UUID             `json:"orderId"`
	Status  types.InventoryStatus `json:"status"`
	Reason  string                `json:"reason,omitempty"`
}

type PaymentProcessedPayload struct {
	PaymentID     uuid.UUID           `json:"paymentId"`
	OrderID       uuid.UUID           `json:"orderId"`
	Status        types.PaymentStatus `json:"status"`
	TransactionID string              `json:"transactionId"`
	Amount        decimal.Decimal     `json:"amount"`
}
