package events

import (
	"testing"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSagaEventRoutingKey(t *testing.T) {
	orderID := uuid.New()
	event, err := NewSagaEvent(InventoryService, InventoryOutcomeEvent, orderID, uuid.Nil, InventoryOutcomePayload{
		OrderID: orderID,
		Status:  types.InventoryStatusReserved,
	})
	require.NoError(t, err)

	assert.Equal(t, "saga.inventory-service.inventory.outcome", event.RoutingKey())
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.NotEqual(t, uuid.Nil, event.CorrelationID)
	assert.JSONEq(t, `{"orderId":"`+orderID.String()+`","status":"STOCK_RESERVED"}`, string(event.Payload))
}

func TestDecodeUnknownStatusIsPermanent(t *testing.T) {
	event := SagaEvent{
		EventType: InventoryOutcomeEvent,
		Payload:   []byte(`{"orderId":"` + uuid.NewString() + `","status":"PARTIALLY_RESERVED"}`),
	}

	_, err := Decode[InventoryOutcomePayload](event)
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.ErrorIs(t, err, types.ErrUnknownVariant)
}

func TestDecodePaymentProcessed(t *testing.T) {
	event := SagaEvent{
		EventType: PaymentProcessedEvent,
		Payload:   []byte(`{"paymentId":"` + uuid.NewString() + `","orderId":"` + uuid.NewString() + `","status":"FAILED","transactionId":"TXN_1","amount":"0"}`),
	}

	payload, err := Decode[PaymentProcessedPayload](event)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentStatusFailed, payload.Status)
	assert.True(t, payload.Amount.IsZero())
}
