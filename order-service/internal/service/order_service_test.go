package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastVisibility = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}

type fixture struct {
	svc    *OrderService
	repo   *repository.MemoryOrderRepository
	outbox *outbox.Memory
}

func newFixture() fixture {
	ob := outbox.NewMemory()
	repo := repository.NewMemoryOrderRepository(ob)
	return fixture{svc: NewOrderService(repo, fastVisibility), repo: repo, outbox: ob}
}

func (f fixture) createOrder(t *testing.T) *domain.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		UserID:          uuid.New(),
		ShippingAddress: "221B Baker Street",
		Items: []domain.OrderItemRequest{
			{ProductID: "P-1", ProductName: "Notebook", Quantity: 2, Price: decimal.NewFromInt(25000)},
			{ProductID: "P-2", ProductName: "Pen", Quantity: 5, Price: decimal.RequireFromString("1500.50")},
		},
	})
	require.NoError(t, err)
	return order
}

func (f fixture) status(t *testing.T, id uuid.UUID) types.OrderStatus {
	t.Helper()
	order, err := f.repo.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func (f fixture) eventsOfType(eventType events.SagaEventType) []events.SagaEvent {
	var out []events.SagaEvent
	for _, e := range f.outbox.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func reserved(orderID uuid.UUID) events.InventoryOutcomePayload {
	return events.InventoryOutcomePayload{OrderID: orderID, Status: types.InventoryStatusReserved}
}

func TestCreateOrderWritesOrderCreatedToOutbox(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)

	assert.Equal(t, "57502.5", order.TotalAmount.String())
	created := f.eventsOfType(events.OrderCreatedEvent)
	require.Len(t, created, 1)
	assert.Equal(t, order.ID, created[0].OrderID)
	assert.Equal(t, order.ID, created[0].CorrelationID)

	payload, err := events.Decode[events.OrderCreatedPayload](created[0])
	require.NoError(t, err)
	assert.True(t, payload.TotalAmount.Equal(order.TotalAmount))
	assert.Equal(t, types.OrderStatusCreated, payload.Status)
	assert.Equal(t, []events.OrderItemRef{{ProductID: "P-1", Quantity: 2}, {ProductID: "P-2", Quantity: 5}}, payload.Items)
}

func TestCreateOrderRejectsEmptyItems(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{UserID: uuid.New(), ShippingAddress: "x"})
	assert.True(t, apperror.IsValidation(err))
	assert.Empty(t, f.outbox.Events())
}

func TestDuplicateStockReservedIsNoOp(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.New(), reserved(order.ID)))
	first, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPendingPayment, first.Status)

	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.New(), reserved(order.ID)))
	second, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPendingPayment, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestReservationFailureCancelsOnce(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)
	ctx := context.Background()
	outcome := events.InventoryOutcomePayload{OrderID: order.ID, Status: types.InventoryStatusReservationFailed, Reason: "insufficient stock for P-2"}

	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.New(), outcome))
	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.New(), outcome))

	stored, err := f.repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, stored.Status)
	assert.Equal(t, "insufficient stock for P-2", stored.CancelReason)

	cancelled := f.eventsOfType(events.OrderCancelledEvent)
	require.Len(t, cancelled, 1)
	payload, err := events.Decode[events.OrderCancelledPayload](cancelled[0])
	require.NoError(t, err)
	assert.Equal(t, "insufficient stock for P-2", payload.Reason)
}

func TestReservedAfterCancelIsIgnored(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.Nil, events.InventoryOutcomePayload{OrderID: order.ID, Status: types.InventoryStatusFailed}))
	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.Nil, reserved(order.ID)))

	assert.Equal(t, types.OrderStatusCancelled, f.status(t, order.ID))
}

func TestStockFailureAfterShippingIsIgnored(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandlePaymentOutcome(ctx, uuid.Nil, events.PaymentProcessedPayload{OrderID: order.ID, Status: types.PaymentStatusCompleted}))
	_, err := f.svc.UpdateOrderStatus(ctx, order.ID, types.OrderStatusProcessing)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.Nil, events.InventoryOutcomePayload{OrderID: order.ID, Status: types.InventoryStatusFailed}))
	assert.Equal(t, types.OrderStatusProcessing, f.status(t, order.ID))
	assert.Empty(t, f.eventsOfType(events.OrderCancelledEvent))
}

func TestStockFailureForPaidOrderCancels(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)
	ctx := context.Background()

	require.NoError(t, f.svc.HandlePaymentOutcome(ctx, uuid.Nil, events.PaymentProcessedPayload{OrderID: order.ID, Status: types.PaymentStatusCompleted}))
	require.NoError(t, f.svc.HandleInventoryOutcome(ctx, uuid.Nil, events.InventoryOutcomePayload{OrderID: order.ID, Status: types.InventoryStatusReservationFailed, Reason: "gone"}))

	assert.Equal(t, types.OrderStatusCancelled, f.status(t, order.ID))
}

func TestUnknownInventoryStatusIsPermanent(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)

	err := f.svc.HandleInventoryOutcome(context.Background(), uuid.Nil, events.InventoryOutcomePayload{OrderID: order.ID, Status: "BACKORDERED"})
	assert.True(t, retry.IsPermanent(err))
	assert.ErrorIs(t, err, types.ErrUnknownVariant)
	assert.Equal(t, types.OrderStatusCreated, f.status(t, order.ID))
}

func TestOutcomeForUnknownOrderIsDropped(t *testing.T) {
	f := newFixture()
	err := f.svc.HandleInventoryOutcome(context.Background(), uuid.Nil, reserved(uuid.New()))
	assert.NoError(t, err)
	assert.Empty(t, f.outbox.Events())
}

// lateRepository hides orders for the first few lookups to simulate an
// outcome overtaking the order row.
type lateRepository struct {
	repository.OrderRepository
	misses atomic.Int32
}

func (r *lateRepository) UpdateOrder(ctx context.Context, id uuid.UUID, mutate repository.MutateFunc) (*domain.Order, error) {
	if r.misses.Add(-1) >= 0 {
		return nil, apperror.NotFound("order %s not found", id)
	}
	return r.OrderRepository.UpdateOrder(ctx, id, mutate)
}

func TestOutcomeBeforeOrderVisibleIsRetried(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)

	late := &lateRepository{OrderRepository: f.repo}
	late.misses.Store(2)
	svc := NewOrderService(late, fastVisibility)

	require.NoError(t, svc.HandleInventoryOutcome(context.Background(), uuid.Nil, reserved(order.ID)))
	assert.Equal(t, types.OrderStatusPendingPayment, f.status(t, order.ID))
}

func TestPaymentOutcome(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f fixture, id uuid.UUID)
		status  types.PaymentStatus
		want    types.OrderStatus
	}{
		{"completed from created", func(fixture, uuid.UUID) {}, types.PaymentStatusCompleted, types.OrderStatusPaid},
		{"completed from pending payment", func(f fixture, id uuid.UUID) {
			_ = f.svc.HandleInventoryOutcome(context.Background(), uuid.Nil, reserved(id))
		}, types.PaymentStatusCompleted, types.OrderStatusPaid},
		{"failed cancels", func(f fixture, id uuid.UUID) {
			_ = f.svc.HandleInventoryOutcome(context.Background(), uuid.Nil, reserved(id))
		}, types.PaymentStatusFailed, types.OrderStatusCancelled},
		{"completed after cancel is ignored", func(f fixture, id uuid.UUID) {
			_ = f.svc.HandleInventoryOutcome(context.Background(), uuid.Nil, events.InventoryOutcomePayload{OrderID: id, Status: types.InventoryStatusFailed})
		}, types.PaymentStatusCompleted, types.OrderStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			order := f.createOrder(t)
			tt.prepare(f, order.ID)

			err := f.svc.HandlePaymentOutcome(context.Background(), uuid.Nil, events.PaymentProcessedPayload{
				PaymentID: uuid.New(), OrderID: order.ID, Status: tt.status, TransactionID: "TXN_1", Amount: order.TotalAmount,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.status(t, order.ID))
		})
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t)
	ctx := context.Background()

	_, err := f.svc.UpdateOrderStatus(ctx, order.ID, types.OrderStatusPaid)
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.UpdateOrderStatus(ctx, order.ID, types.OrderStatusShipped)
	assert.True(t, apperror.IsConflict(err))

	require.NoError(t, f.svc.HandlePaymentOutcome(ctx, uuid.Nil, events.PaymentProcessedPayload{OrderID: order.ID, Status: types.PaymentStatusCompleted}))
	for _, s := range []types.OrderStatus{types.OrderStatusProcessing, types.OrderStatusShipped, types.OrderStatusDelivered} {
		updated, err := f.svc.UpdateOrderStatus(ctx, order.ID, s)
		require.NoError(t, err)
		assert.Equal(t, s, updated.Status)
	}

	_, err = f.svc.UpdateOrderStatus(ctx, uuid.New(), types.OrderStatusProcessing)
	assert.True(t, apperror.IsNotFound(err))
}

func TestGetOrdersByUserIDPaginates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateOrder(ctx, domain.CreateOrderRequest{
			UserID:          userID,
			ShippingAddress: "somewhere",
			Items:           []domain.OrderItemRequest{{ProductID: "P", ProductName: "P", Quantity: 1, Price: decimal.NewFromInt(1)}},
		})
		require.NoError(t, err)
	}

	orders, total, err := f.svc.GetOrdersByUserID(ctx, userID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, orders, 1)
}
