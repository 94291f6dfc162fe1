package service

import (
	"context"
	"sync"
	"testing"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *InventoryService
	outbox *outbox.Memory
}

func newFixture(t *testing.T, stock map[string]int) fixture {
	t.Helper()
	ob := outbox.NewMemory()
	svc := NewInventoryService(repository.NewMemoryInventoryRepository(ob))
	for id, n := range stock {
		_, err := svc.SetStock(context.Background(), id, domain.SetStockRequest{Name: id, Stock: n})
		require.NoError(t, err)
	}
	return fixture{svc: svc, outbox: ob}
}

func (f fixture) reserved(t *testing.T, id string) int {
	t.Helper()
	p, err := f.svc.GetStock(context.Background(), id)
	require.NoError(t, err)
	return p.ReservedStock
}

func (f fixture) outcomes(t *testing.T) []events.InventoryOutcomePayload {
	t.Helper()
	var out []events.InventoryOutcomePayload
	for _, e := range f.outbox.Events() {
		require.Equal(t, events.InventoryOutcomeEvent, e.EventType)
		p, err := events.Decode[events.InventoryOutcomePayload](e)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func orderCreated(items ...events.OrderItemRef) events.OrderCreatedPayload {
	return events.OrderCreatedPayload{OrderID: uuid.New(), UserID: uuid.New(), Status: types.OrderStatusCreated, Items: items}
}

func TestHandleOrderCreatedReserves(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5, "B": 2})
	created := orderCreated(events.OrderItemRef{ProductID: "A", Quantity: 3}, events.OrderItemRef{ProductID: "B", Quantity: 2})

	require.NoError(t, f.svc.HandleOrderCreated(context.Background(), uuid.New(), created))
	assert.Equal(t, 3, f.reserved(t, "A"))
	assert.Equal(t, 2, f.reserved(t, "B"))

	outcomes := f.outcomes(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.InventoryStatusReserved, outcomes[0].Status)
	assert.Equal(t, created.OrderID, outcomes[0].OrderID)
}

func TestHandleOrderCreatedIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	created := orderCreated(events.OrderItemRef{ProductID: "A", Quantity: 2})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.HandleOrderCreated(context.Background(), uuid.New(), created))
	}
	assert.Equal(t, 2, f.reserved(t, "A"))
	assert.Len(t, f.outcomes(t), 1)
}

func TestHandleOrderCreatedConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 100})
	created := orderCreated(events.OrderItemRef{ProductID: "A", Quantity: 7})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleOrderCreated(context.Background(), uuid.New(), created))
		}()
	}
	wg.Wait()
	assert.Equal(t, 7, f.reserved(t, "A"))
	assert.Len(t, f.outcomes(t), 1)
}

func TestHandleOrderCreatedInsufficientStock(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5, "B": 1})
	created := orderCreated(events.OrderItemRef{ProductID: "A", Quantity: 3}, events.OrderItemRef{ProductID: "B", Quantity: 2})

	require.NoError(t, f.svc.HandleOrderCreated(context.Background(), uuid.New(), created))
	assert.Zero(t, f.reserved(t, "A"), "nothing is reserved when one item is short")

	outcomes := f.outcomes(t)
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.InventoryStatusReservationFailed, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].Reason)
}

func TestHandleOrderCreatedRejectsEmptyOrder(t *testing.T) {
	f := newFixture(t, nil)
	err := f.svc.HandleOrderCreated(context.Background(), uuid.New(), orderCreated())
	assert.True(t, retry.IsPermanent(err))
}

func TestHandleOrderCancelledReleasesOnce(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	ctx := context.Background()
	created := orderCreated(events.OrderItemRef{ProductID: "A", Quantity: 4})
	require.NoError(t, f.svc.HandleOrderCreated(ctx, uuid.New(), created))

	cancelled := events.OrderCancelledPayload{OrderID: created.OrderID, Reason: "payment failed"}
	require.NoError(t, f.svc.HandleOrderCancelled(ctx, cancelled))
	require.NoError(t, f.svc.HandleOrderCancelled(ctx, cancelled))
	assert.Zero(t, f.reserved(t, "A"))

	res, err := f.svc.GetReservation(ctx, created.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, res.Status)
}

func TestCancellationBeforeReservation(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	ctx := context.Background()
	created := orderCreated(events.OrderItemRef{ProductID: "A", Quantity: 4})

	require.NoError(t, f.svc.HandleOrderCancelled(ctx, events.OrderCancelledPayload{OrderID: created.OrderID}))
	require.NoError(t, f.svc.HandleOrderCreated(ctx, uuid.New(), created))

	assert.Zero(t, f.reserved(t, "A"))
	assert.Empty(t, f.outbox.Events())
}

func TestSetStock(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	ctx := context.Background()
	require.NoError(t, f.svc.HandleOrderCreated(ctx, uuid.New(), orderCreated(events.OrderItemRef{ProductID: "A", Quantity: 4})))

	_, err := f.svc.SetStock(ctx, "A", domain.SetStockRequest{Stock: 3})
	assert.True(t, apperror.IsConflict(err))

	p, err := f.svc.SetStock(ctx, "A", domain.SetStockRequest{Stock: 9})
	require.NoError(t, err)
	assert.Equal(t, "A", p.Name)
	assert.Equal(t, 5, p.Available())

	_, err = f.svc.SetStock(ctx, "A", domain.SetStockRequest{Stock: -1})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.GetStock(ctx, "missing")
	assert.True(t, apperror.IsNotFound(err))
}
