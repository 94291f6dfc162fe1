package domain

import (
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 5, 9, 0, 0, 0, time.UTC)

func TestReservationItemsMergesAndSorts(t *testing.T) {
	orderID := uuid.New()
	items := ReservationItems(orderID, []events.OrderItemRef{
		{ProductID: "SKU-B", Quantity: 1},
		{ProductID: "SKU-A", Quantity: 2},
		{ProductID: "SKU-B", Quantity: 3},
	})
	expected := []ReservationItem{
		{OrderID: orderID, ProductID: "SKU-A", Quantity: 2},
		{OrderID: orderID, ProductID: "SKU-B", Quantity: 4},
	}
	if diff := cmp.Diff(expected, items); diff != "" {
		t.Errorf("ReservationItems mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"SKU-A", "SKU-B"}, ProductIDs(items))
}

func TestAllocateIsAllOrNothing(t *testing.T) {
	orderID := uuid.New()
	items := []ReservationItem{{ProductID: "A", Quantity: 2}, {ProductID: "B", Quantity: 5}}

	products := map[string]*Product{
		"A": {ID: "A", Stock: 10},
		"B": {ID: "B", Stock: 4},
	}
	res := Allocate(orderID, items, products, now)
	assert.Equal(t, ReservationFailed, res.Status)
	assert.Contains(t, res.Reason, "insufficient stock for product B")
	assert.Zero(t, products["A"].ReservedStock)
	assert.Equal(t, types.InventoryStatusReservationFailed, res.Outcome().Status)

	products["B"].Stock = 5
	res = Allocate(orderID, items, products, now)
	assert.Equal(t, ReservationReserved, res.Status)
	assert.Equal(t, 2, products["A"].ReservedStock)
	assert.Equal(t, 5, products["B"].ReservedStock)
	assert.Equal(t, types.InventoryStatusReserved, res.Outcome().Status)

	res = Allocate(orderID, []ReservationItem{{ProductID: "C", Quantity: 1}}, products, now)
	assert.Equal(t, ReservationFailed, res.Status)
	assert.Equal(t, "product C not found", res.Reason)
}

func TestReleaseOnlyOnce(t *testing.T) {
	products := map[string]*Product{"A": {ID: "A", Stock: 10}}
	res := Allocate(uuid.New(), []ReservationItem{{ProductID: "A", Quantity: 3}}, products, now)
	require.Equal(t, ReservationReserved, res.Status)

	assert.True(t, res.Release(products, now))
	assert.Zero(t, products["A"].ReservedStock)
	assert.Equal(t, ReservationReleased, res.Status)

	assert.False(t, res.Release(products, now))
}

func TestProductSetStock(t *testing.T) {
	p := &Product{ID: "A", Name: "Lamp", Stock: 10, ReservedStock: 4}
	require.NoError(t, p.SetStock("", 6, now))
	assert.Equal(t, "Lamp", p.Name)
	assert.Equal(t, 2, p.Available())

	err := p.SetStock("Lamp", 3, now)
	assert.True(t, apperror.IsConflict(err))
	assert.Error(t, p.Reserve(3))
}
