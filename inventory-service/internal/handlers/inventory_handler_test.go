package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	sharedHTTP "github.com/distributed-ecommerce-saga/fulfillment/shared-domain/http"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/messaging"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond}

type testEnv struct {
	app    *fiber.App
	bus    *messaging.MemoryBus
	outbox *outbox.Memory
}

func newTestEnv() testEnv {
	ob := outbox.NewMemory()
	h := NewInventoryHandler(service.NewInventoryService(repository.NewMemoryInventoryRepository(ob)))
	app := fiber.New(fiber.Config{ErrorHandler: sharedHTTP.ErrorHandler})
	h.RegisterRoutes(app.Group("/api/v1"))

	d := messaging.NewDispatcher(events.InventoryService)
	h.RegisterEventHandlers(d, testPolicy)
	bus := messaging.NewMemoryBus()
	bus.Subscribe("inventory-service-queue", d)
	return testEnv{app: app, bus: bus, outbox: ob}
}

func doJSON(t *testing.T, app *fiber.App, method, url, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	var envelope sharedHTTP.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	data, _ := envelope.Data.(map[string]interface{})
	return resp.StatusCode, data
}

func TestStockEndpoints(t *testing.T) {
	env := newTestEnv()

	status, data := doJSON(t, env.app, "PUT", "/api/v1/products/SKU-1/stock", `{"name":"Lamp","stock":12}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(12), data["available"])

	status, data = doJSON(t, env.app, "GET", "/api/v1/products/SKU-1/stock", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Lamp", data["name"])

	status, _ = doJSON(t, env.app, "PUT", "/api/v1/products/SKU-1/stock", `{"stock":-4}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doJSON(t, env.app, "GET", "/api/v1/products/SKU-404/stock", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestOrderEventsReserveAndRelease(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	status, _ := doJSON(t, env.app, "PUT", "/api/v1/products/SKU-1/stock", `{"name":"Lamp","stock":3}`)
	require.Equal(t, fiber.StatusOK, status)

	orderID := uuid.New()
	created, err := events.NewSagaEvent(events.OrderService, events.OrderCreatedEvent, orderID, uuid.Nil, events.OrderCreatedPayload{
		OrderID: orderID,
		UserID:  uuid.New(),
		Status:  types.OrderStatusCreated,
		Items:   []events.OrderItemRef{{ProductID: "SKU-1", Quantity: 2}},
	})
	require.NoError(t, err)
	require.NoError(t, env.bus.Publish(ctx, created))

	_, data := doJSON(t, env.app, "GET", "/api/v1/products/SKU-1/stock", "")
	assert.Equal(t, float64(2), data["reserved_stock"])

	evs := env.outbox.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, created.CorrelationID, evs[0].CorrelationID)
	assert.Equal(t, "saga.inventory-service.inventory.outcome", evs[0].RoutingKey())

	cancelled, err := events.NewSagaEvent(events.OrderService, events.OrderCancelledEvent, orderID, created.CorrelationID, events.OrderCancelledPayload{
		OrderID: orderID,
		Reason:  "payment failed",
	})
	require.NoError(t, err)
	require.NoError(t, env.bus.Publish(ctx, cancelled))

	_, data = doJSON(t, env.app, "GET", "/api/v1/products/SKU-1/stock", "")
	assert.Equal(t, float64(0), data["reserved_stock"])

	status, data = doJSON(t, env.app, "GET", "/api/v1/reservations/"+orderID.String(), "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "RELEASED", data["status"])
	assert.Empty(t, env.bus.DeadLetters())
}

func TestUndecodableOrderEventIsDeadLettered(t *testing.T) {
	env := newTestEnv()
	event, err := events.NewSagaEvent(events.OrderService, events.OrderCreatedEvent, uuid.New(), uuid.Nil, map[string]string{})
	require.NoError(t, err)
	event.Payload = []byte(`{"status":"SHIPPED_TWICE"}`)

	require.NoError(t, env.bus.Publish(context.Background(), event))
	assert.Len(t, env.bus.DeadLetters(), 1)
}
