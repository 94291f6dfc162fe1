package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/service"
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

func newTestApp() (*fiber.App, *OrderHandler) {
	repo := repository.NewMemoryOrderRepository(outbox.NewMemory())
	h := NewOrderHandler(service.NewOrderService(repo, testPolicy))
	app := fiber.New(fiber.Config{ErrorHandler: sharedHTTP.ErrorHandler})
	h.RegisterRoutes(app.Group("/api/v1"))
	return app, h
}

func doJSON(t *testing.T, app *fiber.App, method, url, body string) (int, sharedHTTP.APIResponse, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var envelope sharedHTTP.APIResponse
	require.NoError(t, json.Unmarshal(raw, &envelope))
	data, _ := envelope.Data.(map[string]interface{})
	return resp.StatusCode, envelope, data
}

const createBody = `{
	"user_id": "%s",
	"shipping_address": "Jl. Thamrin 10",
	"items": [
		{"product_id": "SKU-1", "product_name": "Lamp", "quantity": 2, "price": "12.35"},
		{"product_id": "SKU-2", "product_name": "Bulb", "quantity": 3, "price": 0.10}
	]
}`

func TestCreateAndGetOrder(t *testing.T) {
	app, _ := newTestApp()
	userID := uuid.New()

	status, envelope, data := doJSON(t, app, "POST", "/api/v1/orders", strings.Replace(createBody, "%s", userID.String(), 1))
	require.Equal(t, fiber.StatusCreated, status, envelope.Message)
	assert.Equal(t, "CREATED", data["status"])
	assert.Equal(t, "25", data["total_amount"])

	id := data["id"].(string)
	status, _, data = doJSON(t, app, "GET", "/api/v1/orders/"+id, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, userID.String(), data["user_id"])

	status, _, data = doJSON(t, app, "GET", "/api/v1/users/"+userID.String()+"/orders?limit=5", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, data["orders"], 1)
}

func TestCreateOrderValidationErrors(t *testing.T) {
	app, _ := newTestApp()

	status, envelope, _ := doJSON(t, app, "POST", "/api/v1/orders", `{"user_id":"`+uuid.NewString()+`","shipping_address":"x","items":[]}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "at least one item is required", envelope.Message)

	status, _, _ = doJSON(t, app, "POST", "/api/v1/orders", `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestGetOrderErrors(t *testing.T) {
	app, _ := newTestApp()

	status, _, _ := doJSON(t, app, "GET", "/api/v1/orders/not-a-uuid", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _, _ = doJSON(t, app, "GET", "/api/v1/orders/"+uuid.NewString(), "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestUpdateOrderStatusEndpoint(t *testing.T) {
	app, _ := newTestApp()
	_, _, data := doJSON(t, app, "POST", "/api/v1/orders", strings.Replace(createBody, "%s", uuid.NewString(), 1))
	id := data["id"].(string)

	status, _, _ := doJSON(t, app, "PATCH", "/api/v1/orders/"+id+"/status", `{"status":"SHIPPED"}`)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _, _ = doJSON(t, app, "PATCH", "/api/v1/orders/"+id+"/status", `{"status":"LOST"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestEventHandlersThroughBus(t *testing.T) {
	app, h := newTestApp()
	_, _, data := doJSON(t, app, "POST", "/api/v1/orders", strings.Replace(createBody, "%s", uuid.NewString(), 1))
	orderID := uuid.MustParse(data["id"].(string))

	d := messaging.NewDispatcher(events.OrderService)
	h.RegisterEventHandlers(d, testPolicy)
	bus := messaging.NewMemoryBus()
	bus.Subscribe("order-service-queue", d)

	ctx := context.Background()
	outcome, err := events.NewSagaEvent(events.InventoryService, events.InventoryOutcomeEvent, orderID, uuid.Nil,
		events.InventoryOutcomePayload{OrderID: orderID, Status: types.InventoryStatusReserved})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, outcome))
	require.NoError(t, bus.Publish(ctx, outcome))

	_, _, data = doJSON(t, app, "GET", "/api/v1/orders/"+orderID.String(), "")
	assert.Equal(t, "PENDING_PAYMENT", data["status"])

	bogus := outcome
	bogus.ID = uuid.New()
	bogus.Payload = []byte(`{"orderId":"` + orderID.String() + `","status":"MAYBE_RESERVED"}`)
	require.NoError(t, bus.Publish(ctx, bogus))

	dead := bus.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, bogus.ID, dead[0].Event.ID)
	assert.Equal(t, 1, dead[0].Attempts)

	paid, err := events.NewSagaEvent(events.PaymentService, events.PaymentProcessedEvent, orderID, outcome.CorrelationID,
		events.PaymentProcessedPayload{PaymentID: uuid.New(), OrderID: orderID, Status: types.PaymentStatusCompleted, TransactionID: "TXN_A"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, paid))

	_, _, data = doJSON(t, app, "GET", "/api/v1/orders/"+orderID.String(), "")
	assert.Equal(t, "PAID", data["status"])
}
