package handlers

import (
	"context"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	sharedHTTP "github.com/distributed-ecommerce-saga/fulfillment/shared-domain/http"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/messaging"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type InventoryHandler struct {
	inventoryService *service.InventoryService
}

func NewInventoryHandler(inventoryService *service.InventoryService) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
	}
}

func (h *InventoryHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/health", h.HealthCheck)

	products := api.Group("/products")
	products.Put("/:id/stock", h.SetStock) // PUT /api/v1/products/:id/stock
	products.Get("/:id/stock", h.GetStock) // GET /api/v1/products/:id/stock

	api.Get("/reservations/:order_id", h.GetReservation) // GET /api/v1/reservations/:order_id
}

func (h *InventoryHandler) SetStock(c *fiber.Ctx) error {
	var request domain.SetStockRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	product, err := h.inventoryService.SetStock(c.UserContext(), c.Params("id"), request)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Stock updated", mapProduct(product))
}

func (h *InventoryHandler) GetStock(c *fiber.Ctx) error {
	product, err := h.inventoryService.GetStock(c.UserContext(), c.Params("id"))
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Stock retrieved successfully", mapProduct(product))
}

func (h *InventoryHandler) GetReservation(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": c.Params("order_id"),
		})
	}
	reservation, err := h.inventoryService.GetReservation(c.UserContext(), orderID)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Reservation retrieved successfully", reservation)
}

func (h *InventoryHandler) HealthCheck(c *fiber.Ctx) error {
	return sharedHTTP.SuccessResponse(c, "Inventory service is healthy", map[string]interface{}{
		"service": events.InventoryService,
		"status":  "healthy",
	})
}

func (h *InventoryHandler) RegisterEventHandlers(d *messaging.Dispatcher, policy retry.Policy) {
	d.Handle(events.OrderService, events.OrderCreatedEvent, policy, h.HandleOrderCreated)
	d.Handle(events.OrderService, events.OrderCancelledEvent, policy, h.HandleOrderCancelled)
}

func (h *InventoryHandler) HandleOrderCreated(ctx context.Context, event events.SagaEvent) error {
	payload, err := events.Decode[events.OrderCreatedPayload](event)
	if err != nil {
		return err
	}
	if payload.OrderID == uuid.Nil {
		payload.OrderID = event.OrderID
	}
	return h.inventoryService.HandleOrderCreated(ctx, event.CorrelationID, payload)
}

func (h *InventoryHandler) HandleOrderCancelled(ctx context.Context, event events.SagaEvent) error {
	payload, err := events.Decode[events.OrderCancelledPayload](event)
	if err != nil {
		return err
	}
	if payload.OrderID == uuid.Nil {
		payload.OrderID = event.OrderID
	}
	return h.inventoryService.HandleOrderCancelled(ctx, payload)
}
