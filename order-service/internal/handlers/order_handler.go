package handlers

import (
	"context"

	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	sharedHTTP "github.com/distributed-ecommerce-saga/fulfillment/shared-domain/http"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/messaging"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type OrderHandler struct {
	orderService *service.OrderService
}

func NewOrderHandler(orderService *service.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

func (h *OrderHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/health", h.HealthCheck)

	orders := api.Group("/orders")
	orders.Post("/", h.CreateOrder)                  // POST /api/v1/orders
	orders.Get("/:id", h.GetOrderByID)               // GET /api/v1/orders/:id
	orders.Patch("/:id/status", h.UpdateOrderStatus) // PATCH /api/v1/orders/:id/status

	users := api.Group("/users")
	users.Get("/:user_id/orders", h.GetOrdersByUserID) // GET /api/v1/users/:user_id/orders
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var request domain.CreateOrderRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	order, err := h.orderService.CreateOrder(c.UserContext(), request)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.CreatedResponse(c, "Order created successfully", mapOrder(order))
}

func (h *OrderHandler) GetOrderByID(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": c.Params("id"),
		})
	}

	order, err := h.orderService.GetOrderByID(c.UserContext(), orderID)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Order retrieved successfully", mapOrder(order))
}

func (h *OrderHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": c.Params("id"),
		})
	}

	var request UpdateOrderStatusRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", nil)
	}
	status, err := types.ParseOrderStatus(request.Status)
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid order status", map[string]interface{}{
			"status": request.Status,
		})
	}

	order, err := h.orderService.UpdateOrderStatus(c.UserContext(), orderID, status)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Order status updated", mapOrder(order))
}

func (h *OrderHandler) GetOrdersByUserID(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid user ID", map[string]interface{}{
			"user_id": c.Params("user_id"),
		})
	}

	page, limit := sharedHTTP.Pagination(c)
	orders, total, err := h.orderService.GetOrdersByUserID(c.UserContext(), userID, page, limit)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}

	responses := make([]OrderResponse, len(orders))
	for i, order := range orders {
		responses[i] = mapOrder(order)
	}

	return sharedHTTP.SuccessResponse(c, "Orders retrieved successfully", map[string]interface{}{
		"orders": responses,
		"pagination": map[string]interface{}{
			"page":     page,
			"limit":    limit,
			"total":    total,
			"has_more": page*limit < total,
		},
	})
}

func (h *OrderHandler) HealthCheck(c *fiber.Ctx) error {
	return sharedHTTP.SuccessResponse(c, "Order service is healthy", map[string]interface{}{
		"service": events.OrderService,
		"status":  "healthy",
	})
}

// RegisterEventHandlers binds the inventory and payment outcomes this
// service reacts to.
func (h *OrderHandler) RegisterEventHandlers(d *messaging.Dispatcher, policy retry.Policy) {
	d.Handle(events.InventoryService, events.InventoryOutcomeEvent, policy, h.HandleInventoryOutcome)
	d.Handle(events.PaymentService, events.PaymentProcessedEvent, policy, h.HandlePaymentProcessed)
}

func (h *OrderHandler) HandleInventoryOutcome(ctx context.Context, event events.SagaEvent) error {
	payload, err := events.Decode[events.InventoryOutcomePayload](event)
	if err != nil {
		return err
	}
	if payload.OrderID == uuid.Nil {
		payload.OrderID = event.OrderID
	}
	return h.orderService.HandleInventoryOutcome(ctx, event.CorrelationID, payload)
}

func (h *OrderHandler) HandlePaymentProcessed(ctx context.Context, event events.SagaEvent) error {
	payload, err := events.Decode[events.PaymentProcessedPayload](event)
	if err != nil {
		return err
	}
	if payload.OrderID == uuid.Nil {
		payload.OrderID = event.OrderID
	}
	return h.orderService.HandlePaymentOutcome(ctx, event.CorrelationID, payload)
}
