package handlers

import (
	"context"

	"github.com/distributed-ecommerce-saga/fulfillment/payment-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/payment-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	sharedHTTP "github.com/distributed-ecommerce-saga/fulfillment/shared-domain/http"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/messaging"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/health", h.HealthCheck)

	api.Post("/payments/process", h.ProcessPayment)         // POST /api/v1/payments/process
	api.Get("/orders/:order_id/payment", h.GetOrderPayment) // GET /api/v1/orders/:order_id/payment
}

func (h *PaymentHandler) ProcessPayment(c *fiber.Ctx) error {
	var request domain.ExecutePaymentRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	payment, err := h.paymentService.ExecutePayment(c.UserContext(), request)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Payment processed", mapPayment(payment))
}

func (h *PaymentHandler) GetOrderPayment(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("order_id"))
	if err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid order ID", map[string]interface{}{
			"order_id": c.Params("order_id"),
		})
	}

	payment, err := h.paymentService.GetPaymentByOrderID(c.UserContext(), orderID)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Payment retrieved successfully", mapPayment(payment))
}

func (h *PaymentHandler) HealthCheck(c *fiber.Ctx) error {
	return sharedHTTP.SuccessResponse(c, "Payment service is healthy", map[string]interface{}{
		"service": events.PaymentService,
		"status":  "healthy",
	})
}

func (h *PaymentHandler) RegisterEventHandlers(d *messaging.Dispatcher, policy retry.Policy) {
	d.Handle(events.OrderService, events.OrderCreatedEvent, policy, h.HandleOrderCreated)
}

func (h *PaymentHandler) HandleOrderCreated(ctx context.Context, event events.SagaEvent) error {
	payload, err := events.Decode[events.OrderCreatedPayload](event)
	if err != nil {
		return err
	}
	if payload.OrderID == uuid.Nil {
		payload.OrderID = event.OrderID
	}
	return h.paymentService.HandleOrderCreated(ctx, event.CorrelationID, payload)
}
