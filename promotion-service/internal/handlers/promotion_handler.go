package handlers

import (
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	sharedHTTP "github.com/distributed-ecommerce-saga/fulfillment/shared-domain/http"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type PromotionHandler struct {
	promotionService *service.PromotionService
}

func NewPromotionHandler(promotionService *service.PromotionService) *PromotionHandler {
	return &PromotionHandler{
		promotionService: promotionService,
	}
}

func (h *PromotionHandler) RegisterRoutes(api fiber.Router) {
	api.Get("/health", h.HealthCheck)

	promotions := api.Group("/promotions")
	promotions.Post("/", h.CreatePromotion)
	promotions.Get("/", h.ListPromotions)
	promotions.Get("/active", h.ListActivePromotions)
	promotions.Post("/vouchers/apply", h.ApplyVoucher)
	promotions.Get("/:id", h.GetPromotion)
	promotions.Patch("/:id/activate", h.ActivatePromotion)
	promotions.Patch("/:id/pause", h.PausePromotion)
	promotions.Post("/:id/vouchers", h.CreateVoucher)
}

func (h *PromotionHandler) CreatePromotion(c *fiber.Ctx) error {
	var request domain.CreatePromotionRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	promotion, err := h.promotionService.CreatePromotion(c.UserContext(), request)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.CreatedResponse(c, "Promotion created successfully", promotion)
}

func (h *PromotionHandler) ListPromotions(c *fiber.Ctx) error {
	var status types.PromotionStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := types.ParsePromotionStatus(raw)
		if err != nil {
			return sharedHTTP.BadRequestResponse(c, "Invalid promotion status", map[string]interface{}{
				"status": raw,
			})
		}
		status = parsed
	}

	page, limit := sharedHTTP.Pagination(c)
	promotions, total, err := h.promotionService.ListPromotions(c.UserContext(), status, page, limit)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Promotions retrieved successfully", map[string]interface{}{
		"promotions": promotions,
		"pagination": map[string]interface{}{
			"page":     page,
			"limit":    limit,
			"total":    total,
			"has_more": page*limit < total,
		},
	})
}

func (h *PromotionHandler) ListActivePromotions(c *fiber.Ctx) error {
	promotions, err := h.promotionService.ListActivePromotions(c.UserContext())
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Active promotions retrieved successfully", promotions)
}

func (h *PromotionHandler) GetPromotion(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidPromotionID(c)
	}
	promotion, err := h.promotionService.GetPromotion(c.UserContext(), id)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Promotion retrieved successfully", promotion)
}

func (h *PromotionHandler) ActivatePromotion(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidPromotionID(c)
	}
	promotion, err := h.promotionService.ActivatePromotion(c.UserContext(), id)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Promotion activated", promotion)
}

func (h *PromotionHandler) PausePromotion(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidPromotionID(c)
	}
	promotion, err := h.promotionService.PausePromotion(c.UserContext(), id)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, "Promotion paused", promotion)
}

func (h *PromotionHandler) CreateVoucher(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidPromotionID(c)
	}
	var request domain.CreateVoucherRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	voucher, err := h.promotionService.CreateVoucher(c.UserContext(), id, request)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.CreatedResponse(c, "Voucher created successfully", voucher)
}

func (h *PromotionHandler) ApplyVoucher(c *fiber.Ctx) error {
	var request domain.ApplyVoucherRequest
	if err := c.BodyParser(&request); err != nil {
		return sharedHTTP.BadRequestResponse(c, "Invalid request body", map[string]interface{}{
			"parse_error": err.Error(),
		})
	}

	result, err := h.promotionService.ApplyVoucher(c.UserContext(), request)
	if err != nil {
		return sharedHTTP.ErrorResponse(c, err)
	}
	return sharedHTTP.SuccessResponse(c, result.Message, result)
}

func (h *PromotionHandler) HealthCheck(c *fiber.Ctx) error {
	return sharedHTTP.SuccessResponse(c, "Promotion service is healthy", map[string]interface{}{
		"service": events.PromotionService,
		"status":  "healthy",
	})
}

func invalidPromotionID(c *fiber.Ctx) error {
	return sharedHTTP.BadRequestResponse(c, "Invalid promotion ID", map[string]interface{}{
		"promotion_id": c.Params("id"),
	})
}
