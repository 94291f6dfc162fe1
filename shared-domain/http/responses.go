package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func SuccessResponse(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, fiber.StatusOK, message, data)
}

func CreatedResponse(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, fiber.StatusCreated, message, data)
}

func BadRequestResponse(c *fiber.Ctx, message string, details map[string]interface{}) error {
	return failure(c, fiber.StatusBadRequest, "BAD_REQUEST", message, details)
}

func NotFoundResponse(c *fiber.Ctx, message string) error {
	return failure(c, fiber.StatusNotFound, "NOT_FOUND", message, nil)
}

func InternalServerErrorResponse(c *fiber.Ctx, message string, details map[string]interface{}) error {
	return failure(c, fiber.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, details)
}

var kindStatus = map[apperror.Kind]struct {
	status int
	code   string
}{
	apperror.KindNotFound:   {fiber.StatusNotFound, "NOT_FOUND"},
	apperror.KindValidation: {fiber.StatusBadRequest, "BAD_REQUEST"},
	apperror.KindConflict:   {fiber.StatusConflict, "CONFLICT"},
	apperror.KindTransient:  {fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
}

// ErrorResponse maps err to a status through its apperror kind. Errors
// without a kind are logged and reported as 500 without their text.
func ErrorResponse(c *fiber.Ctx, err error) error {
	m, ok := kindStatus[apperror.KindOf(err)]
	if !ok {
		log.Error().Err(err).Str("path", c.Path()).Str("request_id", getRequestID(c)).Msg("Unhandled request error")
		return InternalServerErrorResponse(c, "Internal server error", nil)
	}

	message := err.Error()
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	return failure(c, m.status, m.code, message, nil)
}

// ErrorHandler is the fiber.Config error handler shared by every service.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return failure(c, fe.Code, "HTTP_ERROR", fe.Message, nil)
	}
	return ErrorResponse(c, err)
}

// Pagination reads page and limit query parameters. limit is capped at 100.
func Pagination(c *fiber.Ctx) (page, limit int) {
	page, limit = 1, 10
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	return page, limit
}

func respond(c *fiber.Ctx, status int, message string, data interface{}) error {
	return c.Status(status).JSON(APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

func failure(c *fiber.Ctx, status int, code, message string, details map[string]interface{}) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

func getRequestID(c *fiber.Ctx) string {
	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
		c.Set("X-Request-ID", requestID)
	}
	return requestID
}
