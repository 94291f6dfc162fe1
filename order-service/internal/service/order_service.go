package service

import (
	"context"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// VisibilityPolicy bounds how long an outcome for a not-yet-visible order is
// retried before it is dropped.
var VisibilityPolicy = retry.Policy{
	MaxAttempts:  5,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2,
}

// fulfilmentStatuses can be set through UpdateOrderStatus; the rest are
// driven by saga events.
var fulfilmentStatuses = map[types.OrderStatus]bool{
	types.OrderStatusProcessing: true,
	types.OrderStatusShipped:    true,
	types.OrderStatusDelivered:  true,
	types.OrderStatusRefunded:   true,
}

type OrderService struct {
	orderRepo  repository.OrderRepository
	visibility retry.Policy
	now        func() time.Time
}

func NewOrderService(orderRepo repository.OrderRepository, visibility retry.Policy) *OrderService {
	return &OrderService{
		orderRepo:  orderRepo,
		visibility: visibility,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder persists a CREATED order together with its OrderCreated event.
func (s *OrderService) CreateOrder(ctx context.Context, request domain.CreateOrderRequest) (*domain.Order, error) {
	order, err := domain.NewOrder(request, s.now())
	if err != nil {
		return nil, err
	}

	// The order id starts the saga's correlation chain.
	event, err := events.NewSagaEvent(events.OrderService, events.OrderCreatedEvent, order.ID, order.ID, events.OrderCreatedPayload{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
		Items:       order.ItemRefs(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.orderRepo.CreateOrder(ctx, order, event); err != nil {
		return nil, fmt.Errorf("order creation error: %w", err)
	}

	log.Info().
		Stringer("order_id", order.ID).
		Stringer("user_id", order.UserID).
		Stringer("total_amount", order.TotalAmount).
		Int("items", len(order.Items)).
		Msg("Order created")
	return order, nil
}

func (s *OrderService) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.orderRepo.GetOrderByID(ctx, orderID)
}

func (s *OrderService) GetOrdersByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]*domain.Order, int, error) {
	orders, total, err := s.orderRepo.GetOrdersByUserID(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("orders receive error: %w", err)
	}
	return orders, total, nil
}

// UpdateOrderStatus advances fulfilment of a paid order.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status types.OrderStatus) (*domain.Order, error) {
	if !fulfilmentStatuses[status] {
		return nil, apperror.Validation("status %s cannot be set directly", status)
	}
	order, err := s.orderRepo.UpdateOrder(ctx, orderID, func(o *domain.Order) (bool, []events.SagaEvent, error) {
		changed, err := o.TransitionTo(status, s.now())
		return changed, nil, err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Stringer("order_id", orderID).Str("status", string(status)).Msg("Order status updated")
	return order, nil
}

// HandleInventoryOutcome applies a stock reservation result. Redelivered
// and late outcomes are absorbed without error.
func (s *OrderService) HandleInventoryOutcome(ctx context.Context, correlationID uuid.UUID, outcome events.InventoryOutcomePayload) error {
	logger := log.With().Stringer("order_id", outcome.OrderID).Str("inventory_status", string(outcome.Status)).Logger()

	return s.updateVisible(ctx, outcome.OrderID, func(o *domain.Order) (bool, []events.SagaEvent, error) {
		switch outcome.Status {
		case types.InventoryStatusReserved:
			if o.Status != types.OrderStatusCreated {
				logger.Debug().Str("status", string(o.Status)).Msg("Stock reservation already applied")
				return false, nil, nil
			}
			changed, err := o.TransitionTo(types.OrderStatusPendingPayment, s.now())
			if changed {
				logger.Info().Msg("Order is waiting for payment")
			}
			return changed, nil, err

		case types.InventoryStatusReservationFailed, types.InventoryStatusFailed:
			reason := outcome.Reason
			if reason == "" {
				reason = string(outcome.Status)
			}
			if o.Status == types.OrderStatusPaid {
				logger.Warn().Msg("Stock reservation failed for a paid order, cancelling; payment needs a refund")
			}
			return s.cancel(o, correlationID, reason, logger)

		default:
			return false, nil, retry.Permanent(fmt.Errorf("inventory status %q: %w", outcome.Status, types.ErrUnknownVariant))
		}
	})
}

// HandlePaymentOutcome finalizes the order. A failed payment cancels it.
func (s *OrderService) HandlePaymentOutcome(ctx context.Context, correlationID uuid.UUID, outcome events.PaymentProcessedPayload) error {
	logger := log.With().Stringer("order_id", outcome.OrderID).Stringer("payment_id", outcome.PaymentID).Str("payment_status", string(outcome.Status)).Logger()

	return s.updateVisible(ctx, outcome.OrderID, func(o *domain.Order) (bool, []events.SagaEvent, error) {
		switch outcome.Status {
		case types.PaymentStatusCompleted:
			if o.Status != types.OrderStatusCreated && o.Status != types.OrderStatusPendingPayment {
				if o.Status == types.OrderStatusCancelled {
					logger.Warn().Msg("Payment completed for a cancelled order")
				}
				return false, nil, nil
			}
			changed, err := o.TransitionTo(types.OrderStatusPaid, s.now())
			if changed {
				logger.Info().Msg("Order paid")
			}
			return changed, nil, err

		case types.PaymentStatusFailed:
			return s.cancel(o, correlationID, "payment failed", logger)

		default:
			// PENDING is never published; anything else is not an outcome.
			return false, nil, retry.Permanent(fmt.Errorf("payment status %q is not an outcome", outcome.Status))
		}
	})
}

// cancel moves o to CANCELLED when the graph allows it and emits
// OrderCancelled. Orders already cancelled or past the point of
// cancellation are left unchanged.
func (s *OrderService) cancel(o *domain.Order, correlationID uuid.UUID, reason string, logger zerolog.Logger) (bool, []events.SagaEvent, error) {
	if o.Status == types.OrderStatusCancelled {
		return false, nil, nil
	}
	if !domain.CanTransition(o.Status, types.OrderStatusCancelled) {
		logger.Warn().Str("status", string(o.Status)).Str("reason", reason).Msg("Order can no longer be cancelled, ignoring")
		return false, nil, nil
	}

	changed, err := o.Cancel(reason, s.now())
	if err != nil || !changed {
		return changed, nil, err
	}
	event, err := events.NewSagaEvent(events.OrderService, events.OrderCancelledEvent, o.ID, correlationID, events.OrderCancelledPayload{
		OrderID: o.ID,
		Reason:  reason,
	})
	if err != nil {
		return false, nil, err
	}
	logger.Warn().Str("reason", reason).Msg("Order cancelled")
	return true, []events.SagaEvent{event}, nil
}

// updateVisible retries while the order is not found, then logs and drops
// the update. Other failures are returned for the consumer to retry.
func (s *OrderService) updateVisible(ctx context.Context, orderID uuid.UUID, mutate repository.MutateFunc) error {
	err := retry.Do(ctx, s.visibility, func(ctx context.Context, attempt int) error {
		_, err := s.orderRepo.UpdateOrder(ctx, orderID, mutate)
		if err == nil || apperror.IsNotFound(err) {
			return err
		}
		return retry.Permanent(err)
	})
	if apperror.IsNotFound(err) {
		log.Warn().Stringer("order_id", orderID).Msg("Outcome for unknown order, dropping")
		return nil
	}
	return err
}
