package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/payment-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/payment-service/internal/gateway"
	"github.com/distributed-ecommerce-saga/fulfillment/payment-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GatewayPolicy bounds the charge attempts made within one execution.
var GatewayPolicy = retry.Policy{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2,
}

type PaymentService struct {
	paymentRepo    repository.PaymentRepository
	paymentGateway gateway.PaymentGateway
	gatewayTimeout time.Duration
	gatewayPolicy  retry.Policy
	now            func() time.Time
}

func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	paymentGateway gateway.PaymentGateway,
	gatewayTimeout time.Duration,
	gatewayPolicy retry.Policy,
) *PaymentService {
	return &PaymentService{
		paymentRepo:    paymentRepo,
		paymentGateway: paymentGateway,
		gatewayTimeout: gatewayTimeout,
		gatewayPolicy:  gatewayPolicy,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// HandleOrderCreated seeds a PENDING payment for the order total, keeping the
// event's correlation id for PaymentProcessed. Repeated events for the same
// order leave the existing payment alone.
func (s *PaymentService) HandleOrderCreated(ctx context.Context, correlationID uuid.UUID, created events.OrderCreatedPayload) error {
	if created.OrderID == uuid.Nil {
		return retry.Permanent(errors.New("order created event without order id"))
	}

	payment := domain.NewPendingPayment(created.OrderID, created.UserID, created.TotalAmount, s.now())
	if correlationID != uuid.Nil {
		payment.CorrelationID = correlationID
	}
	inserted, err := s.paymentRepo.CreateIfAbsent(ctx, payment)
	if err != nil {
		return err
	}

	logger := log.With().Stringer("order_id", created.OrderID).Logger()
	if !inserted {
		logger.Debug().Msg("Payment already exists for order")
		return nil
	}
	logger.Info().Stringer("payment_id", payment.ID).Stringer("amount", payment.Amount).Msg("Pending payment created")
	return nil
}

// ExecutePayment charges the order's payment at most once. A repeated call
// returns the stored outcome, or a Conflict when it asks for a different
// charge. Gateway outages leave the payment PENDING.
func (s *PaymentService) ExecutePayment(ctx context.Context, request domain.ExecutePaymentRequest) (*domain.Payment, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Stringer("order_id", request.OrderID).Logger()
	seed := domain.NewPendingPayment(request.OrderID, request.UserID, request.Amount, s.now())
	seed.PaymentMethod = request.PaymentMethod

	payment, err := s.paymentRepo.WithPaymentLock(ctx, request.OrderID, seed, func(p *domain.Payment) (bool, []events.SagaEvent, error) {
		if p.IsTerminal() {
			if !p.Matches(request) {
				return false, nil, apperror.Conflict("payment for order %s already %s with different details", p.OrderID, p.Status)
			}
			logger.Info().Stringer("payment_id", p.ID).Str("status", string(p.Status)).Msg("Payment already processed")
			return false, nil, nil
		}
		if p.UserID != request.UserID {
			return false, nil, apperror.Conflict("payment for order %s belongs to another user", p.OrderID)
		}

		p.Amount = request.Amount
		p.PaymentMethod = request.PaymentMethod

		result, err := s.charge(ctx, p)
		if err != nil {
			return false, nil, err
		}
		if result.Approved {
			p.Complete(result.TransactionID, s.now())
		} else {
			p.Fail(result.TransactionID, result.DeclineReason, s.now())
		}

		event, err := events.NewSagaEvent(events.PaymentService, events.PaymentProcessedEvent, p.OrderID, p.CorrelationID, events.PaymentProcessedPayload{
			PaymentID:     p.ID,
			OrderID:       p.OrderID,
			Status:        p.Status,
			TransactionID: p.TransactionID,
			Amount:        p.Amount,
		})
		if err != nil {
			return false, nil, err
		}
		return true, []events.SagaEvent{event}, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Stringer("payment_id", payment.ID).
		Str("status", string(payment.Status)).
		Str("transaction_id", payment.TransactionID).
		Msg("Payment executed")
	return payment, nil
}

// charge calls the gateway with a fresh timeout per attempt.
func (s *PaymentService) charge(ctx context.Context, p *domain.Payment) (*gateway.ChargeResult, error) {
	request := gateway.ChargeRequest{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		PaymentMethod: p.PaymentMethod,
	}

	var result *gateway.ChargeResult
	err := retry.Do(ctx, s.gatewayPolicy, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()

		r, err := s.paymentGateway.Charge(attemptCtx, request)
		if err != nil {
			log.Warn().Err(err).Stringer("order_id", p.OrderID).Int("attempt", attempt).Msg("Payment gateway call failed")
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, apperror.Transient(err, "payment gateway unavailable")
	}
	if result == nil {
		return nil, fmt.Errorf("payment gateway returned no result")
	}
	return result, nil
}

func (s *PaymentService) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return s.paymentRepo.GetByOrderID(ctx, orderID)
}
