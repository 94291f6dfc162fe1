package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrUnavailable marks infrastructure failures: the charge may or may not
// be retried, but it was never declined.
var ErrUnavailable = errors.New("payment gateway unavailable")

// PaymentGateway external payment provider interface
type PaymentGateway interface {
	Charge(ctx context.Context, request ChargeRequest) (*ChargeResult, error)
}

type ChargeRequest struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

type ChargeResult struct {
	Approved      bool      `json:"approved"`
	TransactionID string    `json:"transaction_id"`
	DeclineReason string    `json:"decline_reason,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// StubGateway approves every charge with a positive amount and declines the
// rest. Latency simulates the provider round trip.
type StubGateway struct {
	Latency time.Duration
}

func NewStubGateway(latency time.Duration) *StubGateway {
	return &StubGateway{Latency: latency}
}

func (g *StubGateway) Charge(ctx context.Context, request ChargeRequest) (*ChargeResult, error) {
	if g.Latency > 0 {
		timer := time.NewTimer(g.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-timer.C:
		}
	}

	result := &ChargeResult{
		Approved:      request.Amount.IsPositive(),
		TransactionID: "TXN_" + uuid.NewString(),
		ProcessedAt:   time.Now().UTC(),
	}
	if !result.Approved {
		result.DeclineReason = "amount must be greater than zero"
	}

	log.Debug().
		Stringer("order_id", request.OrderID).
		Stringer("amount", request.Amount).
		Bool("approved", result.Approved).
		Str("transaction_id", result.TransactionID).
		Msg("Stub payment gateway charge")
	return result, nil
}
