package domain

import (
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Payment struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	OrderID       uuid.UUID           `json:"order_id" db:"order_id"`
	UserID        uuid.UUID           `json:"user_id" db:"user_id"`
	Amount        decimal.Decimal     `json:"amount" db:"amount"`
	Status        types.PaymentStatus `json:"status" db:"status"`
	PaymentMethod string              `json:"payment_method" db:"payment_method"`
	TransactionID string              `json:"transaction_id,omitempty" db:"transaction_id"`
	FailureReason string              `json:"failure_reason,omitempty" db:"failure_reason"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
	// CorrelationID is the saga chain PaymentProcessed continues.
	CorrelationID uuid.UUID           `json:"-" db:"correlation_id"`
}

// NewPendingPayment seeds the single payment an order may have.
func NewPendingPayment(orderID, userID uuid.UUID, amount decimal.Decimal, now time.Time) *Payment {
	return &Payment{
		ID:        uuid.New(),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Status:    types.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,

		// Order sagas are correlated by order id until OrderCreated says otherwise.
		CorrelationID: orderID,
	}
}

func (p *Payment) IsTerminal() bool {
	return p.Status.IsTerminal()
}

func (p *Payment) Complete(transactionID string, now time.Time) {
	p.finish(types.PaymentStatusCompleted, transactionID, "", now)
}

func (p *Payment) Fail(transactionID, reason string, now time.Time) {
	p.finish(types.PaymentStatusFailed, transactionID, reason, now)
}

func (p *Payment) finish(status types.PaymentStatus, transactionID, reason string, now time.Time) {
	p.Status = status
	p.TransactionID = transactionID
	p.FailureReason = reason
	p.ProcessedAt = &now
	p.UpdatedAt = now
}

// Matches reports whether a repeated execution asks for the same charge.
func (p *Payment) Matches(req ExecutePaymentRequest) bool {
	return p.Amount.Equal(req.Amount) &&
		p.PaymentMethod == req.PaymentMethod &&
		p.UserID == req.UserID
}

type ExecutePaymentRequest struct {
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

func (r ExecutePaymentRequest) Validate() error {
	switch {
	case r.OrderID == uuid.Nil:
		return apperror.Validation("order id is required")
	case r.UserID == uuid.Nil:
		return apperror.Validation("user id is required")
	case strings.TrimSpace(r.PaymentMethod) == "":
		return apperror.Validation("payment method is required")
	case r.Amount.IsNegative():
		return apperror.Validation("amount must not be negative")
	case !types.IsMoneyAmount(r.Amount):
		return apperror.Validation("amount must have at most %d decimal places", types.MoneyScale)
	}
	return nil
}
