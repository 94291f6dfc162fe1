package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Redemption failure messages, checked in this order.
const (
	MsgVoucherNotFound     = "Voucher not found"
	MsgVoucherUsed         = "Voucher already used"
	MsgPromotionInactive   = "Promotion not active"
	MsgPromotionExpired    = "Promotion expired"
	MsgPromotionNotStarted = "Promotion not started"
	MsgUsageLimitReached   = "Promotion usage limit reached"
	MsgVoucherWrongUser    = "Voucher not valid for this user"
	MsgVoucherApplied      = "Voucher applied successfully"
)

type Voucher struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Code        string        `json:"code" db:"code"`
	PromotionID uuid.UUID     `json:"promotion_id" db:"promotion_id"`
	UserID      uuid.NullUUID `json:"user_id" db:"user_id"`
	IsUsed      bool          `json:"is_used" db:"is_used"`
	UsedAt      *time.Time    `json:"used_at,omitempty" db:"used_at"`
	OrderID     uuid.NullUUID `json:"order_id" db:"order_id"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

type CreateVoucherRequest struct {
	Code   string        `json:"code"`
	UserID uuid.NullUUID `json:"user_id"`
}

func NewVoucher(promotionID uuid.UUID, request CreateVoucherRequest, now time.Time) (*Voucher, error) {
	code := strings.TrimSpace(request.Code)
	if code == "" {
		return nil, apperror.Validation("voucher code is required")
	}
	return &Voucher{
		ID:          uuid.New(),
		Code:        code,
		PromotionID: promotionID,
		UserID:      request.UserID,
		CreatedAt:   now,
	}, nil
}

func (v *Voucher) Redeem(orderID uuid.UUID, now time.Time) {
	v.IsUsed = true
	v.UsedAt = &now
	v.OrderID = uuid.NullUUID{UUID: orderID, Valid: true}
}

type ApplyVoucherRequest struct {
	VoucherCode string          `json:"voucher_code"`
	UserID      uuid.UUID       `json:"user_id"`
	OrderTotal  decimal.Decimal `json:"order_total"`
	OrderID     uuid.UUID       `json:"order_id"`
}

func (r ApplyVoucherRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.VoucherCode) == "":
		return apperror.Validation("voucher code is required")
	case r.UserID == uuid.Nil:
		return apperror.Validation("user id is required")
	case r.OrderID == uuid.Nil:
		return apperror.Validation("order id is required")
	case r.OrderTotal.IsNegative():
		return apperror.Validation("order total must not be negative")
	case !types.IsMoneyAmount(r.OrderTotal):
		return apperror.Validation("order total must have at most %d decimal places", types.MoneyScale)
	}
	return nil
}

type VoucherResult struct {
	Valid          bool            `json:"valid"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalTotal     decimal.Decimal `json:"final_total"`
	Message        string          `json:"message"`
}

// Rejected is the result of a redemption that failed a check.
func Rejected(orderTotal decimal.Decimal, message string) VoucherResult {
	return VoucherResult{Valid: false, DiscountAmount: decimal.Zero, FinalTotal: orderTotal, Message: message}
}

// Evaluate runs the redemption checks that follow the voucher lookup and
// returns the result the caller would receive if v were redeemed now.
func Evaluate(v *Voucher, p *Promotion, request ApplyVoucherRequest, now time.Time) VoucherResult {
	switch {
	case v.IsUsed:
		return Rejected(request.OrderTotal, MsgVoucherUsed)
	case p.Status != types.PromotionStatusActive:
		return Rejected(request.OrderTotal, MsgPromotionInactive)
	case now.After(p.EndDate):
		return Rejected(request.OrderTotal, MsgPromotionExpired)
	case now.Before(p.StartDate):
		return Rejected(request.OrderTotal, MsgPromotionNotStarted)
	case request.OrderTotal.LessThan(p.MinPurchase):
		return Rejected(request.OrderTotal, fmt.Sprintf("Minimum purchase of %s required", p.MinPurchase.StringFixed(2)))
	case p.UsageExhausted():
		return Rejected(request.OrderTotal, MsgUsageLimitReached)
	case v.UserID.Valid && v.UserID.UUID != request.UserID:
		return Rejected(request.OrderTotal, MsgVoucherWrongUser)
	}

	discount := p.Discount(request.OrderTotal)
	return VoucherResult{
		Valid:          true,
		DiscountAmount: discount,
		FinalTotal:     request.OrderTotal.Sub(discount),
		Message:        MsgVoucherApplied,
	}
}
