package domain

import (
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Promotion struct {
	ID            uuid.UUID             `json:"id" db:"id"`
	Name          string                `json:"name" db:"name"`
	Description   string                `json:"description" db:"description"`
	Type          types.PromotionType   `json:"type" db:"type"`
	DiscountValue decimal.Decimal       `json:"discount_value" db:"discount_value"`
	MinPurchase   decimal.Decimal       `json:"min_purchase" db:"min_purchase"`
	MaxDiscount   decimal.NullDecimal   `json:"max_discount" db:"max_discount"`
	StartDate     time.Time             `json:"start_date" db:"start_date"`
	EndDate       time.Time             `json:"end_date" db:"end_date"`
	UsageLimit    *int                  `json:"usage_limit" db:"usage_limit"`
	UsedCount     int                   `json:"used_count" db:"used_count"`
	Status        types.PromotionStatus `json:"status" db:"status"`
	CreatedAt     time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at" db:"updated_at"`
}

type CreatePromotionRequest struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Type          types.PromotionType `json:"type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	MinPurchase   decimal.NullDecimal `json:"min_purchase"`
	MaxDiscount   decimal.NullDecimal `json:"max_discount"`
	StartDate     time.Time           `json:"start_date"`
	EndDate       time.Time           `json:"end_date"`
	UsageLimit    *int                `json:"usage_limit"`
}

// NewPromotion validates request and returns a DRAFT promotion.
func NewPromotion(request CreatePromotionRequest, now time.Time) (*Promotion, error) {
	name := strings.TrimSpace(request.Name)
	switch {
	case name == "":
		return nil, apperror.Validation("promotion name is required")
	case request.Type == "":
		return nil, apperror.Validation("promotion type is required")
	case !request.DiscountValue.IsPositive():
		return nil, apperror.Validation("discount value must be greater than zero")
	case request.Type == types.PromotionTypePercentage && request.DiscountValue.GreaterThan(hundred):
		return nil, apperror.Validation("percentage discount must not exceed 100")
	case request.StartDate.IsZero() || request.EndDate.IsZero():
		return nil, apperror.Validation("start and end dates are required")
	case !request.EndDate.After(request.StartDate):
		return nil, apperror.Validation("end date must be after start date")
	case request.MinPurchase.Valid && request.MinPurchase.Decimal.IsNegative():
		return nil, apperror.Validation("minimum purchase must not be negative")
	case request.MaxDiscount.Valid && request.MaxDiscount.Decimal.IsNegative():
		return nil, apperror.Validation("maximum discount must not be negative")
	case !types.IsMoneyAmount(request.DiscountValue),
		request.MinPurchase.Valid && !types.IsMoneyAmount(request.MinPurchase.Decimal),
		request.MaxDiscount.Valid && !types.IsMoneyAmount(request.MaxDiscount.Decimal):
		return nil, apperror.Validation("amounts must have at most %d decimal places", types.MoneyScale)
	case request.UsageLimit != nil && *request.UsageLimit <= 0:
		return nil, apperror.Validation("usage limit must be greater than zero")
	}

	minPurchase := decimal.Zero
	if request.MinPurchase.Valid {
		minPurchase = request.MinPurchase.Decimal
	}

	return &Promotion{
		ID:            uuid.New(),
		Name:          name,
		Description:   request.Description,
		Type:          request.Type,
		DiscountValue: request.DiscountValue,
		MinPurchase:   minPurchase,
		MaxDiscount:   request.MaxDiscount,
		StartDate:     request.StartDate.UTC(),
		EndDate:       request.EndDate.UTC(),
		UsageLimit:    request.UsageLimit,
		Status:        types.PromotionStatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Activate moves a DRAFT or PAUSED promotion to ACTIVE.
func (p *Promotion) Activate(now time.Time) (bool, error) {
	switch p.Status {
	case types.PromotionStatusActive:
		return false, nil
	case types.PromotionStatusDraft, types.PromotionStatusPaused:
		if !now.Before(p.EndDate) {
			return false, apperror.Conflict("promotion %s has already ended", p.ID)
		}
		p.Status = types.PromotionStatusActive
		p.UpdatedAt = now
		return true, nil
	}
	return false, apperror.Conflict("promotion %s is %s and cannot be activated", p.ID, p.Status)
}

func (p *Promotion) Pause(now time.Time) (bool, error) {
	switch p.Status {
	case types.PromotionStatusPaused:
		return false, nil
	case types.PromotionStatusActive:
		p.Status = types.PromotionStatusPaused
		p.UpdatedAt = now
		return true, nil
	}
	return false, apperror.Conflict("promotion %s is %s and cannot be paused", p.ID, p.Status)
}

// Discount is what the promotion takes off orderTotal: capped at the
// maximum discount and never more than the total itself.
func (p *Promotion) Discount(orderTotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch p.Type {
	case types.PromotionTypePercentage:
		// DivRound rounds half away from zero, which is half-up for totals.
		discount = orderTotal.Mul(p.DiscountValue).DivRound(hundred, 2)
	case types.PromotionTypeFixedAmount, types.PromotionTypeFreeShipping:
		discount = p.DiscountValue
	}

	if p.MaxDiscount.Valid && discount.GreaterThan(p.MaxDiscount.Decimal) {
		discount = p.MaxDiscount.Decimal
	}
	if discount.GreaterThan(orderTotal) {
		discount = orderTotal
	}
	return discount
}

func (p *Promotion) UsageExhausted() bool {
	return p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit
}

// ActiveAt reports whether the promotion can be redeemed at t.
func (p *Promotion) ActiveAt(t time.Time) bool {
	return p.Status == types.PromotionStatusActive && !t.Before(p.StartDate) && !t.After(p.EndDate)
}
