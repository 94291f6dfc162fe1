package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

// allowedTransitions is the forward-only lifecycle graph. Terminal states
// have no entry.
var allowedTransitions = map[types.OrderStatus][]types.OrderStatus{
	types.OrderStatusCreated:        {types.OrderStatusPendingPayment, types.OrderStatusPaid, types.OrderStatusCancelled},
	types.OrderStatusPendingPayment: {types.OrderStatusPaid, types.OrderStatusCancelled},
	types.OrderStatusPaid:           {types.OrderStatusProcessing, types.OrderStatusCancelled, types.OrderStatusRefunded},
	types.OrderStatusProcessing:     {types.OrderStatusShipped, types.OrderStatusRefunded},
	types.OrderStatusShipped:        {types.OrderStatusDelivered},
}

func CanTransition(from, to types.OrderStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	UserID          uuid.UUID         `json:"user_id" db:"user_id"`
	Items           []OrderItem       `json:"items" db:"-"`
	Status          types.OrderStatus `json:"status" db:"status"`
	TotalAmount     decimal.Decimal   `json:"total_amount" db:"total_amount"`
	ShippingAddress string            `json:"shipping_address" db:"shipping_address"`
	CancelReason    string            `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

type OrderItem struct {
	ProductID   string          `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Subtotal    decimal.Decimal `json:"subtotal" db:"subtotal"`
}

type CreateOrderRequest struct {
	UserID          uuid.UUID          `json:"user_id"`
	ShippingAddress string             `json:"shipping_address"`
	Items           []OrderItemRequest `json:"items"`
}

type OrderItemRequest struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// NewOrder validates req and builds a CREATED order whose total is the exact
// sum of its item subtotals.
func NewOrder(req CreateOrderRequest, now time.Time) (*Order, error) {
	if req.UserID == uuid.Nil {
		return nil, apperror.Validation("user id is required")
	}
	if strings.TrimSpace(req.ShippingAddress) == "" {
		return nil, apperror.Validation("shipping address is required")
	}
	if len(req.Items) == 0 {
		return nil, apperror.Validation("at least one item is required")
	}

	items := make([]OrderItem, len(req.Items))
	total := decimal.Zero
	for i, item := range req.Items {
		switch {
		case strings.TrimSpace(item.ProductID) == "":
			return nil, apperror.Validation("item %d: product id is required", i)
		case strings.TrimSpace(item.ProductName) == "":
			return nil, apperror.Validation("item %d: product name is required", i)
		case item.Quantity <= 0:
			return nil, apperror.Validation("item %d: quantity must be positive", i)
		case item.Price.IsNegative():
			return nil, apperror.Validation("item %d: price must not be negative", i)
		case !types.IsMoneyAmount(item.Price):
			return nil, apperror.Validation("item %d: price must have at most %d decimal places", i, types.MoneyScale)
		}
		subtotal := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		items[i] = OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Subtotal:    subtotal,
		}
		total = total.Add(subtotal)
	}

	return &Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Items:           items,
		Status:          types.OrderStatusCreated,
		TotalAmount:     total,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// TransitionTo moves the order to status. Moving to the current status is a
// no-op reported as changed=false.
func (o *Order) TransitionTo(status types.OrderStatus, now time.Time) (bool, error) {
	if o.Status == status {
		return false, nil
	}
	if !CanTransition(o.Status, status) {
		return false, &apperror.Error{
			Kind:    apperror.KindConflict,
			Message: fmt.Sprintf("order %s cannot move from %s to %s", o.ID, o.Status, status),
			Err:     ErrInvalidTransition,
		}
	}
	o.Status = status
	o.UpdatedAt = now
	return true, nil
}

// Cancel moves the order to CANCELLED and records reason.
func (o *Order) Cancel(reason string, now time.Time) (bool, error) {
	changed, err := o.TransitionTo(types.OrderStatusCancelled, now)
	if changed {
		o.CancelReason = reason
	}
	return changed, err
}

// ItemRefs is the item projection carried by OrderCreated.
func (o *Order) ItemRefs() []events.OrderItemRef {
	refs := make([]events.OrderItemRef, len(o.Items))
	for i, item := range o.Items {
		refs[i] = events.OrderItemRef{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return refs
}
