package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
)

type Product struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Stock         int       `json:"stock" db:"stock"`
	ReservedStock int       `json:"reserved_stock" db:"reserved_stock"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

func (p *Product) Available() int {
	return p.Stock - p.ReservedStock
}

func (p *Product) CanReserve(quantity int) bool {
	return p.Available() >= quantity
}

func (p *Product) Reserve(quantity int) error {
	if !p.CanReserve(quantity) {
		return fmt.Errorf("insufficient stock: available=%d, requested=%d", p.Available(), quantity)
	}
	p.ReservedStock += quantity
	return nil
}

func (p *Product) Release(quantity int) {
	p.ReservedStock -= quantity
	if p.ReservedStock < 0 {
		p.ReservedStock = 0
	}
}

// SetStock replaces the on-hand stock. It may not drop below what is
// already reserved.
func (p *Product) SetStock(name string, stock int, now time.Time) error {
	if stock < p.ReservedStock {
		return apperror.Conflict("stock %d is below the %d units reserved for product %s", stock, p.ReservedStock, p.ID)
	}
	if name = strings.TrimSpace(name); name != "" {
		p.Name = name
	}
	p.Stock = stock
	p.UpdatedAt = now
	return nil
}

type SetStockRequest struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

func (r SetStockRequest) Validate() error {
	if r.Stock < 0 {
		return apperror.Validation("stock must not be negative")
	}
	return nil
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "STOCK_RESERVED"
	ReservationFailed   ReservationStatus = "STOCK_RESERVATION_FAILED"
	ReservationReleased ReservationStatus = "RELEASED"
)

type Reservation struct {
	OrderID   uuid.UUID         `json:"order_id" db:"order_id"`
	Status    ReservationStatus `json:"status" db:"status"`
	Reason    string            `json:"reason,omitempty" db:"reason"`
	Items     []ReservationItem `json:"items" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

type ReservationItem struct {
	OrderID   uuid.UUID `json:"-" db:"order_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
}

// ReservationItems merges repeated products and sorts by product id, the
// order in which product rows are locked.
func ReservationItems(orderID uuid.UUID, refs []events.OrderItemRef) []ReservationItem {
	quantities := make(map[string]int, len(refs))
	for _, ref := range refs {
		quantities[ref.ProductID] += ref.Quantity
	}
	items := make([]ReservationItem, 0, len(quantities))
	for id, q := range quantities {
		items = append(items, ReservationItem{OrderID: orderID, ProductID: id, Quantity: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items
}

func ProductIDs(items []ReservationItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids
}

// Allocate reserves every item or none of them. products holds the locked
// rows; a missing entry means the product does not exist.
func Allocate(orderID uuid.UUID, items []ReservationItem, products map[string]*Product, now time.Time) *Reservation {
	reservation := &Reservation{
		OrderID:   orderID,
		Status:    ReservationReserved,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, item := range items {
		product, ok := products[item.ProductID]
		switch {
		case !ok:
			reservation.Status = ReservationFailed
			reservation.Reason = fmt.Sprintf("product %s not found", item.ProductID)
			return reservation
		case !product.CanReserve(item.Quantity):
			reservation.Status = ReservationFailed
			reservation.Reason = fmt.Sprintf("insufficient stock for product %s: available=%d, requested=%d",
				item.ProductID, product.Available(), item.Quantity)
			return reservation
		}
	}

	for _, item := range items {
		// Checked above; Reserve cannot fail here.
		_ = products[item.ProductID].Reserve(item.Quantity)
		products[item.ProductID].UpdatedAt = now
	}
	return reservation
}

// Release returns reserved stock once. Only STOCK_RESERVED reservations
// hold stock.
func (r *Reservation) Release(products map[string]*Product, now time.Time) bool {
	if r.Status != ReservationReserved {
		return false
	}
	for _, item := range r.Items {
		if p, ok := products[item.ProductID]; ok {
			p.Release(item.Quantity)
			p.UpdatedAt = now
		}
	}
	r.Status = ReservationReleased
	r.UpdatedAt = now
	return true
}

// NewReleasedReservation records a cancellation that arrived before the
// order was reserved, so a late order.created reserves nothing.
func NewReleasedReservation(orderID uuid.UUID, reason string, now time.Time) *Reservation {
	return &Reservation{
		OrderID:   orderID,
		Status:    ReservationReleased,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Outcome maps the reservation to the status order-service reacts to.
func (r *Reservation) Outcome() events.InventoryOutcomePayload {
	status := types.InventoryStatusReserved
	if r.Status != ReservationReserved {
		status = types.InventoryStatusReservationFailed
	}
	return events.InventoryOutcomePayload{OrderID: r.OrderID, Status: status, Reason: r.Reason}
}
