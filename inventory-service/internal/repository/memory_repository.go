package repository

import (
	"context"
	"sync"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/google/uuid"
)

type MemoryInventoryRepository struct {
	mu           sync.Mutex
	products     map[string]*domain.Product
	reservations map[uuid.UUID]*domain.Reservation
	outbox       *outbox.Memory
}

func NewMemoryInventoryRepository(ob *outbox.Memory) *MemoryInventoryRepository {
	return &MemoryInventoryRepository{
		products:     make(map[string]*domain.Product),
		reservations: make(map[uuid.UUID]*domain.Reservation),
		outbox:       ob,
	}
}

// working copies the products named by items; changes are applied with
// commitProducts.
func (r *MemoryInventoryRepository) working(items []domain.ReservationItem) map[string]*domain.Product {
	products := make(map[string]*domain.Product, len(items))
	for _, item := range items {
		if p, ok := r.products[item.ProductID]; ok {
			c := *p
			products[p.ID] = &c
		}
	}
	return products
}

func (r *MemoryInventoryRepository) commitProducts(products map[string]*domain.Product) {
	for id, p := range products {
		c := *p
		r.products[id] = &c
	}
}

func (r *MemoryInventoryRepository) Reserve(ctx context.Context, orderID uuid.UUID, items []domain.ReservationItem, fn ReserveFunc) (*domain.Reservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.reservations[orderID]; ok {
		return cloneReservation(existing), false, nil
	}

	products := r.working(items)
	reservation, evs, err := fn(products)
	if err != nil {
		return nil, false, err
	}
	if err := r.outbox.Add(evs...); err != nil {
		return nil, false, err
	}
	if reservation.Status == domain.ReservationReserved {
		r.commitProducts(products)
	}
	r.reservations[orderID] = cloneReservation(reservation)
	return reservation, true, nil
}

func (r *MemoryInventoryRepository) Release(ctx context.Context, orderID uuid.UUID, seed *domain.Reservation, fn ReleaseFunc) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.reservations[orderID]
	if !ok {
		if seed == nil {
			return nil, reservationNotFound(orderID)
		}
		stored = cloneReservation(seed)
		r.reservations[orderID] = stored
	}

	reservation := cloneReservation(stored)
	products := r.working(reservation.Items)
	changed, err := fn(reservation, products)
	if err != nil {
		return nil, err
	}
	if changed {
		r.commitProducts(products)
		r.reservations[orderID] = cloneReservation(reservation)
	}
	return reservation, nil
}

func (r *MemoryInventoryRepository) SaveProduct(ctx context.Context, seed *domain.Product, fn func(p *domain.Product) error) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product := *seed
	if existing, ok := r.products[seed.ID]; ok {
		product = *existing
	}
	if err := fn(&product); err != nil {
		return nil, err
	}
	stored := product
	r.products[product.ID] = &stored
	return &product, nil
}

func (r *MemoryInventoryRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, productNotFound(id)
	}
	c := *p
	return &c, nil
}

func (r *MemoryInventoryRepository) GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[orderID]
	if !ok {
		return nil, reservationNotFound(orderID)
	}
	return cloneReservation(res), nil
}

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	c := *r
	c.Items = append([]domain.ReservationItem(nil), r.Items...)
	return &c
}
