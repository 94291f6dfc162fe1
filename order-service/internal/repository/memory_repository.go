package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/google/uuid"
)

// MemoryOrderRepository keeps orders in a map. A single mutex serializes
// writers, standing in for the row lock taken by the Postgres repository.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	outbox *outbox.Memory
}

func NewMemoryOrderRepository(ob *outbox.Memory) *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[uuid.UUID]*domain.Order),
		outbox: ob,
	}
}

func (r *MemoryOrderRepository) CreateOrder(ctx context.Context, order *domain.Order, evs ...events.SagaEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return apperror.Conflict("order %s already exists", order.ID)
	}
	if err := r.outbox.Add(evs...); err != nil {
		return err
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *MemoryOrderRepository) UpdateOrder(ctx context.Context, orderID uuid.UUID, mutate MutateFunc) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[orderID]
	if !ok {
		return nil, orderNotFound(orderID)
	}

	working := cloneOrder(stored)
	changed, evs, err := mutate(working)
	if err != nil {
		return nil, err
	}
	if !changed {
		return working, nil
	}
	if err := r.outbox.Add(evs...); err != nil {
		return nil, err
	}
	r.orders[orderID] = cloneOrder(working)
	return working, nil
}

func (r *MemoryOrderRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, orderNotFound(orderID)
	}
	return cloneOrder(order), nil
}

func (r *MemoryOrderRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*domain.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*domain.Order, 0, end-offset)
	for _, o := range matched[offset:end] {
		page = append(page, cloneOrder(o))
	}
	return page, total, nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}
