package repository

import (
	"context"
	"sync"

	"github.com/distributed-ecommerce-saga/fulfillment/payment-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/google/uuid"
)

// MemoryPaymentRepository holds one lock per order so that executions for
// different orders do not wait on each other's gateway calls.
type MemoryPaymentRepository struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.Payment
	locks    map[uuid.UUID]*sync.Mutex
	outbox   *outbox.Memory
}

func NewMemoryPaymentRepository(ob *outbox.Memory) *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		payments: make(map[uuid.UUID]*domain.Payment),
		locks:    make(map[uuid.UUID]*sync.Mutex),
		outbox:   ob,
	}
}

func (r *MemoryPaymentRepository) orderLock(orderID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[orderID] = l
	}
	return l
}

func (r *MemoryPaymentRepository) CreateIfAbsent(ctx context.Context, payment *domain.Payment) (bool, error) {
	l := r.orderLock(payment.OrderID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[payment.OrderID]; ok {
		return false, nil
	}
	r.payments[payment.OrderID] = clonePayment(payment)
	return true, nil
}

func (r *MemoryPaymentRepository) WithPaymentLock(ctx context.Context, orderID uuid.UUID, seed *domain.Payment, fn LockFunc) (*domain.Payment, error) {
	l := r.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	stored, exists := r.payments[orderID]
	r.mu.Unlock()

	var working *domain.Payment
	switch {
	case exists:
		working = clonePayment(stored)
	case seed != nil:
		working = clonePayment(seed)
	default:
		return nil, paymentNotFound(orderID)
	}

	changed, evs, err := fn(working)
	if err != nil {
		return nil, err
	}
	if !changed && exists {
		return working, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.outbox.Add(evs...); err != nil {
		return nil, err
	}
	r.payments[orderID] = clonePayment(working)
	return working, nil
}

func (r *MemoryPaymentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[orderID]
	if !ok {
		return nil, paymentNotFound(orderID)
	}
	return clonePayment(p), nil
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}
