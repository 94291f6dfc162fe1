package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
)

// MemoryPromotionRepository serializes every write behind one mutex.
type MemoryPromotionRepository struct {
	mu         sync.Mutex
	promotions map[uuid.UUID]*domain.Promotion
	vouchers   map[string]*domain.Voucher
}

func NewMemoryPromotionRepository() *MemoryPromotionRepository {
	return &MemoryPromotionRepository{
		promotions: make(map[uuid.UUID]*domain.Promotion),
		vouchers:   make(map[string]*domain.Voucher),
	}
}

func (r *MemoryPromotionRepository) CreatePromotion(ctx context.Context, p *domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.promotions[p.ID]; ok {
		return apperror.Conflict("promotion %s already exists", p.ID)
	}
	r.promotions[p.ID] = clonePromotion(p)
	return nil
}

func (r *MemoryPromotionRepository) UpdatePromotion(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.promotions[id]
	if !ok {
		return nil, promotionNotFound(id)
	}
	working := clonePromotion(stored)
	changed, err := fn(working)
	if err != nil {
		return nil, err
	}
	if changed {
		r.promotions[id] = clonePromotion(working)
	}
	return working, nil
}

func (r *MemoryPromotionRepository) GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.promotions[id]
	if !ok {
		return nil, promotionNotFound(id)
	}
	return clonePromotion(p), nil
}

func (r *MemoryPromotionRepository) ListPromotions(ctx context.Context, status types.PromotionStatus, offset, limit int) ([]*domain.Promotion, int, error) {
	r.mu.Lock()
	var matched []*domain.Promotion
	for _, p := range r.promotions {
		if status == "" || p.Status == status {
			matched = append(matched, clonePromotion(p))
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if offset >= total {
		return []*domain.Promotion{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *MemoryPromotionRepository) ListActivePromotions(ctx context.Context, now time.Time) ([]*domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := []*domain.Promotion{}
	for _, p := range r.promotions {
		if p.ActiveAt(now) {
			active = append(active, clonePromotion(p))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].EndDate.Before(active[j].EndDate)
	})
	return active, nil
}

func (r *MemoryPromotionRepository) CreateVoucher(ctx context.Context, v *domain.Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.promotions[v.PromotionID]; !ok {
		return promotionNotFound(v.PromotionID)
	}
	if _, ok := r.vouchers[v.Code]; ok {
		return apperror.Conflict("voucher code %s already exists", v.Code)
	}
	r.vouchers[v.Code] = cloneVoucher(v)
	return nil
}

func (r *MemoryPromotionRepository) RedeemVoucher(ctx context.Context, code string, fn RedeemFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.vouchers[code]
	if !ok {
		return voucherNotFound(code)
	}
	v := cloneVoucher(stored)
	p := clonePromotion(r.promotions[v.PromotionID])

	redeem, err := fn(v, p)
	if err != nil || !redeem {
		return err
	}
	r.vouchers[code] = cloneVoucher(v)
	r.promotions[p.ID].UsedCount++
	r.promotions[p.ID].UpdatedAt = *v.UsedAt
	return nil
}

func clonePromotion(p *domain.Promotion) *domain.Promotion {
	c := *p
	if p.UsageLimit != nil {
		limit := *p.UsageLimit
		c.UsageLimit = &limit
	}
	return &c
}

func cloneVoucher(v *domain.Voucher) *domain.Voucher {
	c := *v
	if v.UsedAt != nil {
		t := *v.UsedAt
		c.UsedAt = &t
	}
	return &c
}
