package service

import (
	"context"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type PromotionService struct {
	promotionRepo repository.PromotionRepository
	now           func() time.Time
}

func NewPromotionService(promotionRepo repository.PromotionRepository) *PromotionService {
	return &PromotionService{
		promotionRepo: promotionRepo,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *PromotionService) CreatePromotion(ctx context.Context, request domain.CreatePromotionRequest) (*domain.Promotion, error) {
	promotion, err := domain.NewPromotion(request, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.promotionRepo.CreatePromotion(ctx, promotion); err != nil {
		return nil, err
	}
	log.Info().
		Stringer("promotion_id", promotion.ID).
		Str("type", string(promotion.Type)).
		Stringer("discount_value", promotion.DiscountValue).
		Msg("Promotion created")
	return promotion, nil
}

func (s *PromotionService) ActivatePromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	promotion, err := s.promotionRepo.UpdatePromotion(ctx, id, func(p *domain.Promotion) (bool, error) {
		return p.Activate(s.now())
	})
	if err != nil {
		return nil, err
	}
	log.Info().Stringer("promotion_id", id).Msg("Promotion activated")
	return promotion, nil
}

func (s *PromotionService) PausePromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	promotion, err := s.promotionRepo.UpdatePromotion(ctx, id, func(p *domain.Promotion) (bool, error) {
		return p.Pause(s.now())
	})
	if err != nil {
		return nil, err
	}
	log.Info().Stringer("promotion_id", id).Msg("Promotion paused")
	return promotion, nil
}

func (s *PromotionService) GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	return s.promotionRepo.GetPromotion(ctx, id)
}

func (s *PromotionService) ListPromotions(ctx context.Context, status types.PromotionStatus, page, limit int) ([]*domain.Promotion, int, error) {
	return s.promotionRepo.ListPromotions(ctx, status, (page-1)*limit, limit)
}

func (s *PromotionService) ListActivePromotions(ctx context.Context) ([]*domain.Promotion, error) {
	return s.promotionRepo.ListActivePromotions(ctx, s.now())
}

func (s *PromotionService) CreateVoucher(ctx context.Context, promotionID uuid.UUID, request domain.CreateVoucherRequest) (*domain.Voucher, error) {
	voucher, err := domain.NewVoucher(promotionID, request, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.promotionRepo.GetPromotion(ctx, promotionID); err != nil {
		return nil, err
	}
	if err := s.promotionRepo.CreateVoucher(ctx, voucher); err != nil {
		return nil, err
	}
	log.Info().Str("voucher_code", voucher.Code).Stringer("promotion_id", promotionID).Msg("Voucher created")
	return voucher, nil
}

// ApplyVoucher redeems a voucher against an order total. Business rule
// failures are reported in the result, not as errors; at most one
// redemption of a code ever succeeds.
func (s *PromotionService) ApplyVoucher(ctx context.Context, request domain.ApplyVoucherRequest) (domain.VoucherResult, error) {
	// Codes are stored trimmed.
	request.VoucherCode = strings.TrimSpace(request.VoucherCode)
	if err := request.Validate(); err != nil {
		return domain.VoucherResult{}, err
	}
	logger := log.With().Str("voucher_code", request.VoucherCode).Stringer("order_id", request.OrderID).Logger()

	var result domain.VoucherResult
	err := s.promotionRepo.RedeemVoucher(ctx, request.VoucherCode, func(v *domain.Voucher, p *domain.Promotion) (bool, error) {
		now := s.now()
		result = domain.Evaluate(v, p, request, now)
		if !result.Valid {
			return false, nil
		}
		v.Redeem(request.OrderID, now)
		return true, nil
	})
	if apperror.IsNotFound(err) {
		logger.Info().Msg("Voucher not found")
		return domain.Rejected(request.OrderTotal, domain.MsgVoucherNotFound), nil
	}
	if err != nil {
		return domain.VoucherResult{}, err
	}

	if !result.Valid {
		logger.Info().Str("reason", result.Message).Msg("Voucher rejected")
		return result, nil
	}
	logger.Info().
		Stringer("discount", result.DiscountAmount).
		Stringer("final_total", result.FinalTotal).
		Msg("Voucher applied")
	return result, nil
}
