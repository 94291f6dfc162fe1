package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/service"
	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/migrations"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/database/dbtest"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*repository.PostgresPromotionRepository, *service.PromotionService) {
	db := dbtest.Open(t, "promotion_repo_test", migrations.FS, "vouchers", "promotions")
	repo := repository.NewPromotionRepository(db)
	return repo, service.NewPromotionService(repo)
}

func activePromotion(t *testing.T, svc *service.PromotionService, usageLimit *int) *domain.Promotion {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	p, err := svc.CreatePromotion(ctx, domain.CreatePromotionRequest{
		Name:          "Flash sale",
		Type:          types.PromotionTypePercentage,
		DiscountValue: decimal.RequireFromString("12.50"),
		MaxDiscount:   decimal.NewNullDecimal(decimal.RequireFromString("40.00")),
		StartDate:     now.Add(-time.Hour),
		EndDate:       now.Add(time.Hour),
		UsageLimit:    usageLimit,
	})
	require.NoError(t, err)
	p, err = svc.ActivatePromotion(ctx, p.ID)
	require.NoError(t, err)
	return p
}

func TestPostgresPromotionRoundTrip(t *testing.T) {
	repo, svc := setup(t)
	limit := 7
	p := activePromotion(t, svc, &limit)

	stored, err := repo.GetPromotion(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PromotionStatusActive, stored.Status)
	assert.True(t, stored.DiscountValue.Equal(decimal.RequireFromString("12.5")))
	require.True(t, stored.MaxDiscount.Valid)
	assert.True(t, stored.MaxDiscount.Decimal.Equal(decimal.NewFromInt(40)))
	require.NotNil(t, stored.UsageLimit)
	assert.Equal(t, 7, *stored.UsageLimit)

	_, err = repo.GetPromotion(context.Background(), uuid.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestPostgresDuplicateVoucherCodeIsConflict(t *testing.T) {
	repo, svc := setup(t)
	ctx := context.Background()
	p := activePromotion(t, svc, nil)

	v, err := domain.NewVoucher(p.ID, domain.CreateVoucherRequest{Code: "WELCOME"}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.CreateVoucher(ctx, v))

	dup, err := domain.NewVoucher(p.ID, domain.CreateVoucherRequest{Code: "WELCOME"}, time.Now().UTC())
	require.NoError(t, err)
	err = repo.CreateVoucher(ctx, dup)
	assert.True(t, apperror.IsConflict(err), "got %v", err)
}

func TestPostgresRedeemUnknownCodeIsNotFound(t *testing.T) {
	repo, _ := setup(t)
	err := repo.RedeemVoucher(context.Background(), "MISSING", func(*domain.Voucher, *domain.Promotion) (bool, error) {
		t.Fatal("redeem callback must not run")
		return false, nil
	})
	assert.True(t, apperror.IsNotFound(err))
}

func TestPostgresParallelApplyRedeemsOnce(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	p := activePromotion(t, svc, nil)
	_, err := svc.CreateVoucher(ctx, p.ID, domain.CreateVoucherRequest{Code: "ONCE"})
	require.NoError(t, err)

	const workers = 16
	results := make([]domain.VoucherResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ApplyVoucher(ctx, domain.ApplyVoucherRequest{
				VoucherCode: "ONCE",
				UserID:      uuid.New(),
				OrderID:     uuid.New(),
				OrderTotal:  decimal.RequireFromString("80.00"),
			})
		}(i)
	}
	wg.Wait()

	valid := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Valid {
			valid++
			assert.True(t, results[i].DiscountAmount.Equal(decimal.NewFromInt(10)))
		} else {
			assert.Equal(t, domain.MsgVoucherUsed, results[i].Message)
		}
	}
	assert.Equal(t, 1, valid)

	stored, err := svc.GetPromotion(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsedCount)
}

func TestPostgresUsageLimitHoldsUnderParallelRedemptions(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	limit := 3
	p := activePromotion(t, svc, &limit)

	const vouchers = 8
	for i := 0; i < vouchers; i++ {
		_, err := svc.CreateVoucher(ctx, p.ID, domain.CreateVoucherRequest{Code: fmt.Sprintf("LIMIT-%d", i)})
		require.NoError(t, err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		valid int
	)
	for i := 0; i < vouchers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.ApplyVoucher(ctx, domain.ApplyVoucherRequest{
				VoucherCode: fmt.Sprintf("LIMIT-%d", i),
				UserID:      uuid.New(),
				OrderID:     uuid.New(),
				OrderTotal:  decimal.NewFromInt(50),
			})
			assert.NoError(t, err)
			if result.Valid {
				mu.Lock()
				valid++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, limit, valid)
	stored, err := svc.GetPromotion(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, stored.UsedCount)
}
