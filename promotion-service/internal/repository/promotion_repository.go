package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/promotion-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/database"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UpdateFunc changes a locked promotion and reports whether it did.
type UpdateFunc func(p *domain.Promotion) (changed bool, err error)

// RedeemFunc decides on a redemption while the voucher and its promotion
// are locked. When redeem is true the voucher is stored as used and the
// promotion's used count is incremented.
type RedeemFunc func(v *domain.Voucher, p *domain.Promotion) (redeem bool, err error)

type PromotionRepository interface {
	CreatePromotion(ctx context.Context, p *domain.Promotion) error
	UpdatePromotion(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*domain.Promotion, error)
	GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error)
	// ListPromotions pages through promotions, newest first. An empty status
	// lists all of them.
	ListPromotions(ctx context.Context, status types.PromotionStatus, offset, limit int) ([]*domain.Promotion, int, error)
	ListActivePromotions(ctx context.Context, now time.Time) ([]*domain.Promotion, error)

	CreateVoucher(ctx context.Context, v *domain.Voucher) error
	// RedeemVoucher returns a NotFound error when no voucher has code.
	RedeemVoucher(ctx context.Context, code string, fn RedeemFunc) error
}

const promotionColumns = `
	id, name, description, type, discount_value, min_purchase, max_discount,
	start_date, end_date, usage_limit, used_count, status, created_at, updated_at
`

const voucherColumns = `id, code, promotion_id, user_id, is_used, used_at, order_id, created_at`

type PostgresPromotionRepository struct {
	db *sqlx.DB
}

func NewPromotionRepository(db *sqlx.DB) *PostgresPromotionRepository {
	return &PostgresPromotionRepository{db: db}
}

func promotionNotFound(id uuid.UUID) error {
	return apperror.NotFound("promotion %s not found", id)
}

func voucherNotFound(code string) error {
	return apperror.NotFound("voucher %s not found", code)
}

func (r *PostgresPromotionRepository) CreatePromotion(ctx context.Context, p *domain.Promotion) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO promotions (`+promotionColumns+`)
		VALUES (
			:id, :name, :description, :type, :discount_value, :min_purchase, :max_discount,
			:start_date, :end_date, :usage_limit, :used_count, :status, :created_at, :updated_at
		)
	`, p)
	if err != nil {
		return fmt.Errorf("promotion create error: %w", err)
	}
	return nil
}

func (r *PostgresPromotionRepository) UpdatePromotion(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*domain.Promotion, error) {
	p := &domain.Promotion{}
	err := database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, p, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return promotionNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("promotion lock error: %w", err)
		}

		changed, err := fn(p)
		if err != nil || !changed {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE promotions SET status = $1, updated_at = $2 WHERE id = $3`, p.Status, p.UpdatedAt, p.ID)
		if err != nil {
			return fmt.Errorf("promotion update error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresPromotionRepository) GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	p := &domain.Promotion{}
	err := r.db.GetContext(ctx, p, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, promotionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("promotion receive error: %w", err)
	}
	return p, nil
}

func (r *PostgresPromotionRepository) ListPromotions(ctx context.Context, status types.PromotionStatus, offset, limit int) ([]*domain.Promotion, int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM promotions WHERE $1 = '' OR status = $1`, status)
	if err != nil {
		return nil, 0, fmt.Errorf("promotion count error: %w", err)
	}

	promotions := []*domain.Promotion{}
	err = r.db.SelectContext(ctx, &promotions, `
		SELECT `+promotionColumns+` FROM promotions
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("promotions receive error: %w", err)
	}
	return promotions, total, nil
}

func (r *PostgresPromotionRepository) ListActivePromotions(ctx context.Context, now time.Time) ([]*domain.Promotion, error) {
	promotions := []*domain.Promotion{}
	err := r.db.SelectContext(ctx, &promotions, `
		SELECT `+promotionColumns+` FROM promotions
		WHERE status = $1 AND start_date <= $2 AND end_date >= $2
		ORDER BY end_date
	`, types.PromotionStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("active promotions receive error: %w", err)
	}
	return promotions, nil
}

func (r *PostgresPromotionRepository) CreateVoucher(ctx context.Context, v *domain.Voucher) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO vouchers (`+voucherColumns+`)
		VALUES (:id, :code, :promotion_id, :user_id, :is_used, :used_at, :order_id, :created_at)
	`, v)
	if database.IsUniqueViolation(err) {
		return apperror.Conflict("voucher code %s already exists", v.Code)
	}
	if err != nil {
		return fmt.Errorf("voucher create error: %w", err)
	}
	return nil
}

// RedeemVoucher locks the voucher row and then its promotion, so concurrent
// redemptions of one code run one after another.
func (r *PostgresPromotionRepository) RedeemVoucher(ctx context.Context, code string, fn RedeemFunc) error {
	return database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		v := &domain.Voucher{}
		err := tx.GetContext(ctx, v, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1 FOR UPDATE`, code)
		if errors.Is(err, sql.ErrNoRows) {
			return voucherNotFound(code)
		}
		if err != nil {
			return fmt.Errorf("voucher lock error: %w", err)
		}

		p := &domain.Promotion{}
		err = tx.GetContext(ctx, p, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1 FOR UPDATE`, v.PromotionID)
		if err != nil {
			return fmt.Errorf("promotion lock error: %w", err)
		}

		redeem, err := fn(v, p)
		if err != nil || !redeem {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE vouchers SET is_used = TRUE, used_at = $1, order_id = $2
			WHERE id = $3 AND is_used = FALSE
		`, v.UsedAt, v.OrderID, v.ID)
		if err != nil {
			return fmt.Errorf("voucher update error: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE promotions SET used_count = used_count + 1, updated_at = $1 WHERE id = $2
		`, v.UsedAt, p.ID)
		if err != nil {
			return fmt.Errorf("promotion usage update error: %w", err)
		}
		p.UsedCount++
		return nil
	})
}
