package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/fulfillment/payment-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// LockFunc inspects the locked payment of an order and may change it. The
// returned events are stored in the outbox with the change.
type LockFunc func(payment *domain.Payment) (changed bool, evs []events.SagaEvent, err error)

type PaymentRepository interface {
	// CreateIfAbsent stores payment unless the order already has one.
	CreateIfAbsent(ctx context.Context, payment *domain.Payment) (bool, error)
	// WithPaymentLock runs fn with the order's payment locked, inserting
	// seed first when the order has none. Nothing is kept if fn fails.
	WithPaymentLock(ctx context.Context, orderID uuid.UUID, seed *domain.Payment, fn LockFunc) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
}

const paymentColumns = `
	id, order_id, user_id, amount, status, payment_method,
	transaction_id, failure_reason, processed_at, created_at, updated_at,
	correlation_id
`

const insertIfAbsent = `
	INSERT INTO payments (` + paymentColumns + `)
	VALUES (
		:id, :order_id, :user_id, :amount, :status, :payment_method,
		:transaction_id, :failure_reason, :processed_at, :created_at, :updated_at,
		:correlation_id
	)
	ON CONFLICT (order_id) DO NOTHING
`

type PostgresPaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func paymentNotFound(orderID uuid.UUID) error {
	return apperror.NotFound("payment for order %s not found", orderID)
}

func (r *PostgresPaymentRepository) CreateIfAbsent(ctx context.Context, payment *domain.Payment) (bool, error) {
	result, err := r.db.NamedExecContext(ctx, insertIfAbsent, payment)
	if err != nil {
		return false, fmt.Errorf("payment create error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresPaymentRepository) WithPaymentLock(ctx context.Context, orderID uuid.UUID, seed *domain.Payment, fn LockFunc) (payment *domain.Payment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperror.Transient(err, "failed to begin transaction")
	}
	defer func() {
		if err == nil {
			if commitErr := tx.Commit(); commitErr != nil {
				payment, err = nil, apperror.Transient(commitErr, "failed to commit transaction")
			}
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("Failed to rollback payment transaction")
		}
	}()

	if seed != nil {
		if _, err := tx.NamedExecContext(ctx, insertIfAbsent, seed); err != nil {
			return nil, fmt.Errorf("payment seed error: %w", err)
		}
	}

	payment = &domain.Payment{}
	err = tx.GetContext(ctx, payment, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, paymentNotFound(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("payment lock error: %w", err)
	}

	changed, evs, err := fn(payment)
	if err != nil {
		return nil, err
	}
	if !changed {
		return payment, nil
	}

	_, err = tx.NamedExecContext(ctx, `
		UPDATE payments
		SET user_id = :user_id, amount = :amount, status = :status,
			payment_method = :payment_method, transaction_id = :transaction_id,
			failure_reason = :failure_reason, processed_at = :processed_at,
			updated_at = :updated_at
		WHERE id = :id
	`, payment)
	if err != nil {
		return nil, fmt.Errorf("payment update error: %w", err)
	}
	if err = outbox.Insert(ctx, tx, evs...); err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *PostgresPaymentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	payment := &domain.Payment{}
	err := r.db.GetContext(ctx, payment, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, paymentNotFound(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("payment receive error: %w", err)
	}
	return payment, nil
}
