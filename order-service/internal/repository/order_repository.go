package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/fulfillment/order-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/database"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MutateFunc changes a locked order. It reports whether anything changed and
// which events describe the change; nothing is written when changed is false.
type MutateFunc func(order *domain.Order) (changed bool, evs []events.SagaEvent, err error)

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order, evs ...events.SagaEvent) error
	UpdateOrder(ctx context.Context, orderID uuid.UUID, mutate MutateFunc) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*domain.Order, int, error)
}

type PostgresOrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func orderNotFound(id uuid.UUID) error {
	return apperror.NotFound("order %s not found", id)
}

// inTx runs fn in a transaction, committing when it returns nil.
func (r *PostgresOrderRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return database.InTx(ctx, r.db, fn)
}

func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, order *domain.Order, evs ...events.SagaEvent) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO orders (
				id, user_id, status, total_amount, shipping_address,
				cancel_reason, created_at, updated_at
			) VALUES (
				:id, :user_id, :status, :total_amount, :shipping_address,
				:cancel_reason, :created_at, :updated_at
			)
		`, order)
		if err != nil {
			return fmt.Errorf("order creation error: %w", err)
		}

		for i, item := range order.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, position, product_id, product_name, quantity, price, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, order.ID, i, item.ProductID, item.ProductName, item.Quantity, item.Price, item.Subtotal)
			if err != nil {
				return fmt.Errorf("order item creation error: %w", err)
			}
		}

		return outbox.Insert(ctx, tx, evs...)
	})
}

func (r *PostgresOrderRepository) UpdateOrder(ctx context.Context, orderID uuid.UUID, mutate MutateFunc) (*domain.Order, error) {
	var order *domain.Order
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = r.getOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}

		changed, evs, err := mutate(order)
		if err != nil || !changed {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, cancel_reason = $3, updated_at = $4
			WHERE id = $1
		`, order.ID, order.Status, order.CancelReason, order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("order update error: %w", err)
		}
		return outbox.Insert(ctx, tx, evs...)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresOrderRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return r.getOrder(ctx, r.db, orderID, false)
}

func (r *PostgresOrderRepository) getOrder(ctx context.Context, q sqlx.QueryerContext, orderID uuid.UUID, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, user_id, status, total_amount, shipping_address,
			   cancel_reason, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	order := &domain.Order{}
	if err := sqlx.GetContext(ctx, q, order, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, orderNotFound(orderID)
		}
		return nil, fmt.Errorf("order receive error: %w", err)
	}

	if err := sqlx.SelectContext(ctx, q, &order.Items, `
		SELECT product_id, product_name, quantity, price, subtotal
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID); err != nil {
		return nil, fmt.Errorf("order items receive error: %w", err)
	}
	return order, nil
}

func (r *PostgresOrderRepository) GetOrdersByUserID(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*domain.Order, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("orders count error: %w", err)
	}

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		OFFSET $2 LIMIT $3
	`, userID, offset, limit); err != nil {
		return nil, 0, fmt.Errorf("orders receive error: %w", err)
	}

	orders := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := r.GetOrderByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, total, nil
}
