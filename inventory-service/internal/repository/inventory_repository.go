package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/database"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/outbox"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ReserveFunc builds the reservation for an order from its locked products,
// changing their reserved stock as needed.
type ReserveFunc func(products map[string]*domain.Product) (*domain.Reservation, []events.SagaEvent, error)

// ReleaseFunc changes a locked reservation and the products it holds.
type ReleaseFunc func(reservation *domain.Reservation, products map[string]*domain.Product) (changed bool, err error)

type InventoryRepository interface {
	// Reserve runs fn unless the order already has a reservation, which is
	// returned as is with created set to false.
	Reserve(ctx context.Context, orderID uuid.UUID, items []domain.ReservationItem, fn ReserveFunc) (reservation *domain.Reservation, created bool, err error)
	// Release locks the order's reservation, storing seed first when there
	// is none.
	Release(ctx context.Context, orderID uuid.UUID, seed *domain.Reservation, fn ReleaseFunc) (*domain.Reservation, error)
	// SaveProduct locks the product, inserting seed when it does not exist.
	SaveProduct(ctx context.Context, seed *domain.Product, fn func(p *domain.Product) error) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error)
}

const productColumns = `id, name, stock, reserved_stock, updated_at`

const reservationColumns = `order_id, status, reason, created_at, updated_at`

type PostgresInventoryRepository struct {
	db *sqlx.DB
}

func NewInventoryRepository(db *sqlx.DB) *PostgresInventoryRepository {
	return &PostgresInventoryRepository{db: db}
}

func productNotFound(id string) error {
	return apperror.NotFound("product %s not found", id)
}

func reservationNotFound(orderID uuid.UUID) error {
	return apperror.NotFound("reservation for order %s not found", orderID)
}

func lockProducts(ctx context.Context, tx *sqlx.Tx, ids []string) (map[string]*domain.Product, error) {
	var rows []*domain.Product
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+productColumns+` FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("product lock error: %w", err)
	}
	products := make(map[string]*domain.Product, len(rows))
	for _, p := range rows {
		products[p.ID] = p
	}
	return products, nil
}

func updateProducts(ctx context.Context, tx *sqlx.Tx, products map[string]*domain.Product, items []domain.ReservationItem) error {
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, `UPDATE products SET reserved_stock = $1, updated_at = $2 WHERE id = $3`,
			p.ReservedStock, p.UpdatedAt, p.ID)
		if err != nil {
			return fmt.Errorf("product update error: %w", err)
		}
	}
	return nil
}

func getReservation(ctx context.Context, q sqlx.QueryerContext, orderID uuid.UUID, lock bool) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE order_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	reservation := &domain.Reservation{}
	err := sqlx.GetContext(ctx, q, reservation, query, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservationNotFound(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("reservation receive error: %w", err)
	}
	err = sqlx.SelectContext(ctx, q, &reservation.Items, `
		SELECT order_id, product_id, quantity FROM reservation_items
		WHERE order_id = $1 ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("reservation items receive error: %w", err)
	}
	return reservation, nil
}

func insertReservation(ctx context.Context, tx *sqlx.Tx, reservation *domain.Reservation) error {
	result, err := tx.NamedExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (:order_id, :status, :reason, :created_at, :updated_at)
		ON CONFLICT (order_id) DO NOTHING
	`, reservation)
	if err != nil {
		return fmt.Errorf("reservation create error: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n == 0 || len(reservation.Items) == 0 {
		return err
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO reservation_items (order_id, product_id, quantity)
		VALUES (:order_id, :product_id, :quantity)
	`, reservation.Items)
	if err != nil {
		return fmt.Errorf("reservation items create error: %w", err)
	}
	return nil
}

func (r *PostgresInventoryRepository) Reserve(ctx context.Context, orderID uuid.UUID, items []domain.ReservationItem, fn ReserveFunc) (reservation *domain.Reservation, created bool, err error) {
	err = database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		// Product locks serialize duplicate deliveries of the same order.
		products, err := lockProducts(ctx, tx, domain.ProductIDs(items))
		if err != nil {
			return err
		}

		existing, err := getReservation(ctx, tx, orderID, true)
		if err == nil {
			reservation = existing
			return nil
		}
		if !apperror.IsNotFound(err) {
			return err
		}

		res, evs, err := fn(products)
		if err != nil {
			return err
		}
		if err := insertReservation(ctx, tx, res); err != nil {
			return err
		}
		if res.Status == domain.ReservationReserved {
			if err := updateProducts(ctx, tx, products, res.Items); err != nil {
				return err
			}
		}
		if err := outbox.Insert(ctx, tx, evs...); err != nil {
			return err
		}
		reservation, created = res, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return reservation, created, nil
}

func (r *PostgresInventoryRepository) Release(ctx context.Context, orderID uuid.UUID, seed *domain.Reservation, fn ReleaseFunc) (*domain.Reservation, error) {
	var reservation *domain.Reservation
	err := database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if seed != nil {
			if err := insertReservation(ctx, tx, seed); err != nil {
				return err
			}
		}
		res, err := getReservation(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		products, err := lockProducts(ctx, tx, domain.ProductIDs(res.Items))
		if err != nil {
			return err
		}

		changed, err := fn(res, products)
		if err != nil {
			return err
		}
		reservation = res
		if !changed {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE reservations SET status = $1, updated_at = $2 WHERE order_id = $3`,
			res.Status, res.UpdatedAt, res.OrderID)
		if err != nil {
			return fmt.Errorf("reservation update error: %w", err)
		}
		return updateProducts(ctx, tx, products, res.Items)
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (r *PostgresInventoryRepository) SaveProduct(ctx context.Context, seed *domain.Product, fn func(p *domain.Product) error) (*domain.Product, error) {
	product := &domain.Product{}
	err := database.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES (:id, :name, :stock, :reserved_stock, :updated_at)
			ON CONFLICT (id) DO NOTHING
		`, seed)
		if err != nil {
			return fmt.Errorf("product create error: %w", err)
		}
		err = tx.GetContext(ctx, product, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, seed.ID)
		if err != nil {
			return fmt.Errorf("product lock error: %w", err)
		}
		if err := fn(product); err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `
			UPDATE products SET name = :name, stock = :stock, updated_at = :updated_at WHERE id = :id
		`, product)
		if err != nil {
			return fmt.Errorf("product update error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (r *PostgresInventoryRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product := &domain.Product{}
	err := r.db.GetContext(ctx, product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, productNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("product receive error: %w", err)
	}
	return product, nil
}

func (r *PostgresInventoryRepository) GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	return getReservation(ctx, r.db, orderID, false)
}
