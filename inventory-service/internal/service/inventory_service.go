package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/domain"
	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/repository"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/apperror"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/events"
	"github.com/distributed-ecommerce-saga/fulfillment/shared-domain/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type InventoryService struct {
	inventoryRepo repository.InventoryRepository
	now           func() time.Time
}

func NewInventoryService(inventoryRepo repository.InventoryRepository) *InventoryService {
	return &InventoryService{
		inventoryRepo: inventoryRepo,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// HandleOrderCreated reserves stock for every item of the order or for none
// of them, and records the outcome for order-service.
func (s *InventoryService) HandleOrderCreated(ctx context.Context, correlationID uuid.UUID, created events.OrderCreatedPayload) error {
	if created.OrderID == uuid.Nil || len(created.Items) == 0 {
		return retry.Permanent(errors.New("order created event without order id or items"))
	}
	logger := log.With().Stringer("order_id", created.OrderID).Logger()
	items := domain.ReservationItems(created.OrderID, created.Items)

	reservation, isNew, err := s.inventoryRepo.Reserve(ctx, created.OrderID, items, func(products map[string]*domain.Product) (*domain.Reservation, []events.SagaEvent, error) {
		reservation := domain.Allocate(created.OrderID, items, products, s.now())
		event, err := events.NewSagaEvent(events.InventoryService, events.InventoryOutcomeEvent, created.OrderID, correlationID, reservation.Outcome())
		if err != nil {
			return nil, nil, err
		}
		return reservation, []events.SagaEvent{event}, nil
	})
	if err != nil {
		return err
	}

	if !isNew {
		logger.Debug().Str("status", string(reservation.Status)).Msg("Reservation already recorded")
		return nil
	}
	if reservation.Status == domain.ReservationReserved {
		logger.Info().Int("items", len(items)).Msg("Stock reserved")
	} else {
		logger.Warn().Str("reason", reservation.Reason).Msg("Stock reservation failed")
	}
	return nil
}

// HandleOrderCancelled returns reserved stock once. A cancellation seen
// before the reservation leaves a RELEASED marker behind.
func (s *InventoryService) HandleOrderCancelled(ctx context.Context, cancelled events.OrderCancelledPayload) error {
	if cancelled.OrderID == uuid.Nil {
		return retry.Permanent(errors.New("order cancelled event without order id"))
	}
	logger := log.With().Stringer("order_id", cancelled.OrderID).Logger()

	now := s.now()
	seed := domain.NewReleasedReservation(cancelled.OrderID, "order cancelled before reservation", now)
	released := false
	_, err := s.inventoryRepo.Release(ctx, cancelled.OrderID, seed, func(r *domain.Reservation, products map[string]*domain.Product) (bool, error) {
		released = r.Release(products, now)
		return released, nil
	})
	if err != nil {
		return err
	}
	if released {
		logger.Info().Str("reason", cancelled.Reason).Msg("Reserved stock released")
	} else {
		logger.Debug().Msg("No reserved stock to release")
	}
	return nil
}

func (s *InventoryService) SetStock(ctx context.Context, productID string, request domain.SetStockRequest) (*domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, apperror.Validation("product id is required")
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	seed := &domain.Product{ID: productID, Name: strings.TrimSpace(request.Name), Stock: request.Stock, UpdatedAt: now}
	product, err := s.inventoryRepo.SaveProduct(ctx, seed, func(p *domain.Product) error {
		return p.SetStock(request.Name, request.Stock, now)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("product_id", productID).Int("stock", product.Stock).Int("reserved", product.ReservedStock).Msg("Stock updated")
	return product, nil
}

func (s *InventoryService) GetStock(ctx context.Context, productID string) (*domain.Product, error) {
	return s.inventoryRepo.GetProduct(ctx, productID)
}

func (s *InventoryService) GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	return s.inventoryRepo.GetReservation(ctx, orderID)
}
