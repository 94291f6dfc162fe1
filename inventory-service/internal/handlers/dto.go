package handlers

import (
	"time"

	"github.com/distributed-ecommerce-saga/fulfillment/inventory-service/internal/domain"
)

type StockResponse struct {
	ProductID     string    `json:"product_id"`
	Name          string    `json:"name"`
	Stock         int       `json:"stock"`
	ReservedStock int       `json:"reserved_stock"`
	Available     int       `json:"available"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func mapProduct(p *domain.Product) StockResponse {
	return StockResponse{
		ProductID:     p.ID,
		Name:          p.Name,
		Stock:         p.Stock,
		ReservedStock: p.ReservedStock,
		Available:     p.Available(),
		UpdatedAt:     p.UpdatedAt,
	}
}
