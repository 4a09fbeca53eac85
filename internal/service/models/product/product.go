package product

import (
	"errors"
	"time"

	"github.com/ecomlabs/order-pipeline/internal/service/models/currency"
)

var (
	// ErrProductNotFound is returned when the referenced product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned when a reservation asks for more units
	// than the product currently has in stock.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is the catalog subset the order pipeline depends on. The full
// catalog CRUD lives in a separate service; only stock and price matter here.
type Product struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	PriceCents int64             `json:"priceCents"`
	Currency   currency.Currency `json:"currency"`
	Stock      int               `json:"stock"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}
