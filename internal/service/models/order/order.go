package order

import (
	"errors"
	"time"

	"github.com/ecomlabs/order-pipeline/internal/service/models/currency"
)

var (
	// ErrOrderNotFound is returned by read, update and delete paths alike when
	// the order id does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned when a status change is not allowed by
	// the state machine, including any change out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Order represents a buyer's order for a single product. TotalPriceCents is
// fixed when the fulfillment worker reserves stock and is not recomputed if
// the product price changes later.
type Order struct {
	ID              int64             `json:"id"`
	UserID          int64             `json:"userId"`
	ProductID       int64             `json:"productId"`
	Quantity        int               `json:"quantity"`
	TotalPriceCents int64             `json:"totalPriceCents"`
	Currency        currency.Currency `json:"currency"`
	Status          Status            `json:"status"`
	DedupKey        string            `json:"-"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}
