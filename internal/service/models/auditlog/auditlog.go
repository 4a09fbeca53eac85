package auditlog

import "time"

// FulfillmentFailure records an admitted order that could not materialize at
// the authoritative stage. The buyer already received the 202 acknowledgment,
// so the only remaining path is operator visibility.
type FulfillmentFailure struct {
	ID        int64     `json:"id"`
	DedupKey  string    `json:"dedupKey"`
	UserID    int64     `json:"userId"`
	ProductID int64     `json:"productId"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
	ReasonProductNotFound   = "PRODUCT_NOT_FOUND"
)
