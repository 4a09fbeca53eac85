package ordermsg

import (
	"encoding/json"
	"errors"
)

// QueueProcessOrder is the logical channel carrying order-creation messages
// from the admission service to the fulfillment worker.
const QueueProcessOrder = "process_order"

var ErrInvalidMessage = errors.New("invalid order message")

// OrderMessage is the wire shape of a queued order. DedupKey is assigned once
// at admission and stays stable across redeliveries, so the worker can detect
// a message it has already applied.
type OrderMessage struct {
	UserID    int64  `json:"userId"`
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
	DedupKey  string `json:"dedupKey"`
}

// Marshal serializes the message for publishing.
func (m OrderMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal decodes and validates a delivery body.
func Unmarshal(body []byte) (OrderMessage, error) {
	var m OrderMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return OrderMessage{}, err
	}
	if m.DedupKey == "" || m.UserID <= 0 || m.ProductID <= 0 || m.Quantity <= 0 {
		return OrderMessage{}, ErrInvalidMessage
	}
	return m, nil
}
