package notify

import (
	"context"
	"log/slog"

	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
)

// Notifier delivers best-effort buyer notifications on order status changes.
// Delivery (email, push) is owned by an external service; failures are logged
// and never roll back the status transition that triggered them.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, userID, orderID int64, status order.Status)
}

// LogNotifier is the default Notifier, it only records the event. Production
// deployments swap in a client for the mailer service.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) OrderStatusChanged(ctx context.Context, userID, orderID int64, status order.Status) {
	slog.InfoContext(ctx, "Order status notification",
		"user_id", userID,
		"order_id", orderID,
		"status", status.String(),
	)
}
