package ordersvc

import (
	"context"

	"github.com/ecomlabs/order-pipeline/internal/notify"
	"github.com/ecomlabs/order-pipeline/internal/service/models/auditlog"
	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
	"go.opentelemetry.io/otel"
)

// orderRepository is the order store slice the synchronous API paths use.
type orderRepository interface {
	GetByID(ctx context.Context, orderID int64) (*order.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]order.Order, error)
	UpdateQuantity(ctx context.Context, orderID int64, newQuantity int) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, newStatus order.Status) (*order.Order, error)
	Cancel(ctx context.Context, orderID int64) (*order.Order, error)
	Remove(ctx context.Context, orderID int64) error
}

// auditReader exposes recorded fulfillment failures to operators.
type auditReader interface {
	ListRecent(ctx context.Context, limit int) ([]auditlog.FulfillmentFailure, error)
}

// statusCache caches order statuses for fast reads. All methods best effort.
type statusCache interface {
	GetOrderStatus(ctx context.Context, orderID int64) string
	SetOrderStatus(ctx context.Context, orderID int64, status string)
	InvalidateOrderStatus(ctx context.Context, orderID int64)
}

// OrderService is the synchronous side of the order store: reads, status and
// quantity updates, cancellation and removal. Creation is not here, it only
// happens in the fulfillment worker.
type OrderService struct {
	orders   orderRepository
	audit    auditReader
	cache    statusCache
	notifier notify.Notifier
}

// option is a function that configures the OrderService.
type option func(*OrderService)

// MustNewOrderService creates a new OrderService.
func MustNewOrderService(opts ...option) *OrderService {
	s := &OrderService{
		notifier: notify.NewLogNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.orders == nil {
		panic("order service requires an order repository")
	}

	return s
}

// WithOrderRepository sets the order repository for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderRepository(orders orderRepository) option {
	return func(s *OrderService) {
		s.orders = orders
	}
}

// WithAuditReader sets the fulfillment failure reader for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithAuditReader(audit auditReader) option {
	return func(s *OrderService) {
		s.audit = audit
	}
}

// WithStatusCache sets the status cache for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStatusCache(cache statusCache) option {
	return func(s *OrderService) {
		s.cache = cache
	}
}

// WithNotifier sets the buyer notifier for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithNotifier(notifier notify.Notifier) option {
	return func(s *OrderService) {
		s.notifier = notifier
	}
}

// GetOrder returns a single order.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// GetOrderStatus returns the order's status, served from cache when possible.
func (s *OrderService) GetOrderStatus(ctx context.Context, orderID int64) (order.Status, error) {
	if s.cache != nil {
		if cached := s.cache.GetOrderStatus(ctx, orderID); cached != "" {
			return order.Status(cached), nil
		}
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		s.cache.SetOrderStatus(ctx, orderID, o.Status.String())
	}

	return o.Status, nil
}

// ListUserOrders returns the user's order history.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]order.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// UpdateQuantity resizes a PENDING order, running the stock delta through the
// ledger atomically. On failure neither the order nor the stock changes.
func (s *OrderService) UpdateQuantity(ctx context.Context, orderID int64, newQuantity int) (*order.Order, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.UpdateQuantity")
	defer span.End()

	return s.orders.UpdateQuantity(ctx, orderID, newQuantity)
}

// UpdateStatus moves the order along the state machine and notifies the buyer
// best effort. Cancellation releases the reserved stock atomically with the
// status change.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, newStatus order.Status) (*order.Order, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.UpdateStatus")
	defer span.End()

	o, err := s.orders.UpdateStatus(ctx, orderID, newStatus)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, o)

	return o, nil
}

// CancelOrder cancels the order and credits its quantity back to stock.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.CancelOrder")
	defer span.End()

	o, err := s.orders.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.afterStatusChange(ctx, o)

	return o, nil
}

// RemoveOrder deletes the order, crediting stock back first when accounting
// is still outstanding.
func (s *OrderService) RemoveOrder(ctx context.Context, orderID int64) error {
	ctx, span := otel.Tracer("ordersvc").Start(ctx, "OrderService.RemoveOrder")
	defer span.End()

	if err := s.orders.Remove(ctx, orderID); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidateOrderStatus(ctx, orderID)
	}

	return nil
}

// ListFulfillmentFailures returns recent fulfillment failures for operators.
func (s *OrderService) ListFulfillmentFailures(ctx context.Context, limit int) ([]auditlog.FulfillmentFailure, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	return s.audit.ListRecent(ctx, limit)
}

func (s *OrderService) afterStatusChange(ctx context.Context, o *order.Order) {
	if s.cache != nil {
		s.cache.SetOrderStatus(ctx, o.ID, o.Status.String())
	}
	s.notifier.OrderStatusChanged(ctx, o.UserID, o.ID, o.Status)
}
