package fulfillmentsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ecomlabs/order-pipeline/internal/service/models/auditlog"
	"github.com/ecomlabs/order-pipeline/internal/service/models/order"
	"github.com/ecomlabs/order-pipeline/internal/service/models/ordermsg"
	"github.com/ecomlabs/order-pipeline/internal/service/models/product"
	"go.opentelemetry.io/otel"
)

// orderCreator is the order store slice the worker mutates.
type orderCreator interface {
	ExistsByDedupKey(ctx context.Context, key string) (bool, error)
	CreateReserved(ctx context.Context, o *order.Order) (bool, error)
}

// failureRecorder is the operator-facing audit path for admitted orders that
// cannot materialize.
type failureRecorder interface {
	SaveFulfillmentFailure(ctx context.Context, failure auditlog.FulfillmentFailure) error
}

// dedupCache is the optional fast path in front of the database dedup check.
type dedupCache interface {
	SeenDedupKey(ctx context.Context, key string) bool
	MarkDedupKey(ctx context.Context, key string)
	SetOrderStatus(ctx context.Context, orderID int64, status string)
}

// FulfillmentService consumes queued order messages and applies them exactly
// once. The transport is at-least-once, so the same message can arrive again
// after a crash, a rebalance or a lost ack; every path below is written to be
// safe under that.
type FulfillmentService struct {
	orders orderCreator
	audit  failureRecorder
	cache  dedupCache
}

// option is a function that configures the FulfillmentService.
type option func(*FulfillmentService)

// MustNewFulfillmentService creates a new FulfillmentService.
func MustNewFulfillmentService(opts ...option) *FulfillmentService {
	s := &FulfillmentService{}
	for _, opt := range opts {
		opt(s)
	}

	if s.orders == nil || s.audit == nil {
		panic("fulfillment service requires an order store and an audit repository")
	}

	return s
}

// WithOrderStore sets the order store for the FulfillmentService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderStore(orders orderCreator) option {
	return func(s *FulfillmentService) {
		s.orders = orders
	}
}

// WithAuditRepository sets the audit repository for the FulfillmentService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithAuditRepository(audit failureRecorder) option {
	return func(s *FulfillmentService) {
		s.audit = audit
	}
}

// WithDedupCache sets the optional Redis fast path for duplicate detection.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithDedupCache(cache dedupCache) option {
	return func(s *FulfillmentService) {
		s.cache = cache
	}
}

// Process applies one order message. A nil return means the delivery may be
// acknowledged: the order was created, or the message was a duplicate, or it
// was rejected for a reason redelivery cannot fix (and the rejection was
// recorded for operators). A non-nil return means the failure is transient
// and the delivery must stay unacknowledged so the transport redelivers it.
func (s *FulfillmentService) Process(ctx context.Context, msg ordermsg.OrderMessage) error {
	ctx, span := otel.Tracer("fulfillment").Start(ctx, "FulfillmentService.Process")
	defer span.End()

	if s.cache != nil && s.cache.SeenDedupKey(ctx, msg.DedupKey) {
		slog.InfoContext(ctx, "Duplicate delivery skipped (cache)", "dedup_key", msg.DedupKey)

		return nil
	}

	exists, err := s.orders.ExistsByDedupKey(ctx, msg.DedupKey)
	if err != nil {
		return fmt.Errorf("dedup check failed: %w", err)
	}
	if exists {
		slog.InfoContext(ctx, "Duplicate delivery skipped", "dedup_key", msg.DedupKey)
		s.markProcessed(ctx, msg.DedupKey)

		return nil
	}

	o := &order.Order{
		UserID:    msg.UserID,
		ProductID: msg.ProductID,
		Quantity:  msg.Quantity,
		DedupKey:  msg.DedupKey,
	}

	created, err := s.orders.CreateReserved(ctx, o)
	if err != nil {
		if errors.Is(err, product.ErrInsufficientStock) || errors.Is(err, product.ErrProductNotFound) {
			// Stock changed (or the product vanished) between admission and
			// processing. Redelivery cannot make stock reappear, so the
			// message is consumed and the failure goes to the operator path.
			return s.recordFailure(ctx, msg, err)
		}

		return fmt.Errorf("order creation failed: %w", err)
	}

	if !created {
		slog.InfoContext(ctx, "Duplicate delivery skipped (insert conflict)", "dedup_key", msg.DedupKey)
		s.markProcessed(ctx, msg.DedupKey)

		return nil
	}

	slog.InfoContext(ctx, "Order fulfilled",
		"order_id", o.ID,
		"user_id", o.UserID,
		"product_id", o.ProductID,
		"quantity", o.Quantity,
		"total_price_cents", o.TotalPriceCents,
	)

	s.markProcessed(ctx, msg.DedupKey)
	if s.cache != nil {
		s.cache.SetOrderStatus(ctx, o.ID, o.Status.String())
	}

	return nil
}

func (s *FulfillmentService) markProcessed(ctx context.Context, dedupKey string) {
	if s.cache != nil {
		s.cache.MarkDedupKey(ctx, dedupKey)
	}
}

// recordFailure persists the business rejection. If the audit write itself
// fails the delivery stays unacknowledged; the dedup key keeps the eventual
// retry from double-applying anything.
func (s *FulfillmentService) recordFailure(ctx context.Context, msg ordermsg.OrderMessage, cause error) error {
	reason := auditlog.ReasonInsufficientStock
	if errors.Is(cause, product.ErrProductNotFound) {
		reason = auditlog.ReasonProductNotFound
	}

	payload, _ := msg.Marshal()
	failure := auditlog.FulfillmentFailure{
		DedupKey:  msg.DedupKey,
		UserID:    msg.UserID,
		ProductID: msg.ProductID,
		Quantity:  msg.Quantity,
		Reason:    reason,
		Payload:   payload,
	}

	if err := s.audit.SaveFulfillmentFailure(ctx, failure); err != nil {
		return fmt.Errorf("failed to record fulfillment failure: %w", err)
	}

	slog.WarnContext(ctx, "Admitted order not fulfilled",
		"dedup_key", msg.DedupKey,
		"product_id", msg.ProductID,
		"quantity", msg.Quantity,
		"reason", reason,
	)

	s.markProcessed(ctx, msg.DedupKey)

	return nil
}
