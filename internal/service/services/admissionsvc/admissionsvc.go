package admissionsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecomlabs/order-pipeline/internal/service/models/ordermsg"
	"github.com/ecomlabs/order-pipeline/internal/service/models/product"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

// ErrTransportUnavailable is returned when the order message could not be
// enqueued after all attempts. The caller must see the admission as rejected.
var ErrTransportUnavailable = errors.New("queue transport unavailable")

var ErrInvalidQuantity = errors.New("quantity must be positive")

// productReader is the non-mutating slice of the inventory ledger the
// admission pre-check needs.
type productReader interface {
	GetProduct(ctx context.Context, productID int64) (*product.Product, error)
}

// publisher sends a message and returns only after the broker confirmed it.
type publisher interface {
	Publish(ctx context.Context, queue string, body []byte, messageID string) error
}

// AdmissionService runs the fast, non-mutating pre-check on an incoming order
// and hands accepted orders to the queue. The authoritative stock mutation
// happens later, in the fulfillment worker.
type AdmissionService struct {
	products       productReader
	broker         publisher
	queue          string
	publishTimeout time.Duration
	publishRetries int
}

// option is a function that configures the AdmissionService.
type option func(*AdmissionService)

// MustNewAdmissionService creates a new AdmissionService.
func MustNewAdmissionService(opts ...option) *AdmissionService {
	s := &AdmissionService{
		queue:          ordermsg.QueueProcessOrder,
		publishTimeout: 5 * time.Second,
		publishRetries: 3,
	}

	if q := viper.GetString("rabbitmq.queue"); q != "" {
		s.queue = q
	}
	if t := viper.GetInt("admission.publish_timeout_seconds"); t > 0 {
		s.publishTimeout = time.Duration(t) * time.Second
	}
	if n := viper.GetInt("admission.publish_retries"); n > 0 {
		s.publishRetries = n
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.products == nil || s.broker == nil {
		panic("admission service requires a product reader and a publisher")
	}

	return s
}

// WithProductReader sets the ledger read side for the AdmissionService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithProductReader(products productReader) option {
	return func(s *AdmissionService) {
		s.products = products
	}
}

// WithPublisher sets the queue publisher for the AdmissionService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPublisher(broker publisher) option {
	return func(s *AdmissionService) {
		s.broker = broker
	}
}

// Admit validates an incoming order request against current stock and, when
// the pre-check passes, enqueues exactly one order message. The pre-check is
// optimistic: it mutates nothing, because stock may change before the worker
// gets to the message. Returns the enqueued message on acceptance.
func (s *AdmissionService) Admit(ctx context.Context, userID, productID int64, quantity int) (*ordermsg.OrderMessage, error) {
	ctx, span := otel.Tracer("admission").Start(ctx, "AdmissionService.Admit")
	defer span.End()

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Stock < quantity {
		return nil, product.ErrInsufficientStock
	}

	msg := ordermsg.OrderMessage{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		// Fixed here, before the first publish attempt, so every delivery of
		// this admission carries the same key.
		DedupKey: uuid.NewString(),
	}

	body, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order message: %w", err)
	}

	if err := s.publish(ctx, body, msg.DedupKey); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Order admitted",
		"user_id", userID,
		"product_id", productID,
		"quantity", quantity,
		"dedup_key", msg.DedupKey,
	)

	return &msg, nil
}

// publish attempts the confirmed publish a bounded number of times. Retrying
// with the same dedup key is safe: even if an earlier attempt was enqueued
// despite a lost confirmation, the worker treats the extra copy as a
// duplicate.
func (s *AdmissionService) publish(ctx context.Context, body []byte, messageID string) error {
	var lastErr error
	for attempt := 1; attempt <= s.publishRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		err := s.broker.Publish(attemptCtx, s.queue, body, messageID)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.WarnContext(ctx, "Order message publish failed",
			"attempt", attempt,
			"retries", s.publishRetries,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTransportUnavailable, ctx.Err())
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}

	return fmt.Errorf("%w: %v", ErrTransportUnavailable, lastErr)
}
