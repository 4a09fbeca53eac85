package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ecomlabs/order-pipeline/internal/dal/postgres"
	"github.com/ecomlabs/order-pipeline/internal/service/models/auditlog"
)

// AuditRepository persists fulfillment failures for operator review.
type AuditRepository struct {
	client *postgres.Client
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(client *postgres.Client) *AuditRepository {
	return &AuditRepository{
		client: client,
	}
}

// SaveFulfillmentFailure records an admitted order that never materialized.
func (r *AuditRepository) SaveFulfillmentFailure(ctx context.Context, failure auditlog.FulfillmentFailure) error {
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now()
	}

	query, args, err := sq.Insert("fulfillment_failures").
		Columns(
			"dedup_key",
			"user_id",
			"product_id",
			"quantity",
			"reason",
			"payload",
			"created_at",
		).
		Values(
			failure.DedupKey,
			failure.UserID,
			failure.ProductID,
			failure.Quantity,
			failure.Reason,
			failure.Payload,
			failure.CreatedAt,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build fulfillment failure insert query: %w", err)
	}

	_, err = r.client.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert fulfillment failure: %w", err)
	}

	return nil
}

// ListRecent returns the latest recorded failures, newest first.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]auditlog.FulfillmentFailure, error) {
	query, args, err := sq.Select(
		"id",
		"dedup_key",
		"user_id",
		"product_id",
		"quantity",
		"reason",
		"payload",
		"created_at",
	).
		From("fulfillment_failures").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build fulfillment failures query: %w", err)
	}

	rows, err := r.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fulfillment failures: %w", err)
	}
	defer rows.Close()

	var failures []auditlog.FulfillmentFailure
	for rows.Next() {
		var f auditlog.FulfillmentFailure
		err := rows.Scan(
			&f.ID,
			&f.DedupKey,
			&f.UserID,
			&f.ProductID,
			&f.Quantity,
			&f.Reason,
			&f.Payload,
			&f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fulfillment failure: %w", err)
		}
		failures = append(failures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fulfillment failures: %w", err)
	}

	return failures, nil
}
