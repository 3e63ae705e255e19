package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
)

func (r *reviewRepository) Create(ctx context.Context, review *model.Review, events ...*model.OutboxEvent) error {
	const query = `
		INSERT INTO reviews (
			id, request_id, client_id, rating, comment, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	review.ID = uuid.New()
	review.CreatedAt = time.Now()
	review.UpdatedAt = review.CreatedAt

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			review.ID,
			review.RequestID,
			review.ClientID,
			review.Rating,
			review.Comment,
			review.CreatedAt,
			review.UpdatedAt,
		)
		if err != nil {
			// Unique index on request_id: one review per request.
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
				return repository.ErrDuplicateReview
			}
			return fmt.Errorf("failed to create review: %w", err)
		}
		return insertEventsTx(ctx, tx, events)
	})
}

func (r *reviewRepository) GetByRequest(ctx context.Context, requestID uuid.UUID) (*model.Review, error) {
	const query = `
		SELECT id, request_id, client_id, rating, comment, created_at, updated_at
		FROM reviews
		WHERE request_id = $1
	`

	var review model.Review
	err := r.db.GetContext(ctx, &review, query, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &review, nil
}
