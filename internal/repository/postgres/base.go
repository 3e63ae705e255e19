package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/caconnect/market-api/internal/model"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// insertEventsTx writes outbox events inside the caller's transaction so a
// won transition and its notifications commit atomically.
func insertEventsTx(ctx context.Context, tx *sqlx.Tx, events []*model.OutboxEvent) error {
	const query = `
		INSERT INTO outbox_events (
			id, event_type, payload, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now()
	for _, evt := range events {
		if evt.ID == uuid.Nil {
			evt.ID = uuid.New()
		}
		evt.Status = string(model.OutboxStatusPending)
		evt.CreatedAt = now
		evt.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, query,
			evt.ID, evt.EventType, evt.Payload, evt.Status, evt.CreatedAt, evt.UpdatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}
