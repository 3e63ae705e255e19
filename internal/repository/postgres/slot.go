package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
)

const slotColumns = `
	id, provider_id, slot_date, start_time, end_time, is_booked, booked_by,
	created_at, updated_at
`

func (r *slotRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (
			id, provider_id, slot_date, start_time, end_time, is_booked,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	slot.ID = uuid.New()
	slot.IsBooked = false
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = slot.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		slot.ID,
		slot.ProviderID,
		slot.Date,
		slot.StartTime,
		slot.EndTime,
		slot.IsBooked,
		slot.CreatedAt,
		slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create availability slot: %w", err)
	}
	return nil
}

func (r *slotRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`

	var slot model.AvailabilitySlot
	err := r.db.GetContext(ctx, &slot, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get availability slot: %w", err)
	}
	return &slot, nil
}

func (r *slotRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, from time.Time) ([]*model.AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE provider_id = $1 AND slot_date >= $2
		ORDER BY slot_date ASC, start_time ASC
	`

	var slots []*model.AvailabilitySlot
	if err := r.db.SelectContext(ctx, &slots, query, providerID, from); err != nil {
		return nil, fmt.Errorf("failed to list availability slots: %w", err)
	}
	return slots, nil
}

// Book flips is_booked exactly once. The is_booked = FALSE guard is the
// whole exclusivity story; a second booker matches zero rows.
func (r *slotRepository) Book(ctx context.Context, slotID, requestID uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE availability_slots
		SET is_booked = TRUE, booked_by = $1, updated_at = $2
		WHERE id = $3 AND is_booked = FALSE
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, requestID, time.Now(), slotID)
		if err != nil {
			return fmt.Errorf("failed to book slot: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return nil
		}
		won = true
		return insertEventsTx(ctx, tx, events)
	})
	return won, err
}
