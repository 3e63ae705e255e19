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

const requestColumns = `
	id, client_id, service_type, title, description, amount_cents,
	provider_type, provider_id, firm_id, slot_id, status, cancel_reason,
	accepted_at, started_at, completed_at, cancelled_at,
	created_at, updated_at
`

func (r *requestRepository) Create(ctx context.Context, req *model.ServiceRequest, events ...*model.OutboxEvent) error {
	query := `
		INSERT INTO service_requests (
			id, client_id, service_type, title, description, amount_cents,
			provider_type, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	req.ID = uuid.New()
	req.Status = model.RequestStatusPending
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			req.ID,
			req.ClientID,
			req.ServiceType,
			req.Title,
			req.Description,
			req.AmountCents,
			req.ProviderType,
			req.Status,
			req.CreatedAt,
			req.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create service request: %w", err)
		}
		return insertEventsTx(ctx, tx, events)
	})
}

func (r *requestRepository) Get(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE id = $1`

	var req model.ServiceRequest
	err := r.db.GetContext(ctx, &req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service request: %w", err)
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filters *model.RequestFilters) ([]*model.ServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters != nil {
		if filters.ClientID != uuid.Nil {
			query += fmt.Sprintf(" AND client_id = $%d", argCount)
			args = append(args, filters.ClientID)
			argCount++
		}
		if filters.ProviderID != uuid.Nil {
			query += fmt.Sprintf(" AND provider_id = $%d", argCount)
			args = append(args, filters.ProviderID)
			argCount++
		}
		if filters.Status != "" {
			query += fmt.Sprintf(" AND status = $%d", argCount)
			args = append(args, filters.Status)
			argCount++
		}
	}

	query += " ORDER BY created_at DESC"

	var requests []*model.ServiceRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list service requests: %w", err)
	}
	return requests, nil
}

func (r *requestRepository) CountPendingForClient(ctx context.Context, clientID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM service_requests WHERE client_id = $1 AND status = $2`

	var count int
	if err := r.db.GetContext(ctx, &count, query, clientID, model.RequestStatusPending); err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return count, nil
}

// Accept is the exclusive PENDING -> ACCEPTED transition. The status guard
// in the WHERE clause makes the update succeed for at most one caller;
// everyone else sees zero rows affected.
func (r *requestRepository) Accept(ctx context.Context, id, providerID uuid.UUID, firmID *uuid.UUID, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE service_requests
		SET status = $1, provider_id = $2, firm_id = $3, accepted_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.RequestStatusAccepted, providerID, firmID, at, id, model.RequestStatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to accept service request: %w", err)
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

// timestampColumnFor maps a target status to the column stamped on entry.
func timestampColumnFor(to model.RequestStatus) string {
	switch to {
	case model.RequestStatusAccepted:
		return "accepted_at"
	case model.RequestStatusInProgress:
		return "started_at"
	case model.RequestStatusCompleted:
		return "completed_at"
	case model.RequestStatusCancelled:
		return "cancelled_at"
	}
	return ""
}

func (r *requestRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.RequestStatus, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	col := timestampColumnFor(to)
	if col == "" {
		return false, fmt.Errorf("no timestamp column for status %s", to)
	}
	query := fmt.Sprintf(`
		UPDATE service_requests
		SET status = $1, %s = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`, col)

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, to, at, id, from)
		if err != nil {
			return fmt.Errorf("failed to transition service request: %w", err)
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

func (r *requestRepository) Cancel(ctx context.Context, id uuid.UUID, from model.RequestStatus, reason string, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE service_requests
		SET status = $1, cancel_reason = $2, cancelled_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.RequestStatusCancelled, reason, at, id, from,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel service request: %w", err)
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

func (r *requestRepository) BindSlot(ctx context.Context, id, slotID uuid.UUID) error {
	query := `UPDATE service_requests SET slot_id = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, slotID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to bind slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
