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

const paymentColumns = `
	id, request_id, amount_cents, platform_fee_percent, platform_fee_cents,
	provider_cents, status, gateway_order_ref, gateway_payment_ref,
	signature_verified, idempotency_key, escrow_held_at, auto_release_at,
	released_at, release_trigger, distribution_id, created_at, updated_at
`

const pqUniqueViolation = "23505"

func (r *paymentRepository) Create(ctx context.Context, p *model.Payment) error {
	query := `
		INSERT INTO payments (
			id, request_id, amount_cents, platform_fee_percent,
			platform_fee_cents, provider_cents, status, gateway_order_ref,
			signature_verified, idempotency_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = model.PaymentStatusPending
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.RequestID,
		p.AmountCents,
		p.PlatformFeePercent,
		p.PlatformFeeCents,
		p.ProviderCents,
		p.Status,
		p.GatewayOrderRef,
		p.SignatureVerified,
		p.IdempotencyKey,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on request_id over non-terminal statuses
		// closes the concurrent-create race at the storage layer.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return repository.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	var p model.Payment
	err := r.db.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (r *paymentRepository) GetActiveByRequest(ctx context.Context, requestID uuid.UUID) (*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE request_id = $1 AND status = ANY($2)
	`

	statuses := make(pq.StringArray, 0, len(model.NonTerminalPaymentStatuses))
	for _, s := range model.NonTerminalPaymentStatuses {
		statuses = append(statuses, string(s))
	}

	var p model.Payment
	err := r.db.GetContext(ctx, &p, query, requestID, statuses)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active payment: %w", err)
	}
	return &p, nil
}

func (r *paymentRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query,
		model.PaymentStatusProcessing, time.Now(), id, model.PaymentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment processing: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// HoldEscrow admits PENDING and PROCESSING as prior states; verification
// may arrive before or after the client-side processing callback.
func (r *paymentRepository) HoldEscrow(ctx context.Context, id uuid.UUID, paymentRef string, heldAt, releaseAt time.Time, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, gateway_payment_ref = $2, signature_verified = TRUE,
		    escrow_held_at = $3, auto_release_at = $4, updated_at = $3
		WHERE id = $5 AND status IN ($6, $7)
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.PaymentStatusEscrowHeld, paymentRef, heldAt, releaseAt,
			id, model.PaymentStatusPending, model.PaymentStatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("failed to hold escrow: %w", err)
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

func (r *paymentRepository) Release(ctx context.Context, id uuid.UUID, trigger string, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, released_at = $2, release_trigger = $3, updated_at = $2
		WHERE id = $4 AND status = $5
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.PaymentStatusReleased, at, trigger, id, model.PaymentStatusEscrowHeld,
		)
		if err != nil {
			return fmt.Errorf("failed to release payment: %w", err)
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

func (r *paymentRepository) MarkRefundPending(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6)
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.PaymentStatusRefundPending, time.Now(), id,
			model.PaymentStatusPending, model.PaymentStatusProcessing, model.PaymentStatusEscrowHeld,
		)
		if err != nil {
			return fmt.Errorf("failed to mark refund pending: %w", err)
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

func (r *paymentRepository) MarkFailed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.PaymentStatusFailed, time.Now(), id,
			model.PaymentStatusPending, model.PaymentStatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("failed to mark payment failed: %w", err)
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

func (r *paymentRepository) MarkDistributed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.PaymentStatusDistributed, time.Now(), id, model.PaymentStatusReleased,
		)
		if err != nil {
			return fmt.Errorf("failed to mark payment distributed: %w", err)
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

func (r *paymentRepository) SetDistribution(ctx context.Context, id, distributionID uuid.UUID) error {
	query := `UPDATE payments SET distribution_id = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, distributionID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set distribution: %w", err)
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

// ListAutoReleasable returns escrowed payments whose hold has lapsed.
// SKIP LOCKED keeps overlapping scheduler instances off each other's batch;
// correctness still rests on the exclusive Release update.
func (r *paymentRepository) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = $1 AND auto_release_at <= $2
		ORDER BY auto_release_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`

	var payments []*model.Payment
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &payments, query, model.PaymentStatusEscrowHeld, now, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-releasable payments: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4
	`

	var payments []*model.Payment
	err := r.db.SelectContext(ctx, &payments, query,
		model.PaymentStatusPending, model.PaymentStatusProcessing, olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck payments: %w", err)
	}
	return payments, nil
}
