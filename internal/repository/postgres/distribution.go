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

func (r *distributionRepository) Create(ctx context.Context, d *model.PaymentDistribution) error {
	d.ID = uuid.New()
	d.Status = model.DistributionStatusDraft
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		const distQuery = `
			INSERT INTO payment_distributions (
				id, payment_id, firm_id, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.ExecContext(ctx, distQuery,
			d.ID, d.PaymentID, d.FirmID, d.Status, d.CreatedAt, d.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create distribution: %w", err)
		}

		const shareQuery = `
			INSERT INTO distribution_shares (
				id, distribution_id, member_id, percentage, amount_cents
			) VALUES ($1, $2, $3, $4, $5)
		`
		for i := range d.Shares {
			share := &d.Shares[i]
			share.ID = uuid.New()
			share.DistributionID = d.ID
			if _, err := tx.ExecContext(ctx, shareQuery,
				share.ID, share.DistributionID, share.MemberID, share.Percentage, share.AmountCents,
			); err != nil {
				return fmt.Errorf("failed to create distribution share: %w", err)
			}
		}
		return nil
	})
}

func (r *distributionRepository) Get(ctx context.Context, id uuid.UUID) (*model.PaymentDistribution, error) {
	const query = `
		SELECT id, payment_id, firm_id, status, created_at, updated_at
		FROM payment_distributions
		WHERE id = $1
	`

	var d model.PaymentDistribution
	err := r.db.GetContext(ctx, &d, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution: %w", err)
	}

	if err := r.loadShares(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *distributionRepository) GetByPayment(ctx context.Context, paymentID uuid.UUID) (*model.PaymentDistribution, error) {
	const query = `
		SELECT id, payment_id, firm_id, status, created_at, updated_at
		FROM payment_distributions
		WHERE payment_id = $1
	`

	var d model.PaymentDistribution
	err := r.db.GetContext(ctx, &d, query, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution by payment: %w", err)
	}

	if err := r.loadShares(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *distributionRepository) loadShares(ctx context.Context, d *model.PaymentDistribution) error {
	const query = `
		SELECT id, distribution_id, member_id, percentage, amount_cents, credited_at
		FROM distribution_shares
		WHERE distribution_id = $1
		ORDER BY member_id ASC
	`

	var shares []model.DistributionShare
	if err := r.db.SelectContext(ctx, &shares, query, d.ID); err != nil {
		return fmt.Errorf("failed to load distribution shares: %w", err)
	}
	d.Shares = shares
	return nil
}

func (r *distributionRepository) Approve(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `
		UPDATE payment_distributions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		model.DistributionStatusApproved, time.Now(), id, model.DistributionStatusDraft,
	)
	if err != nil {
		return false, fmt.Errorf("failed to approve distribution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CreditShare applies one member's cut exactly once; the credited_at IS
// NULL guard is the per-share exclusivity.
func (r *distributionRepository) CreditShare(ctx context.Context, shareID uuid.UUID, at time.Time) (bool, error) {
	const query = `
		UPDATE distribution_shares
		SET credited_at = $1
		WHERE id = $2 AND credited_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, at, shareID)
	if err != nil {
		return false, fmt.Errorf("failed to credit share: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *distributionRepository) MarkDistributed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	const query = `
		UPDATE payment_distributions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	var won bool
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			model.DistributionStatusDistributed, time.Now(), id, model.DistributionStatusApproved,
		)
		if err != nil {
			return fmt.Errorf("failed to mark distribution distributed: %w", err)
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
