package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
)

func (r *providerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Provider, error) {
	const query = `
		SELECT id, provider_type, name, verified, active, rating,
		       specializations, created_at, updated_at
		FROM providers
		WHERE id = $1
	`

	var p model.Provider
	err := r.db.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &p, nil
}

func (r *providerRepository) GetFirmMember(ctx context.Context, firmID, memberID uuid.UUID) (*model.FirmMember, error) {
	const query = `
		SELECT id, firm_id, member_id, role, active, rating, active_requests,
		       specializations, created_at, updated_at
		FROM firm_members
		WHERE firm_id = $1 AND member_id = $2
	`

	var m model.FirmMember
	err := r.db.GetContext(ctx, &m, query, firmID, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get firm member: %w", err)
	}
	return &m, nil
}

func (r *providerRepository) ListActiveFirmMembers(ctx context.Context, firmID uuid.UUID) ([]*model.FirmMember, error) {
	const query = `
		SELECT id, firm_id, member_id, role, active, rating, active_requests,
		       specializations, created_at, updated_at
		FROM firm_members
		WHERE firm_id = $1 AND active = TRUE
		ORDER BY member_id ASC
	`

	var members []*model.FirmMember
	if err := r.db.SelectContext(ctx, &members, query, firmID); err != nil {
		return nil, fmt.Errorf("failed to list firm members: %w", err)
	}
	return members, nil
}

func (r *providerRepository) AdjustMemberLoad(ctx context.Context, firmID, memberID uuid.UUID, delta int) error {
	const query = `
		UPDATE firm_members
		SET active_requests = GREATEST(active_requests + $1, 0), updated_at = $2
		WHERE firm_id = $3 AND member_id = $4
	`

	result, err := r.db.ExecContext(ctx, query, delta, time.Now(), firmID, memberID)
	if err != nil {
		return fmt.Errorf("failed to adjust member load: %w", err)
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
