package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/model"
)

// All repository interfaces in one file.
//
// Methods returning (bool, error) are exclusive transitions: a single
// conditional UPDATE whose guard encodes the expected prior state. The bool
// reports whether this caller won the race; losing is not an error. Winning
// methods that take events persist them to the outbox inside the same
// transaction as the state change.
type (
	RequestRepository interface {
		Create(ctx context.Context, req *model.ServiceRequest, events ...*model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error)
		List(ctx context.Context, filters *model.RequestFilters) ([]*model.ServiceRequest, error)
		CountPendingForClient(ctx context.Context, clientID uuid.UUID) (int, error)

		// Accept binds the provider (and firm, when firm-bound) while moving
		// PENDING to ACCEPTED in one guarded statement.
		Accept(ctx context.Context, id, providerID uuid.UUID, firmID *uuid.UUID, at time.Time, events ...*model.OutboxEvent) (bool, error)

		// Transition moves from exactly one expected status to another,
		// stamping the timestamp column that belongs to the target status.
		Transition(ctx context.Context, id uuid.UUID, from, to model.RequestStatus, at time.Time, events ...*model.OutboxEvent) (bool, error)

		// Cancel is Transition plus the cancel reason.
		Cancel(ctx context.Context, id uuid.UUID, from model.RequestStatus, reason string, at time.Time, events ...*model.OutboxEvent) (bool, error)

		BindSlot(ctx context.Context, id, slotID uuid.UUID) error
	}

	SlotRepository interface {
		Create(ctx context.Context, slot *model.AvailabilitySlot) error
		Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		ListByProvider(ctx context.Context, providerID uuid.UUID, from time.Time) ([]*model.AvailabilitySlot, error)

		// Book flips is_booked false to true exactly once.
		Book(ctx context.Context, slotID, requestID uuid.UUID, events ...*model.OutboxEvent) (bool, error)
	}

	PaymentRepository interface {
		// Create enforces at most one non-terminal payment per request via
		// the partial unique index; a conflicting insert returns
		// ErrDuplicatePayment.
		Create(ctx context.Context, p *model.Payment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Payment, error)
		GetActiveByRequest(ctx context.Context, requestID uuid.UUID) (*model.Payment, error)

		MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)

		// HoldEscrow moves PENDING or PROCESSING to ESCROW_HELD, recording
		// the gateway payment ref and both hold timestamps.
		HoldEscrow(ctx context.Context, id uuid.UUID, paymentRef string, heldAt, releaseAt time.Time, events ...*model.OutboxEvent) (bool, error)

		// Release moves ESCROW_HELD to RELEASED. Safe to call repeatedly;
		// only the first caller wins.
		Release(ctx context.Context, id uuid.UUID, trigger string, at time.Time, events ...*model.OutboxEvent) (bool, error)

		MarkRefundPending(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error)
		MarkFailed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error)
		MarkDistributed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error)
		SetDistribution(ctx context.Context, id, distributionID uuid.UUID) error

		ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error)
		ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error)
	}

	DistributionRepository interface {
		// Create persists the distribution and its shares atomically.
		Create(ctx context.Context, d *model.PaymentDistribution) error
		Get(ctx context.Context, id uuid.UUID) (*model.PaymentDistribution, error)
		GetByPayment(ctx context.Context, paymentID uuid.UUID) (*model.PaymentDistribution, error)

		Approve(ctx context.Context, id uuid.UUID) (bool, error)

		// CreditShare stamps credited_at on a share exactly once.
		CreditShare(ctx context.Context, shareID uuid.UUID, at time.Time) (bool, error)

		MarkDistributed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error)
	}

	ReviewRepository interface {
		// Create enforces one review per request via a unique index; a
		// second insert returns ErrDuplicateReview.
		Create(ctx context.Context, review *model.Review, events ...*model.OutboxEvent) error
		GetByRequest(ctx context.Context, requestID uuid.UUID) (*model.Review, error)
	}

	ProviderRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Provider, error)
		GetFirmMember(ctx context.Context, firmID, memberID uuid.UUID) (*model.FirmMember, error)
		ListActiveFirmMembers(ctx context.Context, firmID uuid.UUID) ([]*model.FirmMember, error)
		AdjustMemberLoad(ctx context.Context, firmID, memberID uuid.UUID, delta int) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
