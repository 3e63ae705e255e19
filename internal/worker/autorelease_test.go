package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	"github.com/caconnect/market-api/internal/service/escrow"
	"github.com/caconnect/market-api/pkg/logger"
)

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*model.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]*model.Payment)}
}

func (f *fakePaymentRepo) Create(ctx context.Context, p *model.Payment) error { return nil }

func (f *fakePaymentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePaymentRepo) GetActiveByRequest(ctx context.Context, requestID uuid.UUID) (*model.Payment, error) {
	return nil, repository.ErrNotFound
}

func (f *fakePaymentRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakePaymentRepo) HoldEscrow(ctx context.Context, id uuid.UUID, paymentRef string, heldAt, releaseAt time.Time, events ...*model.OutboxEvent) (bool, error) {
	return false, nil
}

func (f *fakePaymentRepo) Release(ctx context.Context, id uuid.UUID, trigger string, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != model.PaymentStatusEscrowHeld {
		return false, nil
	}
	p.Status = model.PaymentStatusReleased
	p.ReleasedAt = &at
	p.ReleaseTrigger = &trigger
	return true, nil
}

func (f *fakePaymentRepo) MarkRefundPending(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	return false, nil
}

func (f *fakePaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	return false, nil
}

func (f *fakePaymentRepo) MarkDistributed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	return false, nil
}

func (f *fakePaymentRepo) SetDistribution(ctx context.Context, id, distributionID uuid.UUID) error {
	return nil
}

func (f *fakePaymentRepo) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Payment
	for _, p := range f.payments {
		if p.Status == model.PaymentStatusEscrowHeld && p.AutoReleaseAt != nil && !p.AutoReleaseAt.After(now) {
			copied := *p
			out = append(out, &copied)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePaymentRepo) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return nil, nil
}

func (f *fakePaymentRepo) seed(status model.PaymentStatus, releaseAt time.Time) *model.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &model.Payment{
		Base:      model.Base{ID: uuid.New()},
		RequestID: uuid.New(),
		Status:    status,
	}
	if !releaseAt.IsZero() {
		p.AutoReleaseAt = &releaseAt
	}
	f.payments[p.ID] = p
	return p
}

func newTestScheduler(t *testing.T) (*AutoReleaseScheduler, *fakePaymentRepo) {
	t.Helper()
	repo := newFakePaymentRepo()
	log := logger.NewLogger(nil)
	escrowSvc := escrow.NewService(repo, nil, nil, nil, nil, nil, time.Hour, log, nil)
	return NewAutoReleaseScheduler(escrowSvc, AutoReleaseConfig{BatchSize: 50}, log, nil), repo
}

func TestSweepReleasesElapsedHolds(t *testing.T) {
	scheduler, repo := newTestScheduler(t)

	due := repo.seed(model.PaymentStatusEscrowHeld, time.Now().Add(-time.Minute))
	notYet := repo.seed(model.PaymentStatusEscrowHeld, time.Now().Add(time.Hour))
	pending := repo.seed(model.PaymentStatusPending, time.Time{})

	require.NoError(t, scheduler.Sweep(context.Background()))

	released, err := repo.Get(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusReleased, released.Status)
	require.NotNil(t, released.ReleaseTrigger)
	assert.Equal(t, model.ReleaseTriggerSchedule, *released.ReleaseTrigger)

	held, err := repo.Get(context.Background(), notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusEscrowHeld, held.Status)

	untouched, err := repo.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, untouched.Status)
}

func TestSweepToleratesConcurrentManualRelease(t *testing.T) {
	scheduler, repo := newTestScheduler(t)
	due := repo.seed(model.PaymentStatusEscrowHeld, time.Now().Add(-time.Minute))

	// Simulate a manual release landing between the list and the release.
	listed, err := repo.ListAutoReleasable(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	trigger := model.ReleaseTriggerReview
	won, err := repo.Release(context.Background(), due.ID, trigger, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, scheduler.Sweep(context.Background()))

	final, err := repo.Get(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusReleased, final.Status)
	require.NotNil(t, final.ReleaseTrigger)
	assert.Equal(t, model.ReleaseTriggerReview, *final.ReleaseTrigger)
}

func TestSweepEmptyBatchIsNoOp(t *testing.T) {
	scheduler, _ := newTestScheduler(t)
	assert.NoError(t, scheduler.Sweep(context.Background()))
}
