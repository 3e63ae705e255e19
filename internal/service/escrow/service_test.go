package escrow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caconnect/market-api/internal/gateway"
	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/logger"
)

var testSecret = []byte("test-webhook-secret")

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*model.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]*model.Payment)}
}

func (f *fakePaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.payments {
		if existing.RequestID == p.RequestID && !existing.Status.IsTerminal() {
			return repository.ErrDuplicatePayment
		}
	}
	p.ID = uuid.New()
	p.Status = model.PaymentStatusPending
	copied := *p
	f.payments[p.ID] = &copied
	return nil
}

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
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.RequestID == requestID && !p.Status.IsTerminal() {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakePaymentRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = model.PaymentStatusProcessing
	return true, nil
}

func (f *fakePaymentRepo) HoldEscrow(ctx context.Context, id uuid.UUID, paymentRef string, heldAt, releaseAt time.Time, events ...*model.OutboxEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return false, nil
	}
	if p.Status != model.PaymentStatusPending && p.Status != model.PaymentStatusProcessing {
		return false, nil
	}
	p.Status = model.PaymentStatusEscrowHeld
	p.GatewayPaymentRef = &paymentRef
	p.SignatureVerified = true
	p.EscrowHeldAt = &heldAt
	p.AutoReleaseAt = &releaseAt
	return true, nil
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
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != model.PaymentStatusReleased {
		return false, nil
	}
	p.Status = model.PaymentStatusDistributed
	return true, nil
}

func (f *fakePaymentRepo) SetDistribution(ctx context.Context, id, distributionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.DistributionID = &distributionID
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
	}
	return out, nil
}

func (f *fakePaymentRepo) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return nil, nil
}

type fakeDistributionRepo struct {
	mu            sync.Mutex
	distributions map[uuid.UUID]*model.PaymentDistribution
}

func newFakeDistributionRepo() *fakeDistributionRepo {
	return &fakeDistributionRepo{distributions: make(map[uuid.UUID]*model.PaymentDistribution)}
}

func (f *fakeDistributionRepo) Create(ctx context.Context, d *model.PaymentDistribution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	for i := range d.Shares {
		if d.Shares[i].ID == uuid.Nil {
			d.Shares[i].ID = uuid.New()
		}
		d.Shares[i].DistributionID = d.ID
	}
	copied := *d
	copied.Shares = append([]model.DistributionShare(nil), d.Shares...)
	f.distributions[d.ID] = &copied
	return nil
}

func (f *fakeDistributionRepo) Get(ctx context.Context, id uuid.UUID) (*model.PaymentDistribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.distributions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *d
	copied.Shares = append([]model.DistributionShare(nil), d.Shares...)
	return &copied, nil
}

func (f *fakeDistributionRepo) GetByPayment(ctx context.Context, paymentID uuid.UUID) (*model.PaymentDistribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.distributions {
		if d.PaymentID == paymentID {
			copied := *d
			copied.Shares = append([]model.DistributionShare(nil), d.Shares...)
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDistributionRepo) Approve(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.distributions[id]
	if !ok || d.Status != model.DistributionStatusDraft {
		return false, nil
	}
	d.Status = model.DistributionStatusApproved
	return true, nil
}

func (f *fakeDistributionRepo) CreditShare(ctx context.Context, shareID uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.distributions {
		for i := range d.Shares {
			if d.Shares[i].ID == shareID {
				if d.Shares[i].CreditedAt != nil {
					return false, nil
				}
				d.Shares[i].CreditedAt = &at
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeDistributionRepo) MarkDistributed(ctx context.Context, id uuid.UUID, events ...*model.OutboxEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.distributions[id]
	if !ok || d.Status != model.DistributionStatusApproved {
		return false, nil
	}
	d.Status = model.DistributionStatusDistributed
	return true, nil
}

type fakeRequestStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*model.ServiceRequest
}

func (f *fakeRequestStore) Create(ctx context.Context, req *model.ServiceRequest, events ...*model.OutboxEvent) error {
	return nil
}
func (f *fakeRequestStore) Get(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *req
	return &copied, nil
}
func (f *fakeRequestStore) List(ctx context.Context, filters *model.RequestFilters) ([]*model.ServiceRequest, error) {
	return nil, nil
}
func (f *fakeRequestStore) CountPendingForClient(ctx context.Context, clientID uuid.UUID) (int, error) {
	return 0, nil
}
func (f *fakeRequestStore) Accept(ctx context.Context, id, providerID uuid.UUID, firmID *uuid.UUID, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	return false, nil
}
func (f *fakeRequestStore) Transition(ctx context.Context, id uuid.UUID, from, to model.RequestStatus, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	return false, nil
}
func (f *fakeRequestStore) Cancel(ctx context.Context, id uuid.UUID, from model.RequestStatus, reason string, at time.Time, events ...*model.OutboxEvent) (bool, error) {
	return false, nil
}
func (f *fakeRequestStore) BindSlot(ctx context.Context, id, slotID uuid.UUID) error { return nil }

// fakeGateway signs and verifies with the real HMAC helpers so the
// signature round trip in Verify is exercised end to end.
type fakeGateway struct {
	mu              sync.Mutex
	orders          int
	idempotencyKeys []string
	ordersByKey     map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{ordersByKey: make(map[string]string)}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, idempotencyKey string, amountCents int64, receipt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idempotencyKeys = append(g.idempotencyKeys, idempotencyKey)
	if ref, ok := g.ordersByKey[idempotencyKey]; ok {
		return ref, nil
	}
	g.orders++
	ref := fmt.Sprintf("order_%d", g.orders)
	g.ordersByKey[idempotencyKey] = ref
	return ref, nil
}

func (g *fakeGateway) VerifySignature(orderRef, paymentRef, signature string) bool {
	return gateway.VerifySignature(testSecret, orderRef, paymentRef, signature)
}

func (g *fakeGateway) Refund(ctx context.Context, paymentRef string, amountCents int64) error {
	return nil
}

type staticBuilder struct {
	dist *model.PaymentDistribution
	err  error
}

func (b *staticBuilder) BuildDistribution(ctx context.Context, input model.BuildDistributionInput, providerCents int64) (*model.PaymentDistribution, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.dist, nil
}

type escrowFixture struct {
	svc           *Service
	payments      *fakePaymentRepo
	requests      *fakeRequestStore
	distributions *fakeDistributionRepo
	gateway       *fakeGateway
	builder       *staticBuilder
}

func newTestEscrow(t *testing.T, holdPeriod time.Duration) *escrowFixture {
	t.Helper()
	f := &escrowFixture{
		payments:      newFakePaymentRepo(),
		requests:      &fakeRequestStore{requests: make(map[uuid.UUID]*model.ServiceRequest)},
		distributions: newFakeDistributionRepo(),
		gateway:       newFakeGateway(),
		builder:       &staticBuilder{},
	}
	f.svc = NewService(f.payments, f.requests, f.distributions, f.gateway, f.builder, nil, holdPeriod, logger.NewLogger(nil), nil)
	return f
}

func (f *escrowFixture) seedRequest(status model.RequestStatus, amountCents int64) *model.ServiceRequest {
	req := &model.ServiceRequest{
		Base:         model.Base{ID: uuid.New()},
		ClientID:     uuid.New(),
		Status:       status,
		AmountCents:  amountCents,
		ProviderType: model.ProviderTypeIndividual,
	}
	f.requests.mu.Lock()
	f.requests.requests[req.ID] = req
	f.requests.mu.Unlock()
	return req
}

func (f *escrowFixture) seedHeldPayment(t *testing.T, amountCents int64) *model.Payment {
	t.Helper()
	req := f.seedRequest(model.RequestStatusAccepted, amountCents)
	payment, err := f.svc.CreateOrder(context.Background(), &model.CreatePaymentOrderInput{
		RequestID:   req.ID,
		AmountCents: amountCents,
	})
	require.NoError(t, err)

	sig := gateway.Sign(testSecret, payment.GatewayOrderRef, "pay_ref_1")
	held, err := f.svc.Verify(context.Background(), &model.VerifyPaymentInput{
		PaymentID:         payment.ID,
		GatewayPaymentRef: "pay_ref_1",
		Signature:         sig,
	})
	require.NoError(t, err)
	return held
}

func TestCreateOrderSplitsFeeAndUsesIdempotencyKey(t *testing.T) {
	f := newTestEscrow(t, 0)
	req := f.seedRequest(model.RequestStatusAccepted, 100000)

	payment, err := f.svc.CreateOrder(context.Background(), &model.CreatePaymentOrderInput{
		RequestID:   req.ID,
		AmountCents: 100000,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, payment.Status)
	assert.Equal(t, int64(10000), payment.PlatformFeeCents)
	assert.Equal(t, int64(90000), payment.ProviderCents)
	assert.Equal(t, "req-"+req.ID.String(), payment.IdempotencyKey)
	require.Len(t, f.gateway.idempotencyKeys, 1)
	assert.Equal(t, payment.IdempotencyKey, f.gateway.idempotencyKeys[0])
}

func TestCreateOrderRejectsAmountMismatch(t *testing.T) {
	f := newTestEscrow(t, 0)
	req := f.seedRequest(model.RequestStatusAccepted, 100000)

	_, err := f.svc.CreateOrder(context.Background(), &model.CreatePaymentOrderInput{
		RequestID:   req.ID,
		AmountCents: 99999,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, int64(100000), appErr.Details["expected_cents"])
}

func TestCreateOrderRejectsUnacceptedRequest(t *testing.T) {
	f := newTestEscrow(t, 0)
	req := f.seedRequest(model.RequestStatusPending, 100000)

	_, err := f.svc.CreateOrder(context.Background(), &model.CreatePaymentOrderInput{
		RequestID:   req.ID,
		AmountCents: 100000,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestCreateOrderSecondActivePaymentIsDuplicate(t *testing.T) {
	f := newTestEscrow(t, 0)
	req := f.seedRequest(model.RequestStatusAccepted, 50000)
	input := &model.CreatePaymentOrderInput{RequestID: req.ID, AmountCents: 50000}

	_, err := f.svc.CreateOrder(context.Background(), input)
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), input)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDuplicate))
}

func TestVerifyHoldsEscrowForHoldPeriod(t *testing.T) {
	hold := 7 * 24 * time.Hour
	f := newTestEscrow(t, hold)
	before := time.Now()
	held := f.seedHeldPayment(t, 80000)
	after := time.Now()

	assert.Equal(t, model.PaymentStatusEscrowHeld, held.Status)
	assert.True(t, held.SignatureVerified)
	require.NotNil(t, held.GatewayPaymentRef)
	assert.Equal(t, "pay_ref_1", *held.GatewayPaymentRef)
	require.NotNil(t, held.EscrowHeldAt)
	require.NotNil(t, held.AutoReleaseAt)
	assert.Equal(t, held.EscrowHeldAt.Add(hold), *held.AutoReleaseAt)
	assert.False(t, held.AutoReleaseAt.Before(before.Add(hold)))
	assert.False(t, held.AutoReleaseAt.After(after.Add(hold)))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	f := newTestEscrow(t, 0)
	req := f.seedRequest(model.RequestStatusAccepted, 80000)
	payment, err := f.svc.CreateOrder(context.Background(), &model.CreatePaymentOrderInput{
		RequestID:   req.ID,
		AmountCents: 80000,
	})
	require.NoError(t, err)

	// Signed over a different payment ref than the one submitted.
	sig := gateway.Sign(testSecret, payment.GatewayOrderRef, "pay_ref_other")
	_, err = f.svc.Verify(context.Background(), &model.VerifyPaymentInput{
		PaymentID:         payment.ID,
		GatewayPaymentRef: "pay_ref_1",
		Signature:         sig,
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSignatureInvalid))

	stored, err := f.svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.Status)
	assert.False(t, stored.SignatureVerified)
}

func TestVerifyRepeatedCallbackIsIdempotent(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 80000)
	firstReleaseAt := *held.AutoReleaseAt

	sig := gateway.Sign(testSecret, held.GatewayOrderRef, "pay_ref_1")
	again, err := f.svc.Verify(context.Background(), &model.VerifyPaymentInput{
		PaymentID:         held.ID,
		GatewayPaymentRef: "pay_ref_1",
		Signature:         sig,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusEscrowHeld, again.Status)
	assert.Equal(t, firstReleaseAt, *again.AutoReleaseAt)
}

func TestVerifyAdmitsProcessingPayment(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	req := f.seedRequest(model.RequestStatusAccepted, 80000)
	payment, err := f.svc.CreateOrder(context.Background(), &model.CreatePaymentOrderInput{
		RequestID:   req.ID,
		AmountCents: 80000,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkProcessing(context.Background(), payment.ID))

	sig := gateway.Sign(testSecret, payment.GatewayOrderRef, "pay_ref_1")
	held, err := f.svc.Verify(context.Background(), &model.VerifyPaymentInput{
		PaymentID:         payment.ID,
		GatewayPaymentRef: "pay_ref_1",
		Signature:         sig,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusEscrowHeld, held.Status)
}

func TestConcurrentReleaseExactlyOnce(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 80000)

	const contenders = 10
	var (
		start     = make(chan struct{})
		wg        sync.WaitGroup
		mu        sync.Mutex
		released  int
		conflicts int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := f.svc.ReleaseOnReview(context.Background(), held.RequestID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				released++
			case apperrors.Is(err, apperrors.ErrRaceLoss):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, released)
	assert.Equal(t, contenders-1, conflicts)

	final, err := f.svc.GetPayment(context.Background(), held.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusReleased, final.Status)
	require.NotNil(t, final.ReleaseTrigger)
	assert.Equal(t, model.ReleaseTriggerReview, *final.ReleaseTrigger)
}

func TestReviewReleaseAppliesFirmDistribution(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 100000)

	f.builder.dist = buildDraft(held.ID, held.ProviderCents, uuid.New(), uuid.New())
	dist, err := f.svc.AttachDistribution(context.Background(), model.BuildDistributionInput{
		FirmID:    f.builder.dist.FirmID,
		PaymentID: held.ID,
		Shares:    []model.ShareInput{{MemberID: uuid.New(), Percentage: 50}, {MemberID: uuid.New(), Percentage: 50}},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.ApproveDistribution(context.Background(), dist.ID))

	require.NoError(t, f.svc.ReleaseOnReview(context.Background(), held.RequestID))

	final, err := f.svc.GetPayment(context.Background(), held.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusDistributed, final.Status)

	stored, err := f.distributions.Get(context.Background(), dist.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DistributionStatusDistributed, stored.Status)
	for _, share := range stored.Shares {
		assert.NotNil(t, share.CreditedAt)
	}
}

func TestReviewReleaseDefersDraftDistribution(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 100000)

	f.builder.dist = buildDraft(held.ID, held.ProviderCents, uuid.New())
	dist, err := f.svc.AttachDistribution(context.Background(), model.BuildDistributionInput{
		FirmID:    f.builder.dist.FirmID,
		PaymentID: held.ID,
		Shares:    []model.ShareInput{{MemberID: uuid.New(), Percentage: 100}},
	})
	require.NoError(t, err)

	// The unapproved split must not block the release itself.
	require.NoError(t, f.svc.ReleaseOnReview(context.Background(), held.RequestID))

	final, err := f.svc.GetPayment(context.Background(), held.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusReleased, final.Status)

	stored, err := f.distributions.Get(context.Background(), dist.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DistributionStatusDraft, stored.Status)
}

func TestReleaseOnScheduleAfterManualReleaseIsNoOp(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 80000)

	require.NoError(t, f.svc.ReleaseOnReview(context.Background(), held.RequestID))

	won, err := f.svc.ReleaseOnSchedule(context.Background(), held)
	require.NoError(t, err)
	assert.False(t, won)

	final, err := f.svc.GetPayment(context.Background(), held.ID)
	require.NoError(t, err)
	require.NotNil(t, final.ReleaseTrigger)
	assert.Equal(t, model.ReleaseTriggerReview, *final.ReleaseTrigger)
}

func TestReleaseRequiresEscrowHeld(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	req := f.seedRequest(model.RequestStatusAccepted, 80000)
	_, err := f.svc.CreateOrder(context.Background(), &model.CreatePaymentOrderInput{
		RequestID:   req.ID,
		AmountCents: 80000,
	})
	require.NoError(t, err)

	err = f.svc.ReleaseOnReview(context.Background(), req.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func buildDraft(paymentID uuid.UUID, providerCents int64, members ...uuid.UUID) *model.PaymentDistribution {
	share := 100.0 / float64(len(members))
	dist := &model.PaymentDistribution{
		PaymentID: paymentID,
		FirmID:    uuid.New(),
		Status:    model.DistributionStatusDraft,
	}
	per := providerCents / int64(len(members))
	for _, m := range members {
		dist.Shares = append(dist.Shares, model.DistributionShare{
			MemberID:    m,
			Percentage:  share,
			AmountCents: per,
		})
	}
	return dist
}

func TestDistributeCreditsEachShareOnce(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 100000)
	require.NoError(t, f.svc.ReleaseOnReview(context.Background(), held.RequestID))

	f.builder.dist = buildDraft(held.ID, held.ProviderCents, uuid.New(), uuid.New())
	dist, err := f.svc.AttachDistribution(context.Background(), model.BuildDistributionInput{
		FirmID:    f.builder.dist.FirmID,
		PaymentID: held.ID,
		Shares:    []model.ShareInput{{MemberID: uuid.New(), Percentage: 50}, {MemberID: uuid.New(), Percentage: 50}},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.ApproveDistribution(context.Background(), dist.ID))

	require.NoError(t, f.svc.Distribute(context.Background(), held.ID))

	stored, err := f.distributions.Get(context.Background(), dist.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DistributionStatusDistributed, stored.Status)
	for _, share := range stored.Shares {
		assert.NotNil(t, share.CreditedAt)
	}

	final, err := f.svc.GetPayment(context.Background(), held.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusDistributed, final.Status)

	// A rerun must not move the payment or re-credit shares.
	err = f.svc.Distribute(context.Background(), held.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestDistributeResumesAfterPartialCredit(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 100000)
	require.NoError(t, f.svc.ReleaseOnReview(context.Background(), held.RequestID))

	f.builder.dist = buildDraft(held.ID, held.ProviderCents, uuid.New(), uuid.New())
	dist, err := f.svc.AttachDistribution(context.Background(), model.BuildDistributionInput{
		FirmID:    f.builder.dist.FirmID,
		PaymentID: held.ID,
		Shares:    []model.ShareInput{{MemberID: uuid.New(), Percentage: 50}, {MemberID: uuid.New(), Percentage: 50}},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.ApproveDistribution(context.Background(), dist.ID))

	// Simulate a crash after the first share credited.
	stored, err := f.distributions.Get(context.Background(), dist.ID)
	require.NoError(t, err)
	won, err := f.distributions.CreditShare(context.Background(), stored.Shares[0].ID, time.Now())
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, f.svc.Distribute(context.Background(), held.ID))

	after, err := f.distributions.Get(context.Background(), dist.ID)
	require.NoError(t, err)
	for _, share := range after.Shares {
		assert.NotNil(t, share.CreditedAt)
	}
}

func TestDistributeRejectsDraftDistribution(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 100000)
	require.NoError(t, f.svc.ReleaseOnReview(context.Background(), held.RequestID))

	f.builder.dist = buildDraft(held.ID, held.ProviderCents, uuid.New())
	_, err := f.svc.AttachDistribution(context.Background(), model.BuildDistributionInput{
		FirmID:    f.builder.dist.FirmID,
		PaymentID: held.ID,
		Shares:    []model.ShareInput{{MemberID: uuid.New(), Percentage: 100}},
	})
	require.NoError(t, err)

	err = f.svc.Distribute(context.Background(), held.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestAttachDistributionRejectsSecondAttachment(t *testing.T) {
	f := newTestEscrow(t, time.Hour)
	held := f.seedHeldPayment(t, 100000)
	require.NoError(t, f.svc.ReleaseOnReview(context.Background(), held.RequestID))

	f.builder.dist = buildDraft(held.ID, held.ProviderCents, uuid.New())
	input := model.BuildDistributionInput{
		FirmID:    f.builder.dist.FirmID,
		PaymentID: held.ID,
		Shares:    []model.ShareInput{{MemberID: uuid.New(), Percentage: 100}},
	}
	_, err := f.svc.AttachDistribution(context.Background(), input)
	require.NoError(t, err)

	_, err = f.svc.AttachDistribution(context.Background(), input)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDuplicate))
}
