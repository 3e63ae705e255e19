package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/logger"
)

type fakeReviewRepo struct {
	mu      sync.Mutex
	reviews map[uuid.UUID]*model.Review
	events  []*model.OutboxEvent
}

func (f *fakeReviewRepo) Create(ctx context.Context, review *model.Review, events ...*model.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.reviews[review.RequestID]; exists {
		return repository.ErrDuplicateReview
	}
	review.ID = uuid.New()
	copied := *review
	f.reviews[review.RequestID] = &copied
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeReviewRepo) GetByRequest(ctx context.Context, requestID uuid.UUID) (*model.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	review, ok := f.reviews[requestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *review
	return &copied, nil
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

type fakeReleaser struct {
	mu       sync.Mutex
	released []uuid.UUID
	err      error
}

func (f *fakeReleaser) ReleaseOnReview(ctx context.Context, requestID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.released = append(f.released, requestID)
	return nil
}

func newTestReview(t *testing.T) (*Service, *fakeReviewRepo, *fakeRequestStore, *fakeReleaser) {
	t.Helper()
	reviews := &fakeReviewRepo{reviews: make(map[uuid.UUID]*model.Review)}
	requests := &fakeRequestStore{requests: make(map[uuid.UUID]*model.ServiceRequest)}
	releaser := &fakeReleaser{}
	svc := NewService(reviews, requests, releaser, logger.NewLogger(nil))
	return svc, reviews, requests, releaser
}

func seedRequest(requests *fakeRequestStore, clientID uuid.UUID, status model.RequestStatus) *model.ServiceRequest {
	req := &model.ServiceRequest{
		Base:     model.Base{ID: uuid.New()},
		ClientID: clientID,
		Status:   status,
	}
	requests.mu.Lock()
	requests.requests[req.ID] = req
	requests.mu.Unlock()
	return req
}

func TestSubmitReleasesEscrow(t *testing.T) {
	svc, reviews, requests, releaser := newTestReview(t)
	clientID := uuid.New()
	req := seedRequest(requests, clientID, model.RequestStatusCompleted)

	review, err := svc.Submit(context.Background(), &model.SubmitReviewInput{
		RequestID: req.ID,
		ClientID:  clientID,
		Rating:    5,
		Comment:   "fast and thorough",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, review.Rating)

	require.Len(t, releaser.released, 1)
	assert.Equal(t, req.ID, releaser.released[0])

	require.Len(t, reviews.events, 1)
	assert.Equal(t, model.EventReviewSubmitted, reviews.events[0].EventType)
}

func TestSubmitDuplicateReview(t *testing.T) {
	svc, _, requests, _ := newTestReview(t)
	clientID := uuid.New()
	req := seedRequest(requests, clientID, model.RequestStatusCompleted)
	input := &model.SubmitReviewInput{RequestID: req.ID, ClientID: clientID, Rating: 4}

	_, err := svc.Submit(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), input)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDuplicate))
}

func TestSubmitRequiresCompletedRequest(t *testing.T) {
	svc, _, requests, releaser := newTestReview(t)
	clientID := uuid.New()

	for _, status := range []model.RequestStatus{
		model.RequestStatusPending,
		model.RequestStatusAccepted,
		model.RequestStatusInProgress,
		model.RequestStatusCancelled,
	} {
		req := seedRequest(requests, clientID, status)
		_, err := svc.Submit(context.Background(), &model.SubmitReviewInput{
			RequestID: req.ID,
			ClientID:  clientID,
			Rating:    3,
		})
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition), "status %s", status)
	}
	assert.Empty(t, releaser.released)
}

func TestSubmitRequiresOwner(t *testing.T) {
	svc, _, requests, _ := newTestReview(t)
	req := seedRequest(requests, uuid.New(), model.RequestStatusCompleted)

	_, err := svc.Submit(context.Background(), &model.SubmitReviewInput{
		RequestID: req.ID,
		ClientID:  uuid.New(),
		Rating:    3,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
}

func TestSubmitSurvivesReleaseFailure(t *testing.T) {
	svc, reviews, requests, releaser := newTestReview(t)
	releaser.err = errors.New("gateway down")
	clientID := uuid.New()
	req := seedRequest(requests, clientID, model.RequestStatusCompleted)

	review, err := svc.Submit(context.Background(), &model.SubmitReviewInput{
		RequestID: req.ID,
		ClientID:  clientID,
		Rating:    5,
	})
	require.NoError(t, err)
	assert.NotNil(t, review)

	stored, err := reviews.GetByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Rating)
}

func TestSubmitToleratesAlreadyReleasedEscrow(t *testing.T) {
	svc, _, requests, releaser := newTestReview(t)
	releaser.err = apperrors.RaceLoss("payment already released", nil)
	clientID := uuid.New()
	req := seedRequest(requests, clientID, model.RequestStatusCompleted)

	_, err := svc.Submit(context.Background(), &model.SubmitReviewInput{
		RequestID: req.ID,
		ClientID:  clientID,
		Rating:    4,
	})
	require.NoError(t, err)
}

func TestGetByRequestNotFound(t *testing.T) {
	svc, _, _, _ := newTestReview(t)
	_, err := svc.GetByRequest(context.Background(), uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
