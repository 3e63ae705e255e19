package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	"github.com/caconnect/market-api/internal/service/event"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/logger"
)

// Releaser releases a request's escrow because a review arrived.
type Releaser interface {
	ReleaseOnReview(ctx context.Context, requestID uuid.UUID) error
}

// Service accepts reviews on completed requests. A review is the primary
// escrow release trigger.
type Service struct {
	reviews  repository.ReviewRepository
	requests repository.RequestRepository
	releaser Releaser
	logger   *logger.Logger
}

func NewService(reviews repository.ReviewRepository, requests repository.RequestRepository, releaser Releaser, logger *logger.Logger) *Service {
	return &Service{
		reviews:  reviews,
		requests: requests,
		releaser: releaser,
		logger:   logger.WithComponent("review"),
	}
}

// Submit records the client's review and releases escrow. The review itself
// is the durable fact; a failed release is logged and left to the
// auto-release sweep rather than rolling the review back.
func (s *Service) Submit(ctx context.Context, input *model.SubmitReviewInput) (*model.Review, error) {
	req, err := s.requests.Get(ctx, input.RequestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("service request", err)
	}
	if err != nil {
		return nil, err
	}
	if req.ClientID != input.ClientID {
		return nil, apperrors.Forbidden("only the request owner may review it")
	}
	if req.Status != model.RequestStatusCompleted {
		return nil, apperrors.InvalidTransition(string(req.Status), "review")
	}

	review := &model.Review{
		RequestID: input.RequestID,
		ClientID:  input.ClientID,
		Rating:    input.Rating,
		Comment:   input.Comment,
	}
	evt := event.New(model.EventReviewSubmitted, map[string]interface{}{
		"request_id": input.RequestID,
		"rating":     input.Rating,
	})
	if err := s.reviews.Create(ctx, review, evt); err != nil {
		if errors.Is(err, repository.ErrDuplicateReview) {
			return nil, apperrors.Duplicate("request already reviewed", map[string]interface{}{
				"request_id": input.RequestID,
			})
		}
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	if err := s.releaser.ReleaseOnReview(ctx, input.RequestID); err != nil {
		switch {
		case apperrors.Is(err, apperrors.ErrRaceLoss), apperrors.Is(err, apperrors.ErrNotFound):
			// Already released, or no escrow to release. Nothing to do.
		default:
			s.logger.Error(err, "review saved but escrow release failed; scheduler will retry",
				"request_id", input.RequestID.String())
		}
	}

	s.logger.Info("review submitted",
		"request_id", input.RequestID.String(), "rating", input.Rating)
	return review, nil
}

func (s *Service) GetByRequest(ctx context.Context, requestID uuid.UUID) (*model.Review, error) {
	review, err := s.reviews.GetByRequest(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("review", err)
	}
	if err != nil {
		return nil, err
	}
	return review, nil
}
