package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	"github.com/caconnect/market-api/internal/service/assignment"
	"github.com/caconnect/market-api/internal/service/event"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/logger"
	"github.com/caconnect/market-api/pkg/metrics"
)

// Resolver decides which provider a request binds to on accept.
type Resolver interface {
	ResolveProvider(ctx context.Context, req *model.ServiceRequest, identity model.ProviderIdentity) (*assignment.Resolution, error)
}

// Eligibility is the injected capability check on provider identity. New
// provider types plug in here without touching the state machine.
type Eligibility interface {
	IsEligible(ctx context.Context, identity model.ProviderIdentity, req *model.ServiceRequest) (bool, error)
}

// Service owns the ServiceRequest state machine.
type Service struct {
	repo        repository.RequestRepository
	payments    repository.PaymentRepository
	providers   repository.ProviderRepository
	resolver    Resolver
	eligibility Eligibility
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewService(
	repo repository.RequestRepository,
	payments repository.PaymentRepository,
	providers repository.ProviderRepository,
	resolver Resolver,
	eligibility Eligibility,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:        repo,
		payments:    payments,
		providers:   providers,
		resolver:    resolver,
		eligibility: eligibility,
		logger:      logger.WithComponent("request"),
		metrics:     m,
	}
}

// Create opens a request in PENDING. A client may hold at most three
// PENDING requests; the limit error carries the current count so callers
// can react.
func (s *Service) Create(ctx context.Context, input *model.CreateRequestInput) (*model.ServiceRequest, error) {
	count, err := s.repo.CountPendingForClient(ctx, input.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending requests: %w", err)
	}
	if count >= model.MaxPendingRequestsPerClient {
		return nil, apperrors.LimitExceeded("pending request limit reached", map[string]interface{}{
			"current_count": count,
			"limit":         model.MaxPendingRequestsPerClient,
		})
	}

	req := &model.ServiceRequest{
		ClientID:     input.ClientID,
		ServiceType:  input.ServiceType,
		Title:        input.Title,
		Description:  input.Description,
		AmountCents:  input.AmountCents,
		ProviderType: input.ProviderType,
	}

	evt := event.New(model.EventRequestCreated, map[string]interface{}{
		"client_id":    input.ClientID,
		"service_type": input.ServiceType,
	})
	if err := s.repo.Create(ctx, req, evt); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.logger.Info("request created", "request_id", req.ID.String(), "client_id", req.ClientID.String())
	return req, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.ServiceRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("service request", err)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Service) List(ctx context.Context, filters *model.RequestFilters) ([]*model.ServiceRequest, error) {
	return s.repo.List(ctx, filters)
}

// Accept runs the exclusive PENDING -> ACCEPTED transition. Exactly one
// concurrent caller wins; the rest get a RaceLoss they can distinguish
// from validation failures.
func (s *Service) Accept(ctx context.Context, requestID uuid.UUID, identity model.ProviderIdentity) (*model.ServiceRequest, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RequestStatusPending {
		if req.Status == model.RequestStatusAccepted || req.Status == model.RequestStatusInProgress {
			return nil, s.alreadyAccepted(req)
		}
		return nil, apperrors.InvalidTransition(string(req.Status), string(model.RequestStatusAccepted))
	}

	eligible, err := s.eligibility.IsEligible(ctx, identity, req)
	if err != nil {
		return nil, fmt.Errorf("eligibility check failed: %w", err)
	}
	if !eligible {
		return nil, apperrors.NotEligible("provider is not eligible for this request")
	}

	resolution, err := s.resolver.ResolveProvider(ctx, req, identity)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	evt := event.New(model.EventRequestAccepted, map[string]interface{}{
		"request_id":  requestID,
		"provider_id": resolution.ProviderID,
		"firm_id":     resolution.FirmID,
	})
	won, err := s.repo.Accept(ctx, requestID, resolution.ProviderID, resolution.FirmID, now, evt)
	if err != nil {
		return nil, fmt.Errorf("failed to accept request: %w", err)
	}
	if !won {
		s.countLost("request", "accept")
		// Zero rows affected: either another actor won or the row is gone.
		// Re-read to tell the two apart.
		current, getErr := s.repo.Get(ctx, requestID)
		if errors.Is(getErr, repository.ErrNotFound) {
			return nil, apperrors.NotFound("service request", getErr)
		}
		if getErr != nil {
			return nil, getErr
		}
		return nil, s.alreadyAccepted(current)
	}
	s.countWon("request", "accept")

	if resolution.FirmID != nil {
		if err := s.providers.AdjustMemberLoad(ctx, *resolution.FirmID, resolution.ProviderID, 1); err != nil {
			s.logger.Error(err, "failed to bump member workload",
				"request_id", requestID.String(), "member_id", resolution.ProviderID.String())
		}
	}

	s.logger.Info("request accepted",
		"request_id", requestID.String(), "provider_id", resolution.ProviderID.String())
	return s.Get(ctx, requestID)
}

func (s *Service) alreadyAccepted(req *model.ServiceRequest) *apperrors.AppError {
	details := map[string]interface{}{"request_id": req.ID, "status": req.Status}
	if req.ProviderID != nil {
		details["provider_id"] = *req.ProviderID
	}
	return apperrors.RaceLoss("request already accepted by another provider", details)
}

// Reject moves a PENDING request to CANCELLED. The source system does not
// reopen rejected requests for reassignment; see DESIGN.md.
func (s *Service) Reject(ctx context.Context, requestID uuid.UUID, identity model.ProviderIdentity, reason string) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != model.RequestStatusPending {
		return apperrors.InvalidTransition(string(req.Status), string(model.RequestStatusCancelled))
	}

	eligible, err := s.eligibility.IsEligible(ctx, identity, req)
	if err != nil {
		return fmt.Errorf("eligibility check failed: %w", err)
	}
	if !eligible {
		return apperrors.NotEligible("provider is not eligible for this request")
	}

	evt := event.New(model.EventRequestRejected, map[string]interface{}{
		"request_id":  requestID,
		"provider_id": identity.ProviderID,
		"reason":      reason,
	})
	won, err := s.repo.Cancel(ctx, requestID, model.RequestStatusPending, reason, time.Now(), evt)
	if err != nil {
		return fmt.Errorf("failed to reject request: %w", err)
	}
	if !won {
		return s.transitionLost(ctx, requestID, model.RequestStatusCancelled)
	}
	s.countWon("request", "reject")
	return nil
}

// Start moves ACCEPTED -> IN_PROGRESS, bound provider only.
func (s *Service) Start(ctx context.Context, requestID uuid.UUID, identity model.ProviderIdentity) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.requireBoundProvider(req, identity); err != nil {
		return err
	}
	if req.Status != model.RequestStatusAccepted {
		return apperrors.InvalidTransition(string(req.Status), string(model.RequestStatusInProgress))
	}

	evt := event.New(model.EventRequestStarted, map[string]interface{}{"request_id": requestID})
	won, err := s.repo.Transition(ctx, requestID, model.RequestStatusAccepted, model.RequestStatusInProgress, time.Now(), evt)
	if err != nil {
		return fmt.Errorf("failed to start request: %w", err)
	}
	if !won {
		return s.transitionLost(ctx, requestID, model.RequestStatusInProgress)
	}
	s.countWon("request", "start")
	return nil
}

// Complete moves IN_PROGRESS -> COMPLETED. Completion does not move money;
// escrow release waits for a review or the scheduler.
func (s *Service) Complete(ctx context.Context, requestID uuid.UUID, identity model.ProviderIdentity) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.requireBoundProvider(req, identity); err != nil {
		return err
	}
	if req.Status != model.RequestStatusInProgress {
		return apperrors.InvalidTransition(string(req.Status), string(model.RequestStatusCompleted))
	}

	evt := event.New(model.EventRequestCompleted, map[string]interface{}{"request_id": requestID})
	won, err := s.repo.Transition(ctx, requestID, model.RequestStatusInProgress, model.RequestStatusCompleted, time.Now(), evt)
	if err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}
	if !won {
		return s.transitionLost(ctx, requestID, model.RequestStatusCompleted)
	}
	s.countWon("request", "complete")

	s.releaseWorkload(ctx, req)
	return nil
}

// Cancel terminalizes a request from any non-terminal state. An in-flight
// payment is marked REFUND_PENDING; executing the refund stays an
// administrative action.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID, reason string) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if !s.mayCancel(req, actorID) {
		return apperrors.Forbidden("only the client or the bound provider may cancel")
	}

	// The guard is the status read; retry once if a concurrent transition
	// moved the request between our read and the conditional update.
	for attempt := 0; attempt < 2; attempt++ {
		if req.Status.IsTerminal() {
			return apperrors.InvalidTransition(string(req.Status), string(model.RequestStatusCancelled))
		}

		evt := event.New(model.EventRequestCancelled, map[string]interface{}{
			"request_id": requestID,
			"actor_id":   actorID,
			"reason":     reason,
		})
		won, err := s.repo.Cancel(ctx, requestID, req.Status, reason, time.Now(), evt)
		if err != nil {
			return fmt.Errorf("failed to cancel request: %w", err)
		}
		if won {
			s.countWon("request", "cancel")
			s.flagRefund(ctx, requestID)
			s.releaseWorkload(ctx, req)
			return nil
		}

		req, err = s.Get(ctx, requestID)
		if err != nil {
			return err
		}
	}
	return apperrors.InvalidTransition(string(req.Status), string(model.RequestStatusCancelled))
}

// flagRefund marks any active payment for manual refund handling.
func (s *Service) flagRefund(ctx context.Context, requestID uuid.UUID) {
	payment, err := s.payments.GetActiveByRequest(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error(err, "failed to look up payment on cancel", "request_id", requestID.String())
		return
	}

	evt := event.New(model.EventPaymentRefundPending, map[string]interface{}{
		"payment_id": payment.ID,
		"request_id": requestID,
	})
	if _, err := s.payments.MarkRefundPending(ctx, payment.ID, evt); err != nil {
		s.logger.Error(err, "failed to flag payment for refund", "payment_id", payment.ID.String())
	}
}

func (s *Service) releaseWorkload(ctx context.Context, req *model.ServiceRequest) {
	if req.FirmID == nil || req.ProviderID == nil {
		return
	}
	if err := s.providers.AdjustMemberLoad(ctx, *req.FirmID, *req.ProviderID, -1); err != nil {
		s.logger.Error(err, "failed to release member workload", "request_id", req.ID.String())
	}
}

func (s *Service) requireBoundProvider(req *model.ServiceRequest, identity model.ProviderIdentity) error {
	if req.ProviderID == nil || *req.ProviderID != identity.ProviderID {
		return apperrors.Forbidden("only the bound provider may act on this request")
	}
	return nil
}

func (s *Service) mayCancel(req *model.ServiceRequest, actorID uuid.UUID) bool {
	if req.ClientID == actorID {
		return true
	}
	return req.ProviderID != nil && *req.ProviderID == actorID
}

// transitionLost re-reads after a zero-row conditional update and maps the
// outcome to NotFound or InvalidTransition.
func (s *Service) transitionLost(ctx context.Context, requestID uuid.UUID, wanted model.RequestStatus) error {
	s.countLost("request", string(wanted))
	current, err := s.repo.Get(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("service request", err)
	}
	if err != nil {
		return err
	}
	return apperrors.InvalidTransition(string(current.Status), string(wanted))
}

func (s *Service) countWon(entity, transition string) {
	if s.metrics != nil {
		s.metrics.TransitionsWon.WithLabelValues(entity, transition).Inc()
	}
}

func (s *Service) countLost(entity, transition string) {
	if s.metrics != nil {
		s.metrics.TransitionsLost.WithLabelValues(entity, transition).Inc()
	}
}
