package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/gateway"
	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	"github.com/caconnect/market-api/internal/service/event"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/logger"
	"github.com/caconnect/market-api/pkg/metrics"
)

// DistributionBuilder validates and prices a firm payout split.
type DistributionBuilder interface {
	BuildDistribution(ctx context.Context, input model.BuildDistributionInput, providerCents int64) (*model.PaymentDistribution, error)
}

// Service is the escrow ledger. Money moves only through guarded
// transitions: hold on verified capture, release on review or schedule,
// credit each firm share exactly once.
type Service struct {
	payments      repository.PaymentRepository
	requests      repository.RequestRepository
	distributions repository.DistributionRepository
	gateway       gateway.Client
	builder       DistributionBuilder
	events        *event.Service
	holdPeriod    time.Duration
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

func NewService(
	payments repository.PaymentRepository,
	requests repository.RequestRepository,
	distributions repository.DistributionRepository,
	gw gateway.Client,
	builder DistributionBuilder,
	events *event.Service,
	holdPeriod time.Duration,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if holdPeriod <= 0 {
		holdPeriod = model.DefaultHoldPeriod
	}
	return &Service{
		payments:      payments,
		requests:      requests,
		distributions: distributions,
		gateway:       gw,
		builder:       builder,
		events:        events,
		holdPeriod:    holdPeriod,
		logger:        logger.WithComponent("escrow"),
		metrics:       m,
	}
}

// CreateOrder opens a payment for an accepted request and registers the
// order with the gateway. The gateway call happens before the insert and
// outside any row lock; the per-request idempotency key makes a retry after
// a partial failure safe.
func (s *Service) CreateOrder(ctx context.Context, input *model.CreatePaymentOrderInput) (*model.Payment, error) {
	req, err := s.requests.Get(ctx, input.RequestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("service request", err)
	}
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case model.RequestStatusAccepted, model.RequestStatusInProgress, model.RequestStatusCompleted:
	default:
		return nil, apperrors.InvalidTransition(string(req.Status), "payment order")
	}
	if input.AmountCents != req.AmountCents {
		return nil, apperrors.Validation("amount does not match the request", nil).WithDetails(map[string]interface{}{
			"expected_cents": req.AmountCents,
			"given_cents":    input.AmountCents,
		})
	}

	if existing, err := s.payments.GetActiveByRequest(ctx, input.RequestID); err == nil {
		return nil, apperrors.Duplicate("request already has an active payment", map[string]interface{}{
			"payment_id": existing.ID,
			"status":     existing.Status,
		})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	idempotencyKey := "req-" + input.RequestID.String()
	orderRef, err := s.gateway.CreateOrder(ctx, idempotencyKey, input.AmountCents, input.RequestID.String())
	if err != nil {
		return nil, err
	}

	feePercent := model.FeePercentFor(req.ProviderType)
	feeCents, providerCents := model.SplitAmount(input.AmountCents, feePercent)

	payment := &model.Payment{
		RequestID:          input.RequestID,
		AmountCents:        input.AmountCents,
		PlatformFeePercent: feePercent,
		PlatformFeeCents:   feeCents,
		ProviderCents:      providerCents,
		GatewayOrderRef:    orderRef,
		IdempotencyKey:     idempotencyKey,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicatePayment) {
			// Lost the insert race; the winner holds the same gateway order
			// thanks to the idempotency key.
			return nil, apperrors.Duplicate("request already has an active payment", map[string]interface{}{
				"request_id": input.RequestID,
			})
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	s.logger.Info("payment order created",
		"payment_id", payment.ID.String(), "request_id", input.RequestID.String(), "order_ref", orderRef)
	return payment, nil
}

// Verify checks the gateway callback signature and, on success, moves the
// payment into escrow. A bad signature is rejected without touching the row
// and logged as a security event.
func (s *Service) Verify(ctx context.Context, input *model.VerifyPaymentInput) (*model.Payment, error) {
	payment, err := s.getPayment(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}

	if !s.gateway.VerifySignature(payment.GatewayOrderRef, input.GatewayPaymentRef, input.Signature) {
		if s.metrics != nil {
			s.metrics.SignatureFailures.Inc()
		}
		s.logger.SecurityEvent("payment signature rejected",
			"payment_id", payment.ID.String(),
			"order_ref", payment.GatewayOrderRef,
			"payment_ref", input.GatewayPaymentRef)
		if s.events != nil {
			s.events.Emit(ctx, model.EventSignatureRejected, map[string]interface{}{
				"payment_id":  payment.ID,
				"order_ref":   payment.GatewayOrderRef,
				"payment_ref": input.GatewayPaymentRef,
			})
		}
		return nil, apperrors.SignatureInvalid(payment.ID.String())
	}

	if payment.Status == model.PaymentStatusEscrowHeld {
		// Repeated callback for an already-held payment is a no-op.
		return payment, nil
	}

	now := time.Now()
	releaseAt := now.Add(s.holdPeriod)
	evt := event.New(model.EventPaymentEscrowed, map[string]interface{}{
		"payment_id":      payment.ID,
		"request_id":      payment.RequestID,
		"amount_cents":    payment.AmountCents,
		"auto_release_at": releaseAt,
	})
	won, err := s.payments.HoldEscrow(ctx, payment.ID, input.GatewayPaymentRef, now, releaseAt, evt)
	if err != nil {
		return nil, fmt.Errorf("failed to hold escrow: %w", err)
	}
	if !won {
		current, getErr := s.getPayment(ctx, payment.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == model.PaymentStatusEscrowHeld {
			return current, nil
		}
		return nil, apperrors.InvalidTransition(string(current.Status), string(model.PaymentStatusEscrowHeld))
	}
	if s.metrics != nil {
		s.metrics.PaymentsEscrowed.Inc()
	}

	s.logger.Info("escrow held",
		"payment_id", payment.ID.String(), "auto_release_at", releaseAt.Format(time.RFC3339))
	return s.getPayment(ctx, payment.ID)
}

// MarkProcessing records the client-side callback that a gateway capture is
// in flight. Optional; Verify accepts PENDING directly.
func (s *Service) MarkProcessing(ctx context.Context, paymentID uuid.UUID) error {
	won, err := s.payments.MarkProcessing(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("failed to mark payment processing: %w", err)
	}
	if !won {
		payment, getErr := s.getPayment(ctx, paymentID)
		if getErr != nil {
			return getErr
		}
		if payment.Status == model.PaymentStatusProcessing || payment.Status == model.PaymentStatusEscrowHeld {
			return nil
		}
		return apperrors.InvalidTransition(string(payment.Status), string(model.PaymentStatusProcessing))
	}
	return nil
}

// ReleaseOnReview releases escrow because the client submitted a review.
// A firm payment with an attached payout split distributes in the same
// flow; a split still in DRAFT defers to the manual distribute call.
func (s *Service) ReleaseOnReview(ctx context.Context, requestID uuid.UUID) error {
	payment, err := s.payments.GetActiveByRequest(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("active payment", err)
	}
	if err != nil {
		return err
	}
	if err := s.release(ctx, payment, model.ReleaseTriggerReview); err != nil {
		return err
	}

	if payment.DistributionID == nil {
		return nil
	}
	if err := s.Distribute(ctx, payment.ID); err != nil {
		if apperrors.Is(err, apperrors.ErrValidation) {
			s.logger.Info("distribution not approved yet; leaving payment released",
				"payment_id", payment.ID.String())
			return nil
		}
		s.logger.Error(err, "failed to apply distribution after release",
			"payment_id", payment.ID.String())
	}
	return nil
}

// ReleaseOnSchedule releases a payment whose hold period elapsed. Called by
// the scheduler; losing the release race to a concurrent instance or a
// manual release is a clean no-op.
func (s *Service) ReleaseOnSchedule(ctx context.Context, payment *model.Payment) (bool, error) {
	err := s.release(ctx, payment, model.ReleaseTriggerSchedule)
	if err == nil {
		return true, nil
	}
	if apperrors.Is(err, apperrors.ErrRaceLoss) {
		return false, nil
	}
	return false, err
}

func (s *Service) release(ctx context.Context, payment *model.Payment, trigger string) error {
	now := time.Now()
	evt := event.New(model.EventPaymentReleased, map[string]interface{}{
		"payment_id":     payment.ID,
		"request_id":     payment.RequestID,
		"provider_cents": payment.ProviderCents,
		"trigger":        trigger,
	})
	won, err := s.payments.Release(ctx, payment.ID, trigger, now, evt)
	if err != nil {
		return fmt.Errorf("failed to release payment: %w", err)
	}
	if !won {
		current, getErr := s.getPayment(ctx, payment.ID)
		if getErr != nil {
			return getErr
		}
		if current.Status == model.PaymentStatusReleased || current.Status == model.PaymentStatusDistributed {
			return apperrors.RaceLoss("payment already released", map[string]interface{}{
				"payment_id": payment.ID,
				"trigger":    current.ReleaseTrigger,
			})
		}
		return apperrors.InvalidTransition(string(current.Status), string(model.PaymentStatusReleased))
	}
	if s.metrics != nil {
		s.metrics.PaymentsReleased.WithLabelValues(trigger).Inc()
	}

	s.logger.Info("escrow released",
		"payment_id", payment.ID.String(), "trigger", trigger)
	return nil
}

// AttachDistribution builds and persists a DRAFT payout split for a firm
// payment. The split covers the provider share only, never the platform fee.
func (s *Service) AttachDistribution(ctx context.Context, input model.BuildDistributionInput) (*model.PaymentDistribution, error) {
	payment, err := s.getPayment(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.DistributionID != nil {
		return nil, apperrors.Duplicate("payment already has a distribution", map[string]interface{}{
			"distribution_id": *payment.DistributionID,
		})
	}

	dist, err := s.builder.BuildDistribution(ctx, input, payment.ProviderCents)
	if err != nil {
		return nil, err
	}
	if err := s.distributions.Create(ctx, dist); err != nil {
		return nil, fmt.Errorf("failed to create distribution: %w", err)
	}
	if err := s.payments.SetDistribution(ctx, payment.ID, dist.ID); err != nil {
		return nil, fmt.Errorf("failed to attach distribution: %w", err)
	}
	return dist, nil
}

// ApproveDistribution moves a DRAFT split to APPROVED.
func (s *Service) ApproveDistribution(ctx context.Context, distributionID uuid.UUID) error {
	won, err := s.distributions.Approve(ctx, distributionID)
	if err != nil {
		return fmt.Errorf("failed to approve distribution: %w", err)
	}
	if !won {
		dist, getErr := s.distributions.Get(ctx, distributionID)
		if errors.Is(getErr, repository.ErrNotFound) {
			return apperrors.NotFound("distribution", getErr)
		}
		if getErr != nil {
			return getErr
		}
		return apperrors.InvalidTransition(string(dist.Status), string(model.DistributionStatusApproved))
	}
	return nil
}

// Distribute applies an approved split to a released firm payment. Each
// share credits at most once; a partial earlier run resumes where it
// stopped.
func (s *Service) Distribute(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.Status != model.PaymentStatusReleased {
		return apperrors.InvalidTransition(string(payment.Status), string(model.PaymentStatusDistributed))
	}
	if payment.DistributionID == nil {
		return apperrors.Validation("payment has no distribution attached", nil)
	}

	dist, err := s.distributions.Get(ctx, *payment.DistributionID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("distribution", err)
	}
	if err != nil {
		return err
	}
	if dist.Status == model.DistributionStatusDraft {
		return apperrors.Validation("distribution is not approved", nil).WithDetails(map[string]interface{}{
			"distribution_id": dist.ID,
			"status":          dist.Status,
		})
	}

	now := time.Now()
	credited := 0
	for _, share := range dist.Shares {
		if share.CreditedAt != nil {
			continue
		}
		won, err := s.distributions.CreditShare(ctx, share.ID, now)
		if err != nil {
			return fmt.Errorf("failed to credit share %s: %w", share.ID, err)
		}
		if won {
			credited++
		}
	}

	evt := event.New(model.EventDistributionApplied, map[string]interface{}{
		"payment_id":      payment.ID,
		"distribution_id": dist.ID,
		"firm_id":         dist.FirmID,
	})
	if _, err := s.distributions.MarkDistributed(ctx, dist.ID); err != nil {
		return fmt.Errorf("failed to mark distribution applied: %w", err)
	}
	if _, err := s.payments.MarkDistributed(ctx, payment.ID, evt); err != nil {
		return fmt.Errorf("failed to mark payment distributed: %w", err)
	}

	s.logger.Info("distribution applied",
		"payment_id", payment.ID.String(), "shares_credited", credited)
	return nil
}

// GetPayment returns a payment by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return s.getPayment(ctx, id)
}

// ListAutoReleasable returns escrowed payments whose hold period elapsed,
// locked for this instance.
func (s *Service) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	return s.payments.ListAutoReleasable(ctx, now, limit)
}

// ListStuckPending surfaces payments sitting in PENDING or PROCESSING past
// the given age, for reconciliation against the gateway.
func (s *Service) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return s.payments.ListStuckPending(ctx, olderThan, limit)
}

func (s *Service) getPayment(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	payment, err := s.payments.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("payment", err)
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}
