package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	"github.com/caconnect/market-api/internal/service/event"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/logger"
	"github.com/caconnect/market-api/pkg/metrics"
)

// Service guards availability slots. Booking is a single flip of is_booked
// from false to true; concurrent bookings of the same slot produce exactly
// one winner.
type Service struct {
	slots    repository.SlotRepository
	requests repository.RequestRepository
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(slots repository.SlotRepository, requests repository.RequestRepository, logger *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		slots:    slots,
		requests: requests,
		logger:   logger.WithComponent("booking"),
		metrics:  m,
	}
}

// CreateSlot publishes a provider availability window.
func (s *Service) CreateSlot(ctx context.Context, input *model.CreateSlotInput) (*model.AvailabilitySlot, error) {
	if !input.EndTime.After(input.StartTime) {
		return nil, apperrors.Validation("end_time must be after start_time", nil)
	}
	if input.StartTime.Before(time.Now()) {
		return nil, apperrors.Validation("slot must be in the future", nil)
	}

	slot := &model.AvailabilitySlot{
		ProviderID: input.ProviderID,
		Date:       input.Date,
		StartTime:  input.StartTime,
		EndTime:    input.EndTime,
	}
	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, fmt.Errorf("failed to create slot: %w", err)
	}
	return slot, nil
}

func (s *Service) ListSlots(ctx context.Context, providerID uuid.UUID, from time.Time) ([]*model.AvailabilitySlot, error) {
	return s.slots.ListByProvider(ctx, providerID, from)
}

// Book reserves a slot for a request. On a race loss the error carries who
// holds the slot so the client can pick another one.
func (s *Service) Book(ctx context.Context, slotID, requestID, clientID uuid.UUID) (*model.AvailabilitySlot, error) {
	slot, err := s.getSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.StartTime.Before(time.Now()) {
		return nil, apperrors.Validation("slot is in the past", nil).WithDetails(map[string]interface{}{
			"slot_id":    slotID,
			"start_time": slot.StartTime,
		})
	}
	if slot.IsBooked {
		return nil, s.alreadyBooked(slot)
	}

	req, err := s.requests.Get(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("service request", err)
	}
	if err != nil {
		return nil, err
	}
	if req.ClientID != clientID {
		return nil, apperrors.Forbidden("only the request owner may book a slot")
	}
	if req.Status.IsTerminal() {
		return nil, apperrors.InvalidTransition(string(req.Status), "slot booking")
	}

	evt := event.New(model.EventSlotBooked, map[string]interface{}{
		"slot_id":     slotID,
		"request_id":  requestID,
		"provider_id": slot.ProviderID,
	})
	won, err := s.slots.Book(ctx, slotID, requestID, evt)
	if err != nil {
		return nil, fmt.Errorf("failed to book slot: %w", err)
	}
	if !won {
		if s.metrics != nil {
			s.metrics.TransitionsLost.WithLabelValues("slot", "book").Inc()
		}
		current, getErr := s.getSlot(ctx, slotID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, s.alreadyBooked(current)
	}
	if s.metrics != nil {
		s.metrics.TransitionsWon.WithLabelValues("slot", "book").Inc()
	}

	if err := s.requests.BindSlot(ctx, requestID, slotID); err != nil {
		s.logger.Error(err, "failed to bind slot to request",
			"slot_id", slotID.String(), "request_id", requestID.String())
	}

	s.logger.Info("slot booked", "slot_id", slotID.String(), "request_id", requestID.String())
	return s.getSlot(ctx, slotID)
}

func (s *Service) getSlot(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	slot, err := s.slots.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("availability slot", err)
	}
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (s *Service) alreadyBooked(slot *model.AvailabilitySlot) *apperrors.AppError {
	details := map[string]interface{}{"slot_id": slot.ID}
	if slot.BookedBy != nil {
		details["booked_by"] = *slot.BookedBy
	}
	return apperrors.RaceLoss("slot already booked", details)
}
