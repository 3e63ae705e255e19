package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caconnect/market-api/internal/model"
	"github.com/caconnect/market-api/internal/repository"
	"github.com/caconnect/market-api/pkg/logger"
)

// New builds an outbox event for a domain payload. Repositories persist it
// inside the same transaction as the transition it describes.
func New(eventType string, payload interface{}) *model.OutboxEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are our own structs; a marshal failure is a programming
		// error. Keep the event with an empty body rather than dropping it.
		data = []byte("{}")
	}
	return &model.OutboxEvent{
		EventType: eventType,
		Payload:   data,
	}
}

// Service emits events outside a repository transaction, for signals that
// have no accompanying state change (security audit events).
type Service struct {
	outbox repository.OutboxRepository
	logger *logger.Logger
}

func NewService(outbox repository.OutboxRepository, logger *logger.Logger) *Service {
	return &Service{outbox: outbox, logger: logger}
}

// Emit writes a standalone outbox event. Failure is logged, never
// propagated: event delivery must not fail the caller's operation.
func (s *Service) Emit(ctx context.Context, eventType string, payload interface{}) {
	evt := New(eventType, payload)
	if err := s.outbox.Create(ctx, evt); err != nil {
		s.logger.Error(fmt.Errorf("failed to persist event: %w", err), "dropping event",
			"event_type", eventType)
	}
}
