package model

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilitySlot is a provider's bookable time window. IsBooked flips
// false to true exactly once; BookedBy records the winning request.
type AvailabilitySlot struct {
	Base
	ProviderID uuid.UUID  `db:"provider_id" json:"provider_id"`
	Date       time.Time  `db:"slot_date" json:"date"`
	StartTime  time.Time  `db:"start_time" json:"start_time"`
	EndTime    time.Time  `db:"end_time" json:"end_time"`
	IsBooked   bool       `db:"is_booked" json:"is_booked"`
	BookedBy   *uuid.UUID `db:"booked_by" json:"booked_by,omitempty"`
}

type CreateSlotInput struct {
	ProviderID uuid.UUID `json:"provider_id" validate:"required"`
	Date       time.Time `json:"date" validate:"required"`
	StartTime  time.Time `json:"start_time" validate:"required"`
	EndTime    time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

type BookSlotInput struct {
	SlotID    uuid.UUID `json:"slot_id" validate:"required"`
	RequestID uuid.UUID `json:"request_id" validate:"required"`
}
