package model

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "PENDING"
	RequestStatusAccepted   RequestStatus = "ACCEPTED"
	RequestStatusInProgress RequestStatus = "IN_PROGRESS"
	RequestStatusCompleted  RequestStatus = "COMPLETED"
	RequestStatusCancelled  RequestStatus = "CANCELLED"
)

type ProviderType string

const (
	ProviderTypeIndividual ProviderType = "INDIVIDUAL"
	ProviderTypeFirm       ProviderType = "FIRM"
)

// MaxPendingRequestsPerClient caps how many PENDING requests a client may
// hold at once. A creation-time invariant, not a transition invariant.
const MaxPendingRequestsPerClient = 3

// requestTransitions is the full set of legal status moves. COMPLETED and
// CANCELLED are terminal.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:    {RequestStatusAccepted, RequestStatusCancelled},
	RequestStatusAccepted:   {RequestStatusInProgress, RequestStatusCancelled},
	RequestStatusInProgress: {RequestStatusCompleted, RequestStatusCancelled},
}

// CanTransition reports whether from -> to is a legal request transition.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a request status admits no further transitions.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusCancelled
}

// ServiceRequest is a unit of work a client engages a provider for. It is
// never deleted, only moved to a terminal status.
type ServiceRequest struct {
	Base
	ClientID     uuid.UUID     `db:"client_id" json:"client_id"`
	ServiceType  string        `db:"service_type" json:"service_type"`
	Title        string        `db:"title" json:"title"`
	Description  string        `db:"description" json:"description,omitempty"`
	AmountCents  int64         `db:"amount_cents" json:"amount_cents"`
	ProviderType ProviderType  `db:"provider_type" json:"provider_type"`
	ProviderID   *uuid.UUID    `db:"provider_id" json:"provider_id,omitempty"`
	FirmID       *uuid.UUID    `db:"firm_id" json:"firm_id,omitempty"`
	SlotID       *uuid.UUID    `db:"slot_id" json:"slot_id,omitempty"`
	Status       RequestStatus `db:"status" json:"status"`
	CancelReason *string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	AcceptedAt   *time.Time    `db:"accepted_at" json:"accepted_at,omitempty"`
	StartedAt    *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt  *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

type AssignmentPreference string

const (
	AssignmentSpecificCA    AssignmentPreference = "SPECIFIC_CA"
	AssignmentSeniorOnly    AssignmentPreference = "SENIOR_ONLY"
	AssignmentBestAvailable AssignmentPreference = "BEST_AVAILABLE"
)

type CreateRequestInput struct {
	ClientID     uuid.UUID    `json:"client_id" validate:"required"`
	ServiceType  string       `json:"service_type" validate:"required,max=100"`
	Title        string       `json:"title" validate:"required,max=200"`
	Description  string       `json:"description" validate:"max=2000"`
	AmountCents  int64        `json:"amount_cents" validate:"required,gt=0"`
	ProviderType ProviderType `json:"provider_type" validate:"required,oneof=INDIVIDUAL FIRM"`
}

// ProviderIdentity is the acting identity on accept/reject/start/complete.
// For firm-bound requests MemberID identifies the acting firm member and
// FirmID the firm itself.
type ProviderIdentity struct {
	ProviderID uuid.UUID            `json:"provider_id"`
	FirmID     *uuid.UUID           `json:"firm_id,omitempty"`
	Preference AssignmentPreference `json:"preference,omitempty"`
}

type RequestFilters struct {
	ClientID   uuid.UUID
	ProviderID uuid.UUID
	Status     RequestStatus
}
