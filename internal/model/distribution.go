package model

import (
	"time"

	"github.com/google/uuid"
)

type DistributionStatus string

const (
	DistributionStatusDraft       DistributionStatus = "DRAFT"
	DistributionStatusApproved    DistributionStatus = "APPROVED"
	DistributionStatusDistributed DistributionStatus = "DISTRIBUTED"
)

// PercentageEpsilon bounds floating point drift when validating that share
// percentages sum to 100.
const PercentageEpsilon = 1e-6

// PaymentDistribution is the approved split of a firm payment across its
// members. The payment row owns the link (distribution_id); the
// distribution carries payment_id only as an index for reverse lookups.
type PaymentDistribution struct {
	Base
	PaymentID uuid.UUID           `db:"payment_id" json:"payment_id"`
	FirmID    uuid.UUID           `db:"firm_id" json:"firm_id"`
	Status    DistributionStatus  `db:"status" json:"status"`
	Shares    []DistributionShare `db:"-" json:"shares"`
}

// DistributionShare is one member's cut. CreditedAt doubles as the
// exactly-once marker for share application.
type DistributionShare struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	DistributionID uuid.UUID  `db:"distribution_id" json:"distribution_id"`
	MemberID       uuid.UUID  `db:"member_id" json:"member_id"`
	Percentage     float64    `db:"percentage" json:"percentage"`
	AmountCents    int64      `db:"amount_cents" json:"amount_cents"`
	CreditedAt     *time.Time `db:"credited_at" json:"credited_at,omitempty"`
}

type ShareInput struct {
	MemberID   uuid.UUID `json:"member_id" validate:"required"`
	Percentage float64   `json:"percentage" validate:"required,gt=0,lte=100"`
}

type BuildDistributionInput struct {
	FirmID    uuid.UUID    `json:"firm_id" validate:"required"`
	PaymentID uuid.UUID    `json:"payment_id" validate:"required"`
	Shares    []ShareInput `json:"shares" validate:"required,min=1,dive"`
}
