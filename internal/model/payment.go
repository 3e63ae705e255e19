package model

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusProcessing    PaymentStatus = "PROCESSING"
	PaymentStatusEscrowHeld    PaymentStatus = "ESCROW_HELD"
	PaymentStatusReleased      PaymentStatus = "RELEASED"
	PaymentStatusDistributed   PaymentStatus = "DISTRIBUTED"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusRefundPending PaymentStatus = "REFUND_PENDING"
	PaymentStatusRefunded      PaymentStatus = "REFUNDED"
)

// Platform fee percentages by provider type.
const (
	IndividualFeePercent = 10.0
	FirmFeePercent       = 15.0
)

// DefaultHoldPeriod is how long escrowed funds are held before the scheduler
// may release them without a client review.
const DefaultHoldPeriod = 7 * 24 * time.Hour

// NonTerminalPaymentStatuses are the statuses counted by the at-most-one
// active payment invariant. The partial unique index on payments mirrors
// this list.
var NonTerminalPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusEscrowHeld,
	PaymentStatusRefundPending,
}

// IsTerminal reports whether the payment admits no further transitions.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusReleased, PaymentStatusDistributed, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Payment is the escrow ledger entry for one service request.
type Payment struct {
	Base
	RequestID          uuid.UUID     `db:"request_id" json:"request_id"`
	AmountCents        int64         `db:"amount_cents" json:"amount_cents"`
	PlatformFeePercent float64       `db:"platform_fee_percent" json:"platform_fee_percent"`
	PlatformFeeCents   int64         `db:"platform_fee_cents" json:"platform_fee_cents"`
	ProviderCents      int64         `db:"provider_cents" json:"provider_cents"`
	Status             PaymentStatus `db:"status" json:"status"`
	GatewayOrderRef    string        `db:"gateway_order_ref" json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef  *string       `db:"gateway_payment_ref" json:"gateway_payment_ref,omitempty"`
	SignatureVerified  bool          `db:"signature_verified" json:"signature_verified"`
	IdempotencyKey     string        `db:"idempotency_key" json:"-"`
	EscrowHeldAt       *time.Time    `db:"escrow_held_at" json:"escrow_held_at,omitempty"`
	AutoReleaseAt      *time.Time    `db:"auto_release_at" json:"auto_release_at,omitempty"`
	ReleasedAt         *time.Time    `db:"released_at" json:"released_at,omitempty"`
	ReleaseTrigger     *string       `db:"release_trigger" json:"release_trigger,omitempty"`
	DistributionID     *uuid.UUID    `db:"distribution_id" json:"distribution_id,omitempty"`
}

// Release triggers recorded on the payment row.
const (
	ReleaseTriggerReview   = "review"
	ReleaseTriggerSchedule = "schedule"
)

// FeePercentFor returns the platform fee percentage for a provider type.
func FeePercentFor(pt ProviderType) float64 {
	if pt == ProviderTypeFirm {
		return FirmFeePercent
	}
	return IndividualFeePercent
}

// SplitAmount computes the platform fee and provider share in cents. The
// provider share absorbs any rounding remainder so the two always sum to
// the full amount.
func SplitAmount(amountCents int64, feePercent float64) (feeCents, providerCents int64) {
	feeCents = int64(float64(amountCents) * feePercent / 100.0)
	providerCents = amountCents - feeCents
	return feeCents, providerCents
}

type CreatePaymentOrderInput struct {
	RequestID   uuid.UUID `json:"request_id" validate:"required"`
	AmountCents int64     `json:"amount_cents" validate:"required,gt=0"`
}

type VerifyPaymentInput struct {
	PaymentID         uuid.UUID `json:"payment_id" validate:"required"`
	GatewayPaymentRef string    `json:"gateway_payment_ref" validate:"required"`
	Signature         string    `json:"signature" validate:"required"`
}
