package model

// Domain event types emitted to the notification dispatcher. Delivery is
// fire-and-forget; a failed publish never rolls back the transition that
// produced the event.
const (
	EventRequestCreated       = "request.created"
	EventRequestAccepted      = "request.accepted"
	EventRequestRejected      = "request.rejected"
	EventRequestStarted       = "request.started"
	EventRequestCompleted     = "request.completed"
	EventRequestCancelled     = "request.cancelled"
	EventSlotBooked           = "slot.booked"
	EventReviewSubmitted      = "review.submitted"
	EventPaymentEscrowed      = "payment.escrowed"
	EventPaymentReleased      = "payment.released"
	EventPaymentRefundPending = "payment.refund_pending"
	EventDistributionApplied  = "distribution.applied"
	EventSignatureRejected    = "payment.signature_rejected"
)
