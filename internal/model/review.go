package model

import (
	"github.com/google/uuid"
)

// Review is a client's rating of a completed request. Exactly one per
// request; its creation is one of the two escrow release triggers.
type Review struct {
	Base
	RequestID uuid.UUID `db:"request_id" json:"request_id"`
	ClientID  uuid.UUID `db:"client_id" json:"client_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment,omitempty"`
}

type SubmitReviewInput struct {
	RequestID uuid.UUID `json:"request_id" validate:"required"`
	ClientID  uuid.UUID `json:"client_id" validate:"required"`
	Rating    int       `json:"rating" validate:"required,min=1,max=5"`
	Comment   string    `json:"comment" validate:"max=2000"`
}
