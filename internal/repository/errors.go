package repository

import "errors"

// Sentinel errors surfaced by repositories. Services map them onto the
// application error taxonomy.
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicatePayment = errors.New("request already has an active payment")
	ErrDuplicateReview  = errors.New("request already has a review")
)
