package services

import "errors"

// Expected states, not exceptions. Handlers map these onto the HTTP taxonomy.
var (
	ErrNotFound        = errors.New("not found")
	ErrGone            = errors.New("link expired or deleted")
	ErrPaymentRequired = errors.New("payment required")
	ErrForbidden       = errors.New("forbidden")
	ErrBadSignature    = errors.New("invalid webhook signature")
	ErrValidation      = errors.New("invalid input")
	ErrCodeTaken       = errors.New("code already taken")
)
