package domain

import "errors"

var (
	ErrSerializationFailure  = errors.New("serialization failure")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInvalidInput          = errors.New("invalid input")
	ErrEventNotPayable       = errors.New("event is not payable")
	ErrDuplicatePendingOrder = errors.New("a pending order already exists for this event")
	ErrAlreadyRegistered     = errors.New("already registered for this event")
	ErrRegistrationClosed    = errors.New("registration is closed for this event")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
)
