package services

import "errors"

var (
	// ErrValidation marks malformed input to a core operation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced user, quest or assignment that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks already-completed or already-claimed state.
	ErrConflict = errors.New("conflict")
	// ErrDuplicateRequest is returned when an idempotency key was already used.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrInsufficientPetals is returned when a spend exceeds the balance.
	ErrInsufficientPetals = errors.New("insufficient petals")
)
