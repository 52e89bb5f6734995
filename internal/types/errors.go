package types

import "errors"

// Sentinel errors shared across services and repositories. Handlers map
// them onto HTTP statuses; services wrap them with context via %w.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrConflict        = errors.New("resource conflict")
	ErrUnauthenticated = errors.New("authentication failed")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")

	// ErrWrongProvider marks local-only operations attempted on a
	// federated account.
	ErrWrongProvider = errors.New("wrong provider")

	// ErrInvalidToken covers unknown, expired and already-consumed reset
	// tokens alike.
	ErrInvalidToken = errors.New("invalid or expired token")

	ErrPasswordMismatch = errors.New("passwords do not match")

	// ErrResolutionExhausted reports a username resolver or insert-retry
	// loop that hit its bound without settling.
	ErrResolutionExhausted = errors.New("username resolution exhausted")

	ErrAlreadyConnectedToAnotherUser = errors.New("provider account is already connected to another user")
	ErrAlreadyConnectedUsingProvider = errors.New("user is already connected using this provider")

	// ErrEvaluation marks a malformed access-policy question, as opposed
	// to a denial.
	ErrEvaluation = errors.New("authorization evaluation failed")
)
