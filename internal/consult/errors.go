package consult

import (
	"errors"

	"consult-platform/internal/participant"
	"consult-platform/internal/wallet"
)

// Error taxonomy shared by every real-time operation. Wrap with fmt.Errorf("%w: ...")
// to add a human-readable reason; classify with errors.Is or Code.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrUnavailable       = errors.New("unavailable")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidSession    = errors.New("invalid session")
	ErrExpired           = errors.New("expired")
)

// Code maps err to a stable wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound), errors.Is(err, participant.ErrNotFound), errors.Is(err, wallet.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, wallet.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "internal"
	}
}
