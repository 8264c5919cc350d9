package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every error surfaced by the chat core wraps exactly one of
// these so callers can decide how to react with errors.Is.
var (
	// ErrAuthentication covers missing, invalid, expired or revoked credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrMembership is returned when a user acts on a room they do not belong to.
	ErrMembership = errors.New("membership required")
	// ErrValidation is returned for malformed client input. No store access is attempted.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable is returned when the durable store can not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTransport is returned when the client connection is lost.
	ErrTransport = errors.New("transport error")
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound = errors.New("requested resource not found")

	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrAuthentication)
	ErrInvalidCredential = fmt.Errorf("%w: invalid or expired credential", ErrAuthentication)
	ErrRevokedCredential = fmt.Errorf("%w: revoked", ErrAuthentication)

	ErrNotMember = fmt.Errorf("%w: you are not a member of this room", ErrMembership)

	ErrEmptyMessage   = fmt.Errorf("%w: message text is empty", ErrValidation)
	ErrMessageTooLong = fmt.Errorf("%w: message text is too long", ErrValidation)
	ErrMissingRoom    = fmt.Errorf("%w: room id is required", ErrValidation)
	ErrEmptyToken     = fmt.Errorf("%w: token is empty", ErrValidation)

	ErrSessionClosed = fmt.Errorf("%w: session closed", ErrTransport)
)

// Unavailable wraps err as ErrStoreUnavailable while keeping the cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// PublicMessage returns the text that may be shown to a client for err.
// Validation and membership errors lose any operation prefix added while
// wrapping. Store and unknown failures are reduced to a generic message.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return fromClass(err, ErrValidation)
	case errors.Is(err, ErrMembership):
		return fromClass(err, ErrMembership)
	case errors.Is(err, ErrStoreUnavailable):
		return "service temporarily unavailable, please retry"
	default:
		return "internal error"
	}
}

// fromClass trims err's text to start at the class sentinel.
func fromClass(err, class error) string {
	msg := err.Error()
	if i := strings.Index(msg, class.Error()); i > 0 {
		return msg[i:]
	}
	return msg
}
