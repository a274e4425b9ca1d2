package service

import (
	"context"
	"errors"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrPersonNotFound      = errors.New("person not found")
	ErrCardNotFound        = errors.New("card not found")
	ErrTokenNotFound       = errors.New("qr token not found")
	ErrSystemBlockConflict = errors.New("person is blocked by a system process")
	ErrDuplicateCard       = errors.New("card number already registered")
	ErrTerminalCardStatus  = errors.New("card is in a terminal status")
	ErrBindingConflict     = errors.New("external employee id is bound to another person")
	ErrFeatureDisabled     = errors.New("feature disabled")
	ErrMissingSecret       = errors.New("qr signing key not configured")
)

// Webdel gate errors.
var (
	ErrWebdelDisabled = errors.New("webdel integration disabled")
	// ErrWebdelMisconfigured means the integration is on but has no
	// credentials to check callers against.
	ErrWebdelMisconfigured = errors.New("webdel credentials not configured")
	ErrIPNotAllowed   = errors.New("caller ip not allowed")
	ErrBadCredentials = errors.New("invalid credentials")
)

// ErrorCode maps an error to the stable machine code used in API responses
// and audit records.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrPersonNotFound):
		return "person_not_found"
	case errors.Is(err, ErrCardNotFound):
		return "card_not_found"
	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrSystemBlockConflict):
		return "system_block_conflict"
	case errors.Is(err, ErrDuplicateCard):
		return "duplicate_card"
	case errors.Is(err, ErrTerminalCardStatus):
		return "terminal_card_status"
	case errors.Is(err, ErrBindingConflict):
		return "binding_conflict"
	case errors.Is(err, ErrFeatureDisabled):
		return "feature_disabled"
	case errors.Is(err, ErrWebdelDisabled):
		return "webdel_disabled"
	case errors.Is(err, ErrWebdelMisconfigured):
		return "webdel_misconfigured"
	case errors.Is(err, ErrIPNotAllowed):
		return "ip_not_allowed"
	case errors.Is(err, ErrBadCredentials):
		return "invalid_credentials"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal_error"
}
