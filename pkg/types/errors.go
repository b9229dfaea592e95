package types

import "errors"

// Error kinds surfaced by the core. Realtime handlers map these to an
// `error` event; the HTTP surface maps them to status codes.
var (
	ErrValidation        = errors.New("invalid payload")
	ErrForbidden         = errors.New("forbidden")
	ErrSessionInactive   = errors.New("session is not active")
	ErrBadReconnectToken = errors.New("reconnect token mismatch")
)
