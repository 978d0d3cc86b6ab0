package marketdata

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure. Kinds travel across the wire in
// response errors, so their values are part of the protocol.
type Kind string

const (
	KindInvalidSymbol    Kind = "invalid_symbol"
	KindRateLimited      Kind = "rate_limited"
	KindUnavailable      Kind = "unavailable"
	KindMalformed        Kind = "malformed"
	KindInvalidTimeRange Kind = "invalid_time_range"
)

// Error is a structured provider failure. Provider errors are surfaced to
// the caller as response payloads and are never cached.
type Error struct {
	Kind    Kind
	Symbol  string
	Message string
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Symbol)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a provider error of the given kind.
func NewError(kind Kind, symbol, format string, args ...any) *Error {
	return &Error{Kind: kind, Symbol: symbol, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind extracts the provider error kind from err, if any.
func ErrorKind(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// IsInvalidSymbol reports whether err is an invalid-symbol provider error.
func IsInvalidSymbol(err error) bool {
	kind, ok := ErrorKind(err)
	return ok && kind == KindInvalidSymbol
}

// IsRateLimited reports whether err is a rate-limit provider error.
func IsRateLimited(err error) bool {
	kind, ok := ErrorKind(err)
	return ok && kind == KindRateLimited
}

// IsUnavailable reports whether err is an upstream-unavailable provider
// error.
func IsUnavailable(err error) bool {
	kind, ok := ErrorKind(err)
	return ok && kind == KindUnavailable
}
