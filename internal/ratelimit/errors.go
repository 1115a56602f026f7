package ratelimit

import "errors"

// ErrInvalidPattern is returned by NewPatternScreener when a configured
// path or user-agent pattern fails to compile as a regular expression.
var ErrInvalidPattern = errors.New("ratelimit: invalid pattern")

// ErrMalformedIPHeader is reported (never returned to a caller on the hot
// path) when a SingleTrustedProxy header carries more than one address.
// IpResolver maps it to UnknownIP internally; it exists so callers can log
// the condition via the onMalformed hook.
var ErrMalformedIPHeader = errors.New("ratelimit: malformed ip header")

// CallbackError wraps a failure from one of the caller-supplied
// capabilities (OnBlocked, ActionChecker). It is always logged and never
// changes an admission decision that has already been made.
type CallbackError struct {
	Capability string
	Err        error
}

func (e *CallbackError) Error() string {
	return "ratelimit: " + e.Capability + " callback failed: " + e.Err.Error()
}

func (e *CallbackError) Unwrap() error { return e.Err }
