package ratelimit

import (
	"context"
	"time"
)

// OnBlocked is invoked when a request is rejected, either because it
// tripped the limit (Denied) or because it arrived inside an existing
// block window (Blocked). It is expected to be side-effecting (logging, a
// persistent audit record) and may be slow. AdmissionEngine fires it in
// its own goroutine (see Admit) so a slow implementation never delays the
// block response; an error it returns is wrapped as a CallbackError,
// logged, and otherwise ignored.
type OnBlocked interface {
	OnBlocked(ctx context.Context, ip, path string, sc *SecurityContext) error
}

// OnBlockedFunc adapts a plain function to OnBlocked.
type OnBlockedFunc func(ctx context.Context, ip, path string, sc *SecurityContext) error

func (f OnBlockedFunc) OnBlocked(ctx context.Context, ip, path string, sc *SecurityContext) error {
	return f(ctx, ip, path, sc)
}

// ActionChecker is consulted by application-level code, never by the core
// on the admission path, to implement per-action limits that supplement
// the token bucket (e.g. "at most one password reset in 10 minutes").
// AdmissionEngine carries a reference to one but never calls it itself.
type ActionChecker interface {
	CheckRecentAction(ctx context.Context, ip, action string, within time.Duration) (bool, error)
}

// ActionCheckerFunc adapts a plain function to ActionChecker.
type ActionCheckerFunc func(ctx context.Context, ip, action string, within time.Duration) (bool, error)

func (f ActionCheckerFunc) CheckRecentAction(ctx context.Context, ip, action string, within time.Duration) (bool, error) {
	return f(ctx, ip, action, within)
}
