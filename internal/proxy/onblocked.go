package proxy

import (
	"context"

	"github.com/brinkwatch/admission-guard/internal/metrics"
	"github.com/brinkwatch/admission-guard/internal/ratelimit"
	"github.com/brinkwatch/admission-guard/internal/websocket"
)

// dashboardBroadcaster implements ratelimit.OnBlocked, feeding the block
// counter and the live dashboard feed. It never returns an error: a metrics
// increment and a best-effort broadcast cannot meaningfully fail in a way
// the caller should retry.
type dashboardBroadcaster struct {
	metrics *metrics.Metrics
	hub     *websocket.Hub
}

func (b *dashboardBroadcaster) OnBlocked(_ context.Context, ip, path string, sc *ratelimit.SecurityContext) error {
	wasBlocked := sc != nil && sc.WasBlocked
	b.metrics.RecordAdmission(false, sc != nil && sc.WasScreened, wasBlocked)

	decision := "denied"
	if wasBlocked {
		decision = "blocked"
	}

	userAgent := ""
	if sc != nil {
		userAgent = sc.UserAgent
	}
	b.hub.BroadcastEvent(websocket.Event{
		Type: websocket.EventTypeBlocked,
		Data: websocket.AdmissionEvent{
			Path:        path,
			ClientIP:    ip,
			UserAgent:   userAgent,
			WasScreened: sc != nil && sc.WasScreened,
			Decision:    decision,
		},
	})
	return nil
}

// chainedOnBlocked fans one block event out to every capability in order,
// so the Postgres audit trail and the dashboard broadcaster can both be
// attached to the same AdmissionEngine without either knowing about the
// other.
type chainedOnBlocked []ratelimit.OnBlocked

func (c chainedOnBlocked) OnBlocked(ctx context.Context, ip, path string, sc *ratelimit.SecurityContext) error {
	var firstErr error
	for _, cb := range c {
		if cb == nil {
			continue
		}
		if err := cb.OnBlocked(ctx, ip, path, sc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewOnBlocked composes the dashboard broadcaster with any number of extra
// capabilities (typically a *audit.Store), dropping nil entries.
func NewOnBlocked(m *metrics.Metrics, hub *websocket.Hub, extra ...ratelimit.OnBlocked) ratelimit.OnBlocked {
	chain := chainedOnBlocked{&dashboardBroadcaster{metrics: m, hub: hub}}
	chain = append(chain, extra...)
	return chain
}
