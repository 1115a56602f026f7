package ratelimit

import (
	"net/http"
	"time"
)

// PostResponseAdjuster reads the response status and the per-request
// SecurityContext once the handler has completed, and issues a refund or
// surcharge against the client's bucket. It re-acquires the bucket through
// the same BucketRegistry the AdmissionEngine used, rather than holding
// any lock across the handler's duration.
type PostResponseAdjuster struct {
	registry *BucketRegistry
	rateCfg  RateConfig
	clock    func() time.Time
}

// AdjusterOption configures a PostResponseAdjuster at construction time.
type AdjusterOption func(*PostResponseAdjuster)

// WithAdjusterClock overrides time.Now, for deterministic tests.
func WithAdjusterClock(clock func() time.Time) AdjusterOption {
	return func(a *PostResponseAdjuster) { a.clock = clock }
}

// NewPostResponseAdjuster constructs an adjuster over registry, using
// rateCfg for the refund ratio and error penalty.
func NewPostResponseAdjuster(registry *BucketRegistry, rateCfg RateConfig, opts ...AdjusterOption) *PostResponseAdjuster {
	a := &PostResponseAdjuster{registry: registry, rateCfg: rateCfg, clock: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adjust applies the post-response cost policy:
//
//   - charged == 0 (grace or short-circuit): no-op.
//   - was_screened: no-op; screened requests always cost exactly one
//     token, regardless of response, so scanners are never double-counted
//     via both screening and the error penalty.
//   - 304: refund cache_refund_ratio tokens.
//   - 4xx/5xx: surcharge error_penalty tokens.
//   - otherwise: no-op; the upfront charge stands as the effective cost.
func (a *PostResponseAdjuster) Adjust(sc *SecurityContext, statusCode int) {
	if sc == nil || sc.Charged == 0 {
		return
	}
	if sc.WasScreened {
		return
	}

	now := a.clock()
	bucket := a.registry.GetOrCreate(sc.IPAddress, now)

	switch {
	case statusCode == http.StatusNotModified:
		bucket.Adjust(now, a.rateCfg.CacheRefundRatio())
	case statusCode >= 400:
		bucket.Adjust(now, -a.rateCfg.ErrorPenalty())
	}
}
