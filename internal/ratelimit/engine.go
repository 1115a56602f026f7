package ratelimit

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/logger"
)

// Decision is the outcome of AdmissionEngine.Admit.
type Decision int

const (
	// DecisionAdmit means the request should be passed to the downstream
	// handler.
	DecisionAdmit Decision = iota
	// DecisionBlock means the request must be short-circuited with a
	// block response; the downstream handler must not run.
	DecisionBlock
)

// Admission is the result of admitting one request.
type Admission struct {
	Decision Decision
	Context  *SecurityContext
	// RetryAfter is populated on DecisionBlock with the time remaining
	// until the bucket's block window clears. It is zero if the bucket
	// has no live block deadline to report (e.g. a Denied decision on a
	// bucket whose block duration is itself zero).
	RetryAfter time.Duration
}

// defaultBlockStatusCode is written on block responses unless the caller
// overrides it.
const defaultBlockStatusCode = http.StatusTooManyRequests

// AdmissionEngine orchestrates screening, bucket lookup, grace/block
// evaluation, and the upfront token charge for one request. It does not
// mutate shared state directly: every Bucket access goes through its
// BucketRegistry.
type AdmissionEngine struct {
	registry      *BucketRegistry
	screener      *PatternScreener
	resolver      IpResolver
	rateCfg       RateConfig
	onBlocked     OnBlocked
	actionChecker ActionChecker
	blockStatus   int
	clock         func() time.Time
	log           *logger.Logger
}

// EngineOption configures an AdmissionEngine at construction time.
type EngineOption func(*AdmissionEngine)

// WithOnBlocked installs the OnBlocked capability.
func WithOnBlocked(cb OnBlocked) EngineOption {
	return func(e *AdmissionEngine) { e.onBlocked = cb }
}

// WithActionChecker installs the ActionChecker capability on the engine.
// Admit never calls it: the engine only carries the capability so
// application handlers mounted behind the upstream can reach it via
// ActionChecker() for their own per-action limits.
func WithActionChecker(c ActionChecker) EngineOption {
	return func(e *AdmissionEngine) { e.actionChecker = c }
}

// WithBlockStatusCode overrides the default 429 block response code.
func WithBlockStatusCode(code int) EngineOption {
	return func(e *AdmissionEngine) { e.blockStatus = code }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *AdmissionEngine) { e.clock = clock }
}

// WithLogger attaches a logger used for MalformedIpHeader and
// CallbackError reporting.
func WithLogger(log *logger.Logger) EngineOption {
	return func(e *AdmissionEngine) { e.log = log }
}

// NewAdmissionEngine constructs an engine over registry and screener, using
// resolver to extract client IPs and rateCfg for the grace-window check.
func NewAdmissionEngine(registry *BucketRegistry, screener *PatternScreener, resolver IpResolver, rateCfg RateConfig, opts ...EngineOption) *AdmissionEngine {
	e := &AdmissionEngine{
		registry:    registry,
		screener:    screener,
		resolver:    resolver,
		rateCfg:     rateCfg,
		blockStatus: defaultBlockStatusCode,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BlockStatusCode returns the status code Admit's caller should write on a
// DecisionBlock.
func (e *AdmissionEngine) BlockStatusCode() int { return e.blockStatus }

// ActionChecker returns the capability installed by WithActionChecker, or
// nil if none was configured. Admit never consults it; it is exposed here
// so application handlers downstream of the upstream can.
func (e *AdmissionEngine) ActionChecker() ActionChecker { return e.actionChecker }

// Admit runs the admission sequence: resolve IP, build the
// SecurityContext, look up the bucket, decide grace vs. charge, and try
// the consume. It never blocks on I/O and never returns an error: the
// caller always gets either DecisionAdmit or DecisionBlock.
func (e *AdmissionEngine) Admit(r *http.Request) Admission {
	ip := e.resolver.Resolve(r, e.logMalformedHeader)
	userAgent := r.UserAgent()
	path := r.URL.Path

	sc := &SecurityContext{
		IPAddress:   ip,
		UserAgent:   userAgent,
		WasScreened: e.screener.IsMalicious(path, userAgent),
	}

	now := e.clock()
	bucket := e.registry.GetOrCreate(ip, now)

	cost := 1.0
	if !now.After(bucket.FirstSeen().Add(e.rateCfg.GracePeriod())) {
		cost = 0.0
	}

	switch result := bucket.TryConsume(now, cost); result {
	case Admitted:
		sc.Charged = cost
		return Admission{Decision: DecisionAdmit, Context: sc}

	default: // Denied or Blocked
		sc.Charged = 0
		sc.WasBlocked = result == Blocked
		retryAfter := time.Duration(0)
		if until, blocked := bucket.BlockedUntil(now); blocked {
			retryAfter = until.Sub(now)
		}
		e.fireOnBlocked(r.Context(), ip, path, sc)
		return Admission{Decision: DecisionBlock, Context: sc, RetryAfter: retryAfter}
	}
}

// fireOnBlocked invokes the OnBlocked capability in its own goroutine so a
// slow or misbehaving implementation never delays the block response this
// request already committed to sending.
func (e *AdmissionEngine) fireOnBlocked(ctx context.Context, ip, path string, sc *SecurityContext) {
	if e.onBlocked == nil {
		return
	}
	cb := e.onBlocked
	log := e.log
	// Detached from ctx's cancellation: the request's own context is
	// normally canceled the instant the handler returns and the block
	// response is written, which would race a slow OnBlocked callback.
	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Warn("on_blocked callback panicked", zap.Any("recover", r))
			}
		}()
		if err := cb.OnBlocked(detached, ip, path, sc); err != nil && log != nil {
			log.Warn("on_blocked callback failed", zap.Error(&CallbackError{Capability: "OnBlocked", Err: err}))
		}
	}()
}

func (e *AdmissionEngine) logMalformedHeader(header, value string) {
	if e.log == nil {
		return
	}
	e.log.Warn("malformed ip header, falling back to unknown sentinel",
		zap.String("header", header),
		zap.String("value", value),
		zap.Error(ErrMalformedIPHeader),
	)
}
