package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/logger"
	"github.com/brinkwatch/admission-guard/internal/ratelimit"
)

func newNopLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return &logger.Logger{Logger: zap.NewNop()}
}

func newEngine(t *testing.T, rateCfg ratelimit.RateConfig) *ratelimit.AdmissionEngine {
	t.Helper()
	reg := ratelimit.NewBucketRegistry(rateCfg)
	screener, err := ratelimit.NewPatternScreener(ratelimit.ScreeningConfig{})
	if err != nil {
		t.Fatalf("NewPatternScreener: %v", err)
	}
	return ratelimit.NewAdmissionEngine(reg, screener, ratelimit.SocketAddr(), rateCfg)
}

func TestRequestLoggingStampsRequestID(t *testing.T) {
	var seen string
	handler := RequestLogging(newNopLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a non-empty request ID to be available to the handler")
	}
}

func TestRateLimitAdmitsWithinBudget(t *testing.T) {
	rateCfg := ratelimit.DefaultRateConfig().WithRatePerMinute(30).WithGracePeriod(time.Hour)
	eng := newEngine(t, rateCfg)

	var called bool
	handler := RateLimit(eng)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.1:1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected the downstream handler to run for an admitted request")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitBlocksOverBudgetAndSetsRetryAfter(t *testing.T) {
	rateCfg := ratelimit.DefaultRateConfig().
		WithRatePerMinute(1).
		WithGracePeriod(0).
		WithBlockDuration(30 * time.Second)
	eng := newEngine(t, rateCfg)

	calls := 0
	handler := RateLimit(eng)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "9.9.9.2:1"
		return req
	}

	// The first request lands at the bucket's first-seen instant, so it is
	// free even with a zero grace period; the second drains the single
	// token; the third must be rejected.
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, newReq())
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, newReq())

	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, newReq())

	if rec3.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the third request to exhaust a 1 req/min budget, got %d (handler called %d times)", rec3.Code, calls)
	}
	if got := rec3.Header().Get("Retry-After"); got == "" {
		t.Fatal("expected a Retry-After header on the block response")
	}
}

func TestSecurityContextAppliesErrorPenalty(t *testing.T) {
	rateCfg := ratelimit.DefaultRateConfig().WithRatePerMinute(30).WithGracePeriod(0).WithErrorPenalty(2.0)
	reg := ratelimit.NewBucketRegistry(rateCfg)
	screener, err := ratelimit.NewPatternScreener(ratelimit.ScreeningConfig{})
	if err != nil {
		t.Fatalf("NewPatternScreener: %v", err)
	}
	eng := ratelimit.NewAdmissionEngine(reg, screener, ratelimit.SocketAddr(), rateCfg)
	adjuster := ratelimit.NewPostResponseAdjuster(reg, rateCfg)

	handler := RateLimit(eng)(SecurityContext(ratelimit.DefaultSecurityContextConfig(), adjuster)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "9.9.9.3:1"
		return req
	}

	// The first request is free at the first-seen instant; the second is the
	// one charged up front and then penalized.
	handler.ServeHTTP(httptest.NewRecorder(), newReq())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq())

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected the handler's 500 to pass through, got %d", rec.Code)
	}

	bucket := reg.GetOrCreate("9.9.9.3", time.Now())
	// rate=30, charged 1 up front, then penalized 2 more on the 5xx.
	if tok := bucket.Tokens(); tok > 27.5 || tok < 26.5 {
		t.Fatalf("expected tokens near 27 (30 - 1 charge - 2 penalty), got %f", tok)
	}
}

func TestSecurityContextAttachesContextWhenMountedStandalone(t *testing.T) {
	rateCfg := ratelimit.DefaultRateConfig()
	reg := ratelimit.NewBucketRegistry(rateCfg)
	adjuster := ratelimit.NewPostResponseAdjuster(reg, rateCfg)
	scCfg := ratelimit.DefaultSecurityContextConfig().WithResolver(ratelimit.SocketAddr())

	var seen *ratelimit.SecurityContext
	handler := SecurityContext(scCfg, adjuster)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SecurityContextFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.4:1"
	req.Header.Set("User-Agent", "curl/8.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil {
		t.Fatal("expected a SecurityContext to be attached without the rate-limit middleware")
	}
	if seen.IPAddress != "9.9.9.4" || seen.UserAgent != "curl/8.0" {
		t.Fatalf("unexpected context contents: %+v", seen)
	}
	if seen.Charged != 0 {
		t.Fatalf("a standalone-attached context must record zero charge, got %f", seen.Charged)
	}
}

func TestSecurityContextConfigBuilderIsPure(t *testing.T) {
	base := ratelimit.DefaultSecurityContextConfig()
	derived := base.WithUserAgentHeader("X-Client-Agent")
	if base.UserAgentHeader() != "User-Agent" {
		t.Fatalf("builder mutation leaked into the base value: %q", base.UserAgentHeader())
	}
	if derived.UserAgentHeader() != "X-Client-Agent" {
		t.Fatalf("derived value missing the override: %q", derived.UserAgentHeader())
	}
}
