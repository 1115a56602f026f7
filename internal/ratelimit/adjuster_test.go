package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestPostResponseAdjusterRefundsOnCacheHit(t *testing.T) {
	cfg := DefaultRateConfig().WithRatePerMinute(30).WithCacheRefundRatio(0.5)
	reg := NewBucketRegistry(cfg)
	now := time.Now()
	reg.GetOrCreate("6.6.6.6", now).TryConsume(now, 1.0) // tokens = 29

	adj := NewPostResponseAdjuster(reg, cfg, WithAdjusterClock(func() time.Time { return now }))
	adj.Adjust(&SecurityContext{IPAddress: "6.6.6.6", Charged: 1.0}, http.StatusNotModified)

	if tok := reg.GetOrCreate("6.6.6.6", now).Tokens(); tok != 29.5 {
		t.Fatalf("expected a 0.5 token refund on a 304, tokens=%f", tok)
	}
}

func TestPostResponseAdjusterPenalizesErrors(t *testing.T) {
	cfg := DefaultRateConfig().WithRatePerMinute(30).WithErrorPenalty(2.0)
	reg := NewBucketRegistry(cfg)
	now := time.Now()
	reg.GetOrCreate("7.7.7.7", now).TryConsume(now, 1.0) // tokens = 29

	adj := NewPostResponseAdjuster(reg, cfg, WithAdjusterClock(func() time.Time { return now }))
	adj.Adjust(&SecurityContext{IPAddress: "7.7.7.7", Charged: 1.0}, http.StatusInternalServerError)

	if tok := reg.GetOrCreate("7.7.7.7", now).Tokens(); tok != 27.0 {
		t.Fatalf("expected a 2.0 token surcharge on a 5xx, tokens=%f", tok)
	}
}

func TestPostResponseAdjusterIgnoresZeroChargeRequests(t *testing.T) {
	cfg := DefaultRateConfig().WithRatePerMinute(30)
	reg := NewBucketRegistry(cfg)
	now := time.Now()
	reg.GetOrCreate("8.8.8.8", now) // untouched, tokens = 30

	adj := NewPostResponseAdjuster(reg, cfg, WithAdjusterClock(func() time.Time { return now }))
	adj.Adjust(&SecurityContext{IPAddress: "8.8.8.8", Charged: 0}, http.StatusInternalServerError)

	if tok := reg.GetOrCreate("8.8.8.8", now).Tokens(); tok != 30.0 {
		t.Fatalf("grace-window (zero-charge) requests must never be adjusted, tokens=%f", tok)
	}
}

func TestPostResponseAdjusterIgnoresScreenedRequests(t *testing.T) {
	cfg := DefaultRateConfig().WithRatePerMinute(30).WithErrorPenalty(2.0)
	reg := NewBucketRegistry(cfg)
	now := time.Now()
	reg.GetOrCreate("9.9.9.9", now).TryConsume(now, 1.0) // tokens = 29

	adj := NewPostResponseAdjuster(reg, cfg, WithAdjusterClock(func() time.Time { return now }))
	adj.Adjust(&SecurityContext{IPAddress: "9.9.9.9", Charged: 1.0, WasScreened: true}, http.StatusInternalServerError)

	if tok := reg.GetOrCreate("9.9.9.9", now).Tokens(); tok != 29.0 {
		t.Fatalf("screened requests must never receive an additional error penalty, tokens=%f", tok)
	}
}

func TestPostResponseAdjusterNoOpOnOrdinarySuccess(t *testing.T) {
	cfg := DefaultRateConfig().WithRatePerMinute(30)
	reg := NewBucketRegistry(cfg)
	now := time.Now()
	reg.GetOrCreate("11.11.11.11", now).TryConsume(now, 1.0) // tokens = 29

	adj := NewPostResponseAdjuster(reg, cfg, WithAdjusterClock(func() time.Time { return now }))
	adj.Adjust(&SecurityContext{IPAddress: "11.11.11.11", Charged: 1.0}, http.StatusOK)

	if tok := reg.GetOrCreate("11.11.11.11", now).Tokens(); tok != 29.0 {
		t.Fatalf("an ordinary 200 must leave the upfront charge as-is, tokens=%f", tok)
	}
}

func TestPostResponseAdjusterNilContextIsSafe(t *testing.T) {
	cfg := DefaultRateConfig()
	reg := NewBucketRegistry(cfg)
	adj := NewPostResponseAdjuster(reg, cfg)
	adj.Adjust(nil, http.StatusOK) // must not panic
}
