package ratelimit

import "time"

// RateConfig is an immutable value object holding the tuning constants for
// a BucketRegistry. Every With* method returns a new value; no method
// mutates the receiver, so a RateConfig can be shared across goroutines
// without synchronization once constructed.
type RateConfig struct {
	ratePerMinute    int
	blockDuration    time.Duration
	gracePeriod      time.Duration
	cacheRefundRatio float64
	errorPenalty     float64
}

// DefaultRateConfig returns the defaults: 50 requests/minute, a
// 15-minute block, a 1-second grace window, a 50% cache-hit refund, and a
// 2-token error penalty.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		ratePerMinute:    50,
		blockDuration:    900 * time.Second,
		gracePeriod:      1 * time.Second,
		cacheRefundRatio: 0.5,
		errorPenalty:     2.0,
	}
}

// WithRatePerMinute sets the requests-per-minute target that derives both
// max token capacity and refill rate.
func (c RateConfig) WithRatePerMinute(n int) RateConfig {
	c.ratePerMinute = n
	return c
}

// WithBlockDuration sets how long a bucket stays blocked after depletion.
func (c RateConfig) WithBlockDuration(d time.Duration) RateConfig {
	c.blockDuration = d
	return c
}

// WithGracePeriod sets the free window measured from a bucket's first-seen
// timestamp.
func (c RateConfig) WithGracePeriod(d time.Duration) RateConfig {
	c.gracePeriod = d
	return c
}

// WithCacheRefundRatio sets the fraction of one token refunded on a 304
// response. Values outside [0,1] are clamped into range rather than
// rejected, so a misconfigured value degrades gracefully instead of
// failing construction.
func (c RateConfig) WithCacheRefundRatio(ratio float64) RateConfig {
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	c.cacheRefundRatio = ratio
	return c
}

// WithErrorPenalty sets the extra token cost charged on 4xx/5xx responses.
// Negative values are clamped to zero.
func (c RateConfig) WithErrorPenalty(penalty float64) RateConfig {
	if penalty < 0 {
		penalty = 0
	}
	c.errorPenalty = penalty
	return c
}

func (c RateConfig) RatePerMinute() int          { return c.ratePerMinute }
func (c RateConfig) BlockDuration() time.Duration { return c.blockDuration }
func (c RateConfig) GracePeriod() time.Duration   { return c.gracePeriod }
func (c RateConfig) CacheRefundRatio() float64    { return c.cacheRefundRatio }
func (c RateConfig) ErrorPenalty() float64        { return c.errorPenalty }

// MaxTokens is the derived token capacity: the requests-per-minute target,
// expressed as a real-valued balance.
func (c RateConfig) MaxTokens() float64 { return float64(c.ratePerMinute) }

// RefillRatePerSecond is the derived refill rate in tokens/second.
func (c RateConfig) RefillRatePerSecond() float64 { return float64(c.ratePerMinute) / 60.0 }
