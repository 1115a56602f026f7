package config

import (
	"fmt"

	"github.com/brinkwatch/admission-guard/internal/ratelimit"
)

// BuildRateConfig converts the yaml-friendly RateLimitConfig into the
// immutable ratelimit.RateConfig the engine consumes.
func BuildRateConfig(c RateLimitConfig) ratelimit.RateConfig {
	return ratelimit.DefaultRateConfig().
		WithRatePerMinute(c.RequestsPerMinute).
		WithBlockDuration(c.BlockDuration).
		WithGracePeriod(c.GracePeriod).
		WithCacheRefundRatio(c.CacheRefundRatio).
		WithErrorPenalty(c.ErrorPenalty)
}

// BuildScreeningConfig converts the yaml-friendly ScreeningConfig into the
// ratelimit.ScreeningConfig the PatternScreener consumes.
func BuildScreeningConfig(c ScreeningConfig) ratelimit.ScreeningConfig {
	return ratelimit.ScreeningConfig{
		PathPatterns:      c.PathPatterns,
		UserAgentPatterns: c.UserAgentPatterns,
	}
}

// BuildIPResolver converts the yaml-friendly IPResolverConfig into a
// ratelimit.IpResolver.
func BuildIPResolver(c IPResolverConfig) (ratelimit.IpResolver, error) {
	switch c.Strategy {
	case "socket_addr":
		return ratelimit.SocketAddr(), nil
	case "forwarded_header", "":
		mode := ratelimit.SingleTrustedProxy
		if c.Mode == "first_hop" {
			mode = ratelimit.FirstHop
		}
		headerName := c.HeaderName
		if headerName == "" {
			headerName = "X-Forwarded-For"
		}
		return ratelimit.ForwardedHeader(headerName, mode), nil
	default:
		return ratelimit.IpResolver{}, fmt.Errorf("config: unknown ip_resolver.strategy %q", c.Strategy)
	}
}
