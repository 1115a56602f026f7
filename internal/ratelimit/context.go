package ratelimit

// SecurityContext is request-scoped state handed to the downstream handler
// and to the PostResponseAdjuster. It is created once per request by the
// AdmissionEngine and must travel unchanged to whichever component reads
// it last.
type SecurityContext struct {
	// IPAddress is the value IpResolver produced for this request.
	IPAddress string
	// UserAgent is the raw User-Agent header, or "" if absent.
	UserAgent string
	// WasScreened is true when the request matched the PatternScreener.
	// PostResponseAdjuster treats screened requests specially: they pay
	// exactly one token regardless of response outcome.
	WasScreened bool
	// Charged is the number of tokens the AdmissionEngine subtracted
	// upfront: 1.0 for a normal admitted request, 0.0 for a grace-window
	// request or a short-circuited block/deny.
	Charged float64
	// WasBlocked distinguishes the two DecisionBlock causes: false means
	// this request is the one that emptied the bucket and opened a new
	// block window (Denied), true means it arrived inside a window a
	// previous request already opened (Blocked). Unused on DecisionAdmit.
	WasBlocked bool
}

// SecurityContextConfig tunes how a SecurityContext is built for requests
// that reach the security-context middleware without having passed through
// admission first (e.g. the middleware mounted standalone). Like
// RateConfig, it is a pure value: every With* method returns a new value.
type SecurityContextConfig struct {
	resolver        IpResolver
	userAgentHeader string
}

// DefaultSecurityContextConfig resolves IPs with the default strategy and
// reads the standard User-Agent header.
func DefaultSecurityContextConfig() SecurityContextConfig {
	return SecurityContextConfig{
		resolver:        DefaultIpResolver(),
		userAgentHeader: "User-Agent",
	}
}

// WithResolver sets the IP extraction strategy.
func (c SecurityContextConfig) WithResolver(r IpResolver) SecurityContextConfig {
	c.resolver = r
	return c
}

// WithUserAgentHeader overrides the header read as the client's user agent.
func (c SecurityContextConfig) WithUserAgentHeader(name string) SecurityContextConfig {
	c.userAgentHeader = name
	return c
}

func (c SecurityContextConfig) Resolver() IpResolver    { return c.resolver }
func (c SecurityContextConfig) UserAgentHeader() string { return c.userAgentHeader }
