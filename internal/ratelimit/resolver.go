package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIP is the sentinel IpResolver returns when extraction fails. The
// AdmissionEngine treats it like any other IP, so every unresolvable
// client shares one bucket, a conservative default that prevents
// unbounded bucket creation from malformed headers.
const UnknownIP = "unknown"

// ForwardedHeaderMode selects how ForwardedHeader interprets a header
// value that may carry more than one hop.
type ForwardedHeaderMode int

const (
	// SingleTrustedProxy requires the header to contain exactly one IP
	// after trimming; anything else is treated as malformed.
	SingleTrustedProxy ForwardedHeaderMode = iota
	// FirstHop takes the first comma-separated token, trimmed, tolerating
	// an arbitrary number of additional hops.
	FirstHop
)

type resolverSource int

const (
	sourceForwardedHeader resolverSource = iota
	sourceSocketAddr
)

// IpResolver extracts the client IP from a request under one of the
// configured strategies. The zero value is not usable;
// construct one with ForwardedHeader, SocketAddr, or one of the presets.
type IpResolver struct {
	source     resolverSource
	headerName string
	mode       ForwardedHeaderMode
}

// ForwardedHeader resolves the client IP from a named header under mode.
func ForwardedHeader(name string, mode ForwardedHeaderMode) IpResolver {
	return IpResolver{source: sourceForwardedHeader, headerName: name, mode: mode}
}

// SocketAddr resolves the client IP from the request's remote socket
// address, stripped of its port.
func SocketAddr() IpResolver {
	return IpResolver{source: sourceSocketAddr}
}

// XForwardedFor is the ForwardedHeader{"X-Forwarded-For", SingleTrustedProxy} preset.
func XForwardedFor() IpResolver { return ForwardedHeader("X-Forwarded-For", SingleTrustedProxy) }

// XRealIP is the ForwardedHeader{"X-Real-IP", SingleTrustedProxy} preset.
func XRealIP() IpResolver { return ForwardedHeader("X-Real-IP", SingleTrustedProxy) }

// Cloudflare is the ForwardedHeader{"CF-Connecting-IP", SingleTrustedProxy} preset.
func Cloudflare() IpResolver { return ForwardedHeader("CF-Connecting-IP", SingleTrustedProxy) }

// CustomHeader is the ForwardedHeader{name, SingleTrustedProxy} preset.
func CustomHeader(name string) IpResolver { return ForwardedHeader(name, SingleTrustedProxy) }

// DefaultIpResolver resolves from X-Forwarded-For in single-trusted-proxy
// mode.
func DefaultIpResolver() IpResolver { return XForwardedFor() }

// Resolve extracts the client IP per the configured strategy. It never
// fails outward: a malformed SingleTrustedProxy header resolves to
// UnknownIP, and onMalformed (if non-nil) is invoked first so the caller
// can log the condition as MalformedIpHeader.
func (res IpResolver) Resolve(r *http.Request, onMalformed func(header, value string)) string {
	switch res.source {
	case sourceSocketAddr:
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return strings.TrimSpace(r.RemoteAddr)
		}
		return host

	case sourceForwardedHeader:
		value := r.Header.Get(res.headerName)
		if value == "" {
			return UnknownIP
		}

		if res.mode == FirstHop {
			first, _, _ := strings.Cut(value, ",")
			ip := strings.TrimSpace(first)
			if ip == "" {
				return UnknownIP
			}
			return ip
		}

		// SingleTrustedProxy: the header must carry exactly one IP.
		parts := strings.Split(value, ",")
		ip := strings.TrimSpace(parts[0])
		if len(parts) != 1 || ip == "" {
			if onMalformed != nil {
				onMalformed(res.headerName, value)
			}
			return UnknownIP
		}
		return ip
	}

	return UnknownIP
}
