package ratelimit

import (
	"fmt"
	"regexp"
	"strings"
)

// ScreeningConfig holds the two ordered pattern lists PatternScreener
// compiles from. Patterns are regular expressions; a pattern with no
// metacharacters matches as a plain substring, which is the natural
// behavior of Go's RE2 engine and is preserved for backward compatibility
// with hand-written literal blocklists.
type ScreeningConfig struct {
	PathPatterns      []string
	UserAgentPatterns []string
}

// PatternScreener answers "does this request look malicious?" in a single
// pass per pattern set. Instead of iterating the configured patterns one at
// a time, each set is compiled into one alternation so the underlying RE2
// engine evaluates every pattern in the set during a single scan of the
// input, which is what keeps this sublinear in the number of patterns.
type PatternScreener struct {
	path      *regexp.Regexp
	userAgent *regexp.Regexp
}

// NewPatternScreener compiles cfg into a PatternScreener. It fails fast
// with ErrInvalidPattern if any pattern does not compile; this is meant to
// be fatal at startup, never surfaced on the request path.
func NewPatternScreener(cfg ScreeningConfig) (*PatternScreener, error) {
	path, err := compilePatternSet(cfg.PathPatterns, false)
	if err != nil {
		return nil, fmt.Errorf("%w: path pattern: %v", ErrInvalidPattern, err)
	}

	ua, err := compilePatternSet(cfg.UserAgentPatterns, true)
	if err != nil {
		return nil, fmt.Errorf("%w: user-agent pattern: %v", ErrInvalidPattern, err)
	}

	return &PatternScreener{path: path, userAgent: ua}, nil
}

// compilePatternSet combines patterns into a single regexp. An empty set
// compiles to a nil matcher that matches nothing. Case-insensitivity is
// applied as a flag on the combined matcher, not by altering the query
// input, so callers never pay for a per-request lowercase copy.
func compilePatternSet(patterns []string, caseInsensitive bool) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	parts := make([]string, len(patterns))
	for i, p := range patterns {
		// Validate in isolation first so a bad pattern is reported the
		// same way compiling it alone would report it, rather than as an
		// opaque failure of the combined alternation.
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		parts[i] = "(?:" + p + ")"
	}

	combined := strings.Join(parts, "|")
	if caseInsensitive {
		combined = "(?i:" + combined + ")"
	}
	return regexp.Compile(combined)
}

// IsMalicious returns true iff at least one compiled path pattern matches
// path, or at least one compiled user-agent pattern matches userAgent.
func (s *PatternScreener) IsMalicious(path, userAgent string) bool {
	if s.path != nil && s.path.MatchString(path) {
		return true
	}
	if s.userAgent != nil && s.userAgent.MatchString(userAgent) {
		return true
	}
	return false
}
