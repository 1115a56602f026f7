package ratelimit

import (
	"regexp"
	"testing"
)

func TestPatternScreenerMatchesPathAndUserAgent(t *testing.T) {
	s, err := NewPatternScreener(ScreeningConfig{
		PathPatterns:      []string{"/wp-admin", `\.env$`},
		UserAgentPatterns: []string{"sqlmap", "nikto"},
	})
	if err != nil {
		t.Fatalf("NewPatternScreener: %v", err)
	}

	cases := []struct {
		path, ua string
		want     bool
	}{
		{"/wp-admin/install.php", "curl/7.0", true},
		{"/app/.env", "curl/7.0", true},
		{"/healthz", "sqlmap/1.0", true},
		{"/healthz", "SQLMAP/1.0", true}, // case-insensitive UA
		{"/healthz", "curl/7.0", false},
	}
	for _, c := range cases {
		if got := s.IsMalicious(c.path, c.ua); got != c.want {
			t.Errorf("IsMalicious(%q, %q) = %v, want %v", c.path, c.ua, got, c.want)
		}
	}
}

func TestPatternScreenerEmptyListsMatchNothing(t *testing.T) {
	s, err := NewPatternScreener(ScreeningConfig{})
	if err != nil {
		t.Fatalf("NewPatternScreener: %v", err)
	}
	if s.IsMalicious("/anything", "anything") {
		t.Fatal("empty screener must never flag a request as malicious")
	}
}

func TestPatternScreenerInvalidPattern(t *testing.T) {
	_, err := NewPatternScreener(ScreeningConfig{PathPatterns: []string{"("}})
	if err == nil {
		t.Fatal("expected an error for an unterminated group")
	}
}

func TestPatternScreenerLiteralSubstringMatch(t *testing.T) {
	// A pattern with no regex metacharacters must behave as a plain
	// substring match.
	s, err := NewPatternScreener(ScreeningConfig{PathPatterns: []string{"phpmyadmin"}})
	if err != nil {
		t.Fatalf("NewPatternScreener: %v", err)
	}
	if !s.IsMalicious("/tools/phpmyadmin/index.php", "") {
		t.Fatal("expected literal substring to match")
	}
	if s.IsMalicious("/tools/other/index.php", "") {
		t.Fatal("did not expect a match without the substring present")
	}
}

// TestPatternScreenerAgreesWithIterativeDisjunction checks that the
// single-pass matcher agrees with the naive "any(pattern matches)"
// reference implementation for every input.
func TestPatternScreenerAgreesWithIterativeDisjunction(t *testing.T) {
	patterns := []string{"/admin", `/\d{4}/secret`, "xmlrpc", "union select"}
	s, err := NewPatternScreener(ScreeningConfig{PathPatterns: patterns})
	if err != nil {
		t.Fatalf("NewPatternScreener: %v", err)
	}

	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	iterativeAny := func(input string) bool {
		for _, re := range compiled {
			if re.MatchString(input) {
				return true
			}
		}
		return false
	}

	inputs := []string{
		"/admin/login", "/2024/secret", "/xmlrpc.php",
		"/search?q=union select * from users", "/healthz", "",
	}
	for _, in := range inputs {
		if got, want := s.IsMalicious(in, ""), iterativeAny(in); got != want {
			t.Errorf("IsMalicious(%q) = %v, want %v (iterative)", in, got, want)
		}
	}
}
