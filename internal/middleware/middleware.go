// Package middleware chains the admission engine into a standard
// net/http handler pipeline: request-ID stamping and logging, the
// rate-limit gate, and the post-response adjustment hook.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/logger"
	"github.com/brinkwatch/admission-guard/internal/ratelimit"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	securityContextKey
)

// RequestIDFromRequest returns the request ID RequestLogging stamped onto
// r's context, or "" if none is present.
func RequestIDFromRequest(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// SecurityContextFromRequest returns the SecurityContext RateLimit stamped
// onto r's context, or nil if none is present (e.g. the handler is being
// exercised outside the middleware chain).
func SecurityContextFromRequest(r *http.Request) *ratelimit.SecurityContext {
	sc, _ := r.Context().Value(securityContextKey).(*ratelimit.SecurityContext)
	return sc
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// byte count written, for logging and for PostResponseAdjuster.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// RequestLogging stamps a request ID onto the request context and logs the
// request/response pair at completion.
func RequestLogging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := uuid.NewString()
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			r = r.WithContext(ctx)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			rl := log.WithRequestID(requestID)

			rl.Info("http request started",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
			)

			next.ServeHTTP(rw, r)

			rl.Info("http request completed",
				zap.Int("status_code", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.Int("response_size", rw.size),
			)
		})
	}
}

// RateLimit runs every request through engine.Admit, short-circuiting a
// DecisionBlock with engine.BlockStatusCode and a Retry-After header, and
// otherwise stamping the resulting SecurityContext onto the request
// context for the handler and for the adjustment middleware to read
// afterward.
func RateLimit(engine *ratelimit.AdmissionEngine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admission := engine.Admit(r)

			ctx := context.WithValue(r.Context(), securityContextKey, admission.Context)
			r = r.WithContext(ctx)

			if admission.Decision == ratelimit.DecisionBlock {
				if admission.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(admission.RetryAfter.Seconds())))
				}
				http.Error(w, "too many requests", engine.BlockStatusCode())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityContext ensures the request carries a SecurityContext,
// attaching one built from cfg when the rate-limit middleware did not run
// ahead of it, and applies the post-response adjustment against the
// response's final status once the handler has returned. It must sit
// inside RateLimit in the chain (closer to the actual handler) so it
// observes the status the handler wrote.
func SecurityContext(cfg ratelimit.SecurityContextConfig, adjuster *ratelimit.PostResponseAdjuster) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := SecurityContextFromRequest(r)
			if sc == nil {
				// Standalone mount: no admission ran, so nothing was
				// charged and the adjuster will leave the bucket alone.
				sc = &ratelimit.SecurityContext{
					IPAddress: cfg.Resolver().Resolve(r, nil),
					UserAgent: r.Header.Get(cfg.UserAgentHeader()),
				}
				r = r.WithContext(context.WithValue(r.Context(), securityContextKey, sc))
			}

			rw, ok := w.(*responseWriter)
			if !ok {
				rw = &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			}
			next.ServeHTTP(rw, r)
			adjuster.Adjust(sc, rw.statusCode)
		})
	}
}
