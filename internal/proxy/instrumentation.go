package proxy

import (
	"net/http"

	"github.com/brinkwatch/admission-guard/internal/metrics"
	"github.com/brinkwatch/admission-guard/internal/middleware"
	"github.com/brinkwatch/admission-guard/internal/ratelimit"
	"github.com/brinkwatch/admission-guard/internal/websocket"
)

// statusRecorder mirrors the status-capturing wrapper internal/middleware
// uses, kept as its own small type here since Instrumentation needs to read
// the status this package's own handler chain produced.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Instrumentation records metrics and broadcasts dashboard events for every
// request that clears the rate-limit middleware (admitted or grace-window).
// It must sit between RateLimit and SecurityContext in the chain so it
// observes the same SecurityContext and final status the adjuster acts on;
// requests that
// short-circuit inside RateLimit never reach it and are accounted for
// through the OnBlocked capability instead (see onblocked.go).
func Instrumentation(m *metrics.Metrics, hub *websocket.Hub, rateCfg ratelimit.RateConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			sc := middleware.SecurityContextFromRequest(r)
			if sc == nil {
				return
			}
			requestID := middleware.RequestIDFromRequest(r)

			m.RecordAdmission(true, sc.WasScreened, false)

			if sc.WasScreened {
				hub.BroadcastEvent(websocket.Event{
					Type:      websocket.EventTypeScreened,
					RequestID: requestID,
					Data: websocket.AdmissionEvent{
						RequestID:   requestID,
						Method:      r.Method,
						Path:        r.URL.Path,
						ClientIP:    sc.IPAddress,
						UserAgent:   sc.UserAgent,
						WasScreened: true,
						Charged:     sc.Charged,
						Decision:    "admitted",
					},
				})
				return
			}

			hub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeAdmitted,
				RequestID: requestID,
				Data: websocket.AdmissionEvent{
					RequestID: requestID,
					Method:    r.Method,
					Path:      r.URL.Path,
					ClientIP:  sc.IPAddress,
					UserAgent: sc.UserAgent,
					Charged:   sc.Charged,
					Decision:  "admitted",
				},
			})

			if sc.Charged == 0 {
				return
			}

			switch {
			case rw.statusCode == http.StatusNotModified:
				m.RecordAdjustment("refund")
				hub.BroadcastEvent(websocket.Event{
					Type:      websocket.EventTypeAdjustment,
					RequestID: requestID,
					Data: websocket.AdjustmentEvent{
						RequestID:  requestID,
						ClientIP:   sc.IPAddress,
						StatusCode: rw.statusCode,
						Kind:       "refund",
						Delta:      rateCfg.CacheRefundRatio(),
					},
				})
			case rw.statusCode >= 400:
				m.RecordAdjustment("penalty")
				hub.BroadcastEvent(websocket.Event{
					Type:      websocket.EventTypeAdjustment,
					RequestID: requestID,
					Data: websocket.AdjustmentEvent{
						RequestID:  requestID,
						ClientIP:   sc.IPAddress,
						StatusCode: rw.statusCode,
						Kind:       "penalty",
						Delta:      -rateCfg.ErrorPenalty(),
					},
				})
			}
		})
	}
}
