package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAdmissionCountsAdmitted(t *testing.T) {
	m := New()
	m.RecordAdmission(true, false, false)
	if v := testutil.ToFloat64(m.AdmittedTotal); v != 1 {
		t.Fatalf("expected AdmittedTotal=1, got %f", v)
	}
}

func TestRecordAdmissionCountsScreenedAlongsideOutcome(t *testing.T) {
	m := New()
	m.RecordAdmission(true, true, false)
	if v := testutil.ToFloat64(m.ScreenedTotal); v != 1 {
		t.Fatalf("expected ScreenedTotal=1, got %f", v)
	}
	if v := testutil.ToFloat64(m.AdmittedTotal); v != 1 {
		t.Fatalf("expected AdmittedTotal=1, got %f", v)
	}
}

func TestRecordAdmissionCountsBlockedSeparatelyFromDenied(t *testing.T) {
	m := New()
	m.RecordAdmission(false, false, true)
	m.RecordAdmission(false, false, false)
	if v := testutil.ToFloat64(m.BlockedTotal); v != 1 {
		t.Fatalf("expected BlockedTotal=1, got %f", v)
	}
	if v := testutil.ToFloat64(m.DeniedTotal); v != 1 {
		t.Fatalf("expected DeniedTotal=1, got %f", v)
	}
}

func TestHandlerServesMetricsWithinRate(t *testing.T) {
	m := New()
	handler := m.Handler(100) // generous rate for a single test request

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandlerThrottlesBurstScrapes(t *testing.T) {
	m := New()
	handler := m.Handler(0.0001) // effectively one request allowed

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)

	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second immediate scrape to be throttled, got %d", rec2.Code)
	}
}
