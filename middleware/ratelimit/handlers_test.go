package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quota-coordinator/middleware/ratelimit/application"
	"quota-coordinator/middleware/ratelimit/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func ptr(v float64) *float64 { return &v }

func TestStatusHandler_ReportsAllServices(t *testing.T) {
	ts := newTestStack(t, map[domain.Service]domain.BucketConfig{
		"rss":    {MaxCalls: 4, Period: 4 * time.Second},
		"closed": {MaxCalls: 0, Period: time.Minute},
	}, domain.DefaultRetryPolicy())
	_, _ = ts.limiter.AcquireN(context.Background(), "rss", 2)

	h := StatusHandler(application.NewStatusReporter(ts.limiter))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []StatusEntry
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := []StatusEntry{
		{Service: "closed", Capacity: 0, UsagePct: 1, PeriodSeconds: 60},
		{Service: "rss", Available: 2, Capacity: 4, UsagePct: 0.5, PeriodSeconds: 4, RefillInSeconds: ptr(2.000001)},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("unexpected status (-want +got):\n%s", diff)
	}
}

func TestStatusHandler_FilterAndErrors(t *testing.T) {
	ts := newTestStack(t, map[domain.Service]domain.BucketConfig{"rss": {MaxCalls: 4}, "web": {MaxCalls: 1}}, domain.DefaultRetryPolicy())
	h := StatusHandler(application.NewStatusReporter(ts.limiter))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status?service=web", nil))
	var got []StatusEntry
	_ = json.NewDecoder(w.Body).Decode(&got)
	if len(got) != 1 || got[0].Service != "web" {
		t.Fatalf("expected only web, got %+v", got)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status?service=nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown service, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestResetHandler_Gated(t *testing.T) {
	ts := newTestStack(t, map[domain.Service]domain.BucketConfig{"rss": {MaxCalls: 2}}, domain.DefaultRetryPolicy())

	w := httptest.NewRecorder()
	ResetHandler(application.NewAdmin(ts.limiter, false)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reset", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when reset is disabled, got %d", w.Code)
	}
}

func TestResetHandler_FillsBucket(t *testing.T) {
	ts := newTestStack(t, map[domain.Service]domain.BucketConfig{"rss": {MaxCalls: 2}}, domain.DefaultRetryPolicy())
	ctx := context.Background()
	_, _ = ts.limiter.Acquire(ctx, "rss")
	_, _ = ts.limiter.Acquire(ctx, "rss")

	h := ResetHandler(application.NewAdmin(ts.limiter, true))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reset?service=rss", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reset?service=rss", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if b, _, _ := ts.store.Peek(ctx, "rss"); b.Tokens != 2 {
		t.Fatalf("expected full bucket after reset, got %v", b.Tokens)
	}
}
