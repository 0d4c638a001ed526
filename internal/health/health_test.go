package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serveHealth(t *testing.T, handler *Handler) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return w, resp
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func() error { return nil }))
	handler.RegisterChecker("redis", NewSimpleChecker("redis", func() error { return nil }))

	w, resp := serveHealth(t, handler)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", w.Code)
	}
	if resp.Status != StatusHealthy {
		t.Errorf("overall status = %s, want healthy", resp.Status)
	}
	if resp.Version != "v1.0.0" {
		t.Errorf("version = %s, want v1.0.0", resp.Version)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("checks count = %d, want 2", len(resp.Checks))
	}
}

func TestHealthHandler_OneUnhealthyDegradesAll(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func() error { return nil }))
	handler.RegisterChecker("kafka", NewSimpleChecker("kafka", func() error {
		return errors.New("broker unreachable")
	}))

	w, resp := serveHealth(t, handler)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", w.Code)
	}
	if resp.Status != StatusUnhealthy {
		t.Errorf("overall status = %s, want unhealthy", resp.Status)
	}
	if resp.Checks["kafka"].Message != "broker unreachable" {
		t.Errorf("kafka message = %q, want broker error", resp.Checks["kafka"].Message)
	}
}

type staticChecker Check

func (c staticChecker) Check() Check { return Check(c) }

func TestHealthHandler_DegradedKeepsServing(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func() error { return nil }))
	handler.RegisterChecker("kafka", staticChecker{Name: "kafka", Status: StatusDegraded, Message: "one broker down"})

	w, resp := serveHealth(t, handler)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200 for degraded", w.Code)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("overall status = %s, want degraded", resp.Status)
	}
}

func TestWorstStatus(t *testing.T) {
	cases := []struct {
		current, next, want Status
	}{
		{StatusHealthy, StatusHealthy, StatusHealthy},
		{StatusHealthy, StatusDegraded, StatusDegraded},
		{StatusDegraded, StatusHealthy, StatusDegraded},
		{StatusDegraded, StatusUnhealthy, StatusUnhealthy},
		{StatusUnhealthy, StatusHealthy, StatusUnhealthy},
	}
	for _, tc := range cases {
		if got := worstStatus(tc.current, tc.next); got != tc.want {
			t.Errorf("worstStatus(%s, %s) = %s, want %s", tc.current, tc.next, got, tc.want)
		}
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Errorf("body = %q, want ok", got)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		checkErr error
		wantCode int
		wantBody string
	}{
		{name: "ready", checkErr: nil, wantCode: http.StatusOK, wantBody: "ready"},
		{name: "not ready", checkErr: errors.New("pool exhausted"), wantCode: http.StatusServiceUnavailable, wantBody: "not ready"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("v1.0.0")
			handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func() error {
				return tc.checkErr
			}))

			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if w.Code != tc.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tc.wantCode)
			}
			if got := w.Body.String(); got != tc.wantBody {
				t.Errorf("body = %q, want %q", got, tc.wantBody)
			}
		})
	}
}

func TestSimpleChecker_MeasuresDuration(t *testing.T) {
	checker := NewSimpleChecker("slow", func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check()

	if check.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", check.Status)
	}
	if check.DurationMs < 10 {
		t.Errorf("duration = %dms, want >= 10ms", check.DurationMs)
	}
}

func TestSimpleChecker_Error(t *testing.T) {
	checker := NewSimpleChecker("failing", func() error {
		return errors.New("connection refused")
	})

	check := checker.Check()

	if check.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", check.Status)
	}
	if check.Message != "connection refused" {
		t.Errorf("message = %q, want connection refused", check.Message)
	}
}
