package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okChecker() *SimpleChecker {
	return NewSimpleChecker("ok", func(context.Context) error { return nil })
}

func failingChecker() *SimpleChecker {
	return NewSimpleChecker("failing", func(context.Context) error { return errors.New("connection refused") })
}

type fixedChecker Check

func (c fixedChecker) Check(context.Context) Check { return Check(c) }

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", okChecker())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	response := decode(t, w)
	if response.Status != StatusHealthy || response.Version != "v1.0.0" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if len(response.Checks) != 1 {
		t.Fatalf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", failingChecker())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	response := decode(t, w)
	if response.Checks["postgres"].Message != "connection refused" {
		t.Fatalf("error message not propagated: %+v", response.Checks)
	}
}

func TestHealthHandler_DegradedStaysAvailable(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("postgres", okChecker())
	handler.RegisterInformational("sync_rolling", fixedChecker{Name: "sync_rolling", Status: StatusDegraded})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("degraded must not fail the probe, got %d", w.Code)
	}
	if response := decode(t, w); response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected liveness response: %d %q", w.Code, w.Body.String())
	}
}

func TestReadinessHandler_IgnoresInformationalChecks(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("postgres", okChecker())
	handler.RegisterInformational("sync_last50", fixedChecker{Name: "sync_last50", Status: StatusUnhealthy})

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", w.Code)
	}
	if response := decode(t, w); len(response.Checks) != 1 {
		t.Fatalf("readiness must only run critical checks: %+v", response.Checks)
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("redis", failingChecker())

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestSimpleCheckerPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "probe")

	var seen any
	checker := NewSimpleChecker("ctx", func(ctx context.Context) error {
		seen = ctx.Value(key{})
		return nil
	})
	check := checker.Check(ctx)
	if check.Status != StatusHealthy || check.Name != "ctx" {
		t.Fatalf("unexpected check: %+v", check)
	}
	if seen != "probe" {
		t.Fatalf("context not passed to check function, got %v", seen)
	}
}
