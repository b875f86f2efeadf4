package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func readiness(t *testing.T, h *HealthChecker) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestReadinessFollowsReadyFlag(t *testing.T) {
	h := NewHealthChecker()

	if code, body := readiness(t, h); code != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Errorf("before ready: got %d %v", code, body)
	}

	h.SetReady(true)
	if !h.IsReady() {
		t.Error("IsReady = false after SetReady(true)")
	}
	if code, body := readiness(t, h); code != http.StatusOK || body["status"] != "ready" {
		t.Errorf("after ready: got %d %v", code, body)
	}

	h.SetReady(false)
	if h.IsReady() {
		t.Error("IsReady = true after SetReady(false)")
	}
}

func TestReadinessReportsFailingChecks(t *testing.T) {
	h := NewHealthChecker()
	h.SetReady(true)
	h.AddCheck("postgres", func(context.Context) error { return nil })
	h.AddCheck("nats", func(context.Context) error { return errors.New("disconnected") })

	code, body := readiness(t, h)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", code)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["nats"] != "disconnected" {
		t.Errorf("checks = %v, want nats failure", checks)
	}
	if _, ok := checks["postgres"]; ok {
		t.Errorf("passing check reported as failure: %v", checks)
	}
}

func TestLivenessAlwaysOK(t *testing.T) {
	h := NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rec.Code)
	}
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "relay", ParseLevel("warn"))

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"component":"relay"`) || !strings.Contains(out, "kept") {
		t.Errorf("missing component or message: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
