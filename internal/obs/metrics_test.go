package obs

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                  "/",
		"/metrics":          "/metrics",
		"/user":             "/user",
		"/user/login":       "/user/login",
		"/user/logout":      "/user/logout",
		"/user/abc":         "/user/:id",
		"/user/abc?x=1":     "/user/:id",
		"/user/abc/extra":   "/user/abc/extra",
		"/health-check":     "/health-check",
		"/readyz?verbose=1": "/readyz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsCanonicalPath(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/user/:id", "418"))

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user/123", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/user/:id", "418"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
	if testutil.ToFloat64(httpInFlight) != 0 {
		t.Fatalf("in-flight gauge not released")
	}
}

func TestAuthAndHashMetrics(t *testing.T) {
	before := testutil.ToFloat64(authFailures.WithLabelValues("missing"))
	CountAuthFailure("missing")
	if got := testutil.ToFloat64(authFailures.WithLabelValues("missing")); got-before != 1 {
		t.Fatalf("auth failure counter delta = %v", got-before)
	}

	ObservePasswordHash(10 * time.Millisecond)
	if testutil.CollectAndCount(passwordHashDuration) != 1 {
		t.Fatalf("expected a single histogram series")
	}

	SetReady(true)
	if testutil.ToFloat64(ready) != 1 {
		t.Fatalf("ready gauge not set")
	}
	SetReady(false)
	if testutil.ToFloat64(ready) != 0 {
		t.Fatalf("ready gauge not cleared")
	}
}

func TestSetLoggerRestores(t *testing.T) {
	var buf bytes.Buffer
	restore := SetLogger(NewJSONLogger(&buf, slog.LevelDebug))
	Logger().Info("hello", "k", "v")
	restore()
	Logger().Info("not captured")

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, line)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("WARN") != slog.LevelWarn {
		t.Fatal("known levels not parsed")
	}
	if ParseLevel("chatty") != slog.LevelInfo {
		t.Fatal("unknown level should fall back to info")
	}
}
