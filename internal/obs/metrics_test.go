package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	var handler http.Handler = r

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/users/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/users/"+id, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/users/{id}", "418"))
	if after-before != 3 {
		t.Fatalf("expected 3 requests under one label, got %v", after-before)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")); got < 1 {
		t.Fatalf("expected unmatched request to be counted, got %v", got)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
}

func TestNewLoggerUsesTsKey(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "debug", "json")
	l.Debug("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not JSON: %v", err)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if entry["msg"] != "hello" || entry["k"] != "v" || entry["level"] != "DEBUG" {
		t.Fatalf("unexpected entry: %v", entry)
	}

	buf.Reset()
	NewLogger(&buf, "warn", "text").Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestResolveCommitPrefersExplicitValue(t *testing.T) {
	if got := resolveCommit("abc123"); got != "abc123" {
		t.Fatalf("expected explicit commit, got %q", got)
	}
	if got := resolveCommit(""); got == "" {
		t.Fatal("expected a fallback commit label")
	}
}

func TestSetReady(t *testing.T) {
	SetReady(true)
	if got := testutil.ToFloat64(serviceReady); got != 1 {
		t.Fatalf("expected ready gauge 1, got %v", got)
	}
	SetReady(false)
	if got := testutil.ToFloat64(serviceReady); got != 0 {
		t.Fatalf("expected ready gauge 0, got %v", got)
	}
}
