package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/api/products":             "/api/products",
		"/api/products/01J0ABC":     "/api/products/:id",
		"/api/products/abc?x=1":     "/api/products/:id",
		"/api/products/abc/extra":   "/api/products/abc/extra",
		"/api/users/u-1":            "/api/users/:id",
		"/api/auth/login":           "/api/auth/login",
		"/api/auth/google/callback": "/api/auth/google/callback",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/products/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/products/p-1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/products/p-2", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/products/:id", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests counted, got %v", after-before)
	}
	if v := testutil.ToFloat64(httpInFlight); v != 0 {
		t.Fatalf("in-flight gauge should return to zero, got %v", v)
	}
}

func TestAuthCounters(t *testing.T) {
	before := testutil.ToFloat64(authAttempts.WithLabelValues("login", "failure"))
	AuthAttempt("login", "failure")
	if got := testutil.ToFloat64(authAttempts.WithLabelValues("login", "failure")) - before; got != 1 {
		t.Fatalf("auth_attempts_total delta = %v", got)
	}
	before = testutil.ToFloat64(identitiesCreated.WithLabelValues("github"))
	IdentityCreated("github")
	if got := testutil.ToFloat64(identitiesCreated.WithLabelValues("github")) - before; got != 1 {
		t.Fatalf("auth_identities_created_total delta = %v", got)
	}
}

func TestEventLinesAreJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetOutput(log.New(&buf, "", 0))
	t.Cleanup(func() { SetOutput(prev) })

	Warn("oauth provider disabled", map[string]any{"provider": "github", "err": errors.New("missing secret")})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "warn" || entry["msg"] != "oauth provider disabled" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["err"] != "missing secret" || entry["provider"] != "github" {
		t.Fatalf("fields not merged: %v", entry)
	}
}
