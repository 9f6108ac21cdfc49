package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/makeev/ingestd/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mux *http.ServeMux) (*httptest.Server, func()) {
	t.Helper()
	srv := httptest.NewServer(mux)
	return srv, srv.Close
}

func TestObtainSession_SetsSessionState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "cp", Value: "cookie-value"})
		w.WriteHeader(http.StatusOK)
	})
	srv, closeFn := newTestServer(t, mux)
	defer closeFn()

	session := &model.SessionState{}
	client := NewPortalClient(srv.URL, "user", "pass", session, testLogger())

	ok, err := client.ObtainSession(context.Background())
	if err != nil {
		t.Fatalf("ObtainSession: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if !session.IsAuthenticated() {
		t.Fatalf("expected session authenticated")
	}
	if session.CPCookie() != "cookie-value" {
		t.Fatalf("expected cookie value set, got %q", session.CPCookie())
	}
}

func TestSSOValidate_NotOK(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sso/validate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"USER_ID": ""})
	})
	srv, closeFn := newTestServer(t, mux)
	defer closeFn()

	session := &model.SessionState{}
	client := NewPortalClient(srv.URL, "user", "pass", session, testLogger())

	userID, ok, err := client.SSOValidate(context.Background())
	if err != nil {
		t.Fatalf("SSOValidate: %v", err)
	}
	if ok || userID != "" {
		t.Fatalf("expected not-ok with empty user id, got ok=%v userID=%q", ok, userID)
	}
}

func TestIServerAuthStatus_TransportErrorFlag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/auth/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"authenticated": false, "_ERROR": "some error"})
	})
	srv, closeFn := newTestServer(t, mux)
	defer closeFn()

	session := &model.SessionState{}
	client := NewPortalClient(srv.URL, "user", "pass", session, testLogger())

	authenticated, transportErr, err := client.IServerAuthStatus(context.Background())
	if err != nil {
		t.Fatalf("IServerAuthStatus: %v", err)
	}
	if authenticated {
		t.Fatalf("expected not authenticated")
	}
	if !transportErr {
		t.Fatalf("expected transport error flag set when _ERROR is present and not false")
	}
}

func TestHistoryRequest_ClampsPeriodAndTripsBreaker(t *testing.T) {
	var requests int32
	var lastQuery string

	mux := http.NewServeMux()
	mux.HandleFunc("/iserver/marketdata/history", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		lastQuery = r.URL.RawQuery
		if n <= 3 {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	})
	srv, closeFn := newTestServer(t, mux)
	defer closeFn()

	session := &model.SessionState{}
	client := NewPortalClient(srv.URL, "user", "pass", session, testLogger())

	// Exceeding the 1000-minute cap must be clamped in the outgoing query.
	if _, err := client.HistoryRequest(context.Background(), 42, 5000); err == nil {
		t.Fatalf("expected transport error from first failing call")
	}
	if lastQuery == "" {
		t.Fatalf("expected a request to reach the server")
	}
	if !strings.Contains(lastQuery, "period=1000min") {
		t.Fatalf("expected period clamped to 1000min, got query %q", lastQuery)
	}

	// Two more consecutive failures trip the breaker (3 total).
	for i := 0; i < 2; i++ {
		if _, err := client.HistoryRequest(context.Background(), 42, 10); err == nil {
			t.Fatalf("expected transport error on attempt %d", i+2)
		}
	}

	// The breaker is now open: a subsequent call must fail fast without
	// reaching the server again.
	before := atomic.LoadInt32(&requests)
	if _, err := client.HistoryRequest(context.Background(), 42, 10); err == nil {
		t.Fatalf("expected breaker-open error")
	}
	if atomic.LoadInt32(&requests) != before {
		t.Fatalf("expected no additional request once breaker is open")
	}
}

func TestSocketURL_SchemeConversion(t *testing.T) {
	session := &model.SessionState{}
	client := NewPortalClient("https://localhost:5000/v1/api", "user", "pass", session, testLogger())
	if got := client.SocketURL(); got != "wss://localhost:5000/v1/api/ws" {
		t.Fatalf("unexpected socket url: %s", got)
	}
}
