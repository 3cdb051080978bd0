package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
)

func TestHTTPTransport_PushCarriesScheduleAndToken(t *testing.T) {
	tokens, err := NewTokenSource("s3cret", "node-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/arduino/node-1/data" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.ParseWithClaims(auth, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
			return []byte("s3cret"), nil
		})
		if err != nil || !tok.Valid {
			t.Errorf("bad token: %v", err)
		} else if sub, _ := tok.Claims.GetSubject(); sub != "node-1" {
			t.Errorf("sub = %q, want node-1", sub)
		}
		var body messages.TelemetryPush
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.DeviceID != "node-1" {
			t.Errorf("device_id = %q", body.DeviceID)
		}
		_, _ = w.Write([]byte(`{"schedule":{"schedule":[{"zone_id":2,"duration_minutes":1.5}]}}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{BaseURL: srv.URL + "/", DeviceID: "node-1", Tokens: tokens})
	resp, err := tr.PushTelemetry(context.Background(), messages.TelemetryPush{DeviceID: "node-1"})
	if err != nil {
		t.Fatalf("PushTelemetry() error = %v", err)
	}
	got := resp.Entries()
	if len(got) != 1 || got[0].ZoneID != 2 || got[0].DurationMinutes != 1.5 {
		t.Fatalf("Entries() = %+v", got)
	}
}

func TestHTTPTransport_EmptyPushBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{BaseURL: srv.URL, DeviceID: "n"})
	resp, err := tr.PushTelemetry(context.Background(), messages.TelemetryPush{})
	if err != nil {
		t.Fatalf("PushTelemetry() error = %v", err)
	}
	if len(resp.Entries()) != 0 {
		t.Fatalf("Entries() = %+v, want none", resp.Entries())
	}
}

func TestHTTPTransport_ReportPath(t *testing.T) {
	var gotPath, gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var rep messages.CommandStatusReport
		_ = json.NewDecoder(r.Body).Decode(&rep)
		gotStatus = rep.Status
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{BaseURL: srv.URL, DeviceID: "n"})
	err := tr.ReportStatus(context.Background(), "42", messages.CommandStatusReport{Status: "executed"})
	if err != nil {
		t.Fatalf("ReportStatus() error = %v", err)
	}
	if gotPath != "/api/arduino/n/commands/42/status" || gotStatus != "executed" {
		t.Fatalf("path = %q status = %q", gotPath, gotStatus)
	}
}

func TestHTTPTransport_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{BaseURL: srv.URL, DeviceID: "n", BreakerFails: 3, BreakerOpen: time.Minute})
	for i := 0; i < 5; i++ {
		_, err := tr.PollCommands(context.Background())
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("call %d: err = %v, want ErrTransport", i, err)
		}
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("server hits = %d, want 3", got)
	}

	// il breaker dei comandi non blocca il push
	if _, err := tr.PushTelemetry(context.Background(), messages.TelemetryPush{}); err == nil {
		t.Fatal("push against failing server should error")
	}
	if got := hits.Load(); got != 4 {
		t.Fatalf("server hits after push = %d, want 4", got)
	}
}

func TestHTTPTransport_MalformedBodyDoesNotTrip(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"commands": 7`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{BaseURL: srv.URL, DeviceID: "n", BreakerFails: 2})
	for i := 0; i < 4; i++ {
		_, err := tr.PollCommands(context.Background())
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("call %d: err = %v, want ErrMalformedResponse", i, err)
		}
	}
	if got := hits.Load(); got != 4 {
		t.Fatalf("server hits = %d, want 4", got)
	}
}

func TestTokenSource_Caches(t *testing.T) {
	ts, err := NewTokenSource("k", "dev", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	a, _ := ts.Token()
	now = now.Add(30 * time.Minute)
	b, _ := ts.Token()
	if a != b {
		t.Fatal("token re-signed before expiry window")
	}
	now = now.Add(25 * time.Minute)
	c, _ := ts.Token()
	if c == b {
		t.Fatal("token not refreshed near expiry")
	}

	if _, err := NewTokenSource("", "dev", 0); err == nil {
		t.Fatal("empty secret should be rejected")
	}
}
