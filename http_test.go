package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okUpstream(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(`[]`))
}

func failingUpstream(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "down", http.StatusInternalServerError)
}

func newTestApp(t *testing.T, upstream http.HandlerFunc, pingInterval time.Duration) *app {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)
	client := newUpstreamClient(srv.URL, "test-token")
	t.Cleanup(client.close)
	gateway, err := newOpenAPIGateway(sampleSpec(), client)
	if err != nil {
		t.Fatalf("newOpenAPIGateway: %v", err)
	}
	return &app{
		config:       &Config{BaseURL: srv.URL, APIToken: "test-token", Port: defaultPort},
		client:       client,
		gateway:      gateway,
		mcpServer:    newMCPServer(gateway),
		pingInterval: pingInterval,
	}
}

func TestRootIsIdempotent(t *testing.T) {
	a := newTestApp(t, okUpstream, defaultPingInterval)
	mux := newHTTPMux(a)

	var bodies [][]byte
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		bodies = append(bodies, rec.Body.Bytes())
	}
	if !bytes.Equal(bodies[0], bodies[1]) {
		t.Fatalf("liveness responses differ:\n%s\n%s", bodies[0], bodies[1])
	}

	var doc map[string]any
	if err := json.Unmarshal(bodies[0], &doc); err != nil {
		t.Fatalf("decode liveness doc: %v", err)
	}
	if doc["status"] != "running" || doc["service"] != serviceName || doc["transport"] != "SSE" {
		t.Fatalf("unexpected liveness doc: %v", doc)
	}
	endpoints, ok := doc["endpoints"].(map[string]any)
	if !ok || endpoints["sse"] != "/sse" || endpoints["health"] != "/health" {
		t.Fatalf("unexpected endpoints map: %v", doc["endpoints"])
	}
}

func TestRootRejectsUnknownPath(t *testing.T) {
	a := newTestApp(t, okUpstream, defaultPingInterval)
	mux := newHTTPMux(a)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthHealthy(t *testing.T) {
	a := newTestApp(t, okUpstream, defaultPingInterval)

	rec := httptest.NewRecorder()
	a.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode health doc: %v", err)
	}
	if doc["status"] != string(healthStatusHealthy) {
		t.Fatalf("status = %v", doc["status"])
	}
	if doc["mcp_server"] != "initialized" || doc["api_connection"] != "ok" {
		t.Fatalf("unexpected health doc: %v", doc)
	}
	if _, ok := doc["timestamp"].(float64); !ok {
		t.Fatalf("missing timestamp: %v", doc)
	}
}

func TestHealthDegradedWhenProbeFails(t *testing.T) {
	a := newTestApp(t, failingUpstream, defaultPingInterval)

	rec := httptest.NewRecorder()
	a.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, degraded is still 200", rec.Code)
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode health doc: %v", err)
	}
	if doc["status"] != string(healthStatusDegraded) || doc["api_connection"] != "failed" {
		t.Fatalf("unexpected health doc: %v", doc)
	}
}

func TestHealthNeverHealthyWithoutGateway(t *testing.T) {
	a := newTestApp(t, okUpstream, defaultPingInterval)
	a.gateway = nil

	rec := httptest.NewRecorder()
	a.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode health doc: %v", err)
	}
	if doc["status"] == string(healthStatusHealthy) {
		t.Fatalf("health must not report healthy without a tool gateway")
	}
	if doc["mcp_server"] != "not initialized" {
		t.Fatalf("mcp_server = %v", doc["mcp_server"])
	}
}

func TestSSEUnavailableWithoutGateway(t *testing.T) {
	a := newTestApp(t, okUpstream, defaultPingInterval)
	a.gateway = nil

	rec := httptest.NewRecorder()
	a.handleSSE(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode error doc: %v", err)
	}
	if doc["error"] == "" {
		t.Fatalf("expected error message in body")
	}
}

type testEvent struct {
	name string
	data map[string]any
}

func parseSSEEvents(t *testing.T, raw string) []testEvent {
	t.Helper()
	events := make([]testEvent, 0)
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev testEvent
		for _, line := range strings.Split(block, "\n") {
			if after, ok := strings.CutPrefix(line, "event: "); ok {
				ev.name = after
			}
			if after, ok := strings.CutPrefix(line, "data: "); ok {
				if err := json.Unmarshal([]byte(after), &ev.data); err != nil {
					t.Fatalf("decode event data %q: %v", after, err)
				}
			}
		}
		events = append(events, ev)
	}
	return events
}

// runSSESession drives one handleSSE call against a recorder and cancels the
// request context after the given duration, mimicking a client disconnect.
func runSSESession(t *testing.T, a *app, lifetime time.Duration) []testEvent {
	t.Helper()
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		a.handleSSE(rec, req)
		close(done)
	}()

	time.Sleep(lifetime)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not terminate after disconnect")
	}
	return parseSSEEvents(t, rec.Body.String())
}

func TestSSEHandshakeBeforeHeartbeats(t *testing.T) {
	a := newTestApp(t, okUpstream, 20*time.Millisecond)
	events := runSSESession(t, a, 110*time.Millisecond)

	if len(events) < 2 {
		t.Fatalf("expected handshake plus pings, got %d events", len(events))
	}
	first := events[0]
	if first.name != "message" {
		t.Fatalf("first event = %q, want message", first.name)
	}
	if first.data["type"] != "connection" || first.data["status"] != "connected" || first.data["server"] != serviceName {
		t.Fatalf("unexpected handshake payload: %v", first.data)
	}

	prev := 0.0
	for _, ev := range events[1:] {
		if ev.name != "ping" {
			t.Fatalf("unexpected event %q after handshake", ev.name)
		}
		if ev.data["type"] != "ping" {
			t.Fatalf("unexpected ping payload: %v", ev.data)
		}
		ts, ok := ev.data["timestamp"].(float64)
		if !ok {
			t.Fatalf("ping missing timestamp: %v", ev.data)
		}
		if ts < prev {
			t.Fatalf("ping timestamps decreased: %v < %v", ts, prev)
		}
		prev = ts
	}
}

func TestSSEImmediateDisconnect(t *testing.T) {
	a := newTestApp(t, okUpstream, 50*time.Millisecond)
	events := runSSESession(t, a, 5*time.Millisecond)

	if len(events) != 1 {
		t.Fatalf("expected only the handshake before disconnect, got %d events", len(events))
	}
	if events[0].name != "message" {
		t.Fatalf("first event = %q", events[0].name)
	}
}

func TestSSEDisconnectLeavesOtherSessionsRunning(t *testing.T) {
	a := newTestApp(t, okUpstream, 20*time.Millisecond)

	// session B outlives session A by several ticks
	recB := httptest.NewRecorder()
	ctxB, cancelB := context.WithCancel(context.Background())
	reqB := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctxB)
	doneB := make(chan struct{})
	go func() {
		a.handleSSE(recB, reqB)
		close(doneB)
	}()

	_ = runSSESession(t, a, 30*time.Millisecond)

	select {
	case <-doneB:
		t.Fatalf("unrelated session terminated when another client disconnected")
	default:
	}

	time.Sleep(80 * time.Millisecond)
	cancelB()
	select {
	case <-doneB:
	case <-time.After(2 * time.Second):
		t.Fatalf("session B did not terminate after disconnect")
	}

	events := parseSSEEvents(t, recB.Body.String())
	if len(events) < 3 {
		t.Fatalf("expected session B to keep emitting pings, got %d events", len(events))
	}
}

type brokenFlusher struct{}

func (brokenFlusher) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }
func (brokenFlusher) Flush()                    {}

func TestWriteSSEEventPropagatesWriteError(t *testing.T) {
	err := writeSSEEvent(brokenFlusher{}, brokenFlusher{}, "ping", map[string]any{"type": "ping"})
	if err == nil || !strings.Contains(err.Error(), "pipe closed") {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	handler := chainMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), recoverMiddleware("test"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
