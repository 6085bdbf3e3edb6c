package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/announce-tender/announce"
	"github.com/onnwee/announce-tender/chat"
)

type fakeSession struct {
	st chat.Status
}

func (f *fakeSession) Status() chat.Status { return f.st }

type fakeLoop struct {
	mu     sync.Mutex
	stats  announce.Stats
	sent   int
	runErr error
	runs   int
}

func (f *fakeLoop) Stats() announce.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeLoop) RunOnce(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.sent, f.runErr
}

func (f *fakeLoop) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeLedger struct {
	n    int
	path string
}

func (f *fakeLedger) Len() int     { return f.n }
func (f *fakeLedger) Path() string { return f.path }

func joinedSession() *fakeSession {
	return &fakeSession{st: chat.Status{State: chat.StateJoined, JoinedAt: time.Now()}}
}

func healthyLoop() *fakeLoop {
	return &fakeLoop{stats: announce.Stats{LastCycleAt: time.Now(), TotalSent: 7}}
}

func newTestMux(t *testing.T, session ChatSession, loop AnnounceLoop, led LedgerInfo) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, session, loop, led)
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Errorf("healthz body = %q, want %q", got, "ok")
	}
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name        string
		session     *fakeSession
		loop        *fakeLoop
		wantCode    int
		failedCheck string
	}{
		{
			name:     "ready",
			session:  joinedSession(),
			loop:     healthyLoop(),
			wantCode: http.StatusOK,
		},
		{
			name:        "not joined",
			session:     &fakeSession{st: chat.Status{State: chat.StateConnecting}},
			loop:        healthyLoop(),
			wantCode:    http.StatusServiceUnavailable,
			failedCheck: "irc_session",
		},
		{
			name:        "no cycle yet",
			session:     joinedSession(),
			loop:        &fakeLoop{},
			wantCode:    http.StatusServiceUnavailable,
			failedCheck: "announce_loop",
		},
		{
			name:        "last cycle failed",
			session:     joinedSession(),
			loop:        &fakeLoop{stats: announce.Stats{LastCycleAt: time.Now(), LastError: "tracker unavailable"}},
			wantCode:    http.StatusServiceUnavailable,
			failedCheck: "announce_loop",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(t, tc.session, tc.loop, &fakeLedger{})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tc.wantCode {
				t.Fatalf("readyz status = %d, want %d", rec.Code, tc.wantCode)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode readyz body: %v", err)
			}
			if tc.failedCheck == "" {
				if body["status"] != "ready" {
					t.Errorf("status = %q, want ready", body["status"])
				}
			} else if body["failed_check"] != tc.failedCheck {
				t.Errorf("failed_check = %q, want %q", body["failed_check"], tc.failedCheck)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	session := &fakeSession{st: chat.Status{
		State:      chat.StateJoined,
		JoinedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastError:  "read timeout",
		Reconnects: 4,
	}}
	loop := &fakeLoop{stats: announce.Stats{TotalSent: 42, Pending: 3, LastCycleAt: time.Now()}}
	led := &fakeLedger{n: 42, path: "/data/announced.txt"}
	mux := newTestMux(t, session, loop, led)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		UptimeSeconds *int64 `json:"uptime_seconds"`
		IRC           struct {
			State      string `json:"state"`
			JoinedAt   string `json:"joined_at"`
			LastError  string `json:"last_error"`
			Reconnects int64  `json:"reconnects"`
		} `json:"irc"`
		Announce announce.Stats `json:"announce"`
		Ledger   struct {
			Size int    `json:"size"`
			Path string `json:"path"`
		} `json:"ledger"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if body.UptimeSeconds == nil {
		t.Error("uptime_seconds missing from status payload")
	}
	if body.IRC.State != "joined" {
		t.Errorf("irc.state = %q, want joined", body.IRC.State)
	}
	if body.IRC.Reconnects != 4 {
		t.Errorf("irc.reconnects = %d, want 4", body.IRC.Reconnects)
	}
	if body.IRC.JoinedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("irc.joined_at = %q", body.IRC.JoinedAt)
	}
	if body.IRC.LastError != "read timeout" {
		t.Errorf("irc.last_error = %q", body.IRC.LastError)
	}
	if body.Announce.TotalSent != 42 || body.Announce.Pending != 3 {
		t.Errorf("announce stats = %+v", body.Announce)
	}
	if body.Ledger.Size != 42 || body.Ledger.Path != "/data/announced.txt" {
		t.Errorf("ledger = %+v", body.Ledger)
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestCorrelationHeader(t *testing.T) {
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	// Provided correlation IDs are echoed back.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation header = %q, want corr-123", got)
	}

	// Absent ones are generated.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("correlation header not generated")
	}
}

func TestAdminPollTriggersCycle(t *testing.T) {
	loop := healthyLoop()
	loop.sent = 2
	mux := newTestMux(t, joinedSession(), loop, &fakeLedger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/poll", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("admin poll status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["sent"] != float64(2) {
		t.Errorf("sent = %v, want 2", body["sent"])
	}
	if loop.runCount() != 1 {
		t.Errorf("RunOnce called %d times, want 1", loop.runCount())
	}
}

func TestAdminPollMethodNotAllowed(t *testing.T) {
	loop := healthyLoop()
	mux := newTestMux(t, joinedSession(), loop, &fakeLedger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/poll", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if loop.runCount() != 0 {
		t.Errorf("RunOnce called %d times, want 0", loop.runCount())
	}
}

func TestAdminPollCycleError(t *testing.T) {
	loop := healthyLoop()
	loop.runErr = errors.New("tracker unavailable: status 500")
	mux := newTestMux(t, joinedSession(), loop, &fakeLedger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/poll", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tracker unavailable") {
		t.Errorf("body %q missing cycle error", rec.Body.String())
	}
}
