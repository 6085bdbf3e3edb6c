package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdminAuthToken(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "s3cret")
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/poll", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated admin poll status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header on 401")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/poll", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token-authenticated admin poll status = %d, want 200", rec.Code)
	}
}

func TestAdminAuthBasic(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "ops")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/poll", nil)
	req.SetBasicAuth("ops", "wrong")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/poll", nil)
	req.SetBasicAuth("ops", "hunter2")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("basic-authenticated status = %d, want 200", rec.Code)
	}
}

func TestAdminAuthNotConfiguredAllows(t *testing.T) {
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/poll", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("dev-mode admin poll status = %d, want 200", rec.Code)
	}
}

func TestProbesBypassAdminAuth(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "s3cret")
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	for _, path := range []string{"/healthz", "/readyz", "/status"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code == http.StatusUnauthorized {
			t.Errorf("%s requires auth, want open", path)
		}
	}
}

func TestAdminRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "2")
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	// httptest gives every request the same RemoteAddr.
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/poll", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/poll", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on 429")
	}

	// A different client IP (via proxy header) still gets through.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/poll", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("forwarded client status = %d, want 200", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "1")
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/poll", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200 with limiter disabled", i+1, rec.Code)
		}
	}
}

func TestParseInt(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"5", 1, 5},
		{"garbage", 7, 7},
		{"", 3, 3},
	}
	for _, tc := range cases {
		if got := parseInt(tc.in, tc.def); got != tc.want {
			t.Errorf("parseInt(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}

// Guard against the limiter counting probe traffic: only /admin/ paths are
// rate limited.
func TestProbesNotRateLimited(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "1")
	mux := newTestMux(t, joinedSession(), healthyLoop(), &fakeLedger{})

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("probe %d status = %d, want 200", i+1, rec.Code)
		}
	}
}
