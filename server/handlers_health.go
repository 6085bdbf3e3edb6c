package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/announce-tender/chat"
)

// HandleHealthz responds to liveness probe requests. Serving the request is
// the proof of life; IRC and tracker trouble is reported by readyz instead,
// so a netsplit doesn't get the container restarted into a reconnect storm.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"irc_session", func() error {
			if st := h.session.Status(); st.State != chat.StateJoined {
				return fmt.Errorf("session %s", st.State)
			}
			return nil
		}},
		{"announce_loop", func() error {
			st := h.loop.Stats()
			if st.LastCycleAt.IsZero() {
				return fmt.Errorf("no poll cycle completed yet")
			}
			if st.LastError != "" {
				return fmt.Errorf("last cycle failed: %s", st.LastError)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
