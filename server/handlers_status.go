package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HandleStatus returns a JSON snapshot of the IRC session, the announce
// loop, and the ledger for dashboards and debugging.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := h.session.Status()
	irc := map[string]any{
		"state":      st.State.String(),
		"reconnects": st.Reconnects,
	}
	if !st.JoinedAt.IsZero() {
		irc["joined_at"] = st.JoinedAt.UTC().Format(time.RFC3339)
	}
	if st.LastError != "" {
		irc["last_error"] = st.LastError
	}

	resp := map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"irc":            irc,
		"announce":       h.loop.Stats(),
		"ledger": map[string]any{
			"size": h.ledger.Len(),
			"path": h.ledger.Path(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
