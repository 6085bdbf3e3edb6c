package server

import (
	"encoding/json"
	"net/http"
)

// HandleAdminPoll triggers one poll cycle outside the regular cadence.
// Useful right after fixing tracker credentials or rejoining the channel.
func (h *Handlers) HandleAdminPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sent, err := h.loop.RunOnce(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "sent": sent})
}
