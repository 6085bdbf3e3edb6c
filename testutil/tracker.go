package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTrackerServer mocks the UNIT3D torrents feed endpoint.
type MockTrackerServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	feed     []map[string]any
	requests int
}

// NewMockTrackerServer starts a feed server that answers every request with
// the currently configured entries.
func NewMockTrackerServer(t *testing.T) *MockTrackerServer {
	t.Helper()
	m := &MockTrackerServer{status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.requests++
		if m.status != http.StatusOK {
			w.WriteHeader(m.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": m.feed})
	}))
	t.Cleanup(m.Close)
	return m
}

// SetFeed replaces the entries served on subsequent requests.
func (m *MockTrackerServer) SetFeed(entries ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feed = entries
}

// SetStatus forces an HTTP status for subsequent requests; http.StatusOK
// restores normal serving.
func (m *MockTrackerServer) SetStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = code
}

// Requests returns how many feed fetches were served so far.
func (m *MockTrackerServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// FeedEntry builds one feed entry with the given id and name plus plausible
// defaults for the remaining attributes.
func FeedEntry(id, name string) map[string]any {
	return map[string]any{
		"id": id,
		"attributes": map[string]any{
			"category":      "Movies",
			"type":          "Encode",
			"name":          name,
			"resolution":    "1080p",
			"freeleech":     "0%",
			"internal":      0,
			"double_upload": false,
			"size":          1073741824,
			"uploader":      "uploader",
			"download_link": "https://tracker.test/torrent/download/" + id + ".rsskey",
			"bumped_at":     "2024-05-01T10:00:00Z",
		},
	}
}
