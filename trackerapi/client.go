// Package trackerapi fetches the published-torrents feed from a UNIT3D
// tracker API using a bearer token.
package trackerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Error classes for a failed fetch. All are recoverable: the caller logs the
// class and retries on its next scheduled tick; nothing here terminates the
// process.
var (
	// ErrUnavailable covers network failures, timeouts and non-auth HTTP
	// error statuses.
	ErrUnavailable = errors.New("tracker api unavailable")
	// ErrAuth means the tracker rejected the bearer token (401/403).
	ErrAuth = errors.New("tracker api auth rejected")
	// ErrMalformed means the response body could not be decoded.
	ErrMalformed = errors.New("tracker api response malformed")
)

// Torrent is one entry of the tracker's feed, in the JSON:API-style envelope
// UNIT3D serves: an ID plus an attributes object.
type Torrent struct {
	ID         string     `json:"id"`
	Attributes Attributes `json:"attributes"`
}

// Attributes are the display fields used to format an announcement. Size is
// bytes. Internal is the tracker's tri-state flag: 0 no, 1 yes, anything else
// unknown. Resolution may be absent for non-video content.
type Attributes struct {
	Category     string `json:"category"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	Resolution   string `json:"resolution"`
	Freeleech    string `json:"freeleech"`
	Internal     int    `json:"internal"`
	DoubleUpload bool   `json:"double_upload"`
	Size         int64  `json:"size"`
	Uploader     string `json:"uploader"`
	DownloadLink string `json:"download_link"`
	BumpedAt     string `json:"bumped_at"`
}

// Client calls the tracker feed endpoint. Zero retry logic lives here; the
// announce loop owns the polling cadence.
type Client struct {
	BaseURL    string // full feed URL, e.g. https://tracker.example/api/torrents
	Token      string
	HTTPClient *http.Client
	UserAgent  string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// FetchTorrents returns the current feed in the order the tracker sent it;
// the announce loop relies on that order being preserved. Returned errors
// wrap ErrUnavailable, ErrAuth or ErrMalformed.
func (c *Client) FetchTorrents(ctx context.Context) ([]Torrent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Data []Torrent `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	// An entry without an ID can never be recorded as announced and would be
	// re-sent forever; drop it rather than poison the dedupe cycle.
	out := make([]Torrent, 0, len(body.Data))
	dropped := 0
	for _, t := range body.Data {
		if t.ID == "" {
			dropped++
			continue
		}
		out = append(out, t)
	}
	if dropped > 0 {
		slog.Warn("dropped feed entries without an id", slog.Int("count", dropped))
	}
	return out, nil
}
