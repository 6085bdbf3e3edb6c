// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"time"

	"github.com/onnwee/announce-tender/announce"
	"github.com/onnwee/announce-tender/chat"
)

// ChatSession exposes the IRC connection state consumed by the API.
type ChatSession interface {
	Status() chat.Status
}

// AnnounceLoop exposes poll-loop progress and the manual poll trigger.
type AnnounceLoop interface {
	Stats() announce.Stats
	RunOnce(ctx context.Context) (int, error)
}

// LedgerInfo exposes the announced-ID ledger for the status payload.
type LedgerInfo interface {
	Len() int
	Path() string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	session ChatSession
	loop    AnnounceLoop
	ledger  LedgerInfo
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(session ChatSession, loop AnnounceLoop, led LedgerInfo) *Handlers {
	return &Handlers{session: session, loop: loop, ledger: led, started: time.Now()}
}
