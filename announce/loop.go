// Package announce runs the poll-and-announce cycle: fetch the tracker feed,
// skip everything already in the ledger, deliver the rest to IRC in feed
// order, and record each ID once its announcement has gone out.
package announce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/announce-tender/ledger"
	"github.com/onnwee/announce-tender/telemetry"
	"github.com/onnwee/announce-tender/trackerapi"
)

// Feed supplies the published-torrents listing, newest first.
type Feed interface {
	FetchTorrents(ctx context.Context) ([]trackerapi.Torrent, error)
}

// Sender delivers one announcement line to the channel.
type Sender interface {
	Send(text string) error
	Joined() bool
}

var errNotJoined = errors.New("irc session not joined")

const defaultInterval = 30 * time.Second

// Stats is a point-in-time snapshot of loop progress, served by the status
// endpoint.
type Stats struct {
	LastCycleAt time.Time `json:"last_cycle_at"`
	LastError   string    `json:"last_error,omitempty"`
	SentLast    int       `json:"sent_last_cycle"`
	Pending     int       `json:"pending"`
	TotalSent   int64     `json:"total_sent"`
}

// Loop owns one poll cadence against one feed/channel pair.
type Loop struct {
	feed     Feed
	sender   Sender
	ledger   *ledger.Ledger
	interval time.Duration

	mu    sync.Mutex
	stats Stats
}

// NewLoop wires a poll loop. interval <= 0 selects the 30s default.
func NewLoop(feed Feed, sender Sender, led *ledger.Ledger, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{feed: feed, sender: sender, ledger: led, interval: interval}
}

// Run polls until ctx is canceled. The first cycle starts immediately; later
// cycles follow the ticker, so a cycle that overruns the interval delays the
// next one instead of stacking cycles behind it.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle and reports how many announcements were
// delivered. Fetch failures skip the whole cycle; a send failure stops the
// batch and leaves the remainder for the next cycle, preserving feed order.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	if !l.sender.Joined() {
		// Nothing can be delivered, so don't burn an API call; the items
		// stay unseen and the next cycle picks them up.
		slog.Debug("skipping poll, irc session not joined", slog.String("component", "announce"))
		l.mu.Lock()
		l.stats.LastCycleAt = time.Now()
		l.stats.SentLast = 0
		l.stats.LastError = errNotJoined.Error()
		l.mu.Unlock()
		return 0, errNotJoined
	}

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "announce"))

	ctx, span := telemetry.StartSpan(ctx, "announce", "announce.cycle")
	defer span.End()

	telemetry.PollCycles.Inc()
	start := time.Now()
	defer func() { telemetry.CycleDuration.Observe(time.Since(start).Seconds()) }()

	var (
		items    []trackerapi.Torrent
		fetchErr error
	)
	telemetry.TimeFunc(telemetry.FetchDuration, func() {
		items, fetchErr = l.feed.FetchTorrents(ctx)
	})
	if fetchErr != nil {
		telemetry.PollErrors.Inc()
		telemetry.RecordError(span, fetchErr)
		log.Warn("tracker fetch failed", slog.Any("err", fetchErr))
		// A failed fetch says nothing about the backlog, so Pending keeps its
		// last known value.
		l.mu.Lock()
		l.stats.LastCycleAt = time.Now()
		l.stats.SentLast = 0
		l.stats.LastError = fetchErr.Error()
		l.mu.Unlock()
		return 0, fetchErr
	}

	pending := make([]trackerapi.Torrent, 0, len(items))
	for _, t := range items {
		if !l.ledger.Contains(t.ID) {
			pending = append(pending, t)
		}
	}

	sent := 0
	var cycleErr error
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			cycleErr = err
			break
		}
		if err := l.sender.Send(FormatTorrent(t)); err != nil {
			telemetry.SendFailures.Inc()
			log.Warn("announcement send failed", slog.String("id", t.ID), slog.Any("err", err))
			cycleErr = err
			break
		}
		telemetry.AnnouncesSent.Inc()
		log.Info("announced", slog.String("id", t.ID), slog.String("name", t.Attributes.Name))
		sent++
		if err := l.ledger.Record(t.ID); err != nil {
			// The in-memory set still marks the ID, so this process will not
			// repeat the announcement; only a restart can. Stop the batch so
			// a failing disk doesn't pile up replayable sends.
			telemetry.RecordFailures.Inc()
			log.Error("failed to record announced id", slog.String("id", t.ID), slog.Any("err", err))
			cycleErr = err
			break
		}
	}

	telemetry.SetLedgerSize(l.ledger.Len())
	remaining := len(pending) - sent
	telemetry.SetPending(remaining)

	if cycleErr != nil {
		telemetry.RecordError(span, cycleErr)
	} else {
		telemetry.SetSpanSuccess(span)
	}
	l.noteCycle(sent, remaining, cycleErr)
	return sent, cycleErr
}

func (l *Loop) noteCycle(sent, pending int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.LastCycleAt = time.Now()
	l.stats.SentLast = sent
	l.stats.Pending = pending
	l.stats.TotalSent += int64(sent)
	if err != nil {
		l.stats.LastError = err.Error()
	} else {
		l.stats.LastError = ""
	}
}

// Stats returns a snapshot of loop progress.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
