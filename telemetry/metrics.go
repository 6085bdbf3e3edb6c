// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	AnnouncesSent    prometheus.Counter
	SendFailures     prometheus.Counter
	PollCycles       prometheus.Counter
	PollErrors       prometheus.Counter
	RecordFailures   prometheus.Counter
	IRCReconnects    prometheus.Counter
	IRCConnectErrors prometheus.Counter

	// Histograms (seconds)
	CycleDuration prometheus.Observer
	FetchDuration prometheus.Observer

	// Gauges
	LedgerSizeGauge prometheus.Gauge
	PendingGauge    prometheus.Gauge
	IRCJoinedGauge  prometheus.Gauge // 1=joined,0=not
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		AnnouncesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "announce_sent_total", Help: "Number of announcements delivered to the IRC channel"})
		SendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "announce_send_failures_total", Help: "Number of announcement sends that failed"})
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "announce_poll_cycles_total", Help: "Number of poll cycles run"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "announce_poll_errors_total", Help: "Number of poll cycles that failed to fetch from the tracker API"})
		RecordFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "announce_ledger_record_failures_total", Help: "Number of ledger writes that failed after a successful send"})
		IRCReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_reconnects_total", Help: "Number of IRC reconnect attempts"})
		IRCConnectErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "irc_connect_errors_total", Help: "Number of IRC connection attempts that failed"})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "announce_cycle_duration_seconds", Help: "Full poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "announce_fetch_duration_seconds", Help: "Tracker API fetch duration seconds", Buckets: prometheus.DefBuckets})
		LedgerSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "announce_ledger_size", Help: "Current number of IDs recorded in the announce ledger"})
		PendingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "announce_pending", Help: "Items left unannounced at the end of the last cycle"})
		IRCJoinedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "irc_joined", Help: "IRC session joined=1 otherwise 0"})
	})
}

// UpdateJoinedGauge sets gauge to 1 if the session is joined else 0.
func UpdateJoinedGauge(joined bool) {
	if IRCJoinedGauge != nil {
		if joined {
			IRCJoinedGauge.Set(1)
		} else {
			IRCJoinedGauge.Set(0)
		}
	}
}

// SetLedgerSize records the current announced-ID count.
func SetLedgerSize(n int) {
	if LedgerSizeGauge != nil {
		LedgerSizeGauge.Set(float64(n))
	}
}

// SetPending records how many fetched items are still waiting to be announced.
func SetPending(n int) {
	if PendingGauge != nil {
		PendingGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
