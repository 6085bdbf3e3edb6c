// Command announce-tender is the tracker announce bot entrypoint.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the announced-ID ledger, salvaging what it can from a damaged file.
//   - Keeps an IRC session connected and joined to the announce channel.
//   - Polls the tracker feed and announces each new torrent exactly once.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/announce-tender/announce"
	"github.com/onnwee/announce-tender/chat"
	"github.com/onnwee/announce-tender/config"
	"github.com/onnwee/announce-tender/ledger"
	"github.com/onnwee/announce-tender/server"
	"github.com/onnwee/announce-tender/telemetry"
	"github.com/onnwee/announce-tender/trackerapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("announce-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Ledger. A damaged file is salvaged rather than fatal: readable records
	// are kept, the rest is set aside, and the bot keeps running.
	led, err := ledger.Open(cfg.AnnouncedFile)
	if err != nil {
		if errors.Is(err, ledger.ErrCorrupt) {
			slog.Warn("ledger damaged, continuing with salvaged records", slog.String("path", cfg.AnnouncedFile), slog.Any("err", err))
		} else {
			slog.Error("failed to open ledger", slog.String("path", cfg.AnnouncedFile), slog.Any("err", err))
			os.Exit(1)
		}
	}
	defer func() {
		if err := led.Close(); err != nil {
			slog.Error("failed to close ledger", slog.Any("err", err))
		}
	}()
	slog.Info("ledger opened", slog.String("path", cfg.AnnouncedFile), slog.Int("ids", led.Len()))
	telemetry.SetLedgerSize(led.Len())

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// IRC session supervisor: reconnects with capped exponential backoff and
	// rejoins the announce channel on its own.
	session := chat.NewSession(chat.Config{
		Server:           cfg.IRCServer,
		Port:             cfg.IRCPort,
		TLS:              cfg.IRCTLS,
		Nickname:         cfg.IRCNickname,
		Password:         cfg.IRCPassword,
		NickServPassword: cfg.IRCNickServPassword,
		Channel:          cfg.IRCChannel,
		ReconnectMin:     cfg.ReconnectMin,
		ReconnectMax:     cfg.ReconnectMax,
		StabilityWindow:  cfg.StabilityWindow,
	})
	go func() {
		if err := session.Run(ctx); err != nil {
			slog.Error("irc session exited with error", slog.Any("err", err))
		}
	}()

	// Announce loop. The fetch client carries its own timeout so a stalled
	// tracker can't wedge the poll cadence.
	feed := &trackerapi.Client{
		BaseURL:    cfg.APIURL,
		Token:      cfg.APIToken,
		UserAgent:  "announce-tender/1.0",
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
	loop := announce.NewLoop(feed, session, led, cfg.PollInterval)
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, addr, session, loop, led); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")

	// Let an in-flight cycle finish so its ledger appends land before Close.
	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		slog.Warn("announce loop did not stop in time")
	}
}
