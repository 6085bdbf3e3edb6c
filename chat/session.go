package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	irc "gopkg.in/irc.v4"

	"github.com/onnwee/announce-tender/telemetry"
)

// ErrNotConnected is returned by Send when the session is not joined to the
// channel. Nothing is buffered; the caller retries on a later cycle.
var ErrNotConnected = errors.New("irc session not joined")

// State is the connection lifecycle phase. The Session owns all transitions;
// other components only read it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateJoined
	StateDegraded
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// DialFunc opens the transport connection. Tests inject one to reach a
// scripted local server.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config carries the connection parameters. Zero durations fall back to the
// package defaults; a negative PingFrequency disables client-side pings.
type Config struct {
	Server           string
	Port             int
	TLS              bool
	Nickname         string
	Password         string // server PASS, optional
	NickServPassword string // IDENTIFY after registration, optional
	Channel          string

	ReconnectMin    time.Duration // first retry delay, default 5s
	ReconnectMax    time.Duration // retry delay cap, default 5m
	StabilityWindow time.Duration // joined this long resets the backoff, default 1m
	PingFrequency   time.Duration // keepalive ping cadence, default 1m
	PingTimeout     time.Duration // time allowed for the pong, default 1m

	Dial DialFunc // nil means TCP (or TLS) against Server:Port
}

const (
	defaultReconnectMin    = 5 * time.Second
	defaultReconnectMax    = 5 * time.Minute
	defaultStabilityWindow = time.Minute
	defaultPingFrequency   = time.Minute
	defaultPingTimeout     = time.Minute

	dialTimeout   = 15 * time.Second
	joinTimeout   = time.Minute
	writeDeadline = 10 * time.Second

	// Outbound flood protection: at most sendBurst lines at once, one more
	// token every sendLimit.
	sendLimit = 500 * time.Millisecond
	sendBurst = 4

	maxNickTries = 3
)

// Session supervises a single IRC connection and reconnects it with bounded
// exponential backoff. Run owns the connection lifecycle; Send, State and
// Status are safe to call concurrently from other goroutines.
type Session struct {
	cfg     Config
	running atomic.Bool

	mu         sync.Mutex
	state      State
	client     *irc.Client
	conn       net.Conn
	joinedAt   time.Time
	lastErr    error
	reconnects int64
}

// NewSession prepares a session; nothing connects until Run.
func NewSession(cfg Config) *Session {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if cfg.StabilityWindow <= 0 {
		cfg.StabilityWindow = defaultStabilityWindow
	}
	if cfg.PingFrequency == 0 {
		cfg.PingFrequency = defaultPingFrequency
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	return &Session{cfg: cfg}
}

// Run connects and keeps the session alive until ctx is canceled. The retry
// delay doubles from ReconnectMin up to ReconnectMax and resets once a
// connection stays joined past StabilityWindow. Returns nil on shutdown; a
// Session is not restartable.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("irc session already running")
	}

	bo := newBackoff(s.cfg.ReconnectMin, s.cfg.ReconnectMax)

	for attempt := 1; ; attempt++ {
		stayed, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			slog.Info("irc session stopped", slog.String("server", s.cfg.Server))
			return nil
		}
		if stayed >= s.cfg.StabilityWindow {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		slog.Warn("irc disconnected, will reconnect",
			slog.Any("err", err),
			slog.Duration("wait", delay),
			slog.Int("attempt", attempt))
		telemetry.IRCReconnects.Inc()
		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			slog.Info("irc session stopped", slog.String("server", s.cfg.Server))
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce performs one connect/register/join/read cycle and reports how long
// the connection was joined.
func (s *Session) runOnce(ctx context.Context) (time.Duration, error) {
	s.setState(StateConnecting)
	slog.Info("irc connecting",
		slog.String("server", s.cfg.Server),
		slog.Int("port", s.cfg.Port),
		slog.Bool("tls", s.cfg.TLS))

	conn, err := s.dial(ctx)
	if err != nil {
		telemetry.IRCConnectErrors.Inc()
		s.fail(err)
		return 0, fmt.Errorf("dial %s: %w", s.addr(), err)
	}

	client := irc.NewClient(conn, irc.ClientConfig{
		Nick:          s.cfg.Nickname,
		Pass:          s.cfg.Password,
		User:          s.cfg.Nickname,
		Name:          s.cfg.Nickname,
		PingFrequency: s.cfg.PingFrequency,
		PingTimeout:   s.cfg.PingTimeout,
		SendLimit:     sendLimit,
		SendBurst:     sendBurst,
		Handler:       irc.HandlerFunc(s.newHandler()),
	})

	s.mu.Lock()
	s.client = client
	s.conn = conn
	s.state = StateAuthenticating
	s.lastErr = nil
	s.mu.Unlock()

	// Sever the connection on shutdown (best-effort QUIT first) and when
	// registration never reaches the channel.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.sendQuit(client, conn)
		case <-done:
		}
	}()
	joinGuard := time.AfterFunc(joinTimeout, func() {
		if s.State() != StateJoined {
			slog.Warn("irc registration timed out", slog.Duration("after", joinTimeout))
			_ = conn.Close()
		}
	})
	defer joinGuard.Stop()

	runErr := client.RunContext(ctx)

	s.mu.Lock()
	wasJoined := s.state == StateJoined
	joinedAt := s.joinedAt
	if wasJoined && runErr != nil && ctx.Err() == nil {
		// Keepalive or socket failure on a live connection.
		s.state = StateDegraded
		s.lastErr = runErr
	}
	s.client = nil
	s.conn = nil
	s.joinedAt = time.Time{}
	s.mu.Unlock()

	telemetry.UpdateJoinedGauge(false)
	_ = conn.Close()
	s.setState(StateDisconnected)

	var stayed time.Duration
	if wasJoined && !joinedAt.IsZero() {
		stayed = time.Since(joinedAt)
	}
	return stayed, runErr
}

// newHandler builds the per-connection message handler. Registration state
// (nick retries, pending NickServ auth) lives in the closure so every fresh
// connection starts over.
func (s *Session) newHandler() func(c *irc.Client, m *irc.Message) {
	nickTries := 0
	awaitingNickServ := s.cfg.NickServPassword != ""
	return func(c *irc.Client, m *irc.Message) {
		switch m.Command {
		case "001": // registered with the server
			slog.Info("irc registered", slog.String("nick", c.CurrentNick()))
			if awaitingNickServ {
				slog.Info("identifying with nickserv", slog.String("nick", s.cfg.Nickname))
				_ = c.Writef("PRIVMSG NickServ :IDENTIFY %s %s", s.cfg.Nickname, s.cfg.NickServPassword)
				return
			}
			_ = c.Writef("JOIN %s", s.cfg.Channel)

		case "NOTICE":
			from := ""
			if m.Prefix != nil {
				from = m.Prefix.Name
			}
			text := m.Trailing()
			slog.Debug("irc notice", slog.String("from", from), slog.String("text", text))
			if awaitingNickServ && strings.EqualFold(from, "NickServ") && nickServAccepted(text) {
				awaitingNickServ = false
				slog.Info("nickserv identification accepted")
				_ = c.Writef("JOIN %s", s.cfg.Channel)
			}

		case "366": // end of NAMES: join confirmed
			if len(m.Params) < 2 || !strings.EqualFold(m.Params[1], s.cfg.Channel) {
				return
			}
			s.mu.Lock()
			s.state = StateJoined
			s.joinedAt = time.Now()
			s.mu.Unlock()
			telemetry.UpdateJoinedGauge(true)
			slog.Info("irc channel joined", slog.String("channel", s.cfg.Channel))

		case "433": // nickname in use; the client retries with a _ suffix
			nickTries++
			if nickTries >= maxNickTries {
				slog.Error("nickname unavailable, abandoning this connection", slog.String("nick", s.cfg.Nickname))
				if conn := s.currentConn(); conn != nil {
					_ = conn.Close()
				}
				return
			}
			slog.Warn("nickname in use, trying alternate",
				slog.String("nick", s.cfg.Nickname),
				slog.Int("attempt", nickTries))

		case "ERROR":
			slog.Warn("irc server error", slog.String("text", m.Trailing()))
		}
	}
}

// newBackoff builds the reconnect delay schedule: doubling from min, capped
// at max, no jitter so the delay never shrinks between failed attempts.
func newBackoff(min, max time.Duration) *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     min,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
	}
	bo.Reset()
	return bo
}

// nickServAccepted matches the confirmation notice across common services
// implementations.
func nickServAccepted(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "password accepted") ||
		strings.Contains(t, "now identified") ||
		strings.Contains(t, "now logged in")
}

// Send delivers one line to the channel as PRIVMSG. It fails fast with
// ErrNotConnected unless the session is joined; announcements are never
// buffered for later delivery.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	client, conn, st := s.client, s.conn, s.state
	s.mu.Unlock()
	if st != StateJoined || client == nil || conn == nil {
		return ErrNotConnected
	}

	// Bound the write so a wedged socket fails the cycle instead of hanging it.
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	err := client.WriteMessage(&irc.Message{
		Command: "PRIVMSG",
		Params:  []string{s.cfg.Channel, text},
	})
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return fmt.Errorf("send privmsg: %w", err)
	}
	return nil
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Joined reports whether announcements can be sent right now.
func (s *Session) Joined() bool {
	return s.State() == StateJoined
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	State      State
	JoinedAt   time.Time
	LastError  string
	Reconnects int64
}

// Status returns the state with diagnostic detail.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, JoinedAt: s.joinedAt, Reconnects: s.reconnects}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateDisconnected
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) currentConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) addr() string {
	return net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	if s.cfg.Dial != nil {
		return s.cfg.Dial(ctx, "tcp", s.addr())
	}
	d := &net.Dialer{Timeout: dialTimeout}
	if s.cfg.TLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{
			ServerName: s.cfg.Server,
			MinVersion: tls.VersionTLS12,
		}}
		return td.DialContext(ctx, "tcp", s.addr())
	}
	return d.DialContext(ctx, "tcp", s.addr())
}

// sendQuit announces departure before the socket is torn down. Best effort:
// the write gets a short deadline and failures are ignored.
func (s *Session) sendQuit(client *irc.Client, conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = client.WriteMessage(&irc.Message{Command: "QUIT", Params: []string{"shutting down"}})
	_ = conn.Close()
}
