package testutil

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// IRCOptions tune the scripted server's behavior per scenario.
type IRCOptions struct {
	// RejectNicks answers the first n NICK attempts with 433.
	RejectNicks int
	// RequireNickServ withholds channel joins (477) until an IDENTIFY
	// arrives, then confirms it with the usual services notice.
	RequireNickServ bool
	// IgnorePings drops client PINGs so a ping timeout fires.
	IgnorePings bool
	// CloseJoins drops the connection right after confirming the join, for
	// the first n connections.
	CloseJoins int
}

// IRCServer is a minimal scripted IRC daemon listening on a real socket. It
// speaks just enough of the protocol to register a client, identify with
// NickServ, confirm a channel join and collect PRIVMSGs.
type IRCServer struct {
	t    *testing.T
	ln   net.Listener
	opts IRCOptions

	mu     sync.Mutex
	events []string
	conns  int
	open   []net.Conn
}

// NewIRCServer starts the server on a loopback port and shuts it down with
// the test.
func NewIRCServer(t *testing.T, opts IRCOptions) *IRCServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &IRCServer{t: t, ln: ln, opts: opts}
	go s.acceptLoop()
	t.Cleanup(func() {
		_ = ln.Close()
		s.mu.Lock()
		for _, c := range s.open {
			_ = c.Close()
		}
		s.mu.Unlock()
	})
	return s
}

// HostPort returns the address a client should dial.
func (s *IRCServer) HostPort() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// Conns returns how many connections were accepted so far.
func (s *IRCServer) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// SendRaw writes one protocol line to the newest connection, for
// server-initiated exchanges like PING.
func (s *IRCServer) SendRaw(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.open) == 0 {
		return
	}
	fmt.Fprintf(s.open[len(s.open)-1], "%s\r\n", line)
}

// Events returns a copy of the recorded protocol events (PRIVMSG, IDENTIFY,
// PONG, QUIT) in arrival order.
func (s *IRCServer) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// WaitFor blocks until a recorded event contains substr, failing the test on
// timeout.
func (s *IRCServer) WaitFor(t *testing.T, substr string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, ev := range s.events {
			if strings.Contains(ev, substr) {
				s.mu.Unlock()
				return ev
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event containing %q; got %v", substr, s.Events())
	return ""
}

// WaitConns blocks until at least n connections were accepted.
func (s *IRCServer) WaitConns(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Conns() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connections, got %d", n, s.Conns())
}

func (s *IRCServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		n := s.conns
		s.open = append(s.open, conn)
		s.mu.Unlock()
		go s.handle(conn, n)
	}
}

func (s *IRCServer) record(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *IRCServer) handle(conn net.Conn, connNum int) {
	defer conn.Close()
	var nick string
	identified := !s.opts.RequireNickServ
	rejected := 0
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		cmd, params := parseIRCLine(line)
		switch cmd {
		case "NICK":
			if len(params) == 0 {
				continue
			}
			if rejected < s.opts.RejectNicks {
				rejected++
				fmt.Fprintf(conn, ":irc.test 433 * %s :Nickname is already in use.\r\n", params[0])
				continue
			}
			nick = params[0]
		case "USER":
			if nick == "" {
				continue
			}
			fmt.Fprintf(conn, ":irc.test 001 %s :Welcome to the test network, %s\r\n", nick, nick)
		case "PING":
			if s.opts.IgnorePings {
				continue
			}
			arg := ""
			if len(params) > 0 {
				arg = params[len(params)-1]
			}
			fmt.Fprintf(conn, ":irc.test PONG irc.test :%s\r\n", arg)
		case "PONG":
			arg := ""
			if len(params) > 0 {
				arg = params[len(params)-1]
			}
			s.record("PONG " + arg)
		case "PRIVMSG":
			if len(params) < 2 {
				continue
			}
			target, text := params[0], params[1]
			if strings.EqualFold(target, "NickServ") {
				if strings.HasPrefix(strings.ToUpper(text), "IDENTIFY ") {
					s.record("IDENTIFY")
					identified = true
					fmt.Fprintf(conn, ":NickServ!services@services.test NOTICE %s :Password accepted - you are now recognized.\r\n", nick)
				}
				continue
			}
			s.record("PRIVMSG " + target + " :" + text)
		case "JOIN":
			if len(params) == 0 {
				continue
			}
			ch := params[0]
			if !identified {
				fmt.Fprintf(conn, ":irc.test 477 %s %s :Cannot join channel\r\n", nick, ch)
				continue
			}
			fmt.Fprintf(conn, ":%s!%s@client.test JOIN %s\r\n", nick, nick, ch)
			fmt.Fprintf(conn, ":irc.test 353 %s = %s :%s\r\n", nick, ch, nick)
			fmt.Fprintf(conn, ":irc.test 366 %s %s :End of /NAMES list.\r\n", nick, ch)
			if connNum <= s.opts.CloseJoins {
				return
			}
		case "QUIT":
			s.record("QUIT")
			return
		}
	}
}

// parseIRCLine splits a protocol line into command and params, folding a
// trailing ":"-prefixed parameter into the final slot.
func parseIRCLine(line string) (string, []string) {
	if strings.HasPrefix(line, ":") {
		i := strings.Index(line, " ")
		if i < 0 {
			return "", nil
		}
		line = line[i+1:]
	}
	trailing := ""
	hasTrailing := false
	if i := strings.Index(line, " :"); i >= 0 {
		trailing = line[i+2:]
		hasTrailing = true
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	params := fields[1:]
	if hasTrailing {
		params = append(params, trailing)
	}
	return strings.ToUpper(fields[0]), params
}
