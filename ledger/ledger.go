// Package ledger persists the set of already-announced torrent IDs.
//
// The on-disk format is one ID per line, append-only. A record is durable once
// Record returns: the line is written and fsynced before success is reported,
// so a crash after an announcement can repeat that announcement at most once
// on restart but can never lose it. A torn trailing line from an unclean
// shutdown (no final newline) is skipped on reload.
//
// Earlier deployments stored the set as a single JSON array of
// {"id":…,"bumped_at":…} objects rewritten on every announcement. Open detects
// that format, imports its IDs, and rewrites the file in line format so
// upgrades keep their dedupe history.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrCorrupt marks ledger content that could not be parsed. Open still returns
// a usable Ledger carrying every record that did parse; the caller is expected
// to log and continue rather than abort, since losing dedupe history only
// risks a repeated announcement.
var ErrCorrupt = errors.New("ledger corrupt")

// Ledger is the durable announced-ID set. A single process owns the file;
// there is no cross-process locking.
type Ledger struct {
	mu   sync.RWMutex
	path string
	f    *os.File
	seen map[string]struct{}
}

// Open loads the ledger at path, creating it (and its directory) when absent.
// The returned error may wrap ErrCorrupt while the Ledger itself is still
// usable; any salvaged records are kept and the file is rewritten clean so
// later appends reload correctly.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, seen: make(map[string]struct{})}

	raw, err := os.ReadFile(path)
	var loadErr error
	rewrite := false
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run
	case err != nil:
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	default:
		rewrite, loadErr = l.parse(raw)
	}

	if rewrite {
		// Keep the unreadable original around for inspection, then persist the
		// salvaged set so the next reload sees a clean line-oriented file.
		if loadErr != nil {
			_ = os.Rename(path, path+".corrupt")
		}
		if err := l.writeSnapshot(); err != nil {
			return nil, err
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	l.f = f
	return l, loadErr
}

// parse fills the seen set from raw file content. It reports whether the file
// should be rewritten (legacy format, salvage, or torn-tail truncation) and
// returns a wrapped ErrCorrupt when anything had to be discarded.
func (l *Ledger) parse(raw []byte) (bool, error) {
	trimmed := bytes.TrimLeftFunc(raw, func(r rune) bool { return r == ' ' || r == '\n' || r == '\r' || r == '\t' })
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return l.parseLegacy(trimmed)
	}

	// Line-oriented format. A file that does not end in a newline has a torn
	// final record from an unclean shutdown; drop it. The torn bytes must not
	// stay on disk, or the next append would glue onto them.
	torn := len(raw) > 0 && raw[len(raw)-1] != '\n'
	sc := bufio.NewScanner(bytes.NewReader(raw))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		// e.g. a single multi-megabyte garbage "line"
		return true, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	bad := 0
	if torn && len(lines) > 0 {
		last := lines[len(lines)-1]
		lines = lines[:len(lines)-1]
		// A genuine torn append is a prefix of an ID. Anything else in the
		// partial final line is corruption, not an interrupted write.
		if !validID(strings.TrimSuffix(last, "\r")) {
			bad++
		}
	}

	for _, line := range lines {
		id := strings.TrimSuffix(line, "\r")
		if id == "" {
			continue
		}
		if !validID(id) {
			bad++
			continue
		}
		l.seen[id] = struct{}{}
	}
	if bad > 0 {
		return true, fmt.Errorf("%w: %d unparsable records skipped", ErrCorrupt, bad)
	}
	return torn, nil
}

// parseLegacy imports the old whole-file JSON array format.
func (l *Ledger) parseLegacy(raw []byte) (bool, error) {
	var entries []struct {
		ID       string `json:"id"`
		BumpedAt string `json:"bumped_at"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return true, fmt.Errorf("%w: legacy json: %v", ErrCorrupt, err)
	}
	for _, e := range entries {
		if validID(e.ID) {
			l.seen[e.ID] = struct{}{}
		}
	}
	// Valid legacy file: convert to line format, no error to report.
	return true, nil
}

// writeSnapshot atomically replaces the ledger file with the in-memory set.
// Only used at Open time for format conversion and salvage; steady-state
// writes are appends.
func (l *Ledger) writeSnapshot() error {
	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, ".announced-*")
	if err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	ids := make([]string, 0, len(l.seen))
	for id := range l.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	w := bufio.NewWriter(tmp)
	for _, id := range ids {
		if _, err := w.WriteString(id + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("ledger snapshot: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("ledger snapshot: %w", err)
	}
	return nil
}

// Contains reports whether id has already been announced. Memory only, no I/O.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[id]
	return ok
}

// Record durably appends id and marks it announced. When the append fails the
// ID is still marked in memory — the running process must not repeat an
// already-delivered announcement — and the error tells the caller that a
// restart may repeat it once.
func (l *Ledger) Record(id string) error {
	if !validID(id) {
		return fmt.Errorf("ledger: unrecordable id %q", id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return nil
	}
	l.seen[id] = struct{}{}
	if _, err := l.f.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("append ledger record %s: %w", id, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Len returns the number of announced IDs.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the backing file. Records made before Close are already
// durable; Close exists for tests and orderly shutdown.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// validID rejects IDs that would break the line-oriented format. Tracker IDs
// are short opaque tokens; whitespace or control bytes mean garbage.
func validID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] == 0x7f {
			return false
		}
	}
	return true
}
