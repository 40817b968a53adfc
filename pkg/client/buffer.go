package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/runlog/internal/model"
)

// Buffer entry kinds.
const (
	kindRun   = "run"
	kindPatch = "patch"
	kindEvent = "event"
)

// bufferEntry is one NDJSON line in the failover buffer. Exactly one of
// Run, Fields, or Event is set, per Kind.
type bufferEntry struct {
	Kind       string          `json:"kind"`
	BufferedAt time.Time       `json:"buffered_at"`
	Run        *model.Run      `json:"run,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	Fields     map[string]any  `json:"fields,omitempty"`
	Event      *model.RunEvent `json:"event,omitempty"`
}

// buffer is the on-disk failover queue: one NDJSON file per day, appended
// with an fsync per line so a crash loses at most the line being written.
type buffer struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

func newBuffer(dir string, log zerolog.Logger) (*buffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create buffer dir %s: %w", dir, err)
	}
	return &buffer{dir: dir, log: log}, nil
}

func bufferFileName(day time.Time) string {
	return "events_" + day.UTC().Format("20060102") + ".ndjson"
}

// append writes one entry to today's buffer file and fsyncs it.
func (b *buffer) append(entry *bufferEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry.BufferedAt = time.Now().UTC()
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal buffer entry: %w", err)
	}

	path := filepath.Join(b.dir, bufferFileName(entry.BufferedAt))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open buffer %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write buffer %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync buffer %s: %w", path, err)
	}
	return nil
}

// files lists buffer files oldest first. The date in the name sorts
// lexicographically, so a plain sort is chronological.
func (b *buffer) files() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.dir, "events_*.ndjson"))
	if err != nil {
		return nil, fmt.Errorf("list buffer dir %s: %w", b.dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// dropPrefix rewrites path without its first n parseable entries, so a
// halted replay never re-sends records the server already accepted. Corrupt
// or blank lines inside the dropped prefix go with it; they were already
// skipped by the reader. The rewrite goes through a temp file and rename so
// a crash leaves either the old file or the new one, never a torn copy.
func (b *buffer) dropPrefix(path string, n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read buffer %s: %w", path, err)
	}

	kept := raw
	for dropped := 0; dropped < n && len(kept) > 0; {
		var line []byte
		if idx := bytes.IndexByte(kept, '\n'); idx >= 0 {
			line, kept = kept[:idx], kept[idx+1:]
		} else {
			line, kept = kept, nil
		}
		var entry bufferEntry
		if len(bytes.TrimSpace(line)) == 0 || json.Unmarshal(line, &entry) != nil {
			continue
		}
		dropped++
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("rewrite buffer %s: %w", path, err)
	}
	if _, err := f.Write(kept); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("rewrite buffer %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync buffer %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rewrite buffer %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rewrite buffer %s: %w", path, err)
	}
	return nil
}

// readEntries parses one buffer file. Unparseable lines are skipped with a
// warning rather than wedging replay forever.
func (b *buffer) readEntries(path string) ([]bufferEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open buffer %s: %w", path, err)
	}
	defer f.Close()

	var entries []bufferEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*model.MaxJSONPayloadLen)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry bufferEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			b.log.Warn().Str("file", path).Err(err).Msg("skipping corrupt buffer line")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan buffer %s: %w", path, err)
	}
	return entries, nil
}
