package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// JournalMode selects the SQLite journal mode for the store file.
type JournalMode string

const (
	// JournalDelete is the default: portable across container volumes that
	// do not guarantee POSIX mmap semantics.
	JournalDelete JournalMode = "DELETE"
	// JournalWAL is a deployment-time opt-in for volumes with conformant
	// semantics; it enables concurrent reads during writes.
	JournalWAL JournalMode = "WAL"
)

// Options configures Open.
type Options struct {
	Journal       JournalMode
	BusyTimeoutMS int
	Logger        zerolog.Logger
	// ReadOnly opens only the reader pool; used for offline inspection.
	ReadOnly bool
}

func (o *Options) defaults() {
	if o.Journal == "" {
		o.Journal = JournalDelete
	}
	if o.BusyTimeoutMS == 0 {
		o.BusyTimeoutMS = 30_000
	}
}

// Store wraps the database file with a single-connection writer handle and a
// pooled read-only handle.
type Store struct {
	writer  *sqlx.DB
	reader  *sqlx.DB
	path    string
	journal JournalMode
	log     zerolog.Logger
}

// Open creates or opens the store file at path, applies and verifies the
// required pragmas, and returns handles ready for use. Open does not create
// or migrate the schema; see CreateSchema and Migrate.
func Open(path string, opts Options) (*Store, error) {
	opts.defaults()

	s := &Store{
		path:    path,
		journal: opts.Journal,
		log:     opts.Logger,
	}

	if !opts.ReadOnly {
		writer, err := sqlx.Open("sqlite3", dsn(path, opts, false))
		if err != nil {
			return nil, fmt.Errorf("open writer: %w", err)
		}
		if err := writer.Ping(); err != nil {
			writer.Close()
			return nil, fmt.Errorf("connect writer: %w", err)
		}
		// One connection: SQLite has one writer per file and a second pooled
		// connection would only manufacture SQLITE_BUSY.
		writer.SetMaxOpenConns(1)
		writer.SetMaxIdleConns(1)
		s.writer = writer

		if err := s.verifyPragmas(opts); err != nil {
			writer.Close()
			return nil, err
		}
	}

	reader, err := sqlx.Open("sqlite3", dsn(path, opts, true))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	if err := reader.Ping(); err != nil {
		reader.Close()
		s.Close()
		return nil, fmt.Errorf("connect reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	s.reader = reader

	return s, nil
}

// dsn builds a file: URI with per-connection pragma parameters so that every
// pooled connection is configured identically.
func dsn(path string, opts Options, readonly bool) string {
	v := url.Values{}
	v.Set("_busy_timeout", fmt.Sprintf("%d", opts.BusyTimeoutMS))
	v.Set("_journal_mode", string(opts.Journal))
	v.Set("_synchronous", "FULL")
	v.Set("_foreign_keys", "1")
	v.Set("_loc", "UTC")
	if readonly {
		v.Set("mode", "ro")
		// Readers never switch journal mode; the writer owns that.
		v.Del("_journal_mode")
	}
	if opts.Journal == JournalWAL && !readonly {
		v.Set("_wal_autocheckpoint", "100")
	}
	return "file:" + path + "?" + v.Encode()
}

// verifyPragmas re-reads each required pragma after connection setup and
// warns on divergence. Readers rely on these values holding.
func (s *Store) verifyPragmas(opts Options) error {
	expected := map[string]string{
		"journal_mode": strings.ToLower(string(opts.Journal)),
		"synchronous":  "2", // FULL
		"busy_timeout": fmt.Sprintf("%d", opts.BusyTimeoutMS),
		"foreign_keys": "1",
	}
	for name, want := range expected {
		var got string
		if err := s.writer.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
			return fmt.Errorf("verify pragma %s: %w", name, err)
		}
		if !strings.EqualFold(got, want) {
			s.log.Warn().
				Str("pragma", name).
				Str("want", want).
				Str("got", got).
				Msg("pragma diverges from required value")
		}
	}
	return nil
}

// Close closes both handles. Safe to call on a partially opened store.
func (s *Store) Close() error {
	var first error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			first = err
		}
		s.reader = nil
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil && first == nil {
			first = err
		}
		s.writer = nil
	}
	return first
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Checkpoint flushes the WAL when running in WAL mode. Under DELETE journal
// mode there is nothing to flush and the call is a no-op.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.journal != JournalWAL {
		return nil
	}
	if _, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}
