// Package journal persists published link events to SQLite so that link
// history survives the process.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"grimm.is/linkd/internal/clock"
	"grimm.is/linkd/internal/logging"
	"grimm.is/linkd/internal/platform"
)

// Entry is one journaled event.
type Entry struct {
	ID        int64
	Session   string
	Seq       uint64
	Time      time.Time
	Kind      platform.EventKind
	Handle    int
	Name      string
	Type      string
	Up        bool
	Connected bool
	Master    int
	Link      platform.Link
}

// Query selects entries. Zero fields match everything.
type Query struct {
	Handle  int
	Name    string
	Kind    platform.EventKind
	Session string
	Since   time.Time
	Limit   int
}

// Options configures a Store.
type Options struct {
	Path  string // ":memory:" for an in-memory journal
	Clock clock.Clock

	// Retention bounds the age of entries kept by Prune. Zero keeps everything.
	Retention time.Duration
}

// Store is an append-only event journal. Every Store has its own session id
// so entries from different runs can be told apart.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	session   string
	clock     clock.Clock
	retention time.Duration
}

// Open opens or creates the journal at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to journal: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS link_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			handle INTEGER NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			up INTEGER NOT NULL,
			connected INTEGER NOT NULL,
			master INTEGER NOT NULL,
			snapshot TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_link_events_handle ON link_events(handle);
		CREATE INDEX IF NOT EXISTS idx_link_events_name ON link_events(name);
		CREATE INDEX IF NOT EXISTS idx_link_events_ts ON link_events(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Store{
		db:        db,
		session:   uuid.NewString(),
		clock:     clk,
		retention: opts.Retention,
	}, nil
}

// Session returns this store's session id.
func (s *Store) Session() string {
	return s.session
}

// Record appends an event.
func (s *Store) Record(e platform.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := json.Marshal(e.Link)
	if err != nil {
		return fmt.Errorf("encode link snapshot: %w", err)
	}
	ts := e.Time
	if ts.IsZero() {
		ts = s.clock.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO link_events (session, seq, ts, kind, handle, name, type, up, connected, master, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.session, int64(e.Seq), ts.UnixNano(), e.Kind.String(), e.Handle, e.Link.Name,
		e.Link.Type.String(), e.Link.Up, e.Link.Connected, e.Link.Master, string(snapshot))
	if err != nil {
		return fmt.Errorf("insert link event: %w", err)
	}
	return nil
}

// Hook returns a function suitable for Notifier.OnPublish. Write failures
// are logged; they never block event delivery.
func (s *Store) Hook(logger *logging.Logger) func(platform.Event) {
	return func(e platform.Event) {
		if err := s.Record(e); err != nil {
			logger.Warn("failed to journal link event", "seq", e.Seq, "handle", e.Handle, "error", err)
		}
	}
}

func parseKind(s string) platform.EventKind {
	for _, k := range []platform.EventKind{platform.EventAdded, platform.EventChanged, platform.EventRemoved} {
		if k.String() == s {
			return k
		}
	}
	return 0
}

// History returns matching entries, newest first.
func (s *Store) History(q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var where []string
	var args []any
	if q.Handle != 0 {
		where = append(where, "handle = ?")
		args = append(args, q.Handle)
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	if q.Kind != 0 {
		where = append(where, "kind = ?")
		args = append(args, q.Kind.String())
	}
	if q.Session != "" {
		where = append(where, "session = ?")
		args = append(args, q.Session)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}

	query := `SELECT id, session, seq, ts, kind, handle, name, type, up, connected, master, snapshot FROM link_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query link events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			seq, ts  int64
			kind     string
			snapshot sql.NullString
		)
		err := rows.Scan(&e.ID, &e.Session, &seq, &ts, &kind, &e.Handle, &e.Name, &e.Type,
			&e.Up, &e.Connected, &e.Master, &snapshot)
		if err != nil {
			return nil, fmt.Errorf("scan link event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Time = time.Unix(0, ts)
		e.Kind = parseKind(kind)
		if snapshot.Valid && snapshot.String != "" {
			if err := json.Unmarshal([]byte(snapshot.String), &e.Link); err != nil {
				return nil, fmt.Errorf("decode link snapshot %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune removes entries older than the retention period.
func (s *Store) Prune() (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.retention)
	result, err := s.db.Exec("DELETE FROM link_events WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune link events: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
