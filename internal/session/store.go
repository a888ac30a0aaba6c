package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/surgutroads/roadwatch/internal/log"
)

// ErrNotFound is returned by Get when no session has the given id.
var ErrNotFound = errors.New("session not found")

// recordName is the single named record holding the whole session list.
const recordName = "road_demo_chat_history"

// Store persists sessions in a local SQLite file.
//
// The layout is a single named record whose value is the JSON-encoded
// session list, read-modify-written as a whole on every mutation.
// Concurrent writes to the same id use last-write-wins semantics.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger log.Logger
}

// Open opens (creating if necessary) the session store at path.
func Open(path string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	// Single writer; the store serializes mutations behind its own mutex.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing session store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns all sessions, newest first. New sessions are prepended
// at save time; updates keep their position.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll(ctx)
}

// Get returns the session with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Save upserts the session by id: existing sessions are replaced in
// place without reordering, new sessions are prepended.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range sessions {
		if existing.ID == sess.ID {
			sessions[i] = sess
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append([]*Session{sess}, sessions...)
	}

	return s.writeAll(ctx, sessions)
}

// Delete removes the session with the given id. Deleting an absent id
// is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readAll(ctx)
	if err != nil {
		return err
	}

	kept := sessions[:0]
	for _, sess := range sessions {
		if sess.ID != id {
			kept = append(kept, sess)
		}
	}
	if len(kept) == len(sessions) {
		return nil
	}
	return s.writeAll(ctx, kept)
}

// ClearAll removes every stored session.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE name = ?`, recordName); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	return nil
}

// readAll loads and decodes the whole session list. Caller holds s.mu.
func (s *Store) readAll(ctx context.Context) ([]*Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE name = ?`, recordName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session record: %w", err)
	}

	var sessions []*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		// A corrupt record would otherwise wedge every future save.
		s.logger.Error("session record corrupt, starting empty", "error", err)
		return nil, nil
	}
	return sessions, nil
}

// writeAll encodes and stores the whole session list. Caller holds s.mu.
func (s *Store) writeAll(ctx context.Context, sessions []*Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO records (name, data) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data`,
		recordName, data); err != nil {
		return fmt.Errorf("writing session record: %w", err)
	}
	return nil
}
