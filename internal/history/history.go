// Package history provides SQLite-based persistence for conversation threads.
// The database is opened lazily and created on first use.
// If opening the DB or writing to it fails, the store falls back to in-memory
// storage for the rest of its life, seeded with what the DB already holds.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/jarvis-sync/internal/conversation"
	"github.com/comigor/jarvis-sync/internal/logger"
)

// Store persists conversation messages per thread. Messages are keyed by
// (thread, message id) and the first stored copy wins, like the in-memory
// conversation store.
type Store struct {
	path string

	mu       sync.Mutex
	records  []record // in-memory fallback
	degraded bool     // set once a write failed; memory is authoritative from then on

	dbOnce  sync.Once
	db      *sql.DB
	initErr error

	now func() time.Time
}

// Open returns a store backed by the SQLite file at path. Nothing touches
// the disk until the first call.
func Open(path string) *Store {
	if path == "" {
		path = "history.db"
	}
	return &Store{path: path, now: time.Now}
}

// initDB lazily opens the SQLite database and creates the messages table if it doesn't exist.
func (s *Store) initDB() {
	var err error
	s.db, err = sql.Open("sqlite", "file:"+s.path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory history", "error", err)
		return
	}
	if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS messages (
        thread_id TEXT NOT NULL,
        message_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        payload TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        PRIMARY KEY (thread_id, message_id)
    );`); err != nil {
		s.initErr = err
		logger.L.Warn("sqlite table creation failed; using in-memory history", "error", err)
		return
	}
	logger.L.Info("sqlite history DB initialized", "path", s.path)
}

func (s *Store) usable() bool {
	s.dbOnce.Do(s.initDB)
	if s.initErr != nil || s.db == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.degraded
}

// degrade switches the store to memory, copying every row the DB can still
// return so order and first-writer-wins carry over.
func (s *Store) degrade(ctx context.Context) {
	seed, err := s.loadAll(context.WithoutCancel(ctx))
	if err != nil {
		logger.L.Warn("could not copy sqlite history to memory", "error", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return
	}
	s.degraded = true
	s.records = append(seed, s.records...)
}

func (s *Store) loadAll(ctx context.Context) ([]record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id, message_id, position, payload, created_at FROM messages ORDER BY thread_id, position ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []record
	for rows.Next() {
		var r record
		var payload string
		var created sql.NullString
		if err := rows.Scan(&r.ThreadID, &r.MessageID, &r.Position, &payload, &created); err != nil {
			return nil, err
		}
		r.Payload = []byte(payload)
		r.CreatedAt = parseTime(created.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveMessages stores msgs under threadID in order, skipping ids already
// stored for that thread.
func (s *Store) SaveMessages(ctx context.Context, threadID string, msgs []conversation.Message) error {
	if threadID == "" {
		return fmt.Errorf("save messages: empty thread id")
	}
	rows := make([]record, 0, len(msgs))
	now := s.now().UTC()
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		rows = append(rows, record{ThreadID: threadID, MessageID: m.ID, Payload: payload, CreatedAt: now})
	}

	if s.usable() {
		err := s.saveSQL(ctx, rows)
		if err == nil {
			return nil
		}
		logger.L.Error("failed to store messages in sqlite; falling back to memory", "error", err, "thread", threadID)
		s.degrade(ctx)
	}
	s.saveMemory(rows)
	return nil
}

func (s *Store) saveSQL(ctx context.Context, rows []record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO messages (thread_id, message_id, position, payload, created_at)
            VALUES (?, ?, (SELECT COUNT(*) FROM messages WHERE thread_id = ?), ?, ?);`,
			r.ThreadID, r.MessageID, r.ThreadID, string(r.Payload), r.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) saveMemory(rows []record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		count := 0
		dup := false
		for _, existing := range s.records {
			if existing.ThreadID != r.ThreadID {
				continue
			}
			count++
			if existing.MessageID == r.MessageID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		r.Position = count
		s.records = append(s.records, r)
	}
}

// Messages returns the stored messages of a thread in the order they were
// first saved.
func (s *Store) Messages(ctx context.Context, threadID string) ([]conversation.Message, error) {
	var payloads [][]byte
	if s.usable() {
		rows, err := s.db.QueryContext(ctx, `SELECT payload FROM messages WHERE thread_id = ? ORDER BY position ASC;`, threadID)
		if err != nil {
			return nil, fmt.Errorf("query messages: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				return nil, fmt.Errorf("scan message: %w", err)
			}
			payloads = append(payloads, []byte(p))
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	} else {
		s.mu.Lock()
		for _, r := range s.records {
			if r.ThreadID == threadID {
				payloads = append(payloads, r.Payload)
			}
		}
		s.mu.Unlock()
	}

	out := make([]conversation.Message, 0, len(payloads))
	for _, p := range payloads {
		var m conversation.Message
		if err := json.Unmarshal(p, &m); err != nil {
			logger.L.Warn("skipping undecodable stored message", "thread", threadID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ListThreads returns every thread, most recently updated first.
func (s *Store) ListThreads(ctx context.Context) ([]Thread, error) {
	byID := make(map[string]*Thread)
	if s.usable() {
		rows, err := s.db.QueryContext(ctx, `SELECT thread_id, COUNT(*), MAX(created_at) FROM messages GROUP BY thread_id;`)
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var th Thread
			var updated sql.NullString
			if err := rows.Scan(&th.ID, &th.MessageCount, &updated); err != nil {
				return nil, fmt.Errorf("scan thread: %w", err)
			}
			th.UpdatedAt = parseTime(updated.String)
			byID[th.ID] = &th
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	} else {
		s.mu.Lock()
		for _, r := range s.records {
			th, ok := byID[r.ThreadID]
			if !ok {
				th = &Thread{ID: r.ThreadID}
				byID[r.ThreadID] = th
			}
			th.MessageCount++
			if r.CreatedAt.After(th.UpdatedAt) {
				th.UpdatedAt = r.CreatedAt
			}
		}
		s.mu.Unlock()
	}

	out := make([]Thread, 0, len(byID))
	for _, th := range byID {
		out = append(out, *th)
	}
	slices.SortFunc(out, func(a, b Thread) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// parseTime reads the timestamp forms the sqlite driver may hand back for an
// aggregate over a DATETIME column.
func parseTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
