package session

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/concurrent"
	"github.com/docker/sidekick/pkg/sqliteutil"
)

var (
	ErrEmptyID  = errors.New("session ID cannot be empty")
	ErrNotFound = errors.New("session not found")
)

// Summary is the listing view of a session, without messages.
type Summary struct {
	ID           string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists sessions. A save followed by a get returns what was saved;
// nothing stronger is promised.
type Store interface {
	// SaveSession inserts or fully replaces the session and its messages.
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// GetSessionSummaries lists sessions, most recently updated first.
	GetSessionSummaries(ctx context.Context) ([]Summary, error)
	DeleteSession(ctx context.Context, id string) error
	Close() error
}

type InMemorySessionStore struct {
	sessions *concurrent.Map[string, *Session]
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: concurrent.NewMap[string, *Session](),
	}
}

func (s *InMemorySessionStore) SaveSession(_ context.Context, session *Session) error {
	if session.ID == "" {
		return ErrEmptyID
	}
	s.sessions.Store(session.ID, session.Snapshot())
	return nil
}

func (s *InMemorySessionStore) GetSession(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	session, exists := s.sessions.Load(id)
	if !exists {
		return nil, ErrNotFound
	}
	return session.Snapshot(), nil
}

func (s *InMemorySessionStore) GetSessionSummaries(_ context.Context) ([]Summary, error) {
	summaries := make([]Summary, 0, s.sessions.Length())
	s.sessions.Range(func(_ string, value *Session) bool {
		summaries = append(summaries, Summary{
			ID:           value.ID,
			Title:        value.Title,
			MessageCount: len(value.Messages),
			CreatedAt:    value.CreatedAt,
			UpdatedAt:    value.UpdatedAt,
		})
		return true
	})
	sortSummaries(summaries)
	return summaries, nil
}

func (s *InMemorySessionStore) DeleteSession(_ context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if _, exists := s.sessions.Load(id); !exists {
		return ErrNotFound
	}
	s.sessions.Delete(id)
	return nil
}

func (s *InMemorySessionStore) Close() error {
	return nil
}

func sortSummaries(summaries []Summary) {
	slices.SortFunc(summaries, func(a, b Summary) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
}

type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens the database at path. A database whose schema
// cannot be migrated is moved aside to path.bak and recreated.
func NewSQLiteSessionStore(ctx context.Context, path string) (*SQLiteSessionStore, error) {
	store, err := openAndMigrate(ctx, path)
	if err == nil {
		return store, nil
	}

	slog.Warn("Failed to open session store, attempting recovery", "error", err)
	if backupErr := backupDatabase(path); backupErr != nil {
		return nil, fmt.Errorf("migration failed: %w (backup also failed: %v)", err, backupErr)
	}

	store, err = openAndMigrate(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("migration failed even after database reset: %w", err)
	}
	slog.Info("Recovered session store with a fresh database", "path", path)
	return store, nil
}

func openAndMigrate(ctx context.Context, path string) (*SQLiteSessionStore, error) {
	db, err := sqliteutil.OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := NewMigrationManager(db).InitializeMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSessionStore{db: db}, nil
}

// backupDatabase moves the database and its WAL files out of the way.
func backupDatabase(path string) error {
	backupPath := path + ".bak"
	slog.Info("Backing up database", "from", path, "to", backupPath)

	if err := os.Rename(path, backupPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to move database file: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			if err := os.Rename(path+suffix, backupPath+suffix); err != nil {
				slog.Warn("Failed to move database sidecar file", "file", path+suffix, "error", err)
			}
		}
	}
	return nil
}

func (s *SQLiteSessionStore) SaveSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		return ErrEmptyID
	}
	snap := session.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		snap.ID, snap.Title, snap.CreatedAt.Format(time.RFC3339Nano), snap.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving session %s: %w", snap.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", snap.ID); err != nil {
		return fmt.Errorf("clearing messages of session %s: %w", snap.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (session_id, position, id, role, data) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range snap.Messages {
		data, err := json.Marshal(&snap.Messages[i])
		if err != nil {
			return fmt.Errorf("encoding message %s: %w", snap.Messages[i].ID, err)
		}
		if _, err := stmt.ExecContext(ctx, snap.ID, i, snap.Messages[i].ID, string(snap.Messages[i].Role), string(data)); err != nil {
			return fmt.Errorf("saving message %d of session %s: %w", i, snap.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteSessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	session := &Session{ID: id}
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, "SELECT title, created_at, updated_at FROM sessions WHERE id = ?", id).
		Scan(&session.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)

	rows, err := s.db.QueryContext(ctx, "SELECT data FROM messages WHERE session_id = ? ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var msg chat.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("decoding message of session %s: %w", id, err)
		}
		session.Messages = append(session.Messages, msg)
	}
	return session, rows.Err()
}

func (s *SQLiteSessionStore) GetSessionSummaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var createdAt, updatedAt string
		if err := rows.Scan(&sum.ID, &sum.Title, &createdAt, &updatedAt, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.CreatedAt = parseTime(createdAt)
		sum.UpdatedAt = parseTime(updatedAt)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sorted in Go: RFC3339Nano strings do not order lexically.
	sortSummaries(summaries)
	return summaries, nil
}

func (s *SQLiteSessionStore) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		slog.Debug("Invalid timestamp in session store", "value", s, "error", err)
	}
	return t
}
