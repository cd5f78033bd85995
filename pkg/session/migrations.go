package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one schema step. Steps are applied in ID order, once.
type Migration struct {
	ID          int
	Name        string
	Description string
	UpSQL       string
}

type MigrationManager struct {
	db *sql.DB
}

func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// InitializeMigrations creates the bookkeeping table and applies pending steps.
func (m *MigrationManager) InitializeMigrations(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			description TEXT,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range getAllMigrations() {
		var count int
		if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE id = ?", migration.ID).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", migration.Name, err)
		}
		if count > 0 {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Name, err)
		}
	}
	return nil
}

func (m *MigrationManager) apply(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.UpSQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO migrations (id, name, description, applied_at) VALUES (?, ?, ?, ?)",
		migration.ID, migration.Name, migration.Description, time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// AppliedMigrations returns the IDs of applied steps in order.
func (m *MigrationManager) AppliedMigrations(ctx context.Context) ([]int, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT id FROM migrations ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getAllMigrations() []Migration {
	return []Migration{
		{
			ID:          1,
			Name:        "001_create_sessions",
			Description: "Create the sessions table",
			UpSQL: `CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
		{
			ID:          2,
			Name:        "002_create_messages",
			Description: "Store messages one row each, ordered by position",
			UpSQL: `CREATE TABLE IF NOT EXISTS messages (
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				id TEXT NOT NULL,
				role TEXT NOT NULL,
				data TEXT NOT NULL,
				PRIMARY KEY (session_id, position)
			)`,
		},
		{
			ID:          3,
			Name:        "003_index_sessions_updated_at",
			Description: "Speed up listing sessions by recency",
			UpSQL:       `CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC)`,
		},
	}
}
