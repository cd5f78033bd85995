package sqliteutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDB(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := OpenDB(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var mode string
	require.NoError(t, db.QueryRowContext(t.Context(), "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRowContext(t.Context(), "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenDB_ParentIsFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := OpenDB(t.Context(), filepath.Join(file, "test.db"))
	assert.Error(t, err)
}

func TestIsCantOpenError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsCantOpenError(nil))
	assert.False(t, IsCantOpenError(errors.New("boom")))
}
