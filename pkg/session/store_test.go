package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/tools"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteSessionStore(t.Context(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewInMemorySessionStore(),
		"sqlite": sqlite,
	}
}

func sampleSession() *Session {
	call := tools.ToolCall{ID: "c1", Type: "function", Function: tools.FunctionCall{Name: "calc_add", Arguments: `{"a":2,"b":2}`}}
	assistant := chat.AssistantMessage("")
	assistant.ToolCalls = []tools.ToolCall{call}

	s := New(WithUserMessage("What's 2+2", chat.Attachment{Name: "n.txt", MimeType: "text/plain", Content: "x"}))
	s.AddMessage(assistant)
	s.AddMessage(chat.ToolMessage(call, "4"))
	s.AddMessage(chat.AssistantMessage("4"))
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := sampleSession()
			require.NoError(t, store.SaveSession(t.Context(), s))

			got, err := store.GetSession(t.Context(), s.ID)
			require.NoError(t, err)
			assert.Equal(t, s.Title, got.Title)
			assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

			want := s.GetMessages()
			msgs := got.GetMessages()
			require.Len(t, msgs, len(want))
			for i := range want {
				assert.Equal(t, want[i].ID, msgs[i].ID)
				assert.Equal(t, want[i].Role, msgs[i].Role)
				assert.Equal(t, want[i].Content, msgs[i].Content)
				assert.Equal(t, want[i].ToolCalls, msgs[i].ToolCalls)
				assert.Equal(t, want[i].ToolCallID, msgs[i].ToolCallID)
				assert.Equal(t, want[i].Attachments, msgs[i].Attachments)
			}

			// Saving again replaces the history, including truncation.
			require.True(t, s.TruncateFrom(want[1].ID))
			require.NoError(t, store.SaveSession(t.Context(), s))
			got, err = store.GetSession(t.Context(), s.ID)
			require.NoError(t, err)
			assert.Len(t, got.GetMessages(), 1)
		})
	}
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := store.GetSession(t.Context(), "")
			require.ErrorIs(t, err, ErrEmptyID)
			_, err = store.GetSession(t.Context(), "nope")
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, store.DeleteSession(t.Context(), "nope"), ErrNotFound)
			require.ErrorIs(t, store.SaveSession(t.Context(), &Session{}), ErrEmptyID)
		})
	}
}

func TestStore_SummariesAndDelete(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			older := New(WithUserMessage("older"))
			older.UpdatedAt = time.Now().Add(-time.Hour)
			newer := sampleSession()
			require.NoError(t, store.SaveSession(t.Context(), older))
			require.NoError(t, store.SaveSession(t.Context(), newer))

			summaries, err := store.GetSessionSummaries(t.Context())
			require.NoError(t, err)
			require.Len(t, summaries, 2)
			assert.Equal(t, newer.ID, summaries[0].ID)
			assert.Equal(t, 4, summaries[0].MessageCount)
			assert.Equal(t, "older", summaries[1].Title)

			require.NoError(t, store.DeleteSession(t.Context(), newer.ID))
			summaries, err = store.GetSessionSummaries(t.Context())
			require.NoError(t, err)
			require.Len(t, summaries, 1)
			assert.Equal(t, older.ID, summaries[0].ID)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteSessionStore(t.Context(), path)
	require.NoError(t, err)
	s := sampleSession()
	require.NoError(t, store.SaveSession(t.Context(), s))
	require.NoError(t, store.Close())

	store, err = NewSQLiteSessionStore(t.Context(), path)
	require.NoError(t, err)
	defer store.Close()

	ids, err := NewMigrationManager(store.db).AppliedMigrations(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids)

	got, err := store.GetSession(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Len(t, got.GetMessages(), 4)
}

func TestSQLiteStore_RecoversFromCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a database ", 512)), 0o600))

	store, err := NewSQLiteSessionStore(t.Context(), path)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err)
}

type countingStore struct {
	Store
	saves atomic.Int32
	fail  atomic.Bool
}

func (c *countingStore) SaveSession(ctx context.Context, s *Session) error {
	c.saves.Add(1)
	if c.fail.Load() {
		return errors.New("disk full")
	}
	return c.Store.SaveSession(ctx, s)
}

func TestSaver_ThrottlesAndFlushes(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: NewInMemorySessionStore()}
	saver := NewSaver(store, time.Hour)
	s := New(WithUserMessage("hi"))

	saver.Save(t.Context(), s)
	s.AddMessage(chat.AssistantMessage("hello"))
	saver.Save(t.Context(), s)
	saver.Save(t.Context(), s)
	assert.Equal(t, int32(1), store.saves.Load())

	require.NoError(t, saver.Flush(t.Context(), s))
	assert.Equal(t, int32(2), store.saves.Load())

	got, err := store.GetSession(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Len(t, got.GetMessages(), 2)

	// Nothing new: no write.
	require.NoError(t, saver.Flush(t.Context(), s))
	assert.Equal(t, int32(2), store.saves.Load())
}

func TestSaver_FailedWriteStaysDirty(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: NewInMemorySessionStore()}
	store.fail.Store(true)
	saver := NewSaver(store, time.Hour)
	s := New(WithUserMessage("hi"))

	saver.Save(t.Context(), s)
	require.Error(t, saver.Flush(t.Context(), s))

	store.fail.Store(false)
	require.NoError(t, saver.Flush(t.Context(), s))
	assert.Equal(t, int32(3), store.saves.Load())
}

func TestSaver_PersistsAfterCancellation(t *testing.T) {
	t.Parallel()

	store := NewInMemorySessionStore()
	saver := NewSaver(store, time.Hour)
	s := New(WithUserMessage("hi"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	saver.Save(ctx, s)

	_, err := store.GetSession(t.Context(), s.ID)
	assert.NoError(t, err)
}
