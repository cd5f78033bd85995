package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultSaveInterval = 500 * time.Millisecond

// Saver persists a session while it is being modified. Save is throttled to
// one write per interval; Flush always writes. Failures are logged.
type Saver struct {
	store     Store
	sometimes rate.Sometimes

	mu    sync.Mutex
	dirty bool
}

func NewSaver(store Store, interval time.Duration) *Saver {
	return &Saver{
		store:     store,
		sometimes: rate.Sometimes{First: 1, Interval: interval},
	}
}

// Save writes the session unless a write happened less than an interval ago.
func (s *Saver) Save(ctx context.Context, sess *Session) {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()

	s.sometimes.Do(func() {
		_ = s.write(ctx, sess)
	})
}

// Flush writes the session if anything was skipped since the last write.
func (s *Saver) Flush(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()

	if !dirty {
		return nil
	}
	return s.write(ctx, sess)
}

func (s *Saver) write(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()

	// A cancelled run still has to persist what it produced.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.SaveSession(ctx, sess); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		slog.Error("Failed to save session", "session_id", sess.ID, "error", err)
		return err
	}
	slog.Debug("Session saved", "session_id", sess.ID)
	return nil
}
