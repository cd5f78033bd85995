package session

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/sidekick/pkg/chat"
)

// titleLength is the number of characters of the first user message kept as title.
const titleLength = 50

// Session is one conversation. It is safe for concurrent use; the runtime
// appends while the saver snapshots.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Messages  []chat.Message `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	mu sync.RWMutex
}

type Opt func(s *Session)

func WithID(id string) Opt {
	return func(s *Session) {
		s.ID = id
	}
}

func WithUserMessage(content string, attachments ...chat.Attachment) Opt {
	return func(s *Session) {
		s.addMessageLocked(chat.UserMessage(content, attachments...))
	}
}

func New(opts ...Opt) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) AddMessage(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addMessageLocked(msg)
}

func (s *Session) addMessageLocked(msg chat.Message) {
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	if s.Title == "" && msg.Role == chat.MessageRoleUser {
		s.Title = makeTitle(msg.Content)
	}
	s.UpdatedAt = time.Now()
}

// UpdateMessage replaces the message with the same ID. It reports whether
// one was found.
func (s *Session) UpdateMessage(msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(msg.ID)
	if i < 0 {
		return false
	}
	s.Messages[i] = msg
	s.UpdatedAt = time.Now()
	return true
}

// TruncateFrom drops the message with the given ID and everything after it.
func (s *Session) TruncateFrom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.Messages = slices.Clip(s.Messages[:i])
	s.UpdatedAt = time.Now()
	return true
}

func (s *Session) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.Messages, func(m chat.Message) bool { return m.ID == id })
}

// GetMessages returns a copy of the history.
func (s *Session) GetMessages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.Messages)
}

// Message returns the message with the given ID.
func (s *Session) Message(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return chat.Message{}, false
	}
	return s.Messages[i], true
}

// LastUserMessage returns the most recent user message.
func (s *Session) LastUserMessage() (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == chat.MessageRoleUser {
			return s.Messages[i], true
		}
	}
	return chat.Message{}, false
}

// Snapshot returns a deep enough copy for persisting: messages are copied,
// their tool calls and attachments are shared and never mutated.
func (s *Session) Snapshot() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Session{
		ID:        s.ID,
		Title:     s.Title,
		Messages:  slices.Clone(s.Messages),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func makeTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) > titleLength {
		return string(runes[:titleLength])
	}
	return content
}
