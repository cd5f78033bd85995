package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/sidekick/pkg/chat"
)

func TestNew(t *testing.T) {
	t.Parallel()

	s := New(WithID("abc"), WithUserMessage("Hello there"))
	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, "Hello there", s.Title)
	require.Len(t, s.Messages, 1)
	assert.NotEmpty(t, s.Messages[0].ID)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestTitle(t *testing.T) {
	t.Parallel()

	s := New()
	s.AddMessage(chat.SystemMessage("ignored"))
	s.AddMessage(chat.UserMessage(strings.Repeat("ü", 60) + "\n more"))
	s.AddMessage(chat.UserMessage("second"))

	assert.Equal(t, strings.Repeat("ü", 50), s.Title)
}

func TestTruncateFrom(t *testing.T) {
	t.Parallel()

	s := New()
	first := chat.UserMessage("one")
	second := chat.UserMessage("two")
	s.AddMessage(first)
	s.AddMessage(chat.AssistantMessage("reply"))
	s.AddMessage(second)
	s.AddMessage(chat.AssistantMessage("reply 2"))

	assert.False(t, s.TruncateFrom("missing"))
	assert.False(t, s.TruncateFrom(""))
	require.True(t, s.TruncateFrom(second.ID))

	msgs := s.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)

	last, ok := s.LastUserMessage()
	require.True(t, ok)
	assert.Equal(t, "one", last.Content)
}

func TestUpdateMessage(t *testing.T) {
	t.Parallel()

	s := New()
	msg := chat.UserMessage("typo")
	s.AddMessage(msg)

	msg.Content = "fixed"
	require.True(t, s.UpdateMessage(msg))
	got, ok := s.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, "fixed", got.Content)

	assert.False(t, s.UpdateMessage(chat.UserMessage("unknown")))
}

func TestSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	s := New(WithUserMessage("hi"))
	snap := s.Snapshot()
	s.AddMessage(chat.AssistantMessage("hello"))

	assert.Len(t, snap.Messages, 1)
	assert.Len(t, s.GetMessages(), 2)
}
