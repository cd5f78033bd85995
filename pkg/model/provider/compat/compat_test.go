package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/sidekick/pkg/chat"
)

func names(shims []Shim) []string {
	var out []string
	for _, s := range shims {
		out = append(out, s.Name())
	}
	return out
}

func TestFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		extra    []string
		want     []string
	}{
		{provider: "openai"},
		{provider: "anthropic", extra: []string{"bogus"}},
		{provider: "google", want: []string{DemoteSystem}},
		{provider: "ollama", want: []string{MergeConsecutive}},
		{provider: "dmr", extra: []string{DemoteSystem}, want: []string{DemoteSystem, MergeConsecutive}},
		{provider: "openai", extra: []string{MergeConsecutive, DemoteSystem, DemoteSystem}, want: []string{DemoteSystem, MergeConsecutive}},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, names(For(tt.provider, tt.extra)))
		})
	}
}

func TestDemoteSystem(t *testing.T) {
	t.Parallel()

	in := []chat.Message{chat.SystemMessage("Use tools."), chat.UserMessage("hi")}
	out := Apply(For("google", nil), in)

	require.Len(t, out, 2)
	assert.Equal(t, chat.MessageRoleUser, out[0].Role)
	assert.Equal(t, "[SYSTEM INSTRUCTION]\nUse tools.", out[0].Content)
	assert.Equal(t, "hi", out[1].Content)

	assert.Equal(t, chat.MessageRoleSystem, in[0].Role, "input must not be modified")
}

func TestMergeConsecutive(t *testing.T) {
	t.Parallel()

	att := chat.Attachment{Name: "a.txt", Content: "A"}
	in := []chat.Message{
		chat.SystemMessage("one"),
		chat.SystemMessage("two"),
		chat.UserMessage("first", att),
		chat.UserMessage("second"),
		chat.AssistantMessage("ok"),
		chat.UserMessage("third"),
	}
	out := Apply(For("ollama", nil), in)

	require.Len(t, out, 4)
	assert.Equal(t, "one\ntwo", out[0].Content)
	assert.Equal(t, "first\nsecond", out[1].Content)
	assert.Equal(t, []chat.Attachment{att}, out[1].Attachments)
	assert.Equal(t, in[2].ID, out[1].ID)
	assert.Equal(t, "ok", out[2].Content)
	assert.Equal(t, "third", out[3].Content)
}

func TestDemoteThenMerge(t *testing.T) {
	t.Parallel()

	out := Apply(For("dmr", []string{DemoteSystem}), []chat.Message{
		chat.SystemMessage("sys"),
		chat.UserMessage("hi"),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "[SYSTEM INSTRUCTION]\nsys\nhi", out[0].Content)
}
