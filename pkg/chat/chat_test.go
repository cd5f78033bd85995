package chat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/sidekick/pkg/tools"
)

func TestMessageConstructors(t *testing.T) {
	u := UserMessage("hi")
	a := AssistantMessage("hello")

	assert.Equal(t, MessageRoleUser, u.Role)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, u.ID, a.ID)
	assert.False(t, u.CreatedAt.IsZero())

	call := tools.ToolCall{ID: "c1", Type: tools.ToolTypeFunction, Function: tools.FunctionCall{Name: "calc_add"}}
	tm := ToolMessage(call, "4")
	assert.Equal(t, MessageRoleTool, tm.Role)
	assert.Equal(t, "c1", tm.ToolCallID)
	assert.Equal(t, "calc_add", tm.Name)

	assert.False(t, a.HasToolCalls())
	a.ToolCalls = []tools.ToolCall{call}
	assert.True(t, a.HasToolCalls())
}

func TestInlineAttachments(t *testing.T) {
	m := UserMessage("summarize",
		Attachment{Name: "notes.txt", MimeType: "text/plain", Content: "line one"},
		Attachment{Name: "logo.png", MimeType: "image/png"},
	)

	got := InlineAttachments(&m)

	assert.Equal(t, "summarize"+
		"\n\n--- Attached file: notes.txt ---\nline one\n--- End of file: notes.txt ---"+
		"\n\n--- Attached file: logo.png ---\n[image/png content not included]\n--- End of file: logo.png ---", got)
}

func TestInlineAttachments_None(t *testing.T) {
	m := UserMessage("plain")
	assert.Equal(t, "plain", InlineAttachments(&m))
}

func TestReadAttachment(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "data.unknownext")
	require.NoError(t, os.WriteFile(txt, []byte("hello\nworld\n"), 0o600))
	bin := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(bin, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}, 0o600))

	a, err := ReadAttachment(txt)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", a.MimeType)
	assert.Equal(t, "hello\nworld\n", a.Content)

	b, err := ReadAttachment(bin)
	require.NoError(t, err)
	assert.Equal(t, "image/png", b.MimeType)
	assert.Empty(t, b.Content)

	_, err = ReadAttachment(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
