package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/runtime"
	"github.com/docker/sidekick/pkg/tools"
)

type replyStream struct {
	events []chat.StreamEvent
}

func (s *replyStream) Recv() (chat.StreamEvent, error) {
	if len(s.events) == 0 {
		return chat.StreamEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *replyStream) Close() {}

// echoProvider answers every request with the last user message.
type echoProvider struct {
	mu   sync.Mutex
	seen [][]chat.Message
	err  error
}

func (p *echoProvider) ID() string { return "test/echo" }

func (p *echoProvider) CreateChatCompletionStream(_ context.Context, messages []chat.Message, _ []tools.Tool) (chat.MessageStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, messages)
	if p.err != nil {
		return nil, p.err
	}
	last := messages[len(messages)-1]
	return &replyStream{events: []chat.StreamEvent{chat.ContentEvent("echo: " + last.Content)}}, nil
}

func (p *echoProvider) CreateChatCompletion(context.Context, []chat.Message) (string, error) {
	return "", errors.New("not used")
}

func newTestRunner(prov *echoProvider, cfg Config) (*Runner, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewRunner(NewPrinter(&buf), cfg, runtime.New(prov), nil), &buf
}

func TestRunOnce(t *testing.T) {
	r, buf := newTestRunner(&echoProvider{}, Config{})

	assert.NilError(t, r.RunOnce(t.Context(), "hello"))
	assert.Assert(t, is.Contains(buf.String(), "echo: hello"))
	assert.Equal(t, len(r.Session().GetMessages()), 2)
}

func TestRunOnce_ErrorIsRuntimeError(t *testing.T) {
	r, buf := newTestRunner(&echoProvider{err: errors.New("rate limited")}, Config{})

	err := r.RunOnce(t.Context(), "hello")
	var rtErr RuntimeError
	assert.Assert(t, errors.As(err, &rtErr))
	assert.Assert(t, is.Contains(buf.String(), "rate limited"))
}

func TestRunOnce_JSON(t *testing.T) {
	r, buf := newTestRunner(&echoProvider{}, Config{OutputJSON: true})

	assert.NilError(t, r.RunOnce(t.Context(), "hello"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, len(lines), 3)
	assert.Assert(t, is.Contains(lines[0], `"type":"stream_started"`))
	assert.Assert(t, is.Contains(lines[1], `"content":"echo: hello"`))
	assert.Assert(t, is.Contains(lines[2], `"reason":"done"`))
}

func TestRunOnce_Stdin(t *testing.T) {
	r, buf := newTestRunner(&echoProvider{}, Config{Stdin: strings.NewReader("from a pipe")})

	assert.NilError(t, r.RunOnce(t.Context(), "-"))
	assert.Assert(t, is.Contains(buf.String(), "echo: from a pipe"))
}

func TestInteractive(t *testing.T) {
	prov := &echoProvider{}
	r, buf := newTestRunner(prov, Config{AppName: "sidekick"})

	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	assert.NilError(t, os.WriteFile(notes, []byte("remember the milk"), 0o600))

	script := strings.Join([]string{
		"first",
		"/retry",
		"/attach " + notes + " what is this",
		"/attach",
		"/new",
		"second",
		"/exit",
		"never sent",
	}, "\n")
	assert.NilError(t, r.Interactive(t.Context(), strings.NewReader(script)))

	out := buf.String()
	assert.Assert(t, is.Contains(out, "Welcome to sidekick"))
	assert.Assert(t, is.Contains(out, "usage: /attach"))
	assert.Assert(t, is.Contains(out, "Started a new conversation."))
	assert.Assert(t, !strings.Contains(out, "never sent"))

	// first, retry, attach, second
	assert.Equal(t, len(prov.seen), 4)
	attached := prov.seen[2][len(prov.seen[2])-1]
	assert.Assert(t, is.Contains(attached.Content, "remember the milk"))

	msgs := r.Session().GetMessages()
	assert.Equal(t, len(msgs), 2)
	assert.Equal(t, msgs[0].Content, "second")
}

func TestInteractive_EndOfInput(t *testing.T) {
	r, _ := newTestRunner(&echoProvider{}, Config{})
	assert.NilError(t, r.Interactive(t.Context(), strings.NewReader("")))
}
