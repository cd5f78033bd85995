package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/model/provider"
	"github.com/docker/sidekick/pkg/model/provider/compat"
	"github.com/docker/sidekick/pkg/pagecontext"
	"github.com/docker/sidekick/pkg/session"
	"github.com/docker/sidekick/pkg/skills"
	"github.com/docker/sidekick/pkg/tools"
	"github.com/docker/sidekick/pkg/tools/catalog"
)

var (
	ErrNoUserMessage  = errors.New("session has no user message")
	ErrMessageNotUser = errors.New("only user messages can be edited")

	errNotPersisted = errors.New("session record belongs to a newer run")
)

// ToolSource discovers tools and executes calls against their servers.
// *mcp.Manager implements it.
type ToolSource interface {
	Catalog(ctx context.Context) (*catalog.Catalog, error)
	CallTool(ctx context.Context, name string, args map[string]any, targetURL string) (*tools.ToolCallResult, error)
}

type Runtime struct {
	model        provider.Provider
	toolSource   ToolSource
	skills       skills.Provider
	matcher      *skills.Matcher
	page         pagecontext.Provider
	store        session.Store
	saveInterval time.Duration
	shims        []compat.Shim
	tracer       trace.Tracer
	maxTurns     int
	systemPrompt string

	// owner is the token of the most recently started run, ownerSession the
	// ID of the session it runs on. Older runs keep their own record but no
	// longer emit events or write to the caller's session.
	mu           sync.Mutex
	owner        string
	ownerSession string
}

type Opt func(*Runtime)

func WithTools(source ToolSource) Opt {
	return func(r *Runtime) {
		r.toolSource = source
	}
}

func WithSkills(p skills.Provider, m *skills.Matcher) Opt {
	return func(r *Runtime) {
		r.skills = p
		r.matcher = m
	}
}

func WithPageContext(p pagecontext.Provider) Opt {
	return func(r *Runtime) {
		r.page = p
	}
}

func WithSessionStore(store session.Store) Opt {
	return func(r *Runtime) {
		r.store = store
	}
}

func WithSaveInterval(d time.Duration) Opt {
	return func(r *Runtime) {
		r.saveInterval = d
	}
}

// WithCompat sets the request rewrites applied before every model call.
func WithCompat(shims []compat.Shim) Opt {
	return func(r *Runtime) {
		r.shims = shims
	}
}

func WithTracer(t trace.Tracer) Opt {
	return func(r *Runtime) {
		r.tracer = t
	}
}

func WithMaxTurns(n int) Opt {
	return func(r *Runtime) {
		if n > 0 {
			r.maxTurns = n
		}
	}
}

func WithSystemPrompt(prompt string) Opt {
	return func(r *Runtime) {
		if prompt != "" {
			r.systemPrompt = prompt
		}
	}
}

func New(model provider.Provider, opts ...Opt) *Runtime {
	r := &Runtime{
		model:        model,
		maxTurns:     config.DefaultMaxTurns,
		systemPrompt: config.DefaultSystemPrompt,
		saveInterval: session.DefaultSaveInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, name, opts...)
}

// claim makes a new run the owner of sess. prepare, if set, edits sess while
// no other run can write to it. The returned copy is the run's own record.
func (r *Runtime) claim(sess *session.Session, prepare func()) (string, *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.owner = uuid.NewString()
	r.ownerSession = sess.ID
	if prepare != nil {
		prepare()
	}
	return r.owner, sess.Snapshot()
}

func (r *Runtime) owns(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner == token
}

// turnSession is the state of one run over one session.
type turnSession struct {
	// live is the caller's session. It is written only while the run owns it.
	live    *session.Session
	// sess is the run's own record: every message it produces, owner or not.
	sess    *session.Session
	token   string
	events  chan Event
	saver   *session.Saver
	turn    int
	catalog *catalog.Catalog

	// superseded is latched the first time ownership is lost.
	superseded atomic.Bool
}

func (r *Runtime) emit(ts *turnSession, ev Event) {
	if ts.superseded.Load() {
		return
	}
	if !r.owns(ts.token) {
		ts.superseded.Store(true)
		slog.Debug("Run superseded, continuing in background", "session_id", ts.sess.ID)
		return
	}
	ts.events <- ev
}

// addMessage records msg in the run's own history and, while the run owns
// it, in the caller's session.
func (r *Runtime) addMessage(ts *turnSession, msg chat.Message) {
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	ts.sess.AddMessage(msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == ts.token {
		ts.live.AddMessage(msg)
	}
}

func (r *Runtime) updateMessage(ts *turnSession, msg chat.Message) {
	ts.sess.UpdateMessage(msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == ts.token {
		ts.live.UpdateMessage(msg)
	}
}

// persists reports whether the run may still write its record to the store.
// Once a newer run took over the same session, the stored record is that
// run's.
func (r *Runtime) persists(ts *turnSession) bool {
	if ts.saver == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner == ts.token || r.ownerSession != ts.sess.ID
}

func (r *Runtime) save(ctx context.Context, ts *turnSession) {
	if r.persists(ts) {
		ts.saver.Save(ctx, ts.sess)
	}
}

func (r *Runtime) flush(ctx context.Context, ts *turnSession) error {
	if !r.persists(ts) {
		return errNotPersisted
	}
	return ts.saver.Flush(ctx, ts.sess)
}

// RunStream runs the agent loop on sess, whose last message is expected to be
// the user's. The channel is closed after a StreamStoppedEvent.
func (r *Runtime) RunStream(ctx context.Context, sess *session.Session) <-chan Event {
	return r.start(ctx, sess, nil)
}

func (r *Runtime) start(ctx context.Context, sess *session.Session, prepare func()) <-chan Event {
	token, own := r.claim(sess, prepare)
	ts := &turnSession{
		live:   sess,
		sess:   own,
		token:  token,
		events: make(chan Event, 128),
	}
	if r.store != nil {
		ts.saver = session.NewSaver(r.store, r.saveInterval)
	}

	go func() {
		defer close(ts.events)

		ctx, span := r.startSpan(ctx, "runtime.stream", trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("model", r.model.ID()),
		))
		defer span.End()

		r.emit(ts, StreamStarted(sess.ID, r.model.ID()))
		reason := r.runTurns(ctx, ts)
		span.SetAttributes(attribute.String("stop.reason", string(reason)), attribute.Int("turns", ts.turn))
		if reason == StopFailed {
			span.SetStatus(codes.Error, "run failed")
		}

		if ts.saver != nil {
			if err := r.flush(ctx, ts); err == nil {
				r.emit(ts, SessionSaved(sess.ID))
			}
		}
		r.emit(ts, StreamStopped(sess.ID, reason))
	}()

	return ts.events
}

// Run runs the loop to completion and returns the error of a failed run.
func (r *Runtime) Run(ctx context.Context, sess *session.Session) error {
	var runErr error
	for ev := range r.RunStream(ctx, sess) {
		if e, ok := ev.(*ErrorEvent); ok {
			runErr = errors.New(e.Error)
		}
	}
	return runErr
}

// Retry drops everything after the last user message and runs again.
func (r *Runtime) Retry(ctx context.Context, sess *session.Session) (<-chan Event, error) {
	last, ok := sess.LastUserMessage()
	if !ok {
		return nil, ErrNoUserMessage
	}
	return r.start(ctx, sess, func() {
		truncateAfter(sess, last.ID)
	}), nil
}

// Edit replaces the content of a user message, drops everything after it and
// runs again.
func (r *Runtime) Edit(ctx context.Context, sess *session.Session, messageID, content string) (<-chan Event, error) {
	msg, ok := sess.Message(messageID)
	if !ok {
		return nil, fmt.Errorf("message %s not found", messageID)
	}
	if msg.Role != chat.MessageRoleUser {
		return nil, ErrMessageNotUser
	}
	msg.Content = content
	return r.start(ctx, sess, func() {
		truncateAfter(sess, messageID)
		sess.UpdateMessage(msg)
	}), nil
}

func truncateAfter(sess *session.Session, id string) {
	msgs := sess.GetMessages()
	for i := range msgs {
		if msgs[i].ID == id && i+1 < len(msgs) {
			sess.TruncateFrom(msgs[i+1].ID)
			return
		}
	}
}

func (r *Runtime) runTurns(ctx context.Context, ts *turnSession) StopReason {
	ts.catalog = r.loadCatalog(ctx)
	pg := r.loadPage(ctx)
	sk := r.matchSkills(ctx, ts)

	for ts.turn = 1; ; ts.turn++ {
		if ctx.Err() != nil {
			return StopCancelled
		}

		messages := r.prepareMessages(ts, pg, sk)
		var offered []tools.Tool
		if sk.prompt == "" && ts.catalog != nil {
			offered = ts.catalog.Tools()
		}

		slog.Debug("Starting turn", "session_id", ts.sess.ID, "turn", ts.turn, "tools", len(offered))
		msg, cancelled, err := r.streamTurn(ctx, ts, messages, offered)
		if err != nil {
			r.fail(ctx, ts, err)
			return StopFailed
		}
		if cancelled {
			return StopCancelled
		}
		if !msg.HasToolCalls() {
			return StopDone
		}

		if !r.processToolCalls(ctx, ts, msg.ToolCalls) {
			return StopCancelled
		}

		if ts.turn >= r.maxTurns {
			limit := errkind.New(errkind.TurnLimitExceeded, "", fmt.Sprintf("Stopped after reaching the limit of %d turns.", r.maxTurns))
			slog.Info("Maximum turns reached", "session_id", ts.sess.ID, "max_turns", r.maxTurns, "kind", errkind.KindOf(limit).String())
			r.commit(ctx, ts, chat.AssistantMessage(limit.Error()))
			r.emit(ts, MaxTurnsReached(r.maxTurns))
			return StopMaxTurns
		}
	}
}

func (r *Runtime) loadCatalog(ctx context.Context) *catalog.Catalog {
	if r.toolSource == nil {
		return nil
	}
	cat, err := r.toolSource.Catalog(ctx)
	if err != nil {
		slog.Warn("Failed to list tools, continuing without them", "error", err)
		return nil
	}
	return cat
}

func (r *Runtime) loadPage(ctx context.Context) *pagecontext.Page {
	if r.page == nil {
		return nil
	}
	p, ok := r.page.Page(ctx)
	if !ok {
		return nil
	}
	return &p
}

type skillMatch struct {
	prompt string
	// messageID and text rewrite the user message when a slash command was used.
	messageID string
	text      string
}

func (r *Runtime) matchSkills(ctx context.Context, ts *turnSession) skillMatch {
	if r.skills == nil || r.matcher == nil {
		return skillMatch{}
	}
	last, ok := ts.sess.LastUserMessage()
	if !ok {
		return skillMatch{}
	}

	res := r.matcher.Match(ctx, last.Content, r.skills.Summaries(ctx))
	prompt := skills.BuildPrompt(ctx, r.skills, res.Names)
	if prompt == "" {
		return skillMatch{}
	}

	slog.Debug("Skills matched", "skills", res.Names, "explicit", res.Explicit)
	r.emit(ts, SkillsMatched(res.Names, res.Explicit))
	m := skillMatch{prompt: prompt}
	if res.Explicit {
		m.messageID = last.ID
		m.text = res.Text
	}
	return m
}

// prepareMessages builds the request for one turn. The session history is
// copied, never modified.
func (r *Runtime) prepareMessages(ts *turnSession, pg *pagecontext.Page, sk skillMatch) []chat.Message {
	messages := []chat.Message{chat.SystemMessage(r.systemPrompt)}
	if pg != nil {
		messages = append(messages, chat.SystemMessage(pagecontext.SystemPrompt(*pg)))
	}
	if ts.turn == 1 && sk.prompt != "" {
		messages = append(messages, chat.SystemMessage(sk.prompt))
	}

	for _, msg := range ts.sess.GetMessages() {
		if msg.Role == chat.MessageRoleUser {
			if msg.ID == sk.messageID && sk.messageID != "" {
				msg.Content = sk.text
			}
			msg.Content = chat.InlineAttachments(&msg)
			msg.Attachments = nil
		}
		messages = append(messages, msg)
	}

	return compat.Apply(r.shims, messages)
}

// streamTurn runs one model call and commits the assistant message. On
// cancellation the partial content is committed without tool calls.
func (r *Runtime) streamTurn(ctx context.Context, ts *turnSession, messages []chat.Message, offered []tools.Tool) (chat.Message, bool, error) {
	stream, err := r.model.CreateChatCompletionStream(ctx, messages, offered)
	if err != nil {
		if ctx.Err() != nil {
			r.commit(ctx, ts, chat.AssistantMessage(""))
			return chat.Message{}, true, nil
		}
		return chat.Message{}, false, errkind.Wrap(errkind.ModelBackendError, "stream", err)
	}
	defer stream.Close()

	msg := chat.AssistantMessage("")
	for {
		if ctx.Err() != nil {
			msg.ToolCalls = nil
			r.commit(ctx, ts, msg)
			return msg, true, nil
		}

		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				msg.ToolCalls = nil
				r.commit(ctx, ts, msg)
				return msg, true, nil
			}
			if msg.Content != "" {
				msg.ToolCalls = nil
				r.commit(ctx, ts, msg)
			}
			return chat.Message{}, false, err
		}

		switch ev.Kind {
		case chat.EventContent:
			msg.Content += ev.Text
			r.emit(ts, AgentChoice(ev.Text))
		case chat.EventReasoning:
			msg.ReasoningContent += ev.Text
			r.emit(ts, AgentChoiceReasoning(ev.Text))
		case chat.EventToolCallStart:
			call := tools.ToolCall{
				ID:       ev.ID,
				Type:     tools.ToolTypeFunction,
				Function: tools.FunctionCall{Name: ev.Name},
			}
			if call.ID == "" {
				call.ID = fmt.Sprintf("call_%d_%d", ts.turn, len(msg.ToolCalls))
			}
			msg.ToolCalls = append(msg.ToolCalls, call)
			r.emit(ts, PartialToolCall(call))
		case chat.EventToolCallDelta:
			if n := len(msg.ToolCalls); n > 0 {
				msg.ToolCalls[n-1].Function.Arguments += ev.Text
			}
		}
	}

	r.commit(ctx, ts, msg)
	return msg, false, nil
}

func (r *Runtime) commit(ctx context.Context, ts *turnSession, msg chat.Message) {
	r.addMessage(ts, msg)
	r.save(ctx, ts)
}

// fail ends the run with an error message in the history. It is written
// right away so the stored session matches what was shown.
func (r *Runtime) fail(ctx context.Context, ts *turnSession, err error) {
	slog.Error("Run failed", "session_id", ts.sess.ID, "turn", ts.turn, "error", err)

	msg := chat.AssistantMessage(fmt.Sprintf("Error: %v", err))
	msg.IsError = true
	r.addMessage(ts, msg)
	r.emit(ts, Error(err.Error()))

	r.save(ctx, ts)
	_ = r.flush(ctx, ts)
}
