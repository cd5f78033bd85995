package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/input"
	"github.com/docker/sidekick/pkg/runtime"
	"github.com/docker/sidekick/pkg/session"
)

// RuntimeError wraps runtime errors to distinguish them from usage errors
type RuntimeError struct {
	Err error
}

func (e RuntimeError) Error() string {
	return e.Err.Error()
}

func (e RuntimeError) Unwrap() error {
	return e.Err
}

type Config struct {
	AppName        string
	Model          string
	AttachmentPath string
	HideToolCalls  bool
	OutputJSON     bool
	// Stdin is read by RunOnce for the "-" message. Defaults to os.Stdin.
	Stdin io.Reader
}

// Runner drives conversations from the terminal.
type Runner struct {
	out  *Printer
	cfg  Config
	rt   *runtime.Runtime
	sess *session.Session
}

// NewRunner continues sess, or starts a new conversation when it is nil.
func NewRunner(out *Printer, cfg Config, rt *runtime.Runtime, sess *session.Session) *Runner {
	if sess == nil {
		sess = session.New()
	}
	return &Runner{out: out, cfg: cfg, rt: rt, sess: sess}
}

// Session returns the conversation currently shown.
func (r *Runner) Session() *session.Session {
	return r.sess
}

// RunOnce sends a single message, "-" reading it from stdin.
func (r *Runner) RunOnce(ctx context.Context, text string) error {
	if text == "-" {
		stdin := r.cfg.Stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		buf, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		text = string(buf)
	}
	msg, err := r.userMessage(text, r.cfg.AttachmentPath)
	if err != nil {
		return err
	}
	r.sess.AddMessage(msg)
	return r.stream(ctx, func(ctx context.Context) (<-chan runtime.Event, error) {
		return r.rt.RunStream(ctx, r.sess), nil
	})
}

// Interactive reads messages until /exit, end of input or Ctrl+C at the prompt.
func (r *Runner) Interactive(ctx context.Context, rd io.Reader) error {
	lines := input.NewReader(rd)
	r.out.PrintWelcomeMessage(r.cfg.AppName, r.cfg.Model)

	for {
		r.out.Print("> ")

		promptCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		line, err := lines.ReadLine(promptCtx)
		stop()
		if err != nil {
			r.out.Println()
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		exit, err := r.handle(ctx, strings.TrimSpace(line))
		if exit {
			return nil
		}
		if err != nil {
			var rtErr RuntimeError
			if !errors.As(err, &rtErr) {
				r.out.PrintError(err)
			}
		}
		r.out.Println()
	}
}

func (r *Runner) handle(ctx context.Context, line string) (exit bool, err error) {
	if line == "" {
		return false, nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/exit", "/quit":
		return true, nil
	case "/new":
		r.sess = session.New()
		r.out.Println("Started a new conversation.")
		return false, nil
	case "/retry":
		return false, r.stream(ctx, func(ctx context.Context) (<-chan runtime.Event, error) {
			return r.rt.Retry(ctx, r.sess)
		})
	case "/attach":
		path, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if path == "" {
			return false, errors.New("usage: /attach <file> <message>")
		}
		msg, err := r.userMessage(text, path)
		if err != nil {
			return false, err
		}
		r.sess.AddMessage(msg)
	default:
		msg, err := r.userMessage(line, r.cfg.AttachmentPath)
		if err != nil {
			return false, err
		}
		r.sess.AddMessage(msg)
	}

	return false, r.stream(ctx, func(ctx context.Context) (<-chan runtime.Event, error) {
		return r.rt.RunStream(ctx, r.sess), nil
	})
}

func (r *Runner) userMessage(text, attachPath string) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if attachPath == "" {
		if text == "" {
			return chat.Message{}, errors.New("empty message")
		}
		return chat.UserMessage(text), nil
	}

	att, err := chat.ReadAttachment(attachPath)
	if err != nil {
		return chat.Message{}, fmt.Errorf("attaching %s: %w", attachPath, err)
	}
	if text == "" {
		text = "Please look at the attached file."
	}
	return chat.UserMessage(text, att), nil
}

// stream consumes one run. Ctrl+C cancels the run, not the program.
func (r *Runner) stream(ctx context.Context, start func(context.Context) (<-chan runtime.Event, error)) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	events, err := start(runCtx)
	if err != nil {
		return err
	}

	if r.cfg.OutputJSON {
		return r.streamJSON(events)
	}

	var lastErr error
	for event := range events {
		switch e := event.(type) {
		case *runtime.SkillsMatchedEvent:
			r.out.PrintSkills(e.Skills, e.Explicit)
		case *runtime.AgentChoiceEvent:
			r.out.Print(e.Content)
		case *runtime.AgentChoiceReasoningEvent:
			r.out.Print(faint("%s", e.Content))
		case *runtime.ToolCallEvent:
			if !r.cfg.HideToolCalls {
				r.out.PrintToolCall(e.ToolCall)
			}
		case *runtime.ToolCallResponseEvent:
			if !r.cfg.HideToolCalls {
				r.out.PrintToolCallResponse(e.ToolCall, e.Response, e.IsError)
			}
		case *runtime.MaxTurnsReachedEvent:
			r.out.PrintMaxTurns(e.MaxTurns)
		case *runtime.ErrorEvent:
			lastErr = errors.New(e.Error)
			r.out.PrintError(lastErr)
		case *runtime.SessionSavedEvent:
			slog.Debug("Session saved", "session_id", e.SessionID)
		case *runtime.StreamStoppedEvent:
			if e.Reason == runtime.StopCancelled {
				r.out.PrintCancelled()
			}
		}
	}

	if lastErr != nil {
		return RuntimeError{Err: lastErr}
	}
	return nil
}

func (r *Runner) streamJSON(events <-chan runtime.Event) error {
	var lastErr error
	for event := range events {
		if e, ok := event.(*runtime.ErrorEvent); ok {
			lastErr = errors.New(e.Error)
		}
		buf, err := json.Marshal(event)
		if err != nil {
			return err
		}
		r.out.Println(string(buf))
	}
	if lastErr != nil {
		return RuntimeError{Err: lastErr}
	}
	return nil
}
