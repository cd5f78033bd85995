package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/tools"
)

const canceledToolResult = "The tool call was canceled by the user."

// processToolCalls runs the calls one after the other, in the order the
// model emitted them. Every call gets exactly one tool message, written as a
// placeholder before execution and filled in afterwards. It returns false
// when the run was cancelled.
func (r *Runtime) processToolCalls(ctx context.Context, ts *turnSession, calls []tools.ToolCall) bool {
	slog.Debug("Processing tool calls", "session_id", ts.sess.ID, "call_count", len(calls))

	for i, call := range calls {
		if ctx.Err() != nil {
			r.cancelRemaining(ctx, ts, calls[i:])
			return false
		}

		placeholder := chat.ToolMessage(call, "")
		r.addMessage(ts, placeholder)
		r.emit(ts, ToolCall(call))
		r.save(ctx, ts)

		res := r.runTool(ctx, ts, call)
		if ctx.Err() != nil {
			res = tools.ResultError(canceledToolResult)
		}

		placeholder.Content = res.Output
		placeholder.IsError = res.IsError
		r.updateMessage(ts, placeholder)
		r.emit(ts, ToolCallResponse(call, res.Output, res.IsError))
		r.save(ctx, ts)

		if ctx.Err() != nil {
			r.cancelRemaining(ctx, ts, calls[i+1:])
			return false
		}
	}
	return true
}

// cancelRemaining answers calls that will not run so the history stays valid.
func (r *Runtime) cancelRemaining(ctx context.Context, ts *turnSession, calls []tools.ToolCall) {
	for _, call := range calls {
		msg := chat.ToolMessage(call, canceledToolResult)
		msg.IsError = true
		r.addMessage(ts, msg)
		r.emit(ts, ToolCallResponse(call, canceledToolResult, true))
	}
	if len(calls) > 0 {
		r.save(ctx, ts)
	}
}

// runTool never returns an error: every failure becomes the tool result the
// model sees.
func (r *Runtime) runTool(ctx context.Context, ts *turnSession, call tools.ToolCall) *tools.ToolCallResult {
	ctx, span := r.startSpan(ctx, "runtime.tools.call", trace.WithAttributes(
		attribute.String("tool.name", call.Function.Name),
		attribute.String("tool.call_id", call.ID),
		attribute.String("session.id", ts.sess.ID),
	))
	defer span.End()

	start := time.Now()
	res, err := r.callTool(ctx, ts, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		slog.Warn("Tool call failed", "tool", call.Function.Name, "kind", errkind.KindOf(err).String(), "error", err)
		return tools.ResultError(fmt.Sprintf("Error executing tool: %v", err))
	}
	if res.IsError {
		span.SetStatus(codes.Error, "tool returned an error")
	}
	slog.Debug("Tool call completed", "tool", call.Function.Name, "duration", time.Since(start), "is_error", res.IsError)
	return res
}

func (r *Runtime) callTool(ctx context.Context, ts *turnSession, call tools.ToolCall) (*tools.ToolCallResult, error) {
	if ts.catalog == nil || r.toolSource == nil {
		return nil, errkind.New(errkind.ToolNotFound, "call", fmt.Sprintf("tool %q is not available", call.Function.Name))
	}
	route, ok := ts.catalog.Resolve(call.Function.Name)
	if !ok {
		return nil, errkind.New(errkind.ToolNotFound, "call", fmt.Sprintf("tool %q is not available", call.Function.Name))
	}

	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		return nil, errkind.Wrap(errkind.ToolArgumentInvalid, "call", fmt.Errorf("invalid arguments for %s: %w", call.Function.Name, err))
	}

	return r.toolSource.CallTool(ctx, route.OriginalName, args, route.SourceURL)
}

func parseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
