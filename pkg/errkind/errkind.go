// Package errkind classifies failures of the agent core so callers can decide
// whether an error is confined to one tool call, one tool server, or the whole run.
package errkind

import (
	"errors"
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	// ServerUnreachable is a network-level failure reaching a tool server or model backend.
	ServerUnreachable
	// ProtocolMismatch is an unexpected content type or payload shape from a tool server.
	ProtocolMismatch
	// ToolNotFound means a call referenced a name missing from the current catalog.
	ToolNotFound
	// ServerNotConnected means a route exists but its server is not connected.
	ServerNotConnected
	// ToolArgumentInvalid means accumulated tool arguments failed JSON parsing.
	ToolArgumentInvalid
	// ModelBackendError covers auth, rate limit and malformed responses from the LLM endpoint.
	ModelBackendError
	// TurnLimitExceeded is a deliberate stop, not a failure.
	TurnLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case ServerUnreachable:
		return "server_unreachable"
	case ProtocolMismatch:
		return "protocol_mismatch"
	case ToolNotFound:
		return "tool_not_found"
	case ServerNotConnected:
		return "server_not_connected"
	case ToolArgumentInvalid:
		return "tool_argument_invalid"
	case ModelBackendError:
		return "model_backend_error"
	case TurnLimitExceeded:
		return "turn_limit_exceeded"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed, e.g. "connect".
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		sb.WriteString(e.Msg)
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	case e.Msg != "":
		sb.WriteString(e.Msg)
	case e.Err != nil:
		sb.WriteString(e.Err.Error())
	default:
		sb.WriteString(e.Kind.String())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
