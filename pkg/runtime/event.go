package runtime

import (
	"github.com/docker/sidekick/pkg/tools"
)

type Event interface {
	isEvent()
}

// StopReason says why a run ended.
type StopReason string

const (
	StopDone      StopReason = "done"
	StopCancelled StopReason = "cancelled"
	StopFailed    StopReason = "failed"
	StopMaxTurns  StopReason = "max_turns"
)

type StreamStartedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

func StreamStarted(sessionID, model string) Event {
	return &StreamStartedEvent{
		Type:      "stream_started",
		SessionID: sessionID,
		Model:     model,
	}
}
func (e *StreamStartedEvent) isEvent() {}

type SkillsMatchedEvent struct {
	Type     string   `json:"type"`
	Skills   []string `json:"skills"`
	Explicit bool     `json:"explicit,omitempty"`
}

func SkillsMatched(names []string, explicit bool) Event {
	return &SkillsMatchedEvent{
		Type:     "skills_matched",
		Skills:   names,
		Explicit: explicit,
	}
}
func (e *SkillsMatchedEvent) isEvent() {}

type AgentChoiceEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func AgentChoice(content string) Event {
	return &AgentChoiceEvent{
		Type:    "agent_choice",
		Content: content,
	}
}
func (e *AgentChoiceEvent) isEvent() {}

type AgentChoiceReasoningEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func AgentChoiceReasoning(content string) Event {
	return &AgentChoiceReasoningEvent{
		Type:    "agent_choice_reasoning",
		Content: content,
	}
}
func (e *AgentChoiceReasoningEvent) isEvent() {}

// PartialToolCallEvent announces a tool call while its arguments are still streaming.
type PartialToolCallEvent struct {
	Type     string         `json:"type"`
	ToolCall tools.ToolCall `json:"tool_call"`
}

func PartialToolCall(toolCall tools.ToolCall) Event {
	return &PartialToolCallEvent{
		Type:     "partial_tool_call",
		ToolCall: toolCall,
	}
}
func (e *PartialToolCallEvent) isEvent() {}

type ToolCallEvent struct {
	Type     string         `json:"type"`
	ToolCall tools.ToolCall `json:"tool_call"`
}

func ToolCall(toolCall tools.ToolCall) Event {
	return &ToolCallEvent{
		Type:     "tool_call",
		ToolCall: toolCall,
	}
}
func (e *ToolCallEvent) isEvent() {}

type ToolCallResponseEvent struct {
	Type     string         `json:"type"`
	ToolCall tools.ToolCall `json:"tool_call"`
	Response string         `json:"response"`
	IsError  bool           `json:"is_error,omitempty"`
}

func ToolCallResponse(toolCall tools.ToolCall, response string, isError bool) Event {
	return &ToolCallResponseEvent{
		Type:     "tool_call_response",
		ToolCall: toolCall,
		Response: response,
		IsError:  isError,
	}
}
func (e *ToolCallResponseEvent) isEvent() {}

type MaxTurnsReachedEvent struct {
	Type     string `json:"type"`
	MaxTurns int    `json:"max_turns"`
}

func MaxTurnsReached(maxTurns int) Event {
	return &MaxTurnsReachedEvent{
		Type:     "max_turns_reached",
		MaxTurns: maxTurns,
	}
}
func (e *MaxTurnsReachedEvent) isEvent() {}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func Error(msg string) Event {
	return &ErrorEvent{
		Type:  "error",
		Error: msg,
	}
}
func (e *ErrorEvent) isEvent() {}

type SessionSavedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func SessionSaved(sessionID string) Event {
	return &SessionSavedEvent{
		Type:      "session_saved",
		SessionID: sessionID,
	}
}
func (e *SessionSavedEvent) isEvent() {}

// StreamStoppedEvent is always the last event of a run.
type StreamStoppedEvent struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	Reason    StopReason `json:"reason"`
}

func StreamStopped(sessionID string, reason StopReason) Event {
	return &StreamStoppedEvent{
		Type:      "stream_stopped",
		SessionID: sessionID,
		Reason:    reason,
	}
}
func (e *StreamStoppedEvent) isEvent() {}
