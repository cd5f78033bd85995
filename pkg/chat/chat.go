package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/docker/sidekick/pkg/tools"
)

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// Message is one entry of a conversation.
//
// A tool message answers exactly one call. Its ToolCallID references a
// ToolCalls[].ID of an earlier assistant message in the same turn sequence.
type Message struct {
	ID               string           `json:"id"`
	Role             MessageRole      `json:"role"`
	Content          string           `json:"content,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []tools.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
	Name             string           `json:"name,omitempty"`
	Attachments      []Attachment     `json:"attachments,omitempty"`
	// IsError marks a tool result the server flagged as an error, or an
	// assistant message reporting a failed run.
	IsError   bool      `json:"is_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewID() string {
	return uuid.NewString()
}

func newMessage(role MessageRole, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func UserMessage(content string, attachments ...Attachment) Message {
	m := newMessage(MessageRoleUser, content)
	m.Attachments = attachments
	return m
}

func SystemMessage(content string) Message {
	return newMessage(MessageRoleSystem, content)
}

func AssistantMessage(content string) Message {
	return newMessage(MessageRoleAssistant, content)
}

// ToolMessage returns a tool result for the given call.
func ToolMessage(call tools.ToolCall, content string) Message {
	m := newMessage(MessageRoleTool, content)
	m.ToolCallID = call.ID
	m.Name = call.Function.Name
	return m
}

// HasToolCalls reports whether the message requests tool execution.
func (m *Message) HasToolCalls() bool {
	return m.Role == MessageRoleAssistant && len(m.ToolCalls) > 0
}
