// Package compat rewrites a request's message list for backends with known
// quirks. Shims never touch the session history, only the copy sent to the model.
package compat

import (
	"slices"
	"strings"

	"github.com/docker/sidekick/pkg/chat"
)

const (
	DemoteSystem     = "demote_system"
	MergeConsecutive = "merge_consecutive"
)

// SystemMarker prefixes demoted system messages.
const SystemMarker = "[SYSTEM INSTRUCTION]"

type Shim interface {
	Name() string
	Apply(messages []chat.Message) []chat.Message
}

// byProvider lists the shims each backend needs without any configuration.
var byProvider = map[string][]string{
	// Gemini contents carry no system role.
	"google": {DemoteSystem},
	"ollama": {MergeConsecutive},
	"dmr":    {MergeConsecutive},
}

var known = map[string]Shim{
	DemoteSystem:     demoteSystem{},
	MergeConsecutive: mergeConsecutive{},
}

// Known reports whether name is a registered shim.
func Known(name string) bool {
	_, ok := known[name]
	return ok
}

// For returns the shims for a provider plus any extra ones named in the model
// configuration. Unknown names are ignored. Demotion always runs before merging.
func For(provider string, extra []string) []Shim {
	names := slices.Clone(byProvider[provider])
	for _, name := range extra {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	var shims []Shim
	for _, name := range []string{DemoteSystem, MergeConsecutive} {
		if slices.Contains(names, name) {
			shims = append(shims, known[name])
		}
	}
	return shims
}

// Apply runs the shims in order.
func Apply(shims []Shim, messages []chat.Message) []chat.Message {
	for _, s := range shims {
		messages = s.Apply(messages)
	}
	return messages
}

type demoteSystem struct{}

func (demoteSystem) Name() string { return DemoteSystem }

func (demoteSystem) Apply(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, len(messages))
	for i, msg := range messages {
		if msg.Role == chat.MessageRoleSystem {
			msg.Role = chat.MessageRoleUser
			msg.Content = SystemMarker + "\n" + msg.Content
		}
		out[i] = msg
	}
	return out
}

// mergeConsecutive folds runs of user (or system) messages into one, joined
// by newlines. Some local servers reject two user turns in a row.
type mergeConsecutive struct{}

func (mergeConsecutive) Name() string { return MergeConsecutive }

func (mergeConsecutive) Apply(messages []chat.Message) []chat.Message {
	var out []chat.Message
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		if msg.Role != chat.MessageRoleUser && msg.Role != chat.MessageRoleSystem {
			out = append(out, msg)
			continue
		}

		j := i + 1
		if j == len(messages) || messages[j].Role != msg.Role {
			out = append(out, msg)
			continue
		}

		var parts []string
		var attachments []chat.Attachment
		for j = i; j < len(messages) && messages[j].Role == msg.Role; j++ {
			parts = append(parts, messages[j].Content)
			attachments = append(attachments, messages[j].Attachments...)
		}
		msg.Content = strings.Join(parts, "\n")
		msg.Attachments = attachments
		out = append(out, msg)
		i = j - 1
	}
	return out
}
