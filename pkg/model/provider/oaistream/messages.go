package oaistream

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/tools"
)

// ConvertMessages converts a conversation to OpenAI message params.
// Attachments are inlined into the message text.
func ConvertMessages(messages []chat.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case chat.MessageRoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))

		case chat.MessageRoleUser:
			out = append(out, openai.UserMessage(chat.InlineAttachments(msg)))

		case chat.MessageRoleAssistant:
			// Empty turns (token limit, cancelled before any output) and run
			// failures are not part of the model-visible conversation.
			if msg.IsError || (len(msg.ToolCalls) == 0 && strings.TrimSpace(msg.Content) == "") {
				continue
			}

			var assistant openai.ChatCompletionAssistantMessageParam
			if msg.Content != "" {
				assistant.Content.OfString = param.NewOpt(msg.Content)
			}
			if len(msg.ToolCalls) > 0 {
				calls := make([]openai.ChatCompletionMessageToolCallUnionParam, len(msg.ToolCalls))
				for j, call := range msg.ToolCalls {
					calls[j] = openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: call.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      call.Function.Name,
								Arguments: call.Function.Arguments,
							},
						},
					}
				}
				assistant.ToolCalls = calls
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		case chat.MessageRoleTool:
			toolParam := openai.ChatCompletionToolMessageParam{
				ToolCallID: msg.ToolCallID,
			}
			toolParam.Content.OfString = param.NewOpt(msg.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: &toolParam})
		}
	}
	return out
}

// ConvertTools converts tool descriptors to OpenAI function tools.
func ConvertTools(requestTools []tools.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(requestTools) == 0 {
		return nil, nil
	}

	out := make([]openai.ChatCompletionToolUnionParam, len(requestTools))
	for i, tool := range requestTools {
		parameters, err := tool.ParametersMap()
		if err != nil {
			return nil, fmt.Errorf("converting parameters of tool %s: %w", tool.Name, err)
		}

		// Some OpenAI-compatible servers reject tools without a description.
		desc := tool.Description
		if desc == "" {
			desc = "Function " + tool.Name
		}

		out[i] = openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(desc),
			Parameters:  shared.FunctionParameters(parameters),
		})
	}
	return out, nil
}
