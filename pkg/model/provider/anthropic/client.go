// Package anthropic talks to the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/environment"
	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/httpclient"
	"github.com/docker/sidekick/pkg/model/provider/base"
	"github.com/docker/sidekick/pkg/tools"
)

const defaultMaxTokens = 8192

// Client implements provider.Provider on top of anthropic-sdk-go.
type Client struct {
	base.Config
	client anthropic.Client
}

// NewClient creates a client. Extra request options are appended last.
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...option.RequestOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.Provider != "anthropic" {
		return nil, errors.New("model provider must be 'anthropic'")
	}

	c := &Client{
		Config: base.Config{
			ModelConfig: *cfg,
			Env:         env,
		},
	}

	keyName, apiKey := c.APIKey(ctx, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable is required", keyName)
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpclient.NewHTTPClient()),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.BaseURL))
	}
	requestOptions = append(requestOptions, opts...)

	c.client = anthropic.NewClient(requestOptions...)

	slog.Debug("Anthropic client created", "model", cfg.Model)
	return c, nil
}

func (c *Client) params(messages []chat.Message, requestTools []tools.Tool) (anthropic.MessageNewParams, error) {
	converted := convertMessages(messages)
	if len(converted) == 0 {
		return anthropic.MessageNewParams{}, errors.New("no messages to send after conversion")
	}

	toolParams, err := convertTools(requestTools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := c.ModelConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(c.ModelConfig.Model),
		MaxTokens: maxTokens,
		System:    extractSystemBlocks(messages),
		Messages:  converted,
		Tools:     toolParams,
	}, nil
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message, requestTools []tools.Tool) (chat.MessageStream, error) {
	params, err := c.params(messages, requestTools)
	if err != nil {
		return nil, err
	}

	slog.Debug("Creating Anthropic chat completion stream",
		"model", c.ModelConfig.Model,
		"message_count", len(params.Messages),
		"tool_count", len(params.Tools))

	return newStreamDecoder(c.client.Messages.NewStreaming(ctx, params)), nil
}

func (c *Client) CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error) {
	params, err := c.params(messages, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", errkind.Wrap(errkind.ModelBackendError, "chat_completion", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// convertMessages maps the conversation onto user/assistant turns. System
// messages travel separately, and consecutive tool results are grouped into
// one user message right after the assistant message that requested them.
func convertMessages(messages []chat.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	pendingToolUse := false

	for i := 0; i < len(messages); i++ {
		msg := &messages[i]

		switch msg.Role {
		case chat.MessageRoleUser:
			if txt := strings.TrimSpace(chat.InlineAttachments(msg)); txt != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
			}
			pendingToolUse = false

		case chat.MessageRoleAssistant:
			if msg.IsError {
				continue
			}
			var blocks []anthropic.ContentBlockParamUnion
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				blocks = append(blocks, anthropic.NewTextBlock(txt))
			}
			for _, call := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Input: input,
						Name:  call.Function.Name,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
			pendingToolUse = len(msg.ToolCalls) > 0

		case chat.MessageRoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			j := i
			for ; j < len(messages) && messages[j].Role == chat.MessageRoleTool; j++ {
				content := strings.TrimSpace(messages[j].Content)
				if content == "" {
					content = "(no output)"
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(messages[j].ToolCallID, content, messages[j].IsError))
			}
			// Results without a preceding tool_use are rejected by the API.
			if pendingToolUse {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
			pendingToolUse = false
			i = j - 1
		}
	}
	return out
}

func extractSystemBlocks(messages []chat.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for i := range messages {
		if messages[i].Role != chat.MessageRoleSystem {
			continue
		}
		if txt := strings.TrimSpace(messages[i].Content); txt != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: txt})
		}
	}
	return blocks
}

func convertTools(requestTools []tools.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(requestTools) == 0 {
		return nil, nil
	}

	out := make([]anthropic.ToolUnionParam, len(requestTools))
	for i, tool := range requestTools {
		parameters, err := tool.ParametersMap()
		if err != nil {
			return nil, err
		}

		schema := anthropic.ToolInputSchemaParam{
			Properties: parameters["properties"],
			Required:   requiredFields(parameters["required"]),
		}

		out[i] = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: schema,
		}}
	}
	return out, nil
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
