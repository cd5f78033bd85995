// Package gemini talks to the Gemini API through google.golang.org/genai.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/environment"
	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/httpclient"
	"github.com/docker/sidekick/pkg/model/provider/base"
	"github.com/docker/sidekick/pkg/tools"
)

// Client implements provider.Provider for the "google" provider.
type Client struct {
	base.Config
	client *genai.Client
}

func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.Provider != "google" {
		return nil, errors.New("model provider must be 'google'")
	}

	c := &Client{
		Config: base.Config{
			ModelConfig: *cfg,
			Env:         env,
		},
	}

	keyName, apiKey := c.APIKey(ctx, "GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable is required", keyName)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpclient.NewHTTPClient(),
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	c.client = client

	slog.Debug("Gemini client created", "model", cfg.Model)
	return c, nil
}

func (c *Client) generateConfig(requestTools []tools.Tool) (*genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{}
	if c.ModelConfig.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.ModelConfig.MaxTokens)
	}

	if len(requestTools) == 0 {
		return cfg, nil
	}

	funcs := make([]*genai.FunctionDeclaration, 0, len(requestTools))
	for _, tool := range requestTools {
		parameters, err := tool.ParametersMap()
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: parameters,
		})
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: funcs}}
	cfg.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode: genai.FunctionCallingConfigModeAuto,
		},
	}
	return cfg, nil
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message, requestTools []tools.Tool) (chat.MessageStream, error) {
	contents := convertMessages(messages)
	if len(contents) == 0 {
		return nil, errors.New("at least one message is required")
	}

	cfg, err := c.generateConfig(requestTools)
	if err != nil {
		return nil, err
	}

	slog.Debug("Creating Gemini chat completion stream",
		"model", c.ModelConfig.Model,
		"message_count", len(contents),
		"tool_count", len(requestTools))

	return newStreamDecoder(c.client.Models.GenerateContentStream(ctx, c.ModelConfig.Model, contents, cfg)), nil
}

func (c *Client) CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error) {
	contents := convertMessages(messages)
	if len(contents) == 0 {
		return "", errors.New("at least one message is required")
	}

	cfg, err := c.generateConfig(nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.ModelConfig.Model, contents, cfg)
	if err != nil {
		return "", errkind.Wrap(errkind.ModelBackendError, "chat_completion", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
		break
	}
	return strings.TrimSpace(sb.String()), nil
}

// convertMessages maps the conversation onto Gemini contents. Gemini has no
// system role in contents, so system messages are sent as user turns.
func convertMessages(messages []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case chat.MessageRoleTool:
			key := "result"
			if msg.IsError {
				key = "error"
			}
			part := genai.NewPartFromFunctionResponse(msg.Name, map[string]any{key: msg.Content})
			part.FunctionResponse.ID = msg.ToolCallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))

		case chat.MessageRoleAssistant:
			if msg.IsError {
				continue
			}
			var parts []*genai.Part
			if strings.TrimSpace(msg.Content) != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				part := genai.NewPartFromFunctionCall(call.Function.Name, args)
				part.FunctionCall.ID = call.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		default:
			text := msg.Content
			if msg.Role == chat.MessageRoleUser {
				text = chat.InlineAttachments(msg)
			}
			if strings.TrimSpace(text) != "" {
				contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
			}
		}
	}
	return contents
}
