// Package openai talks to OpenAI and OpenAI-compatible chat completion servers.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/environment"
	"github.com/docker/sidekick/pkg/errkind"
	"github.com/docker/sidekick/pkg/httpclient"
	"github.com/docker/sidekick/pkg/model/provider/base"
	"github.com/docker/sidekick/pkg/model/provider/oaistream"
	"github.com/docker/sidekick/pkg/tools"
)

// Local servers that speak the OpenAI protocol without authentication.
var localBaseURLs = map[string]string{
	"ollama": "http://localhost:11434/v1",
	"dmr":    "http://127.0.0.1:12434/engines/v1",
}

// Client implements provider.Provider on top of openai-go.
type Client struct {
	base.Config
	client openai.Client
}

// NewClient creates a client for the openai, ollama and dmr providers.
// Extra request options are appended last and win over the defaults.
func NewClient(ctx context.Context, cfg *config.ModelConfig, env environment.Provider, opts ...option.RequestOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}

	c := &Client{
		Config: base.Config{
			ModelConfig: *cfg,
			Env:         env,
		},
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = localBaseURLs[cfg.Provider]
	}

	keyName, apiKey := c.APIKey(ctx, "OPENAI_API_KEY")
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("%s environment variable is required", keyName)
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpclient.NewHTTPClient()),
		option.WithMiddleware(oaistream.ErrorBodyMiddleware()),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(baseURL))
	}
	requestOptions = append(requestOptions, opts...)

	c.client = openai.NewClient(requestOptions...)

	slog.Debug("OpenAI client created", "provider", cfg.Provider, "model", cfg.Model, "base_url", baseURL)
	return c, nil
}

func (c *Client) params(messages []chat.Message, requestTools []tools.Tool) (openai.ChatCompletionNewParams, error) {
	if len(messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.ModelConfig.Model,
		Messages: oaistream.ConvertMessages(messages),
	}
	if c.ModelConfig.MaxTokens > 0 {
		params.MaxTokens = openai.Int(c.ModelConfig.MaxTokens)
	}

	toolParams, err := oaistream.ConvertTools(requestTools)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params.Tools = toolParams

	return params, nil
}

// CreateChatCompletionStream opens a streaming completion.
// Transport and API errors surface from the stream's Recv.
func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message, requestTools []tools.Tool) (chat.MessageStream, error) {
	params, err := c.params(messages, requestTools)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	slog.Debug("Creating OpenAI chat completion stream",
		"model", c.ModelConfig.Model,
		"message_count", len(params.Messages),
		"tool_count", len(params.Tools))

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	return oaistream.NewDecoder(stream), nil
}

// CreateChatCompletion runs a non-streaming completion without tools.
func (c *Client) CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error) {
	params, err := c.params(messages, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errkind.Wrap(errkind.ModelBackendError, "chat_completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errkind.New(errkind.ModelBackendError, "chat_completion", "no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
