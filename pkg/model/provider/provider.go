package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/sidekick/pkg/chat"
	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/environment"
	"github.com/docker/sidekick/pkg/model/provider/anthropic"
	"github.com/docker/sidekick/pkg/model/provider/gemini"
	"github.com/docker/sidekick/pkg/model/provider/openai"
	"github.com/docker/sidekick/pkg/tools"
)

// Provider defines the interface for model providers
type Provider interface {
	// ID returns "provider/model".
	ID() string

	// CreateChatCompletionStream starts a streaming completion. Backend
	// failures may surface either here or from the stream's Recv.
	CreateChatCompletionStream(
		ctx context.Context,
		messages []chat.Message,
		tools []tools.Tool,
	) (chat.MessageStream, error)

	// CreateChatCompletion returns the full text of a non-streaming completion
	// without tools.
	CreateChatCompletion(
		ctx context.Context,
		messages []chat.Message,
	) (string, error)
}

var (
	_ Provider = (*openai.Client)(nil)
	_ Provider = (*anthropic.Client)(nil)
	_ Provider = (*gemini.Client)(nil)
)

func New(ctx context.Context, cfg *config.ModelConfig, env environment.Provider) (Provider, error) {
	slog.Debug("Creating model provider", "provider", cfg.Provider, "model", cfg.Model)

	switch cfg.Provider {
	case "openai", "ollama", "dmr":
		return openai.NewClient(ctx, cfg, env)

	case "anthropic":
		return anthropic.NewClient(ctx, cfg, env)

	case "google":
		return gemini.NewClient(ctx, cfg, env)

	default:
		slog.Error("Unknown provider type", "provider", cfg.Provider)
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
