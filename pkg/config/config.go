// Package config holds the user settings stored in settings.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/docker/sidekick/pkg/model/provider/compat"
	"github.com/docker/sidekick/pkg/tools/mcp"
)

const (
	DefaultMaxTurns     = 25
	DefaultPageMaxChars = 20000
	DefaultLogMaxSize   = "5MB"
	DefaultLogBackups   = 2

	DefaultSystemPrompt = `You are Sidekick, a helpful assistant working next to the user's browser.
Answer concisely. Use the available tools when they help answer the question, and say so when you could not find an answer.`
)

var ErrInvalidSettings = errors.New("invalid settings")

// ModelConfig selects and configures the model backend.
type ModelConfig struct {
	// Provider is one of openai, anthropic, google, ollama or dmr.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
	// Compat forces compatibility shims on top of the ones implied by Provider.
	Compat []string `yaml:"compat,omitempty"`
}

type ToolServer struct {
	URL string `yaml:"url"`
	// Enabled defaults to true.
	Enabled     *bool             `yaml:"enabled,omitempty"`
	DisplayName string            `yaml:"display_name,omitempty"`
	Transport   string            `yaml:"transport,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

func (t ToolServer) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

type Skill struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"instructions"`
	Enabled      *bool  `yaml:"enabled,omitempty"`
}

func (s Skill) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// PageContext describes the page shown next to the conversation.
// With a URL the page is fetched; otherwise Title and Content are used as is.
type PageContext struct {
	URL      string `yaml:"url,omitempty"`
	Title    string `yaml:"title,omitempty"`
	Content  string `yaml:"content,omitempty"`
	MaxChars int    `yaml:"max_chars,omitempty"`
}

type SessionStore struct {
	// Driver is memory or sqlite.
	Driver string `yaml:"driver,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

type SkillMatching struct {
	// Strategy is llm or keyword.
	Strategy string `yaml:"strategy,omitempty"`
}

type Logging struct {
	// MaxSize is a human readable size such as "5MB".
	MaxSize    string `yaml:"max_size,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

type Settings struct {
	Model         ModelConfig   `yaml:"model"`
	MaxTurns      int           `yaml:"max_turns,omitempty"`
	SystemPrompt  string        `yaml:"system_prompt,omitempty"`
	ToolServers   []ToolServer  `yaml:"tool_servers,omitempty"`
	Skills        []Skill       `yaml:"skills,omitempty"`
	PageContext   *PageContext  `yaml:"page_context,omitempty"`
	SessionStore  SessionStore  `yaml:"session_store,omitempty"`
	SkillMatching SkillMatching `yaml:"skill_matching,omitempty"`
	Logging       Logging       `yaml:"logging,omitempty"`
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	s := &Settings{
		Model: ModelConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
	}
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	if s.MaxTurns <= 0 {
		s.MaxTurns = DefaultMaxTurns
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}
	if s.PageContext != nil && s.PageContext.MaxChars <= 0 {
		s.PageContext.MaxChars = DefaultPageMaxChars
	}
	if s.SessionStore.Driver == "" {
		s.SessionStore.Driver = "sqlite"
	}
	if s.SkillMatching.Strategy == "" {
		s.SkillMatching.Strategy = "llm"
	}
	if s.Logging.MaxSize == "" {
		s.Logging.MaxSize = DefaultLogMaxSize
	}
	if s.Logging.MaxBackups <= 0 {
		s.Logging.MaxBackups = DefaultLogBackups
	}
}

// Validate reports the first problem found, wrapping ErrInvalidSettings.
func (s *Settings) Validate() error {
	if s.Model.Provider == "" {
		return fmt.Errorf("%w: model.provider is required", ErrInvalidSettings)
	}
	if s.Model.Model == "" {
		return fmt.Errorf("%w: model.model is required", ErrInvalidSettings)
	}
	for _, name := range s.Model.Compat {
		if !compat.Known(name) {
			return fmt.Errorf("%w: unknown model.compat entry %q", ErrInvalidSettings, name)
		}
	}

	seen := map[string]bool{}
	for i, ts := range s.ToolServers {
		if strings.TrimSpace(ts.URL) == "" {
			return fmt.Errorf("%w: tool_servers[%d].url is required", ErrInvalidSettings, i)
		}
		if seen[ts.URL] {
			return fmt.Errorf("%w: duplicate tool server %s", ErrInvalidSettings, ts.URL)
		}
		seen[ts.URL] = true
		if _, err := mcp.ParseTransportKind(ts.Transport); err != nil {
			return fmt.Errorf("%w: tool_servers[%d]: %w", ErrInvalidSettings, i, err)
		}
	}

	for i, sk := range s.Skills {
		if strings.TrimSpace(sk.Name) == "" {
			return fmt.Errorf("%w: skills[%d].name is required", ErrInvalidSettings, i)
		}
	}

	switch s.SessionStore.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unknown session_store.driver %q", ErrInvalidSettings, s.SessionStore.Driver)
	}

	switch s.SkillMatching.Strategy {
	case "llm", "keyword":
	default:
		return fmt.Errorf("%w: unknown skill_matching.strategy %q", ErrInvalidSettings, s.SkillMatching.Strategy)
	}

	if _, err := units.FromHumanSize(s.Logging.MaxSize); err != nil {
		return fmt.Errorf("%w: logging.max_size: %w", ErrInvalidSettings, err)
	}

	return nil
}

// LogMaxSize returns the rotation threshold in bytes.
func (s *Settings) LogMaxSize() int64 {
	size, err := units.FromHumanSize(s.Logging.MaxSize)
	if err != nil || size <= 0 {
		size, _ = units.FromHumanSize(DefaultLogMaxSize)
	}
	return size
}

// ServerConfigs returns the tool servers in the form the connection manager expects.
func (s *Settings) ServerConfigs() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(s.ToolServers))
	for _, ts := range s.ToolServers {
		kind, _ := mcp.ParseTransportKind(ts.Transport)
		out = append(out, mcp.ServerConfig{
			URL:         strings.TrimSpace(ts.URL),
			DisplayName: ts.DisplayName,
			Enabled:     ts.IsEnabled(),
			Transport:   kind,
			Headers:     ts.Headers,
		})
	}
	return out
}

// Load reads the settings at path. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates settings.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if s.Model.Provider == "" && s.Model.Model == "" {
		s.Model = Default().Model
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the settings atomically.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}
