package base

import (
	"cmp"
	"context"

	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/environment"
)

// Config is embedded by every provider client.
type Config struct {
	ModelConfig config.ModelConfig
	Env         environment.Provider
}

// ID returns "provider/model".
func (c *Config) ID() string {
	return c.ModelConfig.Provider + "/" + c.ModelConfig.Model
}

// APIKey resolves the key from the configured variable, or from defaultEnv.
// It returns the variable name that was consulted along with the value.
func (c *Config) APIKey(ctx context.Context, defaultEnv string) (name, value string) {
	name = cmp.Or(c.ModelConfig.APIKeyEnv, defaultEnv)
	if c.Env == nil {
		return name, ""
	}
	value, _ = c.Env.Get(ctx, name)
	return name, value
}
