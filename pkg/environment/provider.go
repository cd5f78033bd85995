package environment

import "context"

// Provider resolves secrets such as API keys by name.
type Provider interface {
	// Get returns the value and whether it was found. A found value may be empty.
	Get(ctx context.Context, name string) (string, bool)
}

// NewDefaultProvider looks in the process environment first, then in /run/secrets.
func NewDefaultProvider() Provider {
	return NewMultiProvider(
		NewOsEnvProvider(),
		NewRunSecretsProvider(),
	)
}
