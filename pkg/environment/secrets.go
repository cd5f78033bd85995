package environment

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RunSecretsProvider reads Docker-style secrets mounted under /run/secrets.
type RunSecretsProvider struct {
	root string
}

func NewRunSecretsProvider() *RunSecretsProvider {
	return &RunSecretsProvider{
		root: "/run/secrets",
	}
}

func (p *RunSecretsProvider) Get(_ context.Context, name string) (string, bool) {
	buf, err := os.ReadFile(filepath.Join(p.root, filepath.Base(name)))
	if err != nil {
		slog.Debug("Secret not found in /run/secrets", "name", name, "error", err)
		return "", false
	}
	line, _, _ := strings.Cut(string(buf), "\n")
	return line, true
}
