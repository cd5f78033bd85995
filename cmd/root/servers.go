package root

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docker/sidekick/pkg/cli"
	"github.com/docker/sidekick/pkg/tools/mcp"
)

const maxParallelConnects = 4

func newServersCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "servers",
		Short:   "Connect to the configured tool servers and show their status",
		GroupID: "manage",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager := newManager(root)
			defer manager.Close()

			connectAll(cmd.Context(), manager, root.settings.ServerConfigs())
			cli.NewPrinter(cmd.OutOrStdout()).PrintServerStatuses(manager.Statuses())
			return nil
		},
	}
}

func newToolsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "tools",
		Short:   "List the tools offered to the model, with their routed names",
		GroupID: "manage",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			manager := newManager(root)
			defer manager.Close()

			connectAll(ctx, manager, root.settings.ServerConfigs())
			cat, err := manager.Catalog(ctx)
			if err != nil {
				return err
			}
			cli.NewPrinter(cmd.OutOrStdout()).PrintTools(cat.Tools())
			return nil
		},
	}
}

// connectAll waits for every enabled server. Failures are recorded in the
// server status, not returned.
func connectAll(ctx context.Context, manager *mcp.Manager, cfgs []mcp.ServerConfig) {
	var g errgroup.Group
	g.SetLimit(maxParallelConnects)

	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		g.Go(func() error {
			if err := manager.Connect(ctx, cfg); err != nil {
				slog.Debug("Tool server connection failed", "url", cfg.URL, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
