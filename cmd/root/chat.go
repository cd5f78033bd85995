package root

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docker/sidekick/pkg/cli"
	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/session"
)

type chatFlags struct {
	attachmentPath string
	hideToolCalls  bool
}

func newChatCmd(root *rootFlags) *cobra.Command {
	var flags chatFlags

	cmd := &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Start an interactive conversation",
		Long:  "Start an interactive conversation, or continue a saved one. Tool servers are reconnected when the settings file changes.",
		Example: `  sidekick chat
  sidekick chat 0b5c3a1e-8f1d-4c55-9a9e-0f9e1c7d2b11`,
		GroupID: "core",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, root, &flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.attachmentPath, "attach", "", "Attach a file to every message")
	cmd.Flags().BoolVar(&flags.hideToolCalls, "hide-tool-calls", false, "Do not print tool calls and their results")

	return cmd
}

func runChat(cmd *cobra.Command, root *rootFlags, flags *chatFlags, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, root)
	if err != nil {
		return err
	}
	defer a.Close()

	var sess *session.Session
	if len(args) == 1 {
		sess, err = a.store.GetSession(ctx, args[0])
		if err != nil {
			return fmt.Errorf("loading session %s: %w", args[0], err)
		}
	}

	if err := config.Watch(ctx, root.configPath, func(s *config.Settings) {
		a.manager.SyncServers(ctx, s.ServerConfigs())
	}); err != nil {
		slog.Debug("Not watching settings file", "path", root.configPath, "error", err)
	}

	runner := cli.NewRunner(cli.NewPrinter(cmd.OutOrStdout()), cli.Config{
		AppName:        AppName,
		Model:          a.model.ID(),
		AttachmentPath: flags.attachmentPath,
		HideToolCalls:  flags.hideToolCalls,
	}, a.runtime, sess)

	return runner.Interactive(ctx, cmd.InOrStdin())
}
