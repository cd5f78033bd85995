package root

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docker/sidekick/pkg/cli"
	"github.com/docker/sidekick/pkg/session"
)

type runFlags struct {
	attachmentPath string
	hideToolCalls  bool
	outputJSON     bool
	sessionID      string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <message>|-",
		Short: "Send one message and print the answer",
		Example: `  sidekick run "What's 2+2?"
  echo "Summarize this" | sidekick run - --attach notes.txt
  sidekick run --json "list my tools"`,
		GroupID: "core",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer a.Close()

			var sess *session.Session
			if flags.sessionID != "" {
				if sess, err = a.store.GetSession(ctx, flags.sessionID); err != nil {
					return fmt.Errorf("loading session %s: %w", flags.sessionID, err)
				}
			}

			runner := cli.NewRunner(cli.NewPrinter(cmd.OutOrStdout()), cli.Config{
				AppName:        AppName,
				Model:          a.model.ID(),
				AttachmentPath: flags.attachmentPath,
				HideToolCalls:  flags.hideToolCalls,
				OutputJSON:     flags.outputJSON,
				Stdin:          cmd.InOrStdin(),
			}, a.runtime, sess)

			if err := runner.RunOnce(ctx, args[0]); err != nil {
				return err
			}
			if !flags.outputJSON {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			slog.Debug("Conversation saved", "session_id", runner.Session().ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.attachmentPath, "attach", "", "Attach a file to the message")
	cmd.Flags().BoolVar(&flags.hideToolCalls, "hide-tool-calls", false, "Do not print tool calls and their results")
	cmd.Flags().BoolVar(&flags.outputJSON, "json", false, "Print runtime events as JSON lines")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "Continue a saved session")

	return cmd
}
