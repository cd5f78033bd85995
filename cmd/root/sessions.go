package root

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docker/sidekick/pkg/cli"
	"github.com/docker/sidekick/pkg/session"
)

func newSessionsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Short:   "Manage saved conversations",
		GroupID: "manage",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context(), root.settings)
			if err != nil {
				return err
			}
			defer store.Close()

			summaries, err := store.GetSessionSummaries(cmd.Context())
			if err != nil {
				return err
			}
			cli.NewPrinter(cmd.OutOrStdout()).PrintSessions(summaries)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), root.settings)
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.GetSession(cmd.Context(), args[0])
			if errors.Is(err, session.ErrNotFound) {
				return fmt.Errorf("no session with ID %s", args[0])
			}
			if err != nil {
				return err
			}
			cli.NewPrinter(cmd.OutOrStdout()).PrintTranscript(sess)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "delete <session-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete saved conversations",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), root.settings)
			if err != nil {
				return err
			}
			defer store.Close()

			var errs []error
			for _, id := range args {
				if err := store.DeleteSession(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("deleting %s: %w", id, err))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return errors.Join(errs...)
		},
	})

	return cmd
}
