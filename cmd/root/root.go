package root

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/sidekick/pkg/cli"
	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/logging"
	"github.com/docker/sidekick/pkg/paths"
)

const AppName = "sidekick"

type rootFlags struct {
	enableOtel  bool
	debugMode   bool
	logFilePath string
	configPath  string
	logFile     io.Closer

	settings *config.Settings
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   AppName,
		Short: "sidekick - a chat assistant with tools",
		Long:  "sidekick talks to a language model and lets it call tools exposed by MCP servers",
		Example: `  sidekick
  sidekick run "summarize the page"
  sidekick servers`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			flags.settings = settings

			if err := flags.setupLogging(cmd.ErrOrStderr()); err != nil {
				// Keep logging to stderr when the log file cannot be opened.
				slog.SetDefault(slog.New(logging.NewTerminalHandler(cmd.ErrOrStderr(), slog.LevelDebug)))
				slog.Warn("Failed to open log file", "error", err)
			}

			if flags.enableOtel {
				if err := initOTelSDK(cmd.Context()); err != nil {
					slog.Warn("Failed to initialize OpenTelemetry SDK", "error", err)
				} else {
					slog.Debug("OpenTelemetry SDK initialized successfully")
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.enableOtel, "otel", "o", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Path to debug log file (default: <data dir>/sidekick.debug.log; only used with --debug)")
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", paths.SettingsFile(), "Path to the settings file")

	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	cmd.AddGroup(&cobra.Group{ID: "manage", Title: "Management Commands:"})

	cmd.AddCommand(newChatCmd(&flags))
	cmd.AddCommand(newRunCmd(&flags))
	cmd.AddCommand(newServersCmd(&flags))
	cmd.AddCommand(newToolsCmd(&flags))
	cmd.AddCommand(newSessionsCmd(&flags))
	cmd.AddCommand(newConfigCmd(&flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(defaultToChat(rootCmd, args))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return processErr(ctx, err, stderr, rootCmd)
	}
	return nil
}

// defaultToChat prepends "chat" when no subcommand is given, so a bare
// "sidekick" (or "sidekick --debug") opens a conversation.
func defaultToChat(rootCmd *cobra.Command, args []string) []string {
	chat := append([]string{"chat"}, args...)

	skipValue := false
	for _, arg := range args {
		switch {
		case skipValue:
			skipValue = false
		case arg == "--":
			return chat
		case arg == "--help" || arg == "-h":
			return args
		case arg == "--config" || arg == "-c" || arg == "--log-file":
			skipValue = true
		case strings.HasPrefix(arg, "-"):
			continue
		case isSubcommand(rootCmd, arg):
			return args
		default:
			return chat
		}
	}
	return chat
}

func isSubcommand(cmd *cobra.Command, name string) bool {
	switch name {
	case "help", "completion", "__complete", "__completeNoDesc":
		return true
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == name || sub.HasAlias(name) {
			return true
		}
	}
	return false
}

func processErr(ctx context.Context, err error, stderr io.Writer, rootCmd *cobra.Command) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var rtErr cli.RuntimeError
	switch {
	case errors.As(err, &rtErr):
		// Already printed while streaming.
	case errors.Is(err, config.ErrInvalidSettings):
		fmt.Fprintln(stderr, err)
		fmt.Fprintf(stderr, "Fix the settings file or run '%s config init' to write the defaults.\n", AppName)
	default:
		fmt.Fprintln(stderr, err)
		if strings.HasPrefix(err.Error(), "unknown command ") || strings.HasPrefix(err.Error(), "accepts ") {
			fmt.Fprintln(stderr)
			_ = rootCmd.Usage()
		}
	}
	return err
}

// setupLogging sends warnings and errors to stderr. With --debug, everything
// goes to a rotating file sized by the logging settings.
func (f *rootFlags) setupLogging(stderr io.Writer) error {
	if !f.debugMode {
		slog.SetDefault(slog.New(logging.NewTerminalHandler(stderr, slog.LevelWarn)))
		return nil
	}

	path := cmp.Or(strings.TrimSpace(f.logFilePath), paths.DebugLog())
	logFile, err := logging.NewRotatingFile(path,
		logging.WithMaxSize(f.settings.LogMaxSize()),
		logging.WithMaxBackups(f.settings.Logging.MaxBackups),
	)
	if err != nil {
		return err
	}
	f.logFile = logFile

	slog.SetDefault(slog.New(logging.NewFileHandler(logFile, slog.LevelDebug)))
	return nil
}
