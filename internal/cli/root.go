// Package cli implements the tether command line: the standalone event
// broker and heartbeat servers, and key pair generation for secure
// transport.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetherproc/tether/internal/config"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	ConfigPath string
}

// NewRootCommand creates the root command for the tether CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tether",
		Short: "Process supervision and IPC runtime",
		Long: `Tether supervises worker processes and gives them typed channels,
output redirection, heartbeat liveness checking and named cross-process
events. This command runs the standalone pieces of that runtime.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	cmd.AddCommand(NewBrokerCommand(opts))
	cmd.AddCommand(NewHeartbeatCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))

	return cmd
}

// loadConfig resolves the effective configuration: the file named by
// --config, or the defaults when the flag is unset.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(opts.ConfigPath)
}
