package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tetherproc/tether/internal/heartbeat"
)

// NewHeartbeatCommand creates the heartbeat command.
func NewHeartbeatCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Run a standalone heartbeat server",
		Long: `Run a standalone heartbeat echo server. Workers configured with this
server's address ping it on their interval and self-terminate when the
echo stops coming back.

Example:
  tether heartbeat --config ./tether.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeartbeat(rootOpts, cmd)
		},
	}
	return cmd
}

func runHeartbeat(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	tctx, err := newTransportContext(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transport", err)
	}
	defer tctx.Close()

	server, err := heartbeat.NewServer(tctx, cfg.Heartbeat.Addr)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start heartbeat server", err)
	}
	defer server.Close()

	slog.Info("heartbeat server running", "addr", server.Addr(), "secure", tctx.Secure())
	fmt.Fprintf(cmd.OutOrStdout(), "addr: %s\n", server.Addr())

	waitForSignal(cmd)
	slog.Info("heartbeat server stopped")
	return nil
}
