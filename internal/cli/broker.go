package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tetherproc/tether/internal/config"
	"github.com/tetherproc/tether/internal/event"
	"github.com/tetherproc/tether/internal/transport"
)

// NewBrokerCommand creates the broker command.
func NewBrokerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the event broker",
		Long: `Run the standalone event broker. Posters dial the ingress endpoint
and waiters dial the egress endpoint; the broker forwards every posted
event to all subscribers.

Example:
  tether broker --config ./tether.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(rootOpts, cmd)
		},
	}
	return cmd
}

func runBroker(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	tctx, err := newTransportContext(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transport", err)
	}
	defer tctx.Close()

	broker, err := event.NewBroker(tctx, cfg.Broker.Ingress, cfg.Broker.Egress)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start broker", err)
	}
	defer broker.Close()

	slog.Info("broker running",
		"ingress", broker.IngressAddr(),
		"egress", broker.EgressAddr(),
		"secure", tctx.Secure(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "ingress: %s\negress: %s\n",
		broker.IngressAddr(), broker.EgressAddr())

	waitForSignal(cmd)
	slog.Info("broker stopped")
	return nil
}

// newTransportContext builds a plain or TLS transport context per the
// configuration.
func newTransportContext(cfg *config.Config) (*transport.Context, error) {
	if cfg.TLS.CertFile != "" {
		return transport.NewSecureFromFiles(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	return transport.New(), nil
}

// waitForSignal blocks until SIGINT/SIGTERM or the command context ends.
func waitForSignal(cmd *cobra.Command) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}
}
