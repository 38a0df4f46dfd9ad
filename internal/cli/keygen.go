package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherproc/tether/internal/transport"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	CertFile string
	KeyFile  string
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair for secure transport",
		Long: `Generate a self-signed key pair and write it as PEM files. Every
process of one deployment loads the same pair: it serves as both the
server credential and the client trust root, so only holders of the
files can connect.

Example:
  tether keygen --cert ./cert.pem --key ./key.pem`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := transport.WriteKeyPair(opts.CertFile, opts.KeyFile); err != nil {
				return WrapExitError(ExitCommandError, "failed to write key pair", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", opts.CertFile, opts.KeyFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.CertFile, "cert", "cert.pem", "certificate output path")
	cmd.Flags().StringVar(&opts.KeyFile, "key", "key.pem", "private key output path")

	return cmd
}
