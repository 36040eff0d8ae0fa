package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/projectdesk/projectdesk/internal/port"
)

func newPortCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "port",
		Short: "Print the port the backend would be started on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			scanner := port.NewScanner(workerHost, cfg.Worker.PortStart, cfg.Worker.PortEnd)
			p, err := scanner.FindAvailablePort(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
}
