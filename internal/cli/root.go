// Package cli wires the cobra command tree for the gpu-monitor binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command; running it with no subcommand starts the
// monitoring server.
var rootCmd = &cobra.Command{
	Use:   "gpu-monitor",
	Short: "GPU fleet monitor over SSH",
	Long: `Monitor GPU utilization across a fleet of hosts over plain SSH.

The server polls every host listed in your SSH config with nvidia-smi,
serves the results as JSON, and can move files to and from the fleet.
No agents are installed on the monitored machines: anything reachable
with "ssh <host>" can be monitored.

Examples:
  gpu-monitor
  gpu-monitor serve --port 9000
  SSH_CONFIG_PATH=/etc/fleet/ssh_config gpu-monitor serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand()
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
