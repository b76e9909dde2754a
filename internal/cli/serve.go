package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ast111/gpu-monitor/internal/config"
	"github.com/Ast111/gpu-monitor/internal/fleet"
	"github.com/Ast111/gpu-monitor/internal/logger"
	"github.com/Ast111/gpu-monitor/internal/server"
	"github.com/Ast111/gpu-monitor/internal/sshcmd"
	"github.com/Ast111/gpu-monitor/internal/sshconf"
	"github.com/Ast111/gpu-monitor/internal/transfer"
)

var (
	servePortFlag   int
	serveWebDirFlag string
	serveConfigFlag string
)

// serveCmd starts the HTTP monitoring server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitoring server",
	Long: `Start the HTTP server that polls the fleet and serves the dashboard.

Configuration comes from the environment (SSH_CONFIG_PATH, PORT, WEB_DIR,
SSH_CONTROL_PATH, SSH_CONNECT_TIMEOUT, SSH_FILE_TIMEOUT); flags override it.

Examples:
  gpu-monitor serve
  gpu-monitor serve --port 9000 --web-dir ./web
  gpu-monitor serve --ssh-config /etc/fleet/ssh_config`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePortFlag, "port", 0, "HTTP listen port")
	serveCmd.Flags().StringVar(&serveWebDirFlag, "web-dir", "", "directory of static dashboard assets")
	serveCmd.Flags().StringVar(&serveConfigFlag, "ssh-config", "", "SSH config file listing the fleet")

	rootCmd.AddCommand(serveCmd)
}

func serveCommand() error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	if servePortFlag != 0 {
		settings.Port = servePortFlag
	}
	if serveWebDirFlag != "" {
		settings.WebDir = serveWebDirFlag
	}
	if serveConfigFlag != "" {
		settings.SSHConfigPath = serveConfigFlag
	}

	log := logger.NewEnvLogger("gpu-monitor")
	resolver := sshconf.NewResolver(settings.SSHConfigPath)
	users, err := resolver.Users()
	if err != nil {
		return err
	}

	builder := sshcmd.NewBuilder(settings, users)
	runner := sshcmd.NewExecRunner()
	fetcher := fleet.NewFetcher(builder, runner, log)
	engine := transfer.NewEngine(builder, runner, settings.FileTimeout, log)

	srv := server.New(fetcher, engine, resolver, settings.SSHConfigPath, settings.WebDir, log)

	addr := fmt.Sprintf(":%d", settings.Port)
	fmt.Printf("GPU Monitor running on http://localhost:%d\n", settings.Port)
	fmt.Printf("Using SSH config: %s\n", settings.SSHConfigPath)
	return srv.ListenAndServe(addr)
}
