package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"switchboard/internal/app"
)

// serveCmd runs every switchboard service in this process.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the switchboard services",
	Long: `Starts the broker connection, the tool gateway, the reasoning service and,
when enabled, the Prometheus metrics endpoint. Runs until interrupted.

Configuration:
  switchboard reads config.yaml from the configuration directory
  ($HOME/.config/switchboard unless --config-path is given). Environment
  variables such as SWITCHBOARD_REDIS_ADDR and SWITCHBOARD_OLLAMA_HOST
  override the file.

  MCP tool servers are listed under tools.servers or in the file named by
  tools.serversFile, which is watched and reloaded on change.

When started by systemd with Type=notify, readiness and shutdown are
reported through sd_notify.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(debug, configPath, GetVersion())

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
