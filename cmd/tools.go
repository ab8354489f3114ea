package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"switchboard/internal/messages"
)

var (
	toolsTimeout time.Duration
	toolsJSON    bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered by the gateway",
	Long: `Asks the gateway to publish its tool registry and prints it.

The registry contains every tool of every connected MCP server, including
the built-in core server.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	waitCtx, cancel := context.WithTimeout(ctx, toolsTimeout)
	defer cancel()

	reg, err := await(waitCtx, s.Bus, messages.ToolRegistry, func() error {
		return messages.RegistryQueries.Publish(waitCtx, s.Bus, messages.RegistryRequest{})
	})
	if err != nil {
		return err
	}

	if toolsJSON {
		return printJSON(cmd.OutOrStdout(), reg)
	}
	renderRegistry(cmd.OutOrStdout(), reg)
	return nil
}

func init() {
	rootCmd.AddCommand(toolsCmd)

	toolsCmd.Flags().DurationVar(&toolsTimeout, "timeout", 5*time.Second, "How long to wait for the gateway")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print the registry as JSON")
}
