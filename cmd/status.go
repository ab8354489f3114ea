package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"switchboard/internal/messages"
)

// UnhealthyError is returned by the status command when the system reports
// itself unhealthy.
type UnhealthyError struct {
	Unhealthy []string
}

func (e *UnhealthyError) Error() string {
	return fmt.Sprintf("system is unhealthy (unhealthy services: %v)", e.Unhealthy)
}

var (
	statusTimeout time.Duration
	statusJSON    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of the running services",
	Long: `Requests a health report from the running switchboard and prints it.

The command exits with code 3 when the system is unhealthy, so it can be
used in scripts and container health checks.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	waitCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	var report messages.HealthReport
	if s.embedded != nil {
		report = s.embedded.Orchestrator.CheckHealth(waitCtx)
	} else {
		report, err = await(waitCtx, s.Bus, messages.SystemHealth, func() error {
			return messages.HealthQueries.Publish(waitCtx, s.Bus, messages.HealthRequest{})
		})
		if err != nil {
			return err
		}
	}

	if statusJSON {
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		renderHealth(cmd.OutOrStdout(), report)
	}
	return healthError(report)
}

func healthError(report messages.HealthReport) error {
	if report.Healthy {
		return nil
	}
	var unhealthy []string
	for _, svc := range report.Services {
		if !svc.Healthy {
			unhealthy = append(unhealthy, svc.Name)
		}
	}
	return &UnhealthyError{Unhealthy: unhealthy}
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "How long to wait for the health report")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the report as JSON")
}
