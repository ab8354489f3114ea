package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"switchboard/internal/broker"
	"switchboard/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeUnavailable indicates that the broker could not be reached.
	ExitCodeUnavailable = 2
	// ExitCodeUnhealthy indicates that the status command found an unhealthy system.
	ExitCodeUnhealthy = 3
)

var (
	// configPath is the configuration directory shared by all commands.
	configPath string
	// debug enables debug logging.
	debug bool
)

// rootCmd represents the base command for the switchboard application.
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Message-bus assistant core with tool calling",
	Long: `switchboard connects a voice pipeline to a language model and to MCP
tool servers through a publish/subscribe message bus.

'switchboard serve' runs the services. The other commands join the same bus
to talk to them: 'chat' sends transcripts and prints answers, 'call' invokes
a single tool, 'tools' lists the tool registry and 'status' shows service
health.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "switchboard version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		if report, ok := configReport(err); ok {
			fmt.Fprintln(os.Stderr, report)
		}
		os.Exit(getExitCode(err))
	}
}

// configReport expands a configuration validation failure into a report
// listing every problem, since cobra only prints the first one.
func configReport(err error) (string, bool) {
	var errs *config.ConfigurationErrorCollection
	if !errors.As(err, &errs) || !errs.HasErrors() {
		return "", false
	}
	return errs.GetDetailedReport(), true
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var connErr *broker.ConnectionError
	if errors.As(err, &connErr) {
		return ExitCodeUnavailable
	}

	var unhealthy *UnhealthyError
	if errors.As(err, &unhealthy) {
		return ExitCodeUnhealthy
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default is $HOME/.config/switchboard)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
