package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"switchboard/internal/broker"
	"switchboard/internal/config"
)

func TestSetVersion(t *testing.T) {
	// Test setting version
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	// Test root command properties
	if rootCmd.Use != "switchboard" {
		t.Errorf("Expected Use to be 'switchboard', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestVersionTemplate(t *testing.T) {
	// Create a new command to test version template
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}

	// Set the same version template as in Execute()
	testCmd.SetVersionTemplate(`{{printf "switchboard version %s\n" .Version}}`)

	// Capture output
	var buf bytes.Buffer
	testCmd.SetOut(&buf)

	// Execute version command
	testCmd.SetArgs([]string{"--version"})
	err := testCmd.Execute()
	if err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	output := buf.String()
	expected := "switchboard version 1.0.0\n"
	if output != expected {
		t.Errorf("Expected version output %q, got %q", expected, output)
	}
}

func TestSubcommands(t *testing.T) {
	// Test that subcommands are added
	commands := rootCmd.Commands()

	expectedCommands := []string{"version", "serve", "chat", "call", "tools", "status"}
	foundCommands := make(map[string]bool)

	for _, cmd := range commands {
		foundCommands[cmd.Name()] = true
	}

	for _, expected := range expectedCommands {
		if !foundCommands[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestRootCommandHelp(t *testing.T) {
	var buf bytes.Buffer

	testRootCmd := &cobra.Command{
		Use:          rootCmd.Use,
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}

	testRootCmd.SetOut(&buf)
	testRootCmd.SetArgs([]string{"--help"})

	err := testRootCmd.Execute()
	if err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "switchboard") {
		t.Errorf("Help output should contain 'switchboard'. Got: %q", output)
	}

	if !strings.Contains(output, "publish/subscribe message bus") {
		t.Errorf("Help output should contain the long description. Got: %q", output)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), ExitCodeError},
		{"broker unreachable", &broker.ConnectionError{Target: "redis://localhost:6379", Err: errors.New("refused")}, ExitCodeUnavailable},
		{"wrapped broker error", fmt.Errorf("joining bus: %w", &broker.ConnectionError{Target: "memory", Err: errors.New("closed")}), ExitCodeUnavailable},
		{"unhealthy", &UnhealthyError{Unhealthy: []string{"gateway"}}, ExitCodeUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigReport(t *testing.T) {
	if _, ok := configReport(errors.New("boom")); ok {
		t.Error("configReport() reported a plain error")
	}

	errs := config.NewConfigurationErrorCollection()
	errs.AddError("/etc/switchboard/config.yaml", "config.yaml", "file", "broker", "validation", "field 'broker.type': must be one of: redis, memory")
	errs.AddError("/etc/switchboard/config.yaml", "config.yaml", "file", "reasoning", "validation", "field 'reasoning.maxIterations': must be positive")

	report, ok := configReport(fmt.Errorf("failed to load switchboard configuration: %w", errs))
	if !ok {
		t.Fatal("configReport() did not recognise a wrapped error collection")
	}
	for _, want := range []string{"(2 errors)", "Category: broker", "must be one of: redis, memory", "Category: reasoning"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}
