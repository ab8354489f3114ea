package cmd

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"switchboard/internal/messages"
)

func TestRenderRegistry(t *testing.T) {
	var buf bytes.Buffer
	renderRegistry(&buf, messages.Registry{
		Servers: []string{"core", "weather"},
		Tools: []messages.ToolDescriptor{
			{Server: "weather", Name: "forecast", Description: "Forecast for a city"},
			{Server: "core", Name: "echo", Description: "Echo the text back"},
		},
	})

	output := buf.String()
	for _, want := range []string{"SERVER", "forecast", "Echo the text back", "core, weather"} {
		if !strings.Contains(output, want) {
			t.Errorf("registry output should contain %q. Got: %q", want, output)
		}
	}
	if strings.Index(output, "echo") > strings.Index(output, "forecast") {
		t.Errorf("tools should be sorted by server. Got: %q", output)
	}
}

func TestRenderRegistry_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderRegistry(&buf, messages.Registry{})
	if !strings.Contains(buf.String(), "No tools available") {
		t.Errorf("expected empty registry notice, got %q", buf.String())
	}
}

func TestRenderHealth(t *testing.T) {
	report := messages.HealthReport{
		Healthy: false,
		Services: []messages.ServiceHealth{
			{Name: "broker", State: "running", Required: true, Running: true, Healthy: true},
			{Name: "gateway", State: "failed", Healthy: false, ErrorCount: 2, Error: "server weather not connected"},
		},
	}

	var buf bytes.Buffer
	renderHealth(&buf, report)
	output := buf.String()
	for _, want := range []string{"broker", "gateway", "server weather not connected", "System unhealthy"} {
		if !strings.Contains(output, want) {
			t.Errorf("health output should contain %q. Got: %q", want, output)
		}
	}
}

func TestHealthError(t *testing.T) {
	if err := healthError(messages.HealthReport{Healthy: true}); err != nil {
		t.Errorf("healthy report should not be an error, got %v", err)
	}

	err := healthError(messages.HealthReport{
		Healthy: false,
		Services: []messages.ServiceHealth{
			{Name: "broker", Healthy: true},
			{Name: "gateway", Healthy: false},
			{Name: "reasoning", Healthy: false},
		},
	})
	var unhealthy *UnhealthyError
	if !errors.As(err, &unhealthy) {
		t.Fatalf("expected UnhealthyError, got %v", err)
	}
	if !reflect.DeepEqual(unhealthy.Unhealthy, []string{"gateway", "reasoning"}) {
		t.Errorf("unexpected unhealthy services: %v", unhealthy.Unhealthy)
	}
	if getExitCode(err) != ExitCodeUnhealthy {
		t.Errorf("expected exit code %d", ExitCodeUnhealthy)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("line one\nline two", 12); got != "line one ..." {
		t.Errorf("truncate() = %q", got)
	}
}
