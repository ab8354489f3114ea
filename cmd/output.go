package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"switchboard/internal/messages"
)

const maxDescriptionLength = 60

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func header(names ...string) table.Row {
	row := make(table.Row, 0, len(names))
	for _, n := range names {
		row = append(row, text.FgHiCyan.Sprint(n))
	}
	return row
}

// renderRegistry writes the tool registry as a table sorted by server and tool.
func renderRegistry(w io.Writer, reg messages.Registry) {
	if len(reg.Tools) == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No tools available"))
		return
	}

	tools := append([]messages.ToolDescriptor(nil), reg.Tools...)
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Name < tools[j].Name
	})

	t := newTable()
	t.AppendHeader(header("SERVER", "TOOL", "DESCRIPTION"))
	for _, tool := range tools {
		t.AppendRow(table.Row{tool.Server, tool.Name, truncate(tool.Description, maxDescriptionLength)})
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "\n%s %s\n", text.FgHiBlue.Sprint("Servers:"), strings.Join(reg.Servers, ", "))
}

// renderHealth writes a health report as a table followed by a summary line.
func renderHealth(w io.Writer, report messages.HealthReport) {
	t := newTable()
	t.AppendHeader(header("SERVICE", "STATE", "HEALTH", "REQUIRED", "ERRORS", "LAST ERROR"))
	for _, svc := range report.Services {
		required := ""
		if svc.Required {
			required = "yes"
		}
		t.AppendRow(table.Row{
			svc.Name,
			svc.State,
			healthLabel(svc.Healthy),
			required,
			svc.ErrorCount,
			truncate(svc.Error, maxDescriptionLength),
		})
	}
	fmt.Fprintln(w, t.Render())

	if report.Healthy {
		fmt.Fprintf(w, "\n%s\n", text.FgGreen.Sprint("System healthy"))
	} else {
		fmt.Fprintf(w, "\n%s\n", text.FgRed.Sprint("System unhealthy"))
	}
}

func healthLabel(healthy bool) string {
	if healthy {
		return text.FgGreen.Sprint("healthy")
	}
	return text.FgRed.Sprint("unhealthy")
}

// truncate collapses whitespace and cuts s to n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
