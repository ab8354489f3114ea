package reasoning

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = `You are {{ .Name }}, a personal assistant.
You are helpful and accurate, and you keep your answers short because they are read aloud.
{{- if .Location }}
The user is currently at the {{ .Location }}.
{{- end }}
The current time is {{ .Now | date "Monday, 02 Jan 2006 15:04 MST" }}.
{{- if .Tools }}

You can call these tools when they help:
{{- range .Tools }}
- {{ .FunctionName }}: {{ .Description | default "no description" | trunc 200 }}
{{- end }}
{{- end }}`

// PromptData is the data available to the system prompt template.
type PromptData struct {
	Name     string
	Location string
	Now      time.Time
	Tools    []Tool
}

// Prompt renders the system prompt.
type Prompt struct {
	tmpl *template.Template
}

// ParsePrompt parses text as a system prompt template. Sprig functions are
// available. An empty text selects DefaultSystemPrompt.
func ParsePrompt(text string) (*Prompt, error) {
	if text == "" {
		text = DefaultSystemPrompt
	}
	tmpl, err := template.New("system").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid system prompt: %w", err)
	}
	return &Prompt{tmpl: tmpl}, nil
}

// Render executes the template with data.
func (p *Prompt) Render(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return buf.String(), nil
}
