package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"switchboard/pkg/logging"
)

// OllamaConfig configures an OllamaEngine.
type OllamaConfig struct {
	// BaseURL of the Ollama API (default: http://localhost:11434).
	BaseURL string
	// Model name (default: llama3.1).
	Model       string
	Temperature float64
	// Timeout for a single API request (default: 60s).
	Timeout time.Duration
}

// OllamaEngine implements Engine with Ollama's /api/chat endpoint.
type OllamaEngine struct {
	client      *http.Client
	baseURL     string
	model       string
	temperature float64
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   ollamaMessage `json:"message"`
	EvalCount int           `json:"eval_count"`
	Error     string        `json:"error,omitempty"`
}

// NewOllamaEngine creates an engine for cfg.
func NewOllamaEngine(cfg OllamaConfig) *OllamaEngine {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OllamaEngine{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
	}
}

// Model returns the model name being used.
func (e *OllamaEngine) Model() string {
	return e.model
}

// Chat runs one non-streaming chat round.
func (e *OllamaEngine) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := ollamaChatRequest{
		Model:   e.model,
		Stream:  false,
		Options: map[string]any{"temperature": e.temperature},
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toOllamaMessage(m))
	}
	for _, spec := range req.Tools {
		var t ollamaTool
		t.Type = "function"
		t.Function.Name = spec.Name
		t.Function.Description = spec.Description
		t.Function.Parameters = spec.Parameters
		body.Tools = append(body.Tools, t)
	}

	var resp ollamaChatResponse
	if err := e.do(ctx, http.MethodPost, "/api/chat", body, &resp); err != nil {
		return ChatResponse{}, err
	}
	if resp.Error != "" {
		return ChatResponse{}, fmt.Errorf("Ollama error: %s", resp.Error)
	}

	logging.Debug("Ollama", "Chat round done (%d messages, %d tools, %d tokens)", len(body.Messages), len(body.Tools), resp.EvalCount)
	return ChatResponse{Message: fromOllamaMessage(resp.Message), EvalCount: resp.EvalCount}, nil
}

// Ping checks that the API answers and the model is installed.
func (e *OllamaEngine) Ping(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := e.do(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return err
	}
	for _, m := range tags.Models {
		if m.Name == e.model || strings.TrimSuffix(m.Name, ":latest") == e.model {
			return nil
		}
	}
	logging.Warn("Ollama", "Model %s is not installed at %s", e.model, e.baseURL)
	return nil
}

func (e *OllamaEngine) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("Ollama API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func toOllamaMessage(m Message) ollamaMessage {
	out := ollamaMessage{Role: string(m.Role), Content: m.Content, ToolName: m.ToolName}
	for _, call := range m.ToolCalls {
		var tc ollamaToolCall
		tc.Function.Name = call.Function
		tc.Function.Arguments = call.Arguments
		out.ToolCalls = append(out.ToolCalls, tc)
	}
	return out
}

func fromOllamaMessage(m ollamaMessage) Message {
	out := Message{Role: Role(m.Role), Content: m.Content, ToolName: m.ToolName}
	if out.Role == "" {
		out.Role = RoleAssistant
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{Function: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out
}
