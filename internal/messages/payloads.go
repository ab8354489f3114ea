package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Transcript is published by the speech-to-text collaborator.
type Transcript struct {
	Text       string  `json:"text"`
	Location   string  `json:"location,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	IsFinal    *bool   `json:"is_final,omitempty"`
}

func (t Transcript) Validate() error {
	if t.Text == "" {
		return errors.New("text is required")
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", t.Confidence)
	}
	return nil
}

// Final reports whether the transcript is final. Missing means final.
func (t Transcript) Final() bool {
	return t.IsFinal == nil || *t.IsFinal
}

// Thinking signals that the reasoning service started or finished a turn.
type Thinking struct {
	Status   string `json:"status"`
	Input    string `json:"input,omitempty"`
	Location string `json:"location,omitempty"`
}

const (
	ThinkingProcessing = "processing"
	ThinkingIdle       = "idle"
)

func (t Thinking) Validate() error {
	switch t.Status {
	case ThinkingProcessing, ThinkingIdle:
		return nil
	default:
		return fmt.Errorf("unknown thinking status %q", t.Status)
	}
}

// ToolCallSummary records one tool invocation made during a turn.
type ToolCallSummary struct {
	Server  string `json:"server"`
	Tool    string `json:"tool"`
	Failure string `json:"failure,omitempty"`
}

// Response is the final answer of a reasoning turn.
type Response struct {
	Text           string            `json:"text"`
	Location       string            `json:"location,omitempty"`
	GenerationTime float64           `json:"generation_time,omitempty"`
	Iterations     int               `json:"iterations,omitempty"`
	ToolCalls      []ToolCallSummary `json:"tool_calls,omitempty"`
	Truncated      bool              `json:"truncated,omitempty"`
	Error          bool              `json:"error,omitempty"`
}

func (r Response) Validate() error {
	if r.Text == "" && !r.Error {
		return errors.New("text is required")
	}
	if r.Iterations < 0 {
		return errors.New("iterations must not be negative")
	}
	return nil
}

// ToolRequest asks a responder to execute Tool on TargetServer.
type ToolRequest struct {
	RequestID    string         `json:"request_id"`
	TargetServer string         `json:"target_server"`
	Tool         string         `json:"tool"`
	Arguments    map[string]any `json:"arguments"`
	ReplyTopic   string         `json:"reply_topic"`
}

func (r ToolRequest) Validate() error {
	switch {
	case r.RequestID == "":
		return errors.New("request_id is required")
	case r.TargetServer == "":
		return errors.New("target_server is required")
	case r.Tool == "":
		return errors.New("tool is required")
	case r.ReplyTopic != ReplyTopic(r.RequestID).Name():
		return fmt.Errorf("reply_topic %q does not match request_id %q", r.ReplyTopic, r.RequestID)
	}
	return nil
}

// ToolResult is the single reply to a ToolRequest. Exactly one of Result and
// Error carries the outcome; a null Result with no Error is a successful call
// without output.
type ToolResult struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
	Error     *string         `json:"error"`
}

// NewToolSuccess builds a successful result.
func NewToolSuccess(requestID string, value any) (ToolResult, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return ToolResult{RequestID: requestID, Result: raw}, nil
}

// NewToolFailure builds a failed result.
func NewToolFailure(requestID, reason string) ToolResult {
	return ToolResult{RequestID: requestID, Error: &reason}
}

// Failed reports whether the result carries an error.
func (r ToolResult) Failed() bool {
	return r.Error != nil
}

func (r ToolResult) Validate() error {
	if r.RequestID == "" {
		return errors.New("request_id is required")
	}
	if r.Error != nil && len(r.Result) > 0 && !bytes.Equal(r.Result, []byte("null")) {
		return errors.New("result and error are mutually exclusive")
	}
	return nil
}

// ToolDescriptor describes one tool offered by a server.
type ToolDescriptor struct {
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Registry lists every tool currently reachable through the gateway.
type Registry struct {
	Servers []string         `json:"servers"`
	Tools   []ToolDescriptor `json:"tools"`
}

func (r Registry) Validate() error {
	for i, t := range r.Tools {
		if t.Server == "" || t.Name == "" {
			return fmt.Errorf("tool %d: server and name are required", i)
		}
	}
	return nil
}

// RegistryRequest asks the gateway to republish its registry.
type RegistryRequest struct{}

func (RegistryRequest) Validate() error { return nil }

// Status is the lifecycle telemetry of one service.
type Status struct {
	Service       string         `json:"service"`
	Status        string         `json:"status"`
	Healthy       bool           `json:"healthy"`
	Running       bool           `json:"running"`
	ErrorCount    int            `json:"error_count"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Timestamp     time.Time      `json:"timestamp"`
	Details       map[string]any `json:"details,omitempty"`
}

func (s Status) Validate() error {
	if s.Service == "" {
		return errors.New("service is required")
	}
	if s.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// Metrics carries service-specific measurements.
type Metrics struct {
	Service   string         `json:"service"`
	Values    map[string]any `json:"values"`
	Timestamp time.Time      `json:"timestamp"`
}

func (m Metrics) Validate() error {
	if m.Service == "" {
		return errors.New("service is required")
	}
	return nil
}

// ServiceHealth is one row of a HealthReport.
type ServiceHealth struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Required   bool   `json:"required"`
	Healthy    bool   `json:"healthy"`
	Running    bool   `json:"running"`
	ErrorCount int    `json:"error_count"`
	Error      string `json:"error,omitempty"`
}

// HealthReport aggregates the health of every registered service.
type HealthReport struct {
	Healthy   bool            `json:"healthy"`
	Services  []ServiceHealth `json:"services"`
	Timestamp time.Time       `json:"timestamp"`
}

func (h HealthReport) Validate() error {
	for i, s := range h.Services {
		if s.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
	}
	return nil
}

// HealthRequest asks the orchestrator for an immediate HealthReport.
type HealthRequest struct{}

func (HealthRequest) Validate() error { return nil }
