package toolcall

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target identifies a tool on a server.
type Target struct {
	Server string
	Tool   string
}

func (t Target) String() string {
	return t.Server + "/" + t.Tool
}

// ParseTarget parses "server/tool".
func ParseTarget(s string) (Target, error) {
	server, tool, ok := strings.Cut(s, "/")
	if !ok || server == "" || tool == "" {
		return Target{}, fmt.Errorf("invalid tool target %q, expected server/tool", s)
	}
	return Target{Server: server, Tool: tool}, nil
}

// FailureKind classifies why a call did not produce a value.
type FailureKind string

const (
	// FailureTimeout means no matching result arrived before the deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureExecution means the responder reported that the tool failed.
	FailureExecution FailureKind = "execution"
	// FailureTransport means the request could not be sent or the reply
	// topic could not be subscribed.
	FailureTransport FailureKind = "transport"
	// FailureProtocol means the reply could not be interpreted.
	FailureProtocol FailureKind = "protocol"
	// FailureCancelled means the caller's context ended first.
	FailureCancelled FailureKind = "cancelled"
)

// Failure describes an unsuccessful call.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("tool call %s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsTimeout reports whether err is a timeout Failure.
func IsTimeout(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureTimeout
}

// IsExecution reports whether err is an execution Failure.
func IsExecution(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureExecution
}

// Outcome is the result of one Invoke. Exactly one of Value and Failure is
// meaningful.
type Outcome struct {
	RequestID string
	Target    Target
	Value     json.RawMessage
	Failure   *Failure
	Duration  time.Duration
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Err returns the Failure as an error, or nil.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Decode unmarshals the value into v.
func (o Outcome) Decode(v any) error {
	if o.Failure != nil {
		return o.Failure
	}
	if len(o.Value) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(o.Value, v)
}

// Text renders the outcome for humans and language models: a JSON string
// value is unquoted, other values are returned as JSON, failures as
// "error: <reason>".
func (o Outcome) Text() string {
	if o.Failure != nil {
		return "error: " + o.Failure.Reason
	}
	var s string
	if err := json.Unmarshal(o.Value, &s); err == nil {
		return s
	}
	return string(o.Value)
}
