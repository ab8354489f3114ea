package messages

import (
	"errors"
	"fmt"
	"time"
)

// Notification priorities.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Notification types.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
	NotificationAlert   = "alert"
)

// MaxNotificationLength bounds the message of a Notification.
const MaxNotificationLength = 5000

// Notification asks the notification service to deliver Message through
// Channels. Empty Type, Priority and Channels take the defaults applied by
// WithDefaults.
type Notification struct {
	Message   string         `json:"message"`
	Type      string         `json:"type,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	Channels  []string       `json:"channels,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

func (n Notification) Validate() error {
	switch {
	case n.Message == "":
		return errors.New("message is required")
	case len(n.Message) > MaxNotificationLength:
		return fmt.Errorf("message longer than %d bytes", MaxNotificationLength)
	case len(n.Subject) > 200:
		return errors.New("subject longer than 200 bytes")
	}
	if err := validatePriority(n.Priority); err != nil {
		return err
	}
	switch n.Type {
	case "", NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError, NotificationAlert:
	default:
		return fmt.Errorf("unknown notification type %q", n.Type)
	}
	for i, ch := range n.Channels {
		if ch == "" {
			return fmt.Errorf("channel %d is empty", i)
		}
	}
	return nil
}

// WithDefaults fills in the type, priority and channel defaults.
func (n Notification) WithDefaults(channel string) Notification {
	if n.Type == "" {
		n.Type = NotificationInfo
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if len(n.Channels) == 0 {
		n.Channels = []string{channel}
	}
	return n
}

// Expired reports whether the notification is past its expiry at now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// Alert reports a system condition that needs attention.
type Alert struct {
	Message   string         `json:"message"`
	Priority  string         `json:"priority,omitempty"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

func (a Alert) Validate() error {
	switch {
	case a.Message == "":
		return errors.New("message is required")
	case a.Source == "":
		return errors.New("source is required")
	}
	return validatePriority(a.Priority)
}

// NotificationResult reports the delivery of one Notification.
type NotificationResult struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	Type           string          `json:"type"`
	Channels       []string        `json:"channels"`
	ChannelResults map[string]bool `json:"channel_results"`
	Error          string          `json:"error,omitempty"`
	DurationMS     float64         `json:"duration_ms"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (r NotificationResult) Validate() error {
	if r.Message == "" {
		return errors.New("message is required")
	}
	if r.DurationMS < 0 {
		return errors.New("duration_ms must not be negative")
	}
	return nil
}

func validatePriority(p string) error {
	switch p {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("unknown priority %q", p)
	}
}

// Notification topics.
var (
	NotificationRequests = NewTopic[Notification]("notification.send")
	SystemAlerts         = NewTopic[Alert]("system.alert")
	NotificationsSent    = NewTopic[NotificationResult]("notification.sent")
	NotificationsFailed  = NewTopic[NotificationResult]("notification.failed")
)
