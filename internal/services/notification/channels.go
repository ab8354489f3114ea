package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jedib0t/go-pretty/v6/text"

	"switchboard/internal/messages"
	"switchboard/pkg/logging"
)

// Channel delivers notifications to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n messages.Notification) error
}

// ConsoleChannel writes notifications as single colored lines.
type ConsoleChannel struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleChannel writes to out.
func NewConsoleChannel(out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{out: out}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(_ context.Context, n messages.Notification) error {
	var b strings.Builder
	b.WriteString(n.Timestamp.Format(time.TimeOnly))
	b.WriteString(" ")
	b.WriteString(priorityColors(n.Priority).Sprintf("[%s]", strings.ToUpper(n.Type)))
	if n.Subject != "" {
		b.WriteString(" ")
		b.WriteString(text.Bold.Sprint(n.Subject))
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(n.Message)
	if n.Recipient != "" {
		fmt.Fprintf(&b, " (to %s)", n.Recipient)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, b.String())
	return err
}

func priorityColors(priority string) text.Colors {
	switch priority {
	case messages.PriorityCritical:
		return text.Colors{text.Bold, text.FgHiRed}
	case messages.PriorityHigh:
		return text.Colors{text.FgRed}
	case messages.PriorityLow:
		return text.Colors{text.Faint}
	default:
		return text.Colors{text.FgCyan}
	}
}

// WebhookConfig configures a WebhookChannel.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// Retries is the number of attempts after the first one.
	Retries    int
	RetryDelay time.Duration
}

// WebhookChannel posts notifications as JSON to an HTTP endpoint.
type WebhookChannel struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook channel posting to cfg.URL.
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &WebhookChannel{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (w *WebhookChannel) Name() string { return "webhook" }

// Send posts n. Transport errors and 5xx answers are retried; any other
// non-2xx answer fails at once.
func (w *WebhookChannel) Send(ctx context.Context, n messages.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.RetryDelay
	policy.MaxInterval = w.cfg.RetryDelay * 8

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.post(ctx, body)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(w.cfg.Retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Debug("Notification", "Retrying webhook in %s: %v", next, err)
		}),
	)
	return err
}

func (w *WebhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook answered %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("webhook answered %s", resp.Status))
	}
}
