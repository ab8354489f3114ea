package notification

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/internal/services"
	"switchboard/pkg/logging"
)

// ServiceName is the registration name of the notification service.
const ServiceName = "notification"

// metricsEvery is the number of notifications between metrics publishes.
const metricsEvery = 10

// Config configures the notification service.
type Config struct {
	// DefaultChannel is used for requests naming no channel.
	DefaultChannel string
	// Console receives console notifications. Defaults to stderr.
	Console io.Writer
	// Webhook enables the webhook channel when its URL is set.
	Webhook WebhookConfig
}

// Observer is notified of every delivery attempt on a channel.
type Observer interface {
	NotificationSent(channel string, ok bool, d time.Duration)
}

// Option customizes the notification service.
type Option func(*Service)

// WithObserver reports channel deliveries to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithChannel adds or replaces a channel.
func WithChannel(ch Channel) Option {
	return func(s *Service) { s.channels[ch.Name()] = ch }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service delivers notification requests and system alerts through its
// channels and reports each outcome on the bus.
type Service struct {
	*services.BaseService

	cfg      Config
	channels map[string]Channel
	observer Observer
	now      func() time.Time

	mu        sync.Mutex
	sent      int
	failed    int
	expired   int
	totalTime time.Duration
	byChannel map[string]int
	byType    map[string]int
}

// New creates the notification service.
func New(bus services.Bus, cfg Config, opts ...Option) *Service {
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = "console"
	}
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}

	s := &Service{
		cfg:       cfg,
		channels:  make(map[string]Channel),
		now:       time.Now,
		byChannel: make(map[string]int),
		byType:    make(map[string]int),
	}
	s.channels["console"] = NewConsoleChannel(cfg.Console)
	if cfg.Webhook.URL != "" {
		s.channels["webhook"] = NewWebhookChannel(cfg.Webhook)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.BaseService = services.NewBaseService(ServiceName, bus, s)
	return s
}

// Setup checks that the default channel exists.
func (s *Service) Setup(context.Context) error {
	if _, ok := s.channels[s.cfg.DefaultChannel]; !ok {
		return fmt.Errorf("default channel %s is not configured", s.cfg.DefaultChannel)
	}
	return nil
}

// Routes handles notification requests and system alerts.
func (s *Service) Routes() []messages.Route {
	return []messages.Route{
		messages.Handle(messages.NotificationRequests, s.handleRequest),
		messages.Handle(messages.SystemAlerts, s.handleAlert),
	}
}

// OnStop publishes the final counters.
func (s *Service) OnStop(ctx context.Context) error {
	s.publishMetrics(ctx)
	return nil
}

// Channels returns the names of the available channels.
func (s *Service) Channels() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusDetails reports the channels and counters.
func (s *Service) StatusDetails() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"channels": s.Channels(),
		"sent":     s.sent,
		"failed":   s.failed,
		"expired":  s.expired,
	}
}

func (s *Service) handleRequest(ctx context.Context, _ broker.Envelope, n messages.Notification) error {
	s.Notify(ctx, n)
	return nil
}

// Alerts go to the console, and to the webhook when one is configured.
func (s *Service) handleAlert(ctx context.Context, _ broker.Envelope, a messages.Alert) error {
	priority := a.Priority
	if priority == "" {
		priority = messages.PriorityHigh
	}
	channels := []string{"console"}
	if _, ok := s.channels["webhook"]; ok {
		channels = append(channels, "webhook")
	}

	metadata := map[string]any{"source": a.Source}
	if len(a.Details) > 0 {
		metadata["details"] = a.Details
	}

	logging.Warn("Notification", "System alert from %s: %s", a.Source, a.Message)
	s.Notify(ctx, messages.Notification{
		Message:   fmt.Sprintf("[%s] %s", strings.ToUpper(a.Source), a.Message),
		Type:      messages.NotificationAlert,
		Priority:  priority,
		Channels:  channels,
		Subject:   "System Alert: " + a.Source,
		Metadata:  metadata,
		Timestamp: a.Timestamp,
	})
	return nil
}

// Notify delivers n on each of its channels in turn. Delivery succeeds when
// at least one channel accepted it. The outcome is published on
// notification.sent or notification.failed and returned. An expired
// notification is dropped without either and yields a zero result.
func (s *Service) Notify(ctx context.Context, n messages.Notification) messages.NotificationResult {
	n = n.WithDefaults(s.cfg.DefaultChannel)
	now := s.now()
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	if n.Expired(now) {
		logging.Debug("Notification", "Dropping expired notification: %s", n.Message)
		s.mu.Lock()
		s.expired++
		s.mu.Unlock()
		return messages.NotificationResult{}
	}

	start := s.now()
	results := make(map[string]bool, len(n.Channels))
	var errs []string
	for _, name := range n.Channels {
		err := s.send(ctx, name, n)
		results[name] = err == nil
		if err != nil {
			logging.Warn("Notification", "Delivery via %s failed: %v", name, err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	elapsed := s.now().Sub(start)

	result := messages.NotificationResult{
		Message:        n.Message,
		Type:           n.Type,
		Channels:       n.Channels,
		ChannelResults: results,
		Error:          strings.Join(errs, "; "),
		DurationMS:     float64(elapsed.Microseconds()) / 1000,
		Timestamp:      s.now(),
	}
	for _, ok := range results {
		result.Success = result.Success || ok
	}

	topic := messages.NotificationsSent
	if !result.Success {
		topic = messages.NotificationsFailed
	}
	err := topic.Publish(ctx, s.Bus(), result)
	if err != nil {
		logging.Error("Notification", err, "Failed to publish notification result")
	}
	s.ObservePublish(ctx, err)

	if s.record(result, elapsed) {
		s.publishMetrics(ctx)
	}
	return result
}

func (s *Service) send(ctx context.Context, name string, n messages.Notification) error {
	ch, ok := s.channels[name]
	if !ok {
		return fmt.Errorf("channel %s not available", name)
	}
	start := s.now()
	err := ch.Send(ctx, n)
	if s.observer != nil {
		s.observer.NotificationSent(name, err == nil, s.now().Sub(start))
	}
	return err
}

// record updates the counters and reports whether metrics are due.
func (s *Service) record(r messages.NotificationResult, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Success {
		s.sent++
	} else {
		s.failed++
	}
	s.totalTime += d
	s.byType[r.Type]++
	for name, ok := range r.ChannelResults {
		if ok {
			s.byChannel[name]++
		}
	}
	return (s.sent+s.failed)%metricsEvery == 0
}

func (s *Service) publishMetrics(ctx context.Context) {
	s.mu.Lock()
	total := s.sent + s.failed
	m := map[string]any{
		"total_sent":   s.sent,
		"total_failed": s.failed,
		"expired":      s.expired,
		"by_channel":   copyCounts(s.byChannel),
		"by_type":      copyCounts(s.byType),
	}
	if total > 0 {
		m["success_rate"] = float64(s.sent) / float64(total)
		m["avg_duration_ms"] = float64(s.totalTime.Microseconds()) / 1000 / float64(total)
	}
	s.mu.Unlock()

	s.PublishMetrics(ctx, m)
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
