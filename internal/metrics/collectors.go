package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/internal/services/gateway"
	"switchboard/internal/services/notification"
	"switchboard/internal/services/reasoning"
	"switchboard/internal/toolcall"
)

const namespace = "switchboard"

// replyTopicLabel replaces per-request reply topics in labels.
const replyTopicLabel = messages.ReplyPrefix + "*"

// Collectors holds every switchboard metric and the registry they are
// registered with.
type Collectors struct {
	registry *prometheus.Registry

	published *prometheus.CounterVec
	delivered *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	turns          *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	turnIterations prometheus.Histogram
	turnToolCalls  prometheus.Histogram

	notifications        *prometheus.CounterVec
	notificationDuration *prometheus.HistogramVec

	systemHealthy  prometheus.Gauge
	serviceHealthy *prometheus.GaugeVec
	serviceErrors  *prometheus.GaugeVec
}

var (
	_ broker.Observer        = (*Collectors)(nil)
	_ toolcall.Observer      = (*Collectors)(nil)
	_ gateway.CallObserver   = (*Collectors)(nil)
	_ reasoning.TurnObserver = (*Collectors)(nil)
	_ notification.Observer  = (*Collectors)(nil)
)

// NewCollectors creates the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_published_total",
			Help:      "Messages published on the bus.",
		}, []string{"topic", "result"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_delivered_total",
			Help:      "Messages handed to subscription handlers.",
		}, []string{"topic", "result"}),

		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls made through the request/reply protocol, by outcome.",
		}, []string{"server", "tool", "outcome"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Round-trip time of tool calls as seen by the caller.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),

		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "executions_total",
			Help:      "Tool executions performed by the gateway.",
		}, []string{"server", "result"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "execution_duration_seconds",
			Help:      "Time spent executing tools on MCP servers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),

		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "turns_total",
			Help:      "Conversation turns handled.",
		}, []string{"result"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "turn_duration_seconds",
			Help:      "Time from transcript to response.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		turnIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "turn_iterations",
			Help:      "Engine rounds per turn.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		turnToolCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "turn_tool_calls",
			Help:      "Tool calls per turn.",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notification deliveries per channel.",
		}, []string{"channel", "result"}),
		notificationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent delivering a notification on a channel.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),

		systemHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_healthy",
			Help:      "1 when the last health report was healthy.",
		}),
		serviceHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "healthy",
			Help:      "1 when the service was healthy in the last health report.",
		}, []string{"service"}),
		serviceErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "errors",
			Help:      "Error count of the service in the last health report.",
		}, []string{"service"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.published, c.delivered,
		c.toolCalls, c.toolCallDuration,
		c.executions, c.executionDuration,
		c.turns, c.turnDuration, c.turnIterations, c.turnToolCalls,
		c.notifications, c.notificationDuration,
		c.systemHealthy, c.serviceHealthy, c.serviceErrors,
	)
	return c
}

// Registry returns the registry holding every collector.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// MessagePublished implements broker.Observer.
func (c *Collectors) MessagePublished(topic string, err error) {
	c.published.WithLabelValues(topicLabel(topic), result(err != nil)).Inc()
}

// MessageDelivered implements broker.Observer.
func (c *Collectors) MessageDelivered(topic string, err error) {
	c.delivered.WithLabelValues(topicLabel(topic), result(err != nil)).Inc()
}

// CallCompleted implements toolcall.Observer.
func (c *Collectors) CallCompleted(target toolcall.Target, outcome toolcall.Outcome) {
	kind := "success"
	if outcome.Failure != nil {
		kind = string(outcome.Failure.Kind)
	}
	c.toolCalls.WithLabelValues(target.Server, target.Tool, kind).Inc()
	c.toolCallDuration.WithLabelValues(target.Server).Observe(outcome.Duration.Seconds())
}

// ToolExecuted implements gateway.CallObserver.
func (c *Collectors) ToolExecuted(server, _ string, d time.Duration, failed bool) {
	c.executions.WithLabelValues(server, result(failed)).Inc()
	c.executionDuration.WithLabelValues(server).Observe(d.Seconds())
}

// TurnCompleted implements reasoning.TurnObserver.
func (c *Collectors) TurnCompleted(d time.Duration, iterations, toolCalls int, truncated, failed bool) {
	label := "answered"
	switch {
	case failed:
		label = "failed"
	case truncated:
		label = "truncated"
	}
	c.turns.WithLabelValues(label).Inc()
	c.turnDuration.Observe(d.Seconds())
	c.turnIterations.Observe(float64(iterations))
	c.turnToolCalls.Observe(float64(toolCalls))
}

// NotificationSent implements notification.Observer.
func (c *Collectors) NotificationSent(channel string, ok bool, d time.Duration) {
	c.notifications.WithLabelValues(channel, result(!ok)).Inc()
	c.notificationDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// HealthReported mirrors a health report into the health gauges.
func (c *Collectors) HealthReported(report messages.HealthReport) {
	c.systemHealthy.Set(boolValue(report.Healthy))
	c.serviceHealthy.Reset()
	c.serviceErrors.Reset()
	for _, svc := range report.Services {
		c.serviceHealthy.WithLabelValues(svc.Name).Set(boolValue(svc.Healthy))
		c.serviceErrors.WithLabelValues(svc.Name).Set(float64(svc.ErrorCount))
	}
}

func topicLabel(topic string) string {
	if messages.IsReplyTopic(topic) {
		return replyTopicLabel
	}
	return topic
}

func result(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
