package orchestrator

import (
	"context"
	"fmt"
	"time"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/internal/services"
	"switchboard/pkg/logging"
)

const healthCheckTimeout = 5 * time.Second

type healthLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
	sub    *broker.Subscription
}

// CheckHealth runs every service's HealthCheck once and aggregates the
// result. A panicking check marks only that service unhealthy.
func (o *Orchestrator) CheckHealth(ctx context.Context) messages.HealthReport {
	report := messages.HealthReport{Healthy: true, Timestamp: time.Now().UTC()}
	skipped := o.Skipped()

	for _, svc := range o.registry.All() {
		d := svc.Descriptor()
		row := messages.ServiceHealth{
			Name:       d.Name,
			State:      string(d.State),
			Required:   o.isRequired(d.Name),
			Running:    d.Running,
			ErrorCount: d.ErrorCount,
		}

		healthy, err := o.checkOne(ctx, svc)
		row.Healthy = healthy
		switch {
		case err != nil:
			row.Error = err.Error()
		case skipped[d.Name] != nil:
			row.Error = skipped[d.Name].Error()
		case d.LastError != nil:
			row.Error = d.LastError.Error()
		}

		// Skipped optional services are reported but do not make the
		// system unhealthy; running or required ones do.
		if !healthy && (d.Running || row.Required) {
			report.Healthy = false
		}
		report.Services = append(report.Services, row)
	}
	return report
}

func (o *Orchestrator) checkOne(ctx context.Context, svc services.Service) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			err = fmt.Errorf("health check panicked: %v", r)
			logging.Error("Orchestrator", err, "Health check for %s failed", svc.Name())
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return svc.HealthCheck(checkCtx), nil
}

// PublishHealth publishes a fresh report on system.health. Failures are
// logged and swallowed.
func (o *Orchestrator) PublishHealth(ctx context.Context) {
	report := o.CheckHealth(ctx)
	if !report.Healthy {
		logging.Warn("Orchestrator", "System health degraded")
	}
	if o.cfg.Bus == nil {
		return
	}
	if err := messages.SystemHealth.Publish(ctx, o.cfg.Bus, report); err != nil {
		logging.Warn("Orchestrator", "Failed to publish health report: %v", err)
	}
	o.raiseAlerts(ctx, report)
}

// raiseAlerts publishes a system alert for every running or required
// service that turned unhealthy since the previous report.
func (o *Orchestrator) raiseAlerts(ctx context.Context, report messages.HealthReport) {
	o.alertMu.Lock()
	var alerts []messages.Alert
	for _, row := range report.Services {
		wasHealthy, seen := o.lastHealthy[row.Name]
		o.lastHealthy[row.Name] = row.Healthy
		if row.Healthy || !(row.Running || row.Required) || (seen && !wasHealthy) {
			continue
		}

		msg := fmt.Sprintf("service %s is unhealthy", row.Name)
		if row.Error != "" {
			msg += ": " + row.Error
		}
		priority := messages.PriorityHigh
		if row.Required {
			priority = messages.PriorityCritical
		}
		alerts = append(alerts, messages.Alert{
			Message:  msg,
			Priority: priority,
			Source:   row.Name,
			Details: map[string]any{
				"state":       row.State,
				"error_count": row.ErrorCount,
			},
			Timestamp: report.Timestamp,
		})
	}
	o.alertMu.Unlock()

	for _, alert := range alerts {
		if err := messages.SystemAlerts.Publish(ctx, o.cfg.Bus, alert); err != nil {
			logging.Warn("Orchestrator", "Failed to publish alert for %s: %v", alert.Source, err)
		}
	}
}

func (o *Orchestrator) startHealthLoop(ctx context.Context) {
	o.healthMu.Lock()
	defer o.healthMu.Unlock()
	if o.health != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &healthLoop{cancel: cancel, done: make(chan struct{})}

	if o.cfg.Bus != nil {
		route := messages.Handle(messages.HealthQueries, func(ctx context.Context, _ broker.Envelope, _ messages.HealthRequest) error {
			o.PublishHealth(ctx)
			return nil
		})
		sub, err := o.cfg.Bus.Subscribe(ctx, route.Topic, route.Handler)
		if err != nil {
			logging.Warn("Orchestrator", "Health requests will not be answered: %v", err)
		} else {
			h.sub = sub
		}
	}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(o.cfg.HealthInterval)
		defer ticker.Stop()

		o.PublishHealth(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				o.PublishHealth(loopCtx)
			}
		}
	}()

	o.health = h
	logging.Debug("Orchestrator", "Health loop started (interval %s)", o.cfg.HealthInterval)
}

func (o *Orchestrator) stopHealthLoop(ctx context.Context) {
	o.healthMu.Lock()
	h := o.health
	o.health = nil
	o.healthMu.Unlock()
	if h == nil {
		return
	}

	h.cancel()
	<-h.done
	if h.sub != nil && o.cfg.Bus != nil {
		if err := o.cfg.Bus.Unsubscribe(ctx, h.sub); err != nil {
			logging.Warn("Orchestrator", "Failed to unsubscribe health requests: %v", err)
		}
	}
}
