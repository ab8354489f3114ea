// Package bus exposes the shared broker connection as an orchestrated
// service, so that a broker outage at startup aborts the system the same way
// any other required service failure does.
package bus

import (
	"context"
	"fmt"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/internal/services"
	"switchboard/pkg/logging"
)

// ServiceName is the registration name of the broker service.
const ServiceName = "broker"

// Conn is the part of broker.Client the service manages.
type Conn interface {
	services.Bus
	Connect(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) bool
	IsConnected() bool
	Target() string
}

var _ Conn = (*broker.Client)(nil)

// Service connects the broker on Initialize and closes it after Stop.
type Service struct {
	*services.BaseService
	conn Conn
}

// New creates the broker service for conn.
func New(conn Conn, opts ...services.Option) *Service {
	s := &Service{conn: conn}
	s.BaseService = services.NewBaseService(ServiceName, conn, s, opts...)
	return s
}

// Setup connects to the broker. Connection retries happen inside the client.
func (s *Service) Setup(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return fmt.Errorf("broker unavailable: %w", err)
	}
	logging.Info("Bus", "Connected to %s", s.conn.Target())
	return nil
}

// Routes returns nothing: the broker service has no topics of its own.
func (s *Service) Routes() []messages.Route {
	return nil
}

// OnStart reconnects a broker closed by an earlier Stop.
func (s *Service) OnStart(ctx context.Context) error {
	if s.conn.IsConnected() {
		return nil
	}
	return s.Setup(ctx)
}

// OnStop closes the connection. It runs after the stop status was published.
func (s *Service) OnStop(context.Context) error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close broker connection: %w", err)
	}
	logging.Info("Bus", "Disconnected from %s", s.conn.Target())
	return nil
}

// Probe reports whether the broker answers a ping. While running, a failed
// ping marks the service unhealthy and a later answer marks it healthy again.
func (s *Service) Probe(ctx context.Context) bool {
	ok := s.conn.HealthCheck(ctx)
	if !s.IsRunning() {
		return ok
	}
	if ok {
		s.MarkHealthy(ctx)
	} else {
		s.MarkUnhealthy(ctx, fmt.Errorf("broker %s did not answer ping", s.conn.Target()))
	}
	return ok
}

// StatusDetails adds the broker endpoint to status messages.
func (s *Service) StatusDetails() map[string]any {
	return map[string]any{
		"target":    s.conn.Target(),
		"connected": s.conn.IsConnected(),
	}
}
