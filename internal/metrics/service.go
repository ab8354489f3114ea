package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	"switchboard/internal/services"
	"switchboard/pkg/logging"
)

// ServiceName is the registration name of the metrics endpoint.
const ServiceName = "metrics"

const shutdownTimeout = 5 * time.Second

// Service serves the collectors on /metrics and keeps the health gauges in
// step with system.health.
type Service struct {
	*services.BaseService

	addr       string
	collectors *Collectors

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewService creates the metrics endpoint for addr, e.g. ":9464".
func NewService(bus services.Bus, addr string, collectors *Collectors, opts ...services.Option) *Service {
	s := &Service{addr: addr, collectors: collectors}
	s.BaseService = services.NewBaseService(ServiceName, bus, s, opts...)
	return s
}

func (s *Service) Setup(context.Context) error {
	if _, _, err := net.SplitHostPort(s.addr); err != nil {
		return fmt.Errorf("invalid metrics listen address %q: %w", s.addr, err)
	}
	return nil
}

func (s *Service) Routes() []messages.Route {
	return []messages.Route{
		messages.Handle(messages.SystemHealth, func(_ context.Context, _ broker.Envelope, report messages.HealthReport) error {
			s.collectors.HealthReported(report)
			return nil
		}),
	}
}

// OnStart binds the listener. A port that is already taken fails the start.
func (s *Service) OnStart(context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.collectors.Registry(), promhttp.HandlerOpts{
		ErrorLog: errorLogger{},
	}))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.RecordError(err)
			logging.Error("Metrics", err, "Metrics server stopped")
		}
	}()

	logging.Info("Metrics", "Serving metrics on http://%s/metrics", listener.Addr())
	return nil
}

func (s *Service) OnStop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Addr returns the bound address, or nil when not serving.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Service) StatusDetails() map[string]any {
	details := map[string]any{"listen": s.addr}
	if addr := s.Addr(); addr != nil {
		details["address"] = addr.String()
	}
	return details
}

// errorLogger routes promhttp errors to the Metrics subsystem.
type errorLogger struct{}

func (errorLogger) Println(v ...any) {
	logging.Warn("Metrics", "%s", fmt.Sprint(v...))
}
