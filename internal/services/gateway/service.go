package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"switchboard/internal/broker"
	"switchboard/internal/config"
	"switchboard/internal/messages"
	"switchboard/internal/services"
	"switchboard/internal/toolcall"
	"switchboard/pkg/logging"
)

// ServiceName is the registration name of the gateway.
const ServiceName = "gateway"

// DefaultMetricsEvery is the number of calls between metrics publications.
const DefaultMetricsEvery = 10

// BreakerConfig configures the per-server circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
	}
}

// Config configures the gateway.
type Config struct {
	Servers       []config.MCPServerConfig
	ServersFile   string
	EnableCore    bool
	Version       string
	MaxConcurrent int64
	ExecTimeout   time.Duration
	Breaker       BreakerConfig
	MetricsEvery  int
	Debounce      time.Duration
}

// ServerFactory creates the client for an external server definition.
type ServerFactory func(def config.MCPServerConfig) ToolServer

// CallObserver is notified of every executed tool call.
type CallObserver interface {
	ToolExecuted(server, tool string, d time.Duration, failed bool)
}

// Option customizes the gateway.
type Option func(*Service)

// WithServerFactory replaces the stdio client factory.
func WithServerFactory(f ServerFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithCallObserver reports executed calls to o.
func WithCallObserver(o CallObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithServiceOptions passes options to the underlying BaseService.
func WithServiceOptions(opts ...services.Option) Option {
	return func(s *Service) { s.baseOpts = append(s.baseOpts, opts...) }
}

type serverEntry struct {
	def     config.MCPServerConfig
	server  ToolServer
	breaker *breaker.Breaker
	tools   []mcp.Tool
	err     error
}

// Service answers tool requests by calling tools on MCP servers.
type Service struct {
	*services.BaseService

	cfg       Config
	factory   ServerFactory
	observer  CallObserver
	baseOpts  []services.Option
	responder *toolcall.Responder
	watcher   *FileWatcher

	// reloadMu serializes Setup, OnStart and Reload.
	reloadMu sync.Mutex

	mu      sync.RWMutex
	servers map[string]*serverEntry
	order   []string

	calls    atomic.Int64
	failures atomic.Int64
}

// New creates the gateway service.
func New(bus services.Bus, cfg Config, opts ...Option) *Service {
	if cfg.MetricsEvery <= 0 {
		cfg.MetricsEvery = DefaultMetricsEvery
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = DefaultBreakerConfig()
	}

	s := &Service{
		cfg:     cfg,
		factory: NewStdioServer,
		servers: make(map[string]*serverEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.responder = toolcall.NewResponder(bus, toolcall.ExecutorFunc(s.Execute), toolcall.ResponderConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		ExecTimeout:   cfg.ExecTimeout,
	}, toolcall.WithCompletionHook(s.callCompleted))

	s.BaseService = services.NewBaseService(ServiceName, bus, s, s.baseOpts...)
	return s
}

// Setup connects to every configured server. Servers that cannot be reached
// are logged and retried on the next start or reload; only an unreadable
// servers file fails the setup.
func (s *Service) Setup(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	defs, err := s.desiredServers()
	if err != nil {
		return err
	}
	s.apply(ctx, defs)
	return nil
}

// Routes serves tool requests and registry requests.
func (s *Service) Routes() []messages.Route {
	return []messages.Route{
		s.responder.Route(),
		messages.Handle(messages.RegistryQueries, func(ctx context.Context, _ broker.Envelope, _ messages.RegistryRequest) error {
			return s.PublishRegistry(ctx)
		}),
	}
}

// OnStart reconnects servers lost since the last run, publishes the registry
// and starts watching the servers file.
func (s *Service) OnStart(ctx context.Context) error {
	s.reloadMu.Lock()
	s.connectPending(ctx)
	s.reloadMu.Unlock()

	if err := s.PublishRegistry(ctx); err != nil {
		logging.Warn("Gateway", "Failed to publish tool registry: %v", err)
	}

	if s.cfg.ServersFile != "" {
		s.watcher = NewFileWatcher(s.cfg.ServersFile, s.cfg.Debounce, func() {
			if err := s.Reload(context.Background()); err != nil {
				logging.Error("Gateway", err, "Failed to reload servers from %s", s.cfg.ServersFile)
			}
		})
		if err := s.watcher.Start(); err != nil {
			logging.Warn("Gateway", "Servers file will not be watched: %v", err)
		}
	}
	return nil
}

// OnStop waits for in-flight calls, publishes final metrics and closes every
// server connection.
func (s *Service) OnStop(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	s.responder.Wait()
	s.publishMetrics(ctx)

	s.mu.RLock()
	entries := s.entries()
	s.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if err := e.server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.server.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Probe requires at least one connected server when any are configured.
func (s *Service) Probe(context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.servers) == 0 {
		return true
	}
	for _, e := range s.servers {
		if e.server.Connected() {
			return true
		}
	}
	return false
}

// StatusDetails reports server connectivity.
func (s *Service) StatusDetails() map[string]any {
	connected, total, tools := s.counts()
	return map[string]any{
		"servers_connected": connected,
		"servers_total":     total,
		"tools":             tools,
	}
}

// Reload re-reads the servers file, reconnects changed servers and
// republishes the registry.
func (s *Service) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defs, err := s.desiredServers()
	if err != nil {
		s.reloadMu.Unlock()
		s.RecordError(err)
		return err
	}
	s.apply(ctx, defs)
	s.reloadMu.Unlock()

	logging.Info("Gateway", "Reloaded servers (%d configured)", len(defs))
	if !s.IsRunning() {
		return nil
	}
	return s.PublishRegistry(ctx)
}

// Registry returns the tools of every connected server.
func (s *Service) Registry() messages.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg := messages.Registry{Servers: []string{}, Tools: []messages.ToolDescriptor{}}
	for _, e := range s.entries() {
		if !e.server.Connected() {
			continue
		}
		reg.Servers = append(reg.Servers, e.server.Name())
		for _, tool := range e.tools {
			desc := messages.ToolDescriptor{
				Server:      e.server.Name(),
				Name:        tool.Name,
				Description: tool.Description,
			}
			if schema, err := json.Marshal(tool.InputSchema); err == nil {
				desc.InputSchema = schema
			}
			reg.Tools = append(reg.Tools, desc)
		}
	}
	return reg
}

// PublishRegistry publishes the current registry on tools.registry.
func (s *Service) PublishRegistry(ctx context.Context) error {
	reg := s.Registry()
	err := messages.ToolRegistry.Publish(ctx, s.Bus(), reg)
	s.ObservePublish(ctx, err)
	if err != nil {
		return err
	}
	logging.Debug("Gateway", "Published registry (%d servers, %d tools)", len(reg.Servers), len(reg.Tools))
	return nil
}

// Execute calls tool on server through the server's circuit breaker. It
// implements toolcall.Executor.
func (s *Service) Execute(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	s.mu.RLock()
	e, ok := s.servers[server]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown server %q", server)
	}
	if !e.server.Connected() {
		return nil, fmt.Errorf("server %s is not connected", server)
	}

	var result *mcp.CallToolResult
	err := e.breaker.Run(func() error {
		var callErr error
		result, callErr = e.server.CallTool(ctx, tool, args)
		return callErr
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		return nil, fmt.Errorf("server %s is unavailable (circuit open)", server)
	}
	if err != nil {
		return nil, err
	}
	if result.IsError {
		msg := strings.Join(textContent(result), "\n")
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, errors.New(msg)
	}
	return resultValue(result), nil
}

func (s *Service) callCompleted(req messages.ToolRequest, res messages.ToolResult, d time.Duration) {
	calls := s.calls.Add(1)
	if res.Failed() {
		s.failures.Add(1)
	}
	if s.observer != nil {
		s.observer.ToolExecuted(req.TargetServer, req.Tool, d, res.Failed())
	}
	if calls%int64(s.cfg.MetricsEvery) == 0 {
		s.publishMetrics(context.Background())
	}
}

func (s *Service) publishMetrics(ctx context.Context) {
	connected, total, tools := s.counts()
	s.PublishMetrics(ctx, map[string]any{
		"tool_call_count":    s.calls.Load(),
		"tool_failure_count": s.failures.Load(),
		"servers_connected":  connected,
		"servers_total":      total,
		"tools_available":    tools,
	})
}

func (s *Service) counts() (connected, total, tools int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.servers {
		total++
		if e.server.Connected() {
			connected++
			tools += len(e.tools)
		}
	}
	return connected, total, tools
}

// entries returns the servers in registration order. Caller holds mu.
func (s *Service) entries() []*serverEntry {
	out := make([]*serverEntry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.servers[name])
	}
	return out
}

func (s *Service) desiredServers() ([]config.MCPServerConfig, error) {
	var defs []config.MCPServerConfig
	seen := make(map[string]bool)
	add := func(def config.MCPServerConfig, source string) {
		if def.Disabled {
			return
		}
		if seen[def.Name] {
			logging.Warn("Gateway", "Ignoring duplicate server %s from %s", def.Name, source)
			return
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}

	if s.cfg.EnableCore {
		add(config.MCPServerConfig{Name: config.CoreServerName}, "built-in")
	}
	for _, def := range s.cfg.Servers {
		add(def, "config")
	}
	if s.cfg.ServersFile != "" {
		fromFile, err := config.LoadServersFile(s.cfg.ServersFile)
		if err != nil {
			return nil, err
		}
		for _, def := range fromFile {
			add(def, s.cfg.ServersFile)
		}
	}
	return defs, nil
}

// apply brings the server set in line with defs. Caller holds reloadMu.
func (s *Service) apply(ctx context.Context, defs []config.MCPServerConfig) {
	wanted := make(map[string]config.MCPServerConfig, len(defs))
	for _, def := range defs {
		wanted[def.Name] = def
	}

	s.mu.Lock()
	var removed []*serverEntry
	for name, e := range s.servers {
		def, keep := wanted[name]
		if keep && reflect.DeepEqual(def, e.def) {
			continue
		}
		removed = append(removed, e)
		delete(s.servers, name)
	}
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		order = append(order, def.Name)
		if _, exists := s.servers[def.Name]; exists {
			continue
		}
		s.servers[def.Name] = &serverEntry{
			def:     def,
			server:  s.newServer(def),
			breaker: breaker.New(s.cfg.Breaker.FailureThreshold, s.cfg.Breaker.SuccessThreshold, s.cfg.Breaker.Timeout),
		}
	}
	s.order = order
	s.mu.Unlock()

	for _, e := range removed {
		logging.Info("Gateway", "Removing server %s", e.server.Name())
		if err := e.server.Close(); err != nil {
			logging.Warn("Gateway", "Error closing server %s: %v", e.server.Name(), err)
		}
	}

	s.connectPending(ctx)
}

func (s *Service) newServer(def config.MCPServerConfig) ToolServer {
	if def.Name == config.CoreServerName && def.Command == "" {
		return NewInProcessServer(def.Name, NewCoreServer(s.cfg.Version, nil))
	}
	return s.factory(def)
}

// connectPending initializes every disconnected server concurrently and
// refreshes its tool list.
func (s *Service) connectPending(ctx context.Context) {
	s.mu.RLock()
	var pending []*serverEntry
	for _, e := range s.entries() {
		if !e.server.Connected() {
			pending = append(pending, e)
		}
	}
	s.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, e := range pending {
		g.Go(func() error {
			tools, err := connect(ctx, e.server)
			s.mu.Lock()
			e.tools, e.err = tools, err
			s.mu.Unlock()
			if err != nil {
				logging.Warn("Gateway", "Server %s unavailable: %v", e.server.Name(), err)
				return nil
			}
			logging.Info("Gateway", "Connected to server %s (%d tools)", e.server.Name(), len(tools))
			return nil
		})
	}
	_ = g.Wait()
}

func connect(ctx context.Context, srv ToolServer) ([]mcp.Tool, error) {
	if err := srv.Initialize(ctx); err != nil {
		return nil, err
	}
	tools, err := srv.ListTools(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	return tools, nil
}

func textContent(result *mcp.CallToolResult) []string {
	var texts []string
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			texts = append(texts, tc.Text)
		}
	}
	return texts
}

// resultValue converts an MCP tool result into the JSON value carried by a
// ToolResult: structured content when present, otherwise the text content.
func resultValue(result *mcp.CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	texts := textContent(result)
	switch len(texts) {
	case 0:
		return nil
	case 1:
		return texts[0]
	default:
		return texts
	}
}
