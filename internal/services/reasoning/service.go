package reasoning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"switchboard/internal/broker"
	"switchboard/internal/messages"
	llm "switchboard/internal/reasoning"
	"switchboard/internal/services"
	"switchboard/internal/toolcall"
	"switchboard/pkg/logging"
)

// ServiceName is the registration name of the reasoning service.
const ServiceName = "reasoning"

const (
	// DefaultAssistantName is the name the assistant introduces itself with.
	DefaultAssistantName = "Switchboard"
	// DefaultMaxHistory is the number of user and assistant messages kept
	// across turns.
	DefaultMaxHistory = 20
	// ErrorAnswer is spoken when a turn fails.
	ErrorAnswer = "I'm sorry, I ran into a problem answering that."
)

// Config configures the reasoning service.
type Config struct {
	AssistantName string
	MaxIterations int
	MaxHistory    int
	ToolTimeout   time.Duration
	// SystemPrompt is a template; empty selects the built-in prompt.
	SystemPrompt string
}

// TurnObserver is notified after every turn.
type TurnObserver interface {
	TurnCompleted(d time.Duration, iterations, toolCalls int, truncated, failed bool)
}

// Option customizes the reasoning service.
type Option func(*Service)

// WithTurnObserver reports completed turns to o.
func WithTurnObserver(o TurnObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the time source used in the system prompt and for
// generation time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServiceOptions passes options to the underlying BaseService.
func WithServiceOptions(opts ...services.Option) Option {
	return func(s *Service) { s.baseOpts = append(s.baseOpts, opts...) }
}

// Service turns transcripts into spoken answers, calling tools on the way.
type Service struct {
	*services.BaseService

	cfg      Config
	engine   llm.Engine
	loop     *llm.Loop
	observer TurnObserver
	now      func() time.Time
	baseOpts []services.Option

	prompt *llm.Prompt

	mu      sync.RWMutex
	tools   []llm.Tool
	servers []string
	history []llm.Message

	turns  atomic.Int64
	failed atomic.Int64
}

// New creates the reasoning service. Tool calls go through invoker.
func New(bus services.Bus, engine llm.Engine, invoker llm.Invoker, cfg Config, opts ...Option) *Service {
	if cfg.AssistantName == "" {
		cfg.AssistantName = DefaultAssistantName
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}

	s := &Service{
		cfg:    cfg,
		engine: engine,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loop = llm.NewLoop(engine, invoker, llm.LoopConfig{
		MaxIterations: cfg.MaxIterations,
		ToolTimeout:   cfg.ToolTimeout,
	})
	s.BaseService = services.NewBaseService(ServiceName, bus, s, s.baseOpts...)
	return s
}

// Setup parses the system prompt and checks that the engine answers.
func (s *Service) Setup(ctx context.Context) error {
	prompt, err := llm.ParsePrompt(s.cfg.SystemPrompt)
	if err != nil {
		return err
	}
	s.prompt = prompt

	if pinger, ok := s.engine.(llm.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("inference engine unavailable: %w", err)
		}
	}
	return nil
}

// Routes handles transcripts and registry updates.
func (s *Service) Routes() []messages.Route {
	return []messages.Route{
		messages.Handle(messages.Transcription, s.handleTranscript),
		messages.Handle(messages.ToolRegistry, s.handleRegistry),
	}
}

// OnStart asks the gateway for its registry.
func (s *Service) OnStart(ctx context.Context) error {
	err := messages.RegistryQueries.Publish(ctx, s.Bus(), messages.RegistryRequest{})
	if err != nil {
		logging.Warn("Reasoning", "Failed to request tool registry: %v", err)
	}
	s.ObservePublish(ctx, err)
	return nil
}

// StatusDetails reports the tools and history in use.
func (s *Service) StatusDetails() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	details := map[string]any{
		"tools":          len(s.tools),
		"servers":        len(s.servers),
		"history":        len(s.history),
		"turns":          s.turns.Load(),
		"failed_turns":   s.failed.Load(),
		"max_iterations": s.loop.MaxIterations(),
	}
	if m, ok := s.engine.(interface{ Model() string }); ok {
		details["model"] = m.Model()
	}
	return details
}

// Tools returns the tools currently offered to the engine.
func (s *Service) Tools() []llm.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]llm.Tool(nil), s.tools...)
}

// History returns a copy of the conversation history.
func (s *Service) History() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]llm.Message(nil), s.history...)
}

// ClearHistory forgets the conversation.
func (s *Service) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Service) handleRegistry(_ context.Context, _ broker.Envelope, reg messages.Registry) error {
	tools := make([]llm.Tool, 0, len(reg.Tools))
	for _, d := range reg.Tools {
		tools = append(tools, llm.Tool{
			Target:      toolcall.Target{Server: d.Server, Tool: d.Name},
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}

	s.mu.Lock()
	s.tools = tools
	s.servers = append([]string(nil), reg.Servers...)
	s.mu.Unlock()

	logging.Info("Reasoning", "Tool registry updated: %d tools from %d servers", len(tools), len(reg.Servers))
	return nil
}

// Transcripts are handled one at a time in arrival order.
func (s *Service) handleTranscript(ctx context.Context, _ broker.Envelope, t messages.Transcript) error {
	text := strings.TrimSpace(t.Text)
	if text == "" || !t.Final() {
		logging.Debug("Reasoning", "Ignoring partial or empty transcript")
		return nil
	}

	logging.Info("Reasoning", "Processing input: %s", text)
	s.publishThinking(ctx, messages.ThinkingProcessing, text, t.Location)
	defer s.publishThinking(ctx, messages.ThinkingIdle, "", t.Location)

	start := s.now()
	result, err := s.turn(ctx, text, t.Location)
	elapsed := s.now().Sub(start)

	s.turns.Add(1)
	resp := messages.Response{
		Location:       t.Location,
		GenerationTime: elapsed.Seconds(),
		Iterations:     result.Iterations,
		Truncated:      result.Truncated,
	}
	for _, call := range result.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, messages.ToolCallSummary{
			Server:  call.Target.Server,
			Tool:    call.Target.Tool,
			Failure: call.Failure,
		})
	}

	if err != nil {
		s.failed.Add(1)
		s.RecordError(err)
		logging.Error("Reasoning", err, "Turn failed after %s", elapsed)
		resp.Text = ErrorAnswer
		resp.Error = true
	} else {
		resp.Text = result.Text
		s.remember(text, result.Text)
		logging.Info("Reasoning", "Generated response in %.2fs (%d rounds, %d tool calls)", elapsed.Seconds(), result.Iterations, len(result.ToolCalls))
	}

	pubErr := messages.LLMResponse.Publish(ctx, s.Bus(), resp)
	if pubErr != nil {
		logging.Error("Reasoning", pubErr, "Failed to publish response")
	}
	s.ObservePublish(ctx, pubErr)

	s.PublishMetrics(ctx, map[string]any{
		"generation_time": elapsed.Seconds(),
		"input_length":    len(text),
		"output_length":   len(resp.Text),
		"iterations":      result.Iterations,
		"tool_calls":      len(result.ToolCalls),
	})
	if s.observer != nil {
		s.observer.TurnCompleted(elapsed, result.Iterations, len(result.ToolCalls), result.Truncated, err != nil)
	}
	return nil
}

func (s *Service) turn(ctx context.Context, text, location string) (llm.TurnResult, error) {
	s.mu.RLock()
	tools := append([]llm.Tool(nil), s.tools...)
	history := append([]llm.Message(nil), s.history...)
	s.mu.RUnlock()

	system, err := s.prompt.Render(llm.PromptData{
		Name:     s.cfg.AssistantName,
		Location: location,
		Now:      s.now(),
		Tools:    tools,
	})
	if err != nil {
		return llm.TurnResult{}, err
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	return s.loop.Run(ctx, msgs, tools)
}

// remember appends the exchange and keeps the newest MaxHistory messages.
func (s *Service) remember(input, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: input},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
	if over := len(s.history) - s.cfg.MaxHistory; over > 0 {
		s.history = append([]llm.Message(nil), s.history[over:]...)
	}
}

func (s *Service) publishThinking(ctx context.Context, status, input, location string) {
	msg := messages.Thinking{Status: status, Input: input, Location: location}
	err := messages.LLMThinking.Publish(ctx, s.Bus(), msg)
	if err != nil {
		logging.Warn("Reasoning", "Failed to publish thinking status: %v", err)
	}
	s.ObservePublish(ctx, err)
}
