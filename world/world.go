package world

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config describes a world.
type Config struct {
	ID   string
	Name string
	// TurnLimit caps LLM calls per agent per chat between human messages.
	// Zero or less disables the cap.
	TurnLimit int
	// MaxIterations caps LLM calls within one turn. Defaults to
	// DefaultMaxIterations.
	MaxIterations    int
	WorkingDirectory string
	CommandTimeout   time.Duration
}

// Option configures a World.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	metrics    *Metrics
	tools      *ToolRegistry
	env        *LocalEnvironment
	loopWindow int
}

// WithLogger sets the world's logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the counters the world records into.
func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

// WithTools replaces the default registry of built-in tools.
func WithTools(r *ToolRegistry) Option { return func(o *options) { o.tools = r } }

// WithEnvironment sets the execution environment used by tools.
func WithEnvironment(env *LocalEnvironment) Option { return func(o *options) { o.env = env } }

// WithLoopWindow sets how many recent tool calls loop detection inspects.
// Zero disables it.
func WithLoopWindow(n int) Option { return func(o *options) { o.loopWindow = n } }

// World is an isolated group of agents sharing one bus. Every operation that
// touches memory or publishes takes an explicit chat id.
type World struct {
	id            string
	name          string
	turnLimit     int
	maxIterations int
	loopWindow    int
	cfg           Config
	opts          []Option

	bus      *Bus
	store    MemoryStore
	llm      LLMProvider
	tools    *ToolRegistry
	env      *LocalEnvironment
	gate     *ApprovalGate
	governor *TurnGovernor
	metrics  *Metrics
	logger   *zap.Logger
	lanes    *lanes
	cancel   context.CancelFunc

	mu           sync.RWMutex
	runtimes     map[string]*AgentRuntime
	order        []string
	selectedChat string
	closed       bool
}

// New creates a world with no agents.
func New(cfg Config, store MemoryStore, llm LLMProvider, opts ...Option) (*World, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("world id is required")
	}
	if store == nil {
		return nil, errors.New("memory store is required")
	}
	if llm == nil {
		return nil, errors.New("llm provider is required")
	}

	o := options{loopWindow: DefaultLoopWindow}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tools == nil {
		o.tools = NewToolRegistry()
		if err := RegisterBuiltinTools(o.tools); err != nil {
			return nil, fmt.Errorf("register builtin tools: %w", err)
		}
	}
	if o.env == nil {
		o.env = NewLocalEnvironment(cfg.WorkingDirectory, cfg.CommandTimeout)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	logger := o.logger.With(zap.String("world", cfg.ID))
	base, cancel := context.WithCancel(context.Background())
	w := &World{
		id:            cfg.ID,
		name:          cfg.Name,
		turnLimit:     cfg.TurnLimit,
		maxIterations: cfg.MaxIterations,
		loopWindow:    o.loopWindow,
		cfg:           cfg,
		opts:          opts,
		bus:           NewBus(cfg.ID, o.logger),
		store:         store,
		llm:           llm,
		tools:         o.tools,
		env:           o.env,
		gate:          NewApprovalGate(logger),
		governor:      NewTurnGovernor(cfg.ID, store, logger),
		metrics:       o.metrics,
		logger:        logger,
		lanes:         newLanes(base, logger),
		cancel:        cancel,
		runtimes:      make(map[string]*AgentRuntime),
	}
	return w, nil
}

func (w *World) ID() string   { return w.id }
func (w *World) Name() string { return w.name }

// Config returns the world's configuration with defaults applied.
func (w *World) Config() Config { return w.cfg }

// Tools returns the world's tool registry.
func (w *World) Tools() *ToolRegistry { return w.tools }

// Environment returns the environment tools run in.
func (w *World) Environment() *LocalEnvironment { return w.env }

// AddAgent adds an agent and subscribes it to the bus. State and memory
// already in the store for this world and agent id are restored.
func (w *World) AddAgent(ctx context.Context, cfg AgentConfig) (*Agent, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("agent id is required")
	}
	if strings.EqualFold(cfg.ID, "human") {
		return nil, fmt.Errorf("agent id %q is reserved", cfg.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorldClosed
	}
	if _, ok := w.runtimes[cfg.ID]; ok {
		return nil, fmt.Errorf("agent %s already exists", cfg.ID)
	}

	agent := newAgent(cfg)
	state, err := w.store.LoadAgentState(ctx, w.id, cfg.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load agent state %s: %w", cfg.ID, err)
	}
	memory, err := w.store.LoadMemory(ctx, w.id, cfg.ID, "")
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", cfg.ID, err)
	}
	agent.restore(state, memory)
	if err := w.store.SaveAgentState(ctx, w.id, agent.State()); err != nil {
		return nil, fmt.Errorf("save agent state %s: %w", cfg.ID, err)
	}

	w.runtimes[cfg.ID] = newAgentRuntime(w, agent)
	w.order = append(w.order, cfg.ID)
	w.logger.Info("agent added",
		zap.String("agent", cfg.ID),
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("restored_messages", len(memory)))
	return agent, nil
}

// RemoveAgent unsubscribes the agent and deletes its stored state and
// memory, so a refresh or restart does not bring it back.
func (w *World) RemoveAgent(ctx context.Context, agentID string) error {
	w.mu.Lock()
	rt, ok := w.runtimes[agentID]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	rt.stop()
	delete(w.runtimes, agentID)
	for i, id := range w.order {
		if id == agentID {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.mu.Unlock()

	if err := w.store.DeleteAgent(ctx, w.id, agentID); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	w.logger.Info("agent removed", zap.String("agent", agentID))
	return nil
}

// Agent returns the agent with agentID.
func (w *World) Agent(agentID string) (*Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rt, ok := w.runtimes[agentID]
	if !ok {
		return nil, false
	}
	return rt.agent, true
}

// Agents returns the agents in the order they were added.
func (w *World) Agents() []*Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Agent, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.runtimes[id].agent)
	}
	return out
}

func (w *World) runtime(agentID string) (*AgentRuntime, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rt, ok := w.runtimes[agentID]
	return rt, ok
}

func (w *World) roster() []AgentConfig {
	agents := w.Agents()
	out := make([]AgentConfig, len(agents))
	for i, a := range agents {
		out[i] = a.config()
	}
	return out
}

func (w *World) isClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

// appendMemory persists msg and then adds it to the agent's memory.
func (w *World) appendMemory(ctx context.Context, agent *Agent, msg AgentMessage) error {
	if msg.ChatID == "" {
		return ErrMissingChat
	}
	if err := w.store.AppendMessage(ctx, w.id, agent.ID, msg); err != nil {
		return fmt.Errorf("append message %s: %w", msg.ID, err)
	}
	agent.appendMemory(msg)
	return nil
}

// SendMessage publishes a human message in chatID.
func (w *World) SendMessage(ctx context.Context, chatID, sender, content string) (AgentMessage, error) {
	if sender == "" {
		sender = "human"
	}
	return w.publishInbound(ctx, chatID, sender, SenderHuman, content)
}

// SendSystemMessage publishes a system message in chatID. Like a human
// message it resets turn counters and reaches every agent.
func (w *World) SendSystemMessage(ctx context.Context, chatID, content string) (AgentMessage, error) {
	return w.publishInbound(ctx, chatID, "system", SenderSystem, content)
}

func (w *World) publishInbound(ctx context.Context, chatID, sender string, senderType SenderType, content string) (AgentMessage, error) {
	if chatID == "" {
		return AgentMessage{}, ErrMissingChat
	}
	if w.isClosed() {
		return AgentMessage{}, ErrWorldClosed
	}
	msg := AgentMessage{
		ID:         NewMessageID(),
		Role:       RoleUser,
		Content:    content,
		Sender:     sender,
		SenderType: senderType,
		ChatID:     chatID,
		CreatedAt:  time.Now(),
	}
	w.logger.Debug("inbound message",
		zap.String("chat", chatID),
		zap.String("sender", sender),
		zap.String("message", msg.ID))
	w.bus.Publish(ctx, messageEvent(msg))
	return msg, nil
}

// ResolveTool routes an approval decision to res.AgentID. Resolutions for
// unknown agents or tool calls that agent never made are dropped and
// logged; they are not reported back to the caller.
func (w *World) ResolveTool(ctx context.Context, res ToolResolution) error {
	if w.isClosed() {
		return ErrWorldClosed
	}
	rt, ok := w.runtime(res.AgentID)
	if !ok {
		w.logger.Warn("tool resolution dropped",
			zap.String("tool_call_id", res.ToolCallID),
			zap.String("claimed_agent", res.AgentID),
			zap.Error(ErrUnknownAgent))
		w.metrics.resolution(w.id, "dropped")
		return nil
	}
	return rt.resolve(res)
}

// ResolveToolJSON decodes a resolution payload and routes it. Malformed
// payloads are dropped and logged.
func (w *World) ResolveToolJSON(ctx context.Context, data []byte) error {
	res, err := ParseToolResolution(data)
	if err != nil {
		w.logger.Warn("malformed tool resolution dropped", zap.Error(err))
		w.metrics.resolution(w.id, "dropped")
		return nil
	}
	return w.ResolveTool(ctx, res)
}

// PendingToolCall is a tool call suspended waiting for a resolution.
type PendingToolCall struct {
	AgentID  string
	ChatID   string
	ToolCall ToolCall
}

// PendingToolCalls lists the tool calls waiting for approval in chatID. An
// empty chatID lists every chat.
func (w *World) PendingToolCalls(chatID string) []PendingToolCall {
	var out []PendingToolCall
	for _, a := range w.Agents() {
		for _, m := range a.Memory(chatID) {
			if m.Role != RoleAssistant {
				continue
			}
			for _, tc := range m.ToolCalls {
				if m.IsPending(tc.ID) {
					out = append(out, PendingToolCall{AgentID: a.ID, ChatID: m.ChatID, ToolCall: tc})
				}
			}
		}
	}
	return out
}

// Subscribe registers handler on the world's bus.
func (w *World) Subscribe(handler Handler) func() {
	return w.bus.Subscribe(handler)
}

// Wait blocks until every queued turn in the world has finished or
// suspended, or ctx is done.
func (w *World) Wait(ctx context.Context) error {
	return w.lanes.wait(ctx)
}

// SelectChat records the chat a UI is showing. Orchestration never reads it.
func (w *World) SelectChat(chatID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selectedChat = chatID
}

// SelectedChat returns the chat last passed to SelectChat.
func (w *World) SelectedChat() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.selectedChat
}

// NewChatID returns a fresh chat id.
func (w *World) NewChatID() string {
	return NewChatID()
}

// Close unsubscribes every agent, waits for queued turns to drain and closes
// the bus. If ctx ends first, in-flight turns are cancelled.
func (w *World) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	runtimes := make([]*AgentRuntime, 0, len(w.runtimes))
	for _, rt := range w.runtimes {
		runtimes = append(runtimes, rt)
	}
	w.mu.Unlock()

	for _, rt := range runtimes {
		rt.stop()
	}
	w.lanes.close()
	err := w.lanes.wait(ctx)
	w.cancel()
	if err != nil {
		// Turns unwind once their provider call or command sees the cancel.
		_ = w.lanes.wait(context.Background())
	}
	w.bus.Close()
	w.logger.Info("world closed", zap.Int("agents", len(runtimes)))
	return err
}
