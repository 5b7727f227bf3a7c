package world

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yysun/agent-world-sub009/mention"
)

// ShouldAgentRespond reports whether agentID should take a turn for msg.
// Agents never answer themselves. Human and system messages reach everyone;
// a message from another agent only reaches the agent it mentions first.
func ShouldAgentRespond(agentID string, msg AgentMessage) bool {
	if msg.Sender == agentID {
		return false
	}
	switch msg.SenderType {
	case SenderHuman, SenderSystem:
		return true
	case SenderAgent:
		return mention.IsMentioned(msg.Content, agentID)
	}
	return false
}

type laneKey struct {
	agent string
	chat  string
}

// lanes runs jobs in FIFO order per (agent, chat). Each busy lane is drained
// by its own goroutine, which exits once the lane is empty.
type lanes struct {
	base   context.Context
	logger *zap.Logger

	mu      sync.Mutex
	queues  map[laneKey][]func(context.Context)
	running map[laneKey]bool
	active  int
	idle    chan struct{}
	closed  bool
}

func newLanes(base context.Context, logger *zap.Logger) *lanes {
	idle := make(chan struct{})
	close(idle)
	return &lanes{
		base:    base,
		logger:  logger,
		queues:  make(map[laneKey][]func(context.Context)),
		running: make(map[laneKey]bool),
		idle:    idle,
	}
}

// enqueue adds job to the lane for key. It returns false once the lanes are
// closed.
func (l *lanes) enqueue(key laneKey, job func(context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if l.active == 0 {
		l.idle = make(chan struct{})
	}
	l.active++
	l.queues[key] = append(l.queues[key], job)
	if !l.running[key] {
		l.running[key] = true
		go l.drain(key)
	}
	return true
}

func (l *lanes) drain(key laneKey) {
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			delete(l.running, key)
			l.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()

		l.run(key, job)

		l.mu.Lock()
		l.active--
		if l.active == 0 {
			close(l.idle)
		}
		l.mu.Unlock()
	}
}

func (l *lanes) run(key laneKey, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("lane job panicked",
				zap.String("agent", key.agent),
				zap.String("chat", key.chat),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	job(l.base)
}

// wait blocks until no job is queued or running, or ctx is done.
func (l *lanes) wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs. Queued jobs still run.
func (l *lanes) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// pending returns the number of queued and running jobs.
func (l *lanes) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// AgentRuntime connects one agent to its world's bus. Its handler only
// enqueues work; turns run on the (agent, chat) lane.
type AgentRuntime struct {
	w           *World
	agent       *Agent
	orch        *Orchestrator
	logger      *zap.Logger
	unsubscribe func()
}

func newAgentRuntime(w *World, agent *Agent) *AgentRuntime {
	rt := &AgentRuntime{
		w:      w,
		agent:  agent,
		orch:   newOrchestrator(w, agent),
		logger: w.logger.With(zap.String("agent", agent.ID)),
	}
	rt.unsubscribe = w.bus.Subscribe(rt.handle)
	return rt
}

// Agent returns the agent this runtime drives.
func (rt *AgentRuntime) Agent() *Agent { return rt.agent }

// Orchestrator returns the agent's turn orchestrator.
func (rt *AgentRuntime) Orchestrator() *Orchestrator { return rt.orch }

func (rt *AgentRuntime) stop() {
	if rt.unsubscribe != nil {
		rt.unsubscribe()
	}
}

func (rt *AgentRuntime) handle(_ context.Context, ev Event) error {
	if ev.Type != EventMessage || ev.Message == nil {
		return nil
	}
	msg := ev.Message.Clone()
	if msg.Sender == rt.agent.ID {
		return nil
	}
	// Tool traffic and approval prompts belong to the agent that produced them.
	if msg.Role == RoleTool || msg.Role == RoleSystem || len(msg.ToolCalls) > 0 {
		return nil
	}
	if msg.ChatID == "" {
		rt.logger.Warn("message without chat id ignored", zap.String("message", msg.ID))
		return nil
	}

	key := laneKey{agent: rt.agent.ID, chat: msg.ChatID}
	if !rt.w.lanes.enqueue(key, func(ctx context.Context) { rt.receive(ctx, ev, msg) }) {
		return ErrWorldClosed
	}
	return nil
}

// receive runs on the lane: supersede, record, reset, decide, process.
// A message the agent will answer starts a new turn, so approvals still
// pending in the chat are closed before it is recorded.
func (rt *AgentRuntime) receive(ctx context.Context, ev Event, msg AgentMessage) {
	chatID := msg.ChatID
	log := rt.logger.With(zap.String("chat", chatID), zap.String("message", msg.ID))
	respond := ShouldAgentRespond(rt.agent.ID, msg)

	if respond {
		if _, err := rt.orch.SupersedePending(ctx, chatID); err != nil {
			rt.orch.fail(ctx, chatID, "persistence", err)
			return
		}
	}

	incoming := AgentMessage{
		ID:         msg.ID,
		Role:       RoleUser,
		Content:    msg.Content,
		Sender:     msg.Sender,
		SenderType: msg.SenderType,
		ChatID:     chatID,
		AgentID:    rt.agent.ID,
		CreatedAt:  msg.CreatedAt,
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = time.Now()
	}
	if err := rt.w.appendMemory(ctx, rt.agent, incoming); err != nil {
		rt.orch.fail(ctx, chatID, "persistence", err)
		return
	}

	if _, err := rt.w.governor.ResetIfNeeded(ctx, rt.agent, chatID, msg.SenderType); err != nil {
		rt.orch.fail(ctx, chatID, "persistence", err)
		return
	}

	if !respond {
		log.Debug("not responding", zap.String("sender", msg.Sender))
		return
	}

	rt.logTurnError(log, rt.orch.ProcessTurn(ctx, chatID, ev))
}

// resolve runs a verified resolution on the lane of the tool call's chat.
func (rt *AgentRuntime) resolve(res ToolResolution) error {
	_, origin, ok := rt.agent.findToolCall(res.ToolCallID)
	if !ok {
		rt.logger.Warn("tool resolution dropped",
			zap.String("tool_call_id", res.ToolCallID),
			zap.Error(ErrNotOwner))
		rt.w.metrics.resolution(rt.w.id, "dropped")
		return nil
	}
	key := laneKey{agent: rt.agent.ID, chat: origin.ChatID}
	log := rt.logger.With(zap.String("chat", origin.ChatID), zap.String("tool_call_id", res.ToolCallID))
	if !rt.w.lanes.enqueue(key, func(ctx context.Context) {
		rt.logTurnError(log, rt.orch.Resume(ctx, res))
	}) {
		return ErrWorldClosed
	}
	return nil
}

func (rt *AgentRuntime) logTurnError(log *zap.Logger, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrTurnLimit):
		log.Info("turn ended at limit", zap.Error(err))
	default:
		log.Warn("turn ended with error", zap.Error(err))
	}
}

func (rt *AgentRuntime) String() string {
	return fmt.Sprintf("runtime(%s/%s)", rt.w.id, rt.agent.ID)
}
