package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yysun/agent-world-sub009/mention"
)

// DefaultMaxIterations bounds the LLM calls of one turn.
const DefaultMaxIterations = 10

// trigger identifies who started a turn. Auto-mention decisions use it.
type trigger struct {
	sender     string
	senderType SenderType
}

// Orchestrator drives one agent's turns: call the LLM, branch on text or
// tool call, execute or suspend for approval, repeat.
type Orchestrator struct {
	w      *World
	agent  *Agent
	logger *zap.Logger
}

func newOrchestrator(w *World, agent *Agent) *Orchestrator {
	return &Orchestrator{
		w:      w,
		agent:  agent,
		logger: w.logger.With(zap.String("agent", agent.ID)),
	}
}

// ProcessTurn runs the bounded loop for chatID in response to ev. It returns
// nil when the turn ends with a reply, with nothing to say, or suspended on
// an approval. Turn-fatal errors have already been published as system
// events in chatID when they are returned.
func (o *Orchestrator) ProcessTurn(ctx context.Context, chatID string, ev Event) error {
	if chatID == "" {
		return ErrMissingChat
	}
	return o.run(ctx, chatID, trigger{sender: ev.Sender, senderType: ev.SenderType})
}

// Resume applies a verified resolution and re-enters the loop in the chat the
// tool call belongs to. Resolutions that fail verification are dropped and
// logged; Resume returns nil for them.
func (o *Orchestrator) Resume(ctx context.Context, res ToolResolution) error {
	call, origin, err := o.w.gate.VerifyOwnership(o.agent.Memory(""), res)
	if err != nil {
		o.logger.Warn("tool resolution dropped",
			zap.String("tool_call_id", res.ToolCallID),
			zap.String("claimed_agent", res.AgentID),
			zap.Error(err))
		o.w.metrics.resolution(o.w.id, "dropped")
		return nil
	}
	chatID := origin.ChatID
	log := o.logger.With(zap.String("chat", chatID), zap.String("tool_call_id", call.ID))

	scope := res.Scope
	if scope == "" {
		scope = ScopeOnce
	}

	tool := o.w.tools.Get(call.Name)
	workingDir := o.w.env.WorkingDirectory()
	if tool != nil {
		if args, err := ParseToolArguments(call.Arguments); err == nil {
			workingDir = tool.ResolveWorkingDirectory(args, o.w.env)
		}
	}

	var content string
	var isError bool
	switch res.Decision {
	case DecisionApprove:
		log.Info("tool call approved", zap.String("tool", call.Name), zap.String("scope", string(scope)))
		o.w.metrics.resolution(o.w.id, "approved")
		content, isError = o.execute(ctx, chatID, call)
	default:
		log.Info("tool call denied", zap.String("tool", call.Name))
		o.w.metrics.resolution(o.w.id, "denied")
		content = fmt.Sprintf("Tool execution denied by user: %s", call.Name)
		isError = true
	}

	result := AgentMessage{
		ID:         NewMessageID(),
		Role:       RoleTool,
		Content:    content,
		Sender:     o.agent.ID,
		SenderType: SenderAgent,
		ChatID:     chatID,
		AgentID:    o.agent.ID,
		ToolCallID: call.ID,
		ToolError:  isError,
		Resolution: resolutionRecord(call, workingDir, res.Decision, scope),
		CreatedAt:  time.Now(),
	}
	if err := o.appendAndPublish(ctx, result); err != nil {
		return o.fail(ctx, chatID, "persistence", err)
	}
	if err := o.completeToolCall(ctx, origin.ID, call.ID, completedStatus(res.Decision, scope)); err != nil {
		return o.fail(ctx, chatID, "persistence", err)
	}

	return o.run(ctx, chatID, o.recoverTrigger(chatID, origin.ID))
}

// SupersedePending closes every tool call of chatID still waiting for
// approval. Each one gets a denied tool result right after it so the
// context stays well formed, and later resolutions for it are dropped as
// already resolved. It returns the number of calls closed.
func (o *Orchestrator) SupersedePending(ctx context.Context, chatID string) (int, error) {
	n := 0
	for _, m := range o.agent.Memory(chatID) {
		for _, call := range m.ToolCalls {
			if !m.IsPending(call.ID) {
				continue
			}
			o.logger.Info("pending tool call superseded",
				zap.String("chat", chatID),
				zap.String("tool_call_id", call.ID),
				zap.String("tool", call.Name))
			o.w.metrics.resolution(o.w.id, "superseded")
			msg := AgentMessage{
				ID:         NewMessageID(),
				Role:       RoleTool,
				Content:    fmt.Sprintf("Tool call superseded by a newer message, not executed: %s", call.Name),
				Sender:     o.agent.ID,
				SenderType: SenderAgent,
				ChatID:     chatID,
				AgentID:    o.agent.ID,
				ToolCallID: call.ID,
				ToolError:  true,
				CreatedAt:  time.Now(),
			}
			if err := o.appendAndPublish(ctx, msg); err != nil {
				return n, err
			}
			if err := o.completeToolCall(ctx, m.ID, call.ID, supersededStatus()); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// recoverTrigger finds the message that started the suspended turn: the
// latest user message in chatID before the message holding the tool call.
func (o *Orchestrator) recoverTrigger(chatID, originID string) trigger {
	memory := o.agent.Memory(chatID)
	end := len(memory)
	for i, m := range memory {
		if m.ID == originID {
			end = i
			break
		}
	}
	for i := end - 1; i >= 0; i-- {
		if memory[i].Role == RoleUser && memory[i].Sender != "" {
			return trigger{sender: memory[i].Sender, senderType: memory[i].SenderType}
		}
	}
	return trigger{sender: "human", senderType: SenderHuman}
}

func (o *Orchestrator) run(ctx context.Context, chatID string, trig trigger) error {
	w := o.w
	log := o.logger.With(zap.String("chat", chatID))

	for iteration := 0; iteration < w.maxIterations; iteration++ {
		if w.governor.HasReachedLimit(o.agent, chatID, w.turnLimit) {
			log.Info("turn limit reached", zap.Int("limit", w.turnLimit))
			w.bus.Publish(ctx, systemEvent(o.agent.ID, chatID, LevelWarning,
				fmt.Sprintf("@%s reached the turn limit of %d LLM calls in this chat and is waiting for a human message.", o.agent.ID, w.turnLimit)))
			return fmt.Errorf("agent %s in chat %s: %w", o.agent.ID, chatID, ErrTurnLimit)
		}
		if _, err := w.governor.Increment(ctx, o.agent, chatID); err != nil {
			return o.fail(ctx, chatID, "persistence", err)
		}

		result, messageID, err := o.callLLM(ctx, chatID)
		if err != nil {
			w.metrics.llmCall(w.id, o.agent.ID, "error")
			return o.fail(ctx, chatID, "llm", err)
		}
		w.metrics.llmCall(w.id, o.agent.ID, string(result.Type))

		if result.Type != ResultToolCalls || len(result.ToolCalls) == 0 {
			return o.reply(ctx, chatID, messageID, result.Content, trig)
		}

		suspended, err := o.handleToolCalls(ctx, chatID, messageID, result)
		if err != nil {
			return err
		}
		if suspended {
			return nil
		}

		if w.loopWindow > 0 && DetectLoop(o.agent.Memory(chatID), w.loopWindow) {
			o.warnLoop(ctx, chatID)
		}
	}

	log.Warn("max iterations reached", zap.Int("max_iterations", w.maxIterations))
	w.metrics.turnError(w.id, "max_iterations")
	w.bus.Publish(ctx, systemEvent(o.agent.ID, chatID, LevelError,
		fmt.Sprintf("@%s stopped after %d LLM calls without a final reply.", o.agent.ID, w.maxIterations)))
	return fmt.Errorf("agent %s in chat %s: %w", o.agent.ID, chatID, ErrMaxIterations)
}

// callLLM calls the provider, publishing streamed deltas as sse events that
// share the returned message id.
func (o *Orchestrator) callLLM(ctx context.Context, chatID string) (*LLMResult, string, error) {
	w := o.w
	messageID := NewMessageID()
	cfg := o.agent.config()

	req := LLMRequest{
		WorldID:  w.id,
		AgentID:  o.agent.ID,
		ChatID:   chatID,
		Provider: cfg.Provider,
		Model:    cfg.Model,
		SystemPrompt: BuildSystemPrompt(PromptContext{
			WorldName: w.name,
			Agent:     cfg,
			Roster:    w.roster(),
			Tools:     w.tools.Definitions(),
			Env:       w.env,
		}),
		Messages:    o.agent.Memory(chatID),
		Tools:       w.tools.Definitions(),
		Temperature: cfg.Temperature,
		OnChunk: func(delta string) {
			w.bus.Publish(ctx, sseEvent(o.agent.ID, chatID, messageID, SSEPayload{Kind: SSEChunk, Content: delta}))
		},
	}

	w.bus.Publish(ctx, sseEvent(o.agent.ID, chatID, messageID, SSEPayload{Kind: SSEStart}))
	result, err := w.llm.Call(ctx, req)
	if err != nil {
		w.bus.Publish(ctx, sseEvent(o.agent.ID, chatID, messageID, SSEPayload{Kind: SSEError, Error: err.Error()}))
		return nil, messageID, err
	}
	if result == nil {
		result = &LLMResult{Type: ResultText}
	}
	w.bus.Publish(ctx, sseEvent(o.agent.ID, chatID, messageID, SSEPayload{Kind: SSEEnd}))
	return result, messageID, nil
}

// reply finishes a turn with a text response.
func (o *Orchestrator) reply(ctx context.Context, chatID, messageID, content string, trig trigger) error {
	if strings.TrimSpace(content) == "" {
		o.logger.Debug("empty reply, nothing published", zap.String("chat", chatID))
		return nil
	}
	text := mention.ApplyAutoMention(content, o.agent.ID, trig.sender, trig.senderType == SenderHuman)
	msg := AgentMessage{
		ID:         messageID,
		Role:       RoleAssistant,
		Content:    text,
		Sender:     o.agent.ID,
		SenderType: SenderAgent,
		ChatID:     chatID,
		AgentID:    o.agent.ID,
		CreatedAt:  time.Now(),
	}
	if err := o.appendAndPublish(ctx, msg); err != nil {
		return o.fail(ctx, chatID, "persistence", err)
	}
	return nil
}

// handleToolCalls processes the first tool call of result. It reports
// whether the turn is suspended waiting for approval.
func (o *Orchestrator) handleToolCalls(ctx context.Context, chatID, messageID string, result *LLMResult) (bool, error) {
	w := o.w
	call := result.ToolCalls[0]
	if call.ID == "" {
		call.ID = "call_" + uuid.New().String()[:8]
	}
	if len(call.Arguments) == 0 {
		call.Arguments = json.RawMessage(`{}`)
	}
	log := o.logger.With(zap.String("chat", chatID), zap.String("tool_call_id", call.ID), zap.String("tool", call.Name))

	if extra := result.ToolCalls[1:]; len(extra) > 0 {
		ids := make([]string, len(extra))
		for i, tc := range extra {
			ids[i] = tc.ID + " (" + tc.Name + ")"
		}
		log.Warn("ignoring additional tool calls", zap.Strings("ignored", ids))
		w.bus.Publish(ctx, systemEvent(o.agent.ID, chatID, LevelWarning,
			fmt.Sprintf("@%s requested %d tool calls at once; only %s ran. Ignored: %s",
				o.agent.ID, len(result.ToolCalls), call.ID, strings.Join(ids, ", "))))
	}

	origin := AgentMessage{
		ID:             messageID,
		Role:           RoleAssistant,
		Content:        result.Content,
		Sender:         o.agent.ID,
		SenderType:     SenderAgent,
		ChatID:         chatID,
		AgentID:        o.agent.ID,
		ToolCalls:      []ToolCall{call},
		ToolCallStatus: map[string]ToolCallStatus{call.ID: {Complete: false}},
		CreatedAt:      time.Now(),
	}
	if err := o.appendAndPublish(ctx, origin); err != nil {
		return false, o.fail(ctx, chatID, "persistence", err)
	}

	tool := w.tools.Get(call.Name)
	if tool == nil {
		log.Warn("unknown tool requested")
		w.metrics.toolExecution(w.id, call.Name, "unknown")
		return false, o.finishToolCall(ctx, chatID, origin.ID, call, fmt.Sprintf("Unknown tool: %s", call.Name), true, ToolCallStatus{Complete: true})
	}
	args, err := tool.Validate(call.Arguments)
	if err != nil {
		log.Warn("invalid tool arguments", zap.Error(err))
		w.metrics.toolExecution(w.id, call.Name, "invalid")
		return false, o.finishToolCall(ctx, chatID, origin.ID, call, fmt.Sprintf("Tool error (%s): %v", call.Name, err), true, ToolCallStatus{Complete: true})
	}

	status := ToolCallStatus{Complete: true}
	if tool.RequiresApproval {
		inv := ToolInvocation{
			ToolCallID:       call.ID,
			AgentID:          o.agent.ID,
			ChatID:           chatID,
			Name:             call.Name,
			Args:             call.Arguments,
			WorkingDirectory: tool.ResolveWorkingDirectory(args, w.env),
		}
		check := w.gate.CheckApproval(o.agent.Memory(chatID), inv)
		if check.NeedsApproval {
			return true, o.requestApproval(ctx, chatID, check.Request)
		}
		status = completedStatus(DecisionApprove, ScopeSession)
	}

	content, isError := o.execute(ctx, chatID, call)
	return false, o.finishToolCall(ctx, chatID, origin.ID, call, content, isError, status)
}

// execute runs the recorded call and returns its truncated output.
func (o *Orchestrator) execute(ctx context.Context, chatID string, call ToolCall) (string, bool) {
	w := o.w
	log := o.logger.With(zap.String("chat", chatID), zap.String("tool_call_id", call.ID), zap.String("tool", call.Name))

	tool := w.tools.Get(call.Name)
	if tool == nil {
		w.metrics.toolExecution(w.id, call.Name, "unknown")
		return fmt.Sprintf("Unknown tool: %s", call.Name), true
	}
	if _, err := tool.Validate(call.Arguments); err != nil {
		w.metrics.toolExecution(w.id, call.Name, "invalid")
		return fmt.Sprintf("Tool error (%s): %v", call.Name, err), true
	}

	output, err := tool.Executor(ctx, call.Arguments, w.env)
	if err != nil {
		log.Warn("tool execution failed", zap.Error(err))
		w.metrics.toolExecution(w.id, call.Name, "error")
		return fmt.Sprintf("Tool error (%s): %v", call.Name, err), true
	}
	w.metrics.toolExecution(w.id, call.Name, "ok")
	log.Debug("tool output", zap.Int("bytes", len(output)), zap.String("output", output))
	return TruncateToolOutput(output, call.Name), false
}

// finishToolCall appends the tool result and marks the call complete.
func (o *Orchestrator) finishToolCall(ctx context.Context, chatID, originID string, call ToolCall, content string, isError bool, status ToolCallStatus) error {
	msg := AgentMessage{
		ID:         NewMessageID(),
		Role:       RoleTool,
		Content:    content,
		Sender:     o.agent.ID,
		SenderType: SenderAgent,
		ChatID:     chatID,
		AgentID:    o.agent.ID,
		ToolCallID: call.ID,
		ToolError:  isError,
		CreatedAt:  time.Now(),
	}
	if err := o.appendAndPublish(ctx, msg); err != nil {
		return o.fail(ctx, chatID, "persistence", err)
	}
	if err := o.completeToolCall(ctx, originID, call.ID, status); err != nil {
		return o.fail(ctx, chatID, "persistence", err)
	}
	return nil
}

// requestApproval publishes req as an assistant message carrying a
// requestApproval pseudo tool call. The pending state itself is already
// durable on the originating message.
func (o *Orchestrator) requestApproval(ctx context.Context, chatID string, req *ApprovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return o.fail(ctx, chatID, "encode", err)
	}
	o.logger.Info("approval requested",
		zap.String("chat", chatID),
		zap.String("tool_call_id", req.ToolCallID),
		zap.String("tool", req.ToolName),
		zap.String("request_id", req.RequestID))
	o.w.metrics.approvalRequested(o.w.id, req.ToolName)

	msg := AgentMessage{
		ID:         req.RequestID,
		Role:       RoleAssistant,
		Content:    fmt.Sprintf("Approval required to run %s in %s.", req.ToolName, req.WorkingDirectory),
		Sender:     o.agent.ID,
		SenderType: SenderAgent,
		ChatID:     chatID,
		AgentID:    o.agent.ID,
		ToolCalls:  []ToolCall{{ID: req.RequestID, Name: ApprovalToolName, Arguments: payload}},
		CreatedAt:  time.Now(),
	}
	o.w.bus.Publish(ctx, messageEvent(msg))
	return nil
}

func (o *Orchestrator) completeToolCall(ctx context.Context, originID, toolCallID string, status ToolCallStatus) error {
	updated, ok := o.agent.updateMemory(originID, func(m *AgentMessage) {
		if m.ToolCallStatus == nil {
			m.ToolCallStatus = make(map[string]ToolCallStatus)
		}
		m.ToolCallStatus[toolCallID] = status
	})
	if !ok {
		return fmt.Errorf("originating message %s: %w", originID, ErrNotFound)
	}
	if err := o.w.store.UpdateMessage(ctx, o.w.id, o.agent.ID, updated); err != nil {
		return fmt.Errorf("update message %s: %w", originID, err)
	}
	return nil
}

func (o *Orchestrator) appendAndPublish(ctx context.Context, msg AgentMessage) error {
	if err := o.w.appendMemory(ctx, o.agent, msg); err != nil {
		return err
	}
	o.w.bus.Publish(ctx, messageEvent(msg))
	return nil
}

func (o *Orchestrator) warnLoop(ctx context.Context, chatID string) {
	warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", o.w.loopWindow)
	o.logger.Warn("tool loop detected", zap.String("chat", chatID), zap.Int("window", o.w.loopWindow))
	steer := AgentMessage{
		ID:         NewMessageID(),
		Role:       RoleSystem,
		Content:    warning,
		Sender:     "system",
		SenderType: SenderSystem,
		ChatID:     chatID,
		AgentID:    o.agent.ID,
		CreatedAt:  time.Now(),
	}
	if err := o.w.appendMemory(ctx, o.agent, steer); err != nil {
		o.logger.Warn("loop warning not persisted", zap.Error(err))
	}
	o.w.bus.Publish(ctx, systemEvent(o.agent.ID, chatID, LevelWarning, warning))
}

// fail publishes a turn-fatal error in chatID and returns it.
func (o *Orchestrator) fail(ctx context.Context, chatID, reason string, err error) error {
	o.logger.Error("turn failed", zap.String("chat", chatID), zap.String("reason", reason), zap.Error(err))
	o.w.metrics.turnError(o.w.id, reason)
	content := fmt.Sprintf("@%s could not finish its turn: %v", o.agent.ID, err)
	if errors.Is(err, context.Canceled) {
		content = fmt.Sprintf("@%s turn cancelled.", o.agent.ID)
	}
	o.w.bus.Publish(ctx, systemEvent(o.agent.ID, chatID, LevelError, content))
	return fmt.Errorf("agent %s in chat %s: %s: %w", o.agent.ID, chatID, reason, err)
}
