package world

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TurnGovernor tracks LLM calls per (agent, chat) and enforces the world's
// turn limit. Every change is persisted before it is visible to callers.
type TurnGovernor struct {
	worldID string
	store   MemoryStore
	logger  *zap.Logger
}

// NewTurnGovernor creates a governor persisting through store.
func NewTurnGovernor(worldID string, store MemoryStore, logger *zap.Logger) *TurnGovernor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnGovernor{worldID: worldID, store: store, logger: logger}
}

// ResetIfNeeded clears the agent's counter in chatID when the triggering
// sender is a human or the system. It reports whether a reset happened.
func (g *TurnGovernor) ResetIfNeeded(ctx context.Context, agent *Agent, chatID string, sender SenderType) (bool, error) {
	if sender != SenderHuman && sender != SenderSystem {
		return false, nil
	}
	agent.setLLMCalls(chatID, 0)
	if err := g.persist(ctx, agent); err != nil {
		return true, err
	}
	g.logger.Debug("turn counter reset",
		zap.String("agent", agent.ID),
		zap.String("chat", chatID),
		zap.String("sender_type", string(sender)))
	return true, nil
}

// Increment records one LLM call and returns the new count.
func (g *TurnGovernor) Increment(ctx context.Context, agent *Agent, chatID string) (int, error) {
	n := agent.LLMCallCount(chatID) + 1
	agent.setLLMCalls(chatID, n)
	return n, g.persist(ctx, agent)
}

// HasReachedLimit reports whether the agent may not call the LLM again in
// chatID. A non-positive limit disables the check.
func (g *TurnGovernor) HasReachedLimit(agent *Agent, chatID string, turnLimit int) bool {
	if turnLimit <= 0 {
		return false
	}
	return agent.LLMCallCount(chatID) >= turnLimit
}

func (g *TurnGovernor) persist(ctx context.Context, agent *Agent) error {
	if err := g.store.SaveAgentState(ctx, g.worldID, agent.State()); err != nil {
		return fmt.Errorf("save agent state %s: %w", agent.ID, err)
	}
	return nil
}
