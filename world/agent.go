package world

import (
	"sync"
	"time"
)

// AgentConfig describes an agent to add to a world.
type AgentConfig struct {
	ID           string
	Name         string
	Provider     string
	Model        string
	SystemPrompt string
	Temperature  *float64
}

// Agent is an LLM-backed participant. Its memory is append-only and holds
// messages from every chat the agent has seen; readers always filter by
// chat. LLM call counters are kept per chat.
type Agent struct {
	ID           string
	Name         string
	Provider     string
	Model        string
	SystemPrompt string
	Temperature  *float64

	mu         sync.RWMutex
	memory     []AgentMessage
	llmCalls   map[string]int
	lastActive time.Time
}

func newAgent(cfg AgentConfig) *Agent {
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	return &Agent{
		ID:           cfg.ID,
		Name:         name,
		Provider:     cfg.Provider,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		llmCalls:     make(map[string]int),
	}
}

func (a *Agent) restore(state *AgentState, memory []AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if state != nil {
		for chat, n := range state.LLMCalls {
			a.llmCalls[chat] = n
		}
		a.lastActive = state.LastActive
	}
	a.memory = memory
}

// Memory returns a copy of the agent's messages in chatID. An empty chatID
// returns every chat.
func (a *Agent) Memory(chatID string) []AgentMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return FilterChat(a.memory, chatID)
}

// LLMCallCount returns the number of LLM calls made in chatID since the last
// human or system message there.
func (a *Agent) LLMCallCount(chatID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.llmCalls[chatID]
}

// LastActive returns when the agent last produced or received a message.
func (a *Agent) LastActive() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastActive
}

// State returns the persistable state of the agent.
func (a *Agent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	calls := make(map[string]int, len(a.llmCalls))
	for k, v := range a.llmCalls {
		calls[k] = v
	}
	return AgentState{
		ID:           a.ID,
		Name:         a.Name,
		Provider:     a.Provider,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		Temperature:  a.Temperature,
		LLMCalls:     calls,
		LastActive:   a.lastActive,
	}
}

func (a *Agent) config() AgentConfig {
	return AgentConfig{
		ID:           a.ID,
		Name:         a.Name,
		Provider:     a.Provider,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		Temperature:  a.Temperature,
	}
}

func (a *Agent) appendMemory(msg AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = append(a.memory, msg.Clone())
	a.lastActive = msg.CreatedAt
}

// updateMemory applies fn to the message with id and returns the updated copy.
func (a *Agent) updateMemory(id string, fn func(*AgentMessage)) (AgentMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.memory {
		if a.memory[i].ID == id {
			fn(&a.memory[i])
			return a.memory[i].Clone(), true
		}
	}
	return AgentMessage{}, false
}

func (a *Agent) setLLMCalls(chatID string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.llmCalls[chatID] = n
}

// findToolCall locates the assistant message in the agent's own memory that
// recorded toolCallID.
func (a *Agent) findToolCall(toolCallID string) (ToolCall, AgentMessage, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return findToolCall(a.memory, toolCallID)
}

func findToolCall(memory []AgentMessage, toolCallID string) (ToolCall, AgentMessage, bool) {
	if toolCallID == "" {
		return ToolCall{}, AgentMessage{}, false
	}
	for i := len(memory) - 1; i >= 0; i-- {
		m := memory[i]
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return tc, m.Clone(), true
			}
		}
	}
	return ToolCall{}, AgentMessage{}, false
}
