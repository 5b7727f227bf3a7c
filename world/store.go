package world

import (
	"context"
	"sort"
	"sync"
	"time"
)

// AgentState is the persisted configuration and counters of an agent.
type AgentState struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	SystemPrompt string         `json:"systemPrompt"`
	Temperature  *float64       `json:"temperature,omitempty"`
	LLMCalls     map[string]int `json:"llmCalls"`
	LastActive   time.Time      `json:"lastActive"`
}

// MemoryStore persists agent memory and state. Implementations must be
// durable across restarts: pending approvals live in stored memory.
type MemoryStore interface {
	AppendMessage(ctx context.Context, worldID, agentID string, msg AgentMessage) error
	// UpdateMessage replaces the stored message with the same id.
	UpdateMessage(ctx context.Context, worldID, agentID string, msg AgentMessage) error
	// LoadMemory returns the agent's messages in append order. An empty
	// chatID returns every chat.
	LoadMemory(ctx context.Context, worldID, agentID, chatID string) ([]AgentMessage, error)
	SaveAgentState(ctx context.Context, worldID string, state AgentState) error
	// LoadAgentState returns ErrNotFound when no state is stored.
	LoadAgentState(ctx context.Context, worldID, agentID string) (*AgentState, error)
	ListAgentStates(ctx context.Context, worldID string) ([]AgentState, error)
	// DeleteAgent removes an agent's state and memory.
	DeleteAgent(ctx context.Context, worldID, agentID string) error
	DeleteWorld(ctx context.Context, worldID string) error
}

type memKey struct{ world, agent string }

// MemStore is an in-process MemoryStore. It survives World refreshes but not
// process restarts.
type MemStore struct {
	mu       sync.RWMutex
	messages map[memKey][]AgentMessage
	states   map[memKey]AgentState
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		messages: make(map[memKey][]AgentMessage),
		states:   make(map[memKey]AgentState),
	}
}

func (s *MemStore) AppendMessage(_ context.Context, worldID, agentID string, msg AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey{worldID, agentID}
	s.messages[k] = append(s.messages[k], msg.Clone())
	return nil
}

func (s *MemStore) UpdateMessage(_ context.Context, worldID, agentID string, msg AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[memKey{worldID, agentID}]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg.Clone()
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemStore) LoadMemory(_ context.Context, worldID, agentID, chatID string) ([]AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterChat(s.messages[memKey{worldID, agentID}], chatID), nil
}

func (s *MemStore) SaveAgentState(_ context.Context, worldID string, state AgentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[memKey{worldID, state.ID}] = cloneState(state)
	return nil
}

func (s *MemStore) LoadAgentState(_ context.Context, worldID, agentID string) (*AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[memKey{worldID, agentID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneState(st)
	return &out, nil
}

func (s *MemStore) ListAgentStates(_ context.Context, worldID string) ([]AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AgentState
	for k, st := range s.states {
		if k.world == worldID {
			out = append(out, cloneState(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) DeleteAgent(_ context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey{worldID, agentID}
	delete(s.messages, k)
	delete(s.states, k)
	return nil
}

func (s *MemStore) DeleteWorld(_ context.Context, worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.messages {
		if k.world == worldID {
			delete(s.messages, k)
		}
	}
	for k := range s.states {
		if k.world == worldID {
			delete(s.states, k)
		}
	}
	return nil
}

func cloneState(st AgentState) AgentState {
	out := st
	out.LLMCalls = make(map[string]int, len(st.LLMCalls))
	for k, v := range st.LLMCalls {
		out.LLMCalls[k] = v
	}
	if st.Temperature != nil {
		t := *st.Temperature
		out.Temperature = &t
	}
	return out
}
