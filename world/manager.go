package world

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager owns the worlds of a process, keyed by id.
type Manager struct {
	store  MemoryStore
	llm    LLMProvider
	opts   []Option
	logger *zap.Logger

	mu     sync.Mutex
	worlds map[string]*World
}

// NewManager creates a Manager whose worlds share store, llm and opts.
func NewManager(store MemoryStore, llm LLMProvider, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		llm:    llm,
		opts:   append([]Option{WithLogger(logger)}, opts...),
		logger: logger,
		worlds: make(map[string]*World),
	}
}

// CreateWorld builds a world and adds agents to it.
func (m *Manager) CreateWorld(ctx context.Context, cfg Config, agents []AgentConfig) (*World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.worlds[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWorldExists, cfg.ID)
	}
	w, err := m.build(ctx, cfg, agents)
	if err != nil {
		return nil, err
	}
	m.worlds[cfg.ID] = w
	m.logger.Info("world created", zap.String("world", cfg.ID), zap.Int("agents", len(agents)))
	return w, nil
}

func (m *Manager) build(ctx context.Context, cfg Config, agents []AgentConfig, extra ...Option) (*World, error) {
	opts := append(append([]Option(nil), m.opts...), extra...)
	w, err := New(cfg, m.store, m.llm, opts...)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if _, err := w.AddAgent(ctx, a); err != nil {
			_ = w.Close(ctx)
			return nil, fmt.Errorf("world %s: %w", cfg.ID, err)
		}
	}
	return w, nil
}

// GetWorld returns the world with id.
func (m *Manager) GetWorld(id string) (*World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worlds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, id)
	}
	return w, nil
}

// ListWorlds returns the ids of the managed worlds, sorted.
func (m *Manager) ListWorlds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.worlds))
	for id := range m.worlds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RefreshWorld closes the world and replaces it with a new instance, with a
// new bus, rebuilt from the store. Handlers subscribed to the old world
// never see events from the new one.
func (m *Manager) RefreshWorld(ctx context.Context, id string) (*World, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.worlds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, id)
	}
	delete(m.worlds, id)
	if err := old.Close(ctx); err != nil {
		return nil, fmt.Errorf("close world %s: %w", id, err)
	}

	states, err := m.store.ListAgentStates(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list agents of world %s: %w", id, err)
	}
	agents := make([]AgentConfig, len(states))
	for i, st := range states {
		agents[i] = AgentConfig{
			ID:           st.ID,
			Name:         st.Name,
			Provider:     st.Provider,
			Model:        st.Model,
			SystemPrompt: st.SystemPrompt,
			Temperature:  st.Temperature,
		}
	}

	w, err := m.build(ctx, old.Config(), agents, WithTools(old.tools), WithEnvironment(old.env))
	if err != nil {
		return nil, err
	}
	m.worlds[id] = w
	m.logger.Info("world refreshed", zap.String("world", id), zap.Int("agents", len(agents)))
	return w, nil
}

// DeleteWorld closes the world and removes its stored state.
func (m *Manager) DeleteWorld(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.worlds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorld, id)
	}
	delete(m.worlds, id)
	if err := w.Close(ctx); err != nil {
		m.logger.Warn("world close interrupted", zap.String("world", id), zap.Error(err))
	}
	if err := m.store.DeleteWorld(ctx, id); err != nil {
		return fmt.Errorf("delete world %s: %w", id, err)
	}
	m.logger.Info("world deleted", zap.String("world", id))
	return nil
}

// Close closes every world.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	worlds := make([]*World, 0, len(m.worlds))
	for _, w := range m.worlds {
		worlds = append(worlds, w)
	}
	m.worlds = make(map[string]*World)
	m.mu.Unlock()

	var firstErr error
	for _, w := range worlds {
		if err := w.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
