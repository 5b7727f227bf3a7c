package world

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnGovernorReachesLimitExactly(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	gov := NewTurnGovernor("w", store, nil)
	agent := newAgent(AgentConfig{ID: "a1"})
	const limit = 5

	reset, err := gov.ResetIfNeeded(ctx, agent, "c1", SenderHuman)
	require.NoError(t, err)
	assert.True(t, reset)

	for i := 1; i <= limit; i++ {
		assert.False(t, gov.HasReachedLimit(agent, "c1", limit), "call %d", i)
		reset, err := gov.ResetIfNeeded(ctx, agent, "c1", SenderAgent)
		require.NoError(t, err)
		assert.False(t, reset)
		n, err := gov.Increment(ctx, agent, "c1")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.True(t, gov.HasReachedLimit(agent, "c1", limit))

	_, err = gov.Increment(ctx, agent, "c1")
	require.NoError(t, err)
	assert.True(t, gov.HasReachedLimit(agent, "c1", limit))
}

func TestTurnGovernorCountsPerChat(t *testing.T) {
	ctx := context.Background()
	gov := NewTurnGovernor("w", NewMemStore(), nil)
	agent := newAgent(AgentConfig{ID: "a1"})

	for i := 0; i < 2; i++ {
		_, err := gov.Increment(ctx, agent, "c1")
		require.NoError(t, err)
	}
	assert.True(t, gov.HasReachedLimit(agent, "c1", 2))
	assert.False(t, gov.HasReachedLimit(agent, "c2", 2))

	_, err := gov.ResetIfNeeded(ctx, agent, "c2", SenderSystem)
	require.NoError(t, err)
	assert.Equal(t, 2, agent.LLMCallCount("c1"))
}

func TestTurnGovernorNonPositiveLimitDisables(t *testing.T) {
	gov := NewTurnGovernor("w", NewMemStore(), nil)
	agent := newAgent(AgentConfig{ID: "a1"})
	for i := 0; i < 50; i++ {
		_, err := gov.Increment(context.Background(), agent, "c1")
		require.NoError(t, err)
	}
	assert.False(t, gov.HasReachedLimit(agent, "c1", 0))
	assert.False(t, gov.HasReachedLimit(agent, "c1", -1))
}

func TestTurnGovernorPersistsEveryChange(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	gov := NewTurnGovernor("w", store, nil)
	agent := newAgent(AgentConfig{ID: "a1"})

	_, err := gov.Increment(ctx, agent, "c1")
	require.NoError(t, err)
	_, err = gov.Increment(ctx, agent, "c1")
	require.NoError(t, err)
	st, err := store.LoadAgentState(ctx, "w", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.LLMCalls["c1"])

	_, err = gov.ResetIfNeeded(ctx, agent, "c1", SenderHuman)
	require.NoError(t, err)
	st, err = store.LoadAgentState(ctx, "w", "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.LLMCalls["c1"])
}

type failingStateStore struct {
	*MemStore
}

func (failingStateStore) SaveAgentState(context.Context, string, AgentState) error {
	return errors.New("disk full")
}

func TestTurnGovernorSurfacesPersistenceErrors(t *testing.T) {
	gov := NewTurnGovernor("w", failingStateStore{NewMemStore()}, nil)
	agent := newAgent(AgentConfig{ID: "a1"})
	_, err := gov.Increment(context.Background(), agent, "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
