package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yysun/agent-world-sub009/world"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "agentworld.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = again.Close() }()
	require.NoError(t, again.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("0007_add_index.sql")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = parseMigrationVersion("init.sql")
	assert.Error(t, err)
}

func TestMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	origin := world.AgentMessage{
		ID:             "m1",
		Role:           world.RoleAssistant,
		ChatID:         "c1",
		AgentID:        "a1",
		ToolCalls:      []world.ToolCall{{ID: "call_1", Name: world.ToolShellCmd, Arguments: json.RawMessage(`{"command":"ls"}`)}},
		ToolCallStatus: map[string]world.ToolCallStatus{"call_1": {}},
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.AppendMessage(ctx, "w", "a1", world.AgentMessage{ID: "m0", Role: world.RoleUser, ChatID: "c1", Content: "run ls"}))
	require.NoError(t, s.AppendMessage(ctx, "w", "a1", origin))
	require.NoError(t, s.AppendMessage(ctx, "w", "a1", world.AgentMessage{ID: "m2", Role: world.RoleUser, ChatID: "c2"}))
	require.NoError(t, s.AppendMessage(ctx, "w", "a2", world.AgentMessage{ID: "m0", Role: world.RoleUser, ChatID: "c1"}))

	// same id twice for one agent is a conflict
	assert.Error(t, s.AppendMessage(ctx, "w", "a1", world.AgentMessage{ID: "m1", ChatID: "c1"}))

	got, err := s.LoadMemory(ctx, "w", "a1", "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m0", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
	assert.JSONEq(t, `{"command":"ls"}`, string(got[1].ToolCalls[0].Arguments))
	assert.True(t, got[1].IsPending("call_1"))
	assert.True(t, origin.CreatedAt.Equal(got[1].CreatedAt))

	all, err := s.LoadMemory(ctx, "w", "a1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	updated := got[1]
	updated.ToolCallStatus["call_1"] = world.ToolCallStatus{
		Complete: true,
		Result:   &world.ToolCallResult{Decision: world.DecisionApprove, Scope: world.ScopeOnce, Timestamp: time.Now()},
	}
	require.NoError(t, s.UpdateMessage(ctx, "w", "a1", updated))

	got, err = s.LoadMemory(ctx, "w", "a1", "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[1].ID, "update keeps position")
	assert.False(t, got[1].IsPending("call_1"))

	assert.ErrorIs(t, s.UpdateMessage(ctx, "w", "a1", world.AgentMessage{ID: "missing"}), world.ErrNotFound)
}

func TestAgentStates(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	temp := 0.3

	_, err := s.LoadAgentState(ctx, "w", "a1")
	assert.ErrorIs(t, err, world.ErrNotFound)

	require.NoError(t, s.SaveAgentState(ctx, "w", world.AgentState{ID: "b", Model: "gpt-4o-mini", LLMCalls: map[string]int{"c1": 2}, Temperature: &temp}))
	require.NoError(t, s.SaveAgentState(ctx, "w", world.AgentState{ID: "a"}))
	require.NoError(t, s.SaveAgentState(ctx, "other", world.AgentState{ID: "z"}))
	require.NoError(t, s.SaveAgentState(ctx, "w", world.AgentState{ID: "b", Model: "gpt-4o", LLMCalls: map[string]int{"c1": 3}, Temperature: &temp}))

	st, err := s.LoadAgentState(ctx, "w", "b")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", st.Model)
	assert.Equal(t, 3, st.LLMCalls["c1"])
	require.NotNil(t, st.Temperature)
	assert.Equal(t, 0.3, *st.Temperature)

	st, err = s.LoadAgentState(ctx, "w", "a")
	require.NoError(t, err)
	assert.NotNil(t, st.LLMCalls)

	states, err := s.ListAgentStates(ctx, "w")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].ID)
	assert.Equal(t, "b", states[1].ID)

	worlds, err := s.ListWorlds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "w"}, worlds)
}

func TestDeleteWorld(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.SaveAgentState(ctx, "w", world.AgentState{ID: "a"}))
	require.NoError(t, s.AppendMessage(ctx, "w", "a", world.AgentMessage{ID: "m1", ChatID: "c1"}))
	require.NoError(t, s.SaveAgentState(ctx, "keep", world.AgentState{ID: "a"}))
	require.NoError(t, s.AppendMessage(ctx, "keep", "a", world.AgentMessage{ID: "m1", ChatID: "c1"}))

	require.NoError(t, s.DeleteWorld(ctx, "w"))

	states, err := s.ListAgentStates(ctx, "w")
	require.NoError(t, err)
	assert.Empty(t, states)
	mem, err := s.LoadMemory(ctx, "w", "a", "")
	require.NoError(t, err)
	assert.Empty(t, mem)

	mem, err = s.LoadMemory(ctx, "keep", "a", "")
	require.NoError(t, err)
	assert.Len(t, mem, 1)
}

func TestDeleteAgent(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.SaveAgentState(ctx, "w", world.AgentState{ID: id}))
		require.NoError(t, s.AppendMessage(ctx, "w", id, world.AgentMessage{ID: "m1", ChatID: "c1"}))
	}
	require.NoError(t, s.DeleteAgent(ctx, "w", "a"))

	_, err := s.LoadAgentState(ctx, "w", "a")
	assert.ErrorIs(t, err, world.ErrNotFound)
	mem, err := s.LoadMemory(ctx, "w", "a", "")
	require.NoError(t, err)
	assert.Empty(t, mem)

	states, err := s.ListAgentStates(ctx, "w")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "b", states[0].ID)
}

func TestInMemoryDatabase(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.SaveAgentState(context.Background(), "w", world.AgentState{ID: "a"}))
	states, err := s.ListAgentStates(context.Background(), "w")
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

// toolThenReply asks for one shell command, then echoes the tool output.
type toolThenReply struct{}

func (toolThenReply) Call(_ context.Context, req world.LLMRequest) (*world.LLMResult, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == world.RoleTool {
		return &world.LLMResult{Type: world.ResultText, Content: "done: " + last.Content}, nil
	}
	return &world.LLMResult{Type: world.ResultToolCalls, ToolCalls: []world.ToolCall{{
		ID: "call_1", Name: world.ToolShellCmd, Arguments: json.RawMessage(`{"command":"echo from-sqlite"}`),
	}}}, nil
}

func openWorld(t *testing.T, s *Store, dir string, llm world.LLMProvider) *world.World {
	t.Helper()
	w, err := world.New(world.Config{ID: "w", WorkingDirectory: dir, TurnLimit: 10}, s, llm)
	require.NoError(t, err)
	_, err = w.AddAgent(context.Background(), world.AgentConfig{ID: "a1", Provider: "openai", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	return w
}

func TestPendingApprovalSurvivesReopen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dir := t.TempDir()
	s, path := openTestStore(t)
	llm := toolThenReply{}

	first := openWorld(t, s, dir, llm)
	_, err := first.SendMessage(ctx, "c1", "human", "run something")
	require.NoError(t, err)
	require.NoError(t, first.Wait(ctx))
	require.Len(t, first.PendingToolCalls("c1"), 1)
	require.NoError(t, first.Close(ctx))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	second := openWorld(t, reopened, dir, llm)
	defer func() { _ = second.Close(ctx) }()

	a1, ok := second.Agent("a1")
	require.True(t, ok)
	assert.Equal(t, 1, a1.LLMCallCount("c1"))
	pending := second.PendingToolCalls("c1")
	require.Len(t, pending, 1)
	assert.Equal(t, "call_1", pending[0].ToolCall.ID)

	var (
		mu      sync.Mutex
		replies []string
	)
	second.Subscribe(func(_ context.Context, ev world.Event) error {
		if ev.Type == world.EventMessage && ev.Sender == "a1" && ev.Message.Role == world.RoleAssistant && len(ev.Message.ToolCalls) == 0 {
			mu.Lock()
			replies = append(replies, ev.Message.Content)
			mu.Unlock()
		}
		return nil
	})

	require.NoError(t, second.ResolveTool(ctx, world.ToolResolution{
		ToolCallID: "call_1", AgentID: "a1", Decision: world.DecisionApprove, ToolName: world.ToolShellCmd,
	}))
	require.NoError(t, second.Wait(ctx))

	mu.Lock()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "from-sqlite")
	mu.Unlock()
	assert.Empty(t, second.PendingToolCalls("c1"))

	stored, err := reopened.LoadMemory(ctx, "w", "a1", "c1")
	require.NoError(t, err)
	inMemory := a1.Memory("c1")
	require.Len(t, stored, len(inMemory))
	for i := range stored {
		assert.Equal(t, inMemory[i].ID, stored[i].ID)
		assert.Equal(t, inMemory[i].Role, stored[i].Role)
	}
	last := stored[len(stored)-1]
	assert.Equal(t, world.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "from-sqlite")
}
