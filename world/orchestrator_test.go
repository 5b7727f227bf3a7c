package world

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanMessageGetsReplyWithoutAutoMention(t *testing.T) {
	llm := newScriptedLLM(func(LLMRequest) (*LLMResult, error) {
		return textResult("hello there"), nil
	})
	tw := newTestWorld(t, Config{}, llm, "a1")

	tw.send(t, "c1", "hi")

	assert.Equal(t, []string{"hello there"}, tw.rec.replies("c1", "a1"))

	memory := mustAgent(t, tw, "a1").Memory("c1")
	require.Len(t, memory, 2)
	assert.Equal(t, RoleUser, memory[0].Role)
	assert.Equal(t, "human", memory[0].Sender)
	assert.Equal(t, RoleAssistant, memory[1].Role)

	// sse events for the reply share its message id and chat
	var kinds []SSEKind
	for _, ev := range tw.rec.all() {
		if ev.Type != EventSSE {
			continue
		}
		assert.Equal(t, memory[1].ID, ev.MessageID)
		assert.Equal(t, "c1", ev.ChatID)
		kinds = append(kinds, ev.SSE.Kind)
	}
	assert.Equal(t, []SSEKind{SSEStart, SSEChunk, SSEEnd}, kinds)
}

func TestAgentMentionRouting(t *testing.T) {
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		last := lastMessage(req)
		switch req.AgentID {
		case "a1":
			if last.Sender == "human" {
				return textResult("@a2 please review"), nil
			}
			return textResult("@human all done"), nil
		default:
			if last.Sender == "human" {
				return textResult(""), nil
			}
			return textResult("looks good"), nil
		}
	})
	tw := newTestWorld(t, Config{TurnLimit: 5}, llm, "a1", "a2")

	tw.send(t, "c1", "please write a plan")

	assert.Equal(t, []string{"@a2 please review", "@human all done"}, tw.rec.replies("c1", "a1"))
	assert.Equal(t, []string{"@a1 looks good"}, tw.rec.replies("c1", "a2"))
	assert.Len(t, llm.callsFor("a2"), 2)
}

func TestTurnLimitStopsAgentPingPong(t *testing.T) {
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		if req.AgentID == "a1" {
			return textResult("@a2 ping"), nil
		}
		return textResult("@a1 pong"), nil
	})
	tw := newTestWorld(t, Config{TurnLimit: 3}, llm, "a1", "a2")

	tw.send(t, "c1", "start")

	assert.Len(t, llm.callsFor("a1"), 3)
	assert.Len(t, llm.callsFor("a2"), 3)
	assert.Equal(t, 3, mustAgent(t, tw, "a1").LLMCallCount("c1"))
	assert.Equal(t, 3, mustAgent(t, tw, "a2").LLMCallCount("c1"))

	var warned bool
	for _, s := range tw.rec.system("c1") {
		if s.Level == LevelWarning && strings.Contains(s.Content, "turn limit") {
			warned = true
		}
	}
	assert.True(t, warned)

	// a human message gives both agents a fresh budget
	tw.send(t, "c1", "again")
	assert.Len(t, llm.callsFor("a1"), 6)
	assert.Len(t, llm.callsFor("a2"), 6)
}

func lsWorld(t *testing.T, opts ...Option) (*testWorld, *scriptedLLM) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.txt"), []byte("b"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	ids := &idSeq{}
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		last := lastMessage(req)
		switch last.Role {
		case RoleTool:
			return textResult("Directory listing:\n" + last.Content), nil
		default:
			if strings.Contains(last.Content, "sub") {
				return toolResult(ids.next("call"), ToolShellCmd, `{"command":"ls","directory":"sub"}`), nil
			}
			return toolResult(ids.next("call"), ToolShellCmd, `{"command":"ls"}`), nil
		}
	})
	tw := newTestWorldWithStore(t, NewMemStore(), Config{WorkingDirectory: dir}, llm, opts, "a1")
	return tw, llm
}

func TestShellCommandApprovedOnce(t *testing.T) {
	tw, llm := lsWorld(t)
	a1 := mustAgent(t, tw, "a1")

	tw.send(t, "c1", "run ls")

	reqs := tw.rec.approvalRequests("c1")
	require.Len(t, reqs, 1)
	assert.Equal(t, ToolShellCmd, reqs[0].ToolName)
	assert.Equal(t, "a1", reqs[0].AgentID)
	assert.Equal(t, tw.Environment().WorkingDirectory(), reqs[0].WorkingDirectory)
	assert.Empty(t, tw.rec.replies("c1", "a1"))

	pending := tw.PendingToolCalls("c1")
	require.Len(t, pending, 1)
	call := pending[0].ToolCall
	assert.Equal(t, reqs[0].ToolCallID, call.ID)

	tw.resolve(t, ToolResolution{
		ToolCallID: call.ID,
		AgentID:    "a1",
		ChatID:     "c1",
		Decision:   DecisionApprove,
		Scope:      ScopeOnce,
		ToolName:   ToolShellCmd,
		ToolArgs:   call.Arguments,
	})

	replies := tw.rec.replies("c1", "a1")
	require.Len(t, replies, 1)
	assert.True(t, containsAll(replies[0], "alpha.txt", "beta.txt"), replies[0])
	assert.Empty(t, tw.PendingToolCalls("c1"))
	assert.Len(t, llm.callsFor("a1"), 2)

	_, origin, ok := a1.findToolCall(call.ID)
	require.True(t, ok)
	st := origin.ToolCallStatus[call.ID]
	assert.True(t, st.Complete)
	require.NotNil(t, st.Result)
	assert.Equal(t, DecisionApprove, st.Result.Decision)
	assert.Equal(t, ScopeOnce, st.Result.Scope)

	var toolMsg *AgentMessage
	for _, m := range a1.Memory("c1") {
		if m.Role == RoleTool {
			m := m
			toolMsg = &m
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, call.ID, toolMsg.ToolCallID)
	assert.False(t, toolMsg.ToolError)
	require.NotNil(t, toolMsg.Resolution)
	assert.Equal(t, ScopeOnce, toolMsg.Resolution.Scope)

	// once is not remembered
	tw.send(t, "c1", "run ls again")
	assert.Len(t, tw.rec.approvalRequests("c1"), 2)
	assert.Len(t, tw.PendingToolCalls("c1"), 1)
	assert.Len(t, tw.rec.replies("c1", "a1"), 1)
}

func TestShellCommandApprovedForSession(t *testing.T) {
	tw, _ := lsWorld(t)

	tw.send(t, "c1", "run ls")
	call := tw.PendingToolCalls("c1")[0].ToolCall
	tw.resolve(t, ToolResolution{ToolCallID: call.ID, AgentID: "a1", Decision: DecisionApprove, Scope: ScopeSession, ToolName: ToolShellCmd})
	require.Len(t, tw.rec.replies("c1", "a1"), 1)

	tw.send(t, "c1", "run ls again")
	assert.Len(t, tw.rec.approvalRequests("c1"), 1)
	assert.Len(t, tw.rec.replies("c1", "a1"), 2)

	// a different directory is a different approval
	tw.send(t, "c1", "now list sub")
	reqs := tw.rec.approvalRequests("c1")
	require.Len(t, reqs, 2)
	assert.Equal(t, filepath.Join(tw.Environment().WorkingDirectory(), "sub"), reqs[1].WorkingDirectory)

	// the session approval does not cross into another chat
	tw.send(t, "c2", "run ls")
	assert.Len(t, tw.rec.approvalRequests("c2"), 1)
}

func TestDeniedToolDoesNotRun(t *testing.T) {
	dir := t.TempDir()
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		last := lastMessage(req)
		if last.Role == RoleTool {
			return textResult("understood: " + last.Content), nil
		}
		return toolResult("call_w", ToolWriteFile, `{"path":"out.txt","content":"x"}`), nil
	})
	tw := newTestWorld(t, Config{WorkingDirectory: dir}, llm, "a1")

	tw.send(t, "c1", "write the file")
	require.Len(t, tw.PendingToolCalls("c1"), 1)

	tw.resolve(t, ToolResolution{ToolCallID: "call_w", AgentID: "a1", Decision: DecisionDeny, ToolName: ToolWriteFile})

	_, err := os.Stat(filepath.Join(dir, "out.txt"))
	assert.True(t, os.IsNotExist(err))

	replies := tw.rec.replies("c1", "a1")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "denied")

	_, origin, ok := mustAgent(t, tw, "a1").findToolCall("call_w")
	require.True(t, ok)
	assert.Equal(t, DecisionDeny, origin.ToolCallStatus["call_w"].Result.Decision)

	// resolving again is a no-op
	tw.resolve(t, ToolResolution{ToolCallID: "call_w", AgentID: "a1", Decision: DecisionApprove, ToolName: ToolWriteFile})
	_, err = os.Stat(filepath.Join(dir, "out.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Len(t, tw.rec.replies("c1", "a1"), 1)
}

func TestNewTurnSupersedesPendingApproval(t *testing.T) {
	dir := t.TempDir()
	ids := &idSeq{}
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		last := lastMessage(req)
		switch {
		case last.Role == RoleTool:
			return textResult("done: " + last.Content), nil
		case strings.Contains(last.Content, "say hi"):
			return textResult("hi there"), nil
		default:
			return toolResult(ids.next("call"), ToolWriteFile, `{"path":"ran.txt","content":"RAN"}`), nil
		}
	})
	tw := newTestWorld(t, Config{WorkingDirectory: dir}, llm, "a1")
	a1 := mustAgent(t, tw, "a1")

	tw.send(t, "c1", "run it")
	tw.send(t, "c2", "run it")
	require.Len(t, tw.PendingToolCalls("c1"), 1)
	require.Len(t, tw.PendingToolCalls("c2"), 1)

	tw.send(t, "c1", "never mind, just say hi")
	assert.Empty(t, tw.PendingToolCalls("c1"))
	assert.Len(t, tw.PendingToolCalls("c2"), 1, "other chats keep their approvals")

	var roles []Role
	for _, m := range a1.Memory("c1") {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []Role{RoleUser, RoleAssistant, RoleTool, RoleUser, RoleAssistant}, roles)

	memory := a1.Memory("c1")
	closed := memory[2]
	assert.Equal(t, "call_1", closed.ToolCallID)
	assert.True(t, closed.ToolError)
	assert.Contains(t, closed.Content, "superseded")
	st := memory[1].ToolCallStatus["call_1"]
	assert.True(t, st.Complete)
	require.NotNil(t, st.Result)
	assert.True(t, st.Result.Superseded)

	stored, err := tw.store.LoadMemory(context.Background(), tw.ID(), "a1", "c1")
	require.NoError(t, err)
	require.Len(t, stored, 5)
	assert.False(t, stored[1].IsPending("call_1"))

	var calls []LLMRequest
	for _, c := range llm.callsFor("a1") {
		if c.ChatID == "c1" {
			calls = append(calls, c)
		}
	}
	require.Len(t, calls, 2)
	var sent []Role
	for _, m := range calls[1].Messages {
		sent = append(sent, m.Role)
	}
	assert.Equal(t, []Role{RoleUser, RoleAssistant, RoleTool, RoleUser}, sent)

	// a late approval of the closed call is dropped
	tw.resolve(t, ToolResolution{ToolCallID: "call_1", AgentID: "a1", Decision: DecisionApprove, Scope: ScopeOnce, ToolName: ToolWriteFile})
	_, err = os.Stat(filepath.Join(dir, "ran.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []string{"hi there"}, tw.rec.replies("c1", "a1"))

	_, _, err = tw.gate.VerifyOwnership(a1.Memory(""), ToolResolution{ToolCallID: "call_1", AgentID: "a1"})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestForeignResolutionsAreDropped(t *testing.T) {
	dir := t.TempDir()
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		if req.AgentID == "a2" {
			return textResult(""), nil
		}
		if lastMessage(req).Role == RoleTool {
			return textResult("done"), nil
		}
		return toolResult("call_1", ToolWriteFile, `{"path":"out.txt","content":"x"}`), nil
	})
	tw := newTestWorld(t, Config{WorkingDirectory: dir}, llm, "a1", "a2")
	tw.send(t, "c1", "write it")

	a1 := mustAgent(t, tw, "a1")
	a2 := mustAgent(t, tw, "a2")
	before1 := a1.Memory("")
	before2 := a2.Memory("")

	drops := []ToolResolution{
		{ToolCallID: "call_bogus", AgentID: "a1", Decision: DecisionApprove, ToolName: ToolWriteFile},
		{ToolCallID: "call_1", AgentID: "a2", Decision: DecisionApprove, ToolName: ToolWriteFile},
		{ToolCallID: "call_1", AgentID: "ghost", Decision: DecisionApprove, ToolName: ToolWriteFile},
		{ToolCallID: "call_1", AgentID: "a1", ChatID: "c2", Decision: DecisionApprove, ToolName: ToolWriteFile},
		{ToolCallID: "call_1", AgentID: "a1", Decision: DecisionApprove, ToolName: ToolShellCmd},
	}
	for _, res := range drops {
		tw.resolve(t, res)
	}
	require.NoError(t, tw.ResolveToolJSON(context.Background(), []byte(`{"tool_call_id":"call_1"}`)))
	tw.wait(t)

	assert.Equal(t, before1, a1.Memory(""))
	assert.Equal(t, before2, a2.Memory(""))
	assert.Len(t, tw.PendingToolCalls("c1"), 1)
	_, err := os.Stat(filepath.Join(dir, "out.txt"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, tw.ResolveToolJSON(context.Background(),
		[]byte(`{"tool_call_id":"call_1","agentId":"a1","decision":"approve","toolName":"write_file"}`)))
	tw.wait(t)
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
	assert.Equal(t, []string{"done"}, tw.rec.replies("c1", "a1"))
}

func TestResolutionExecutesRecordedArguments(t *testing.T) {
	dir := t.TempDir()
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		if lastMessage(req).Role == RoleTool {
			return textResult("ok"), nil
		}
		return toolResult("call_1", ToolWriteFile, `{"path":"safe.txt","content":"safe"}`), nil
	})
	tw := newTestWorld(t, Config{WorkingDirectory: dir}, llm, "a1")
	tw.send(t, "c1", "write")

	// no claimed args: the recorded ones run
	tw.resolve(t, ToolResolution{ToolCallID: "call_1", AgentID: "a1", Decision: DecisionApprove, ToolName: ToolWriteFile})
	_, err := os.Stat(filepath.Join(dir, "safe.txt"))
	assert.NoError(t, err)
}

func TestConcurrentChatsStayIsolated(t *testing.T) {
	tw, _ := lsWorld(t)
	a1 := mustAgent(t, tw, "a1")

	_, err := tw.SendMessage(context.Background(), "A", "human", "run ls")
	require.NoError(t, err)
	_, err = tw.SendMessage(context.Background(), "B", "human", "run ls")
	require.NoError(t, err)
	tw.wait(t)

	pa := tw.PendingToolCalls("A")
	pb := tw.PendingToolCalls("B")
	require.Len(t, pa, 1)
	require.Len(t, pb, 1)
	assert.NotEqual(t, pa[0].ToolCall.ID, pb[0].ToolCall.ID)
	beforeB := a1.Memory("B")

	tw.resolve(t, ToolResolution{ToolCallID: pa[0].ToolCall.ID, AgentID: "a1", ChatID: "A", Decision: DecisionApprove, Scope: ScopeSession, ToolName: ToolShellCmd})

	assert.Len(t, tw.rec.replies("A", "a1"), 1)
	assert.Empty(t, tw.rec.replies("B", "a1"))
	assert.Equal(t, beforeB, a1.Memory("B"))
	assert.Len(t, tw.PendingToolCalls("B"), 1)
	assert.Empty(t, tw.PendingToolCalls("A"))
	for _, ev := range tw.rec.all() {
		if ev.Type == EventMessage && ev.Message.ToolCallID == pa[0].ToolCall.ID {
			assert.Equal(t, "A", ev.ChatID)
		}
	}

	tw.resolve(t, ToolResolution{ToolCallID: pb[0].ToolCall.ID, AgentID: "a1", Decision: DecisionDeny, ToolName: ToolShellCmd})
	assert.Len(t, tw.rec.replies("B", "a1"), 1)
	assert.Empty(t, tw.PendingToolCalls(""))
}

func TestOnlyFirstToolCallRuns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.txt"), []byte("alpha"), 0o644))
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		if lastMessage(req).Role == RoleTool {
			return textResult("read it"), nil
		}
		res := toolResult("call_a", ToolReadFile, `{"path":"alpha.txt"}`)
		res.ToolCalls = append(res.ToolCalls, ToolCall{ID: "call_b", Name: ToolReadFile, Arguments: []byte(`{"path":"beta.txt"}`)})
		return res, nil
	})
	tw := newTestWorld(t, Config{WorkingDirectory: dir}, llm, "a1")

	tw.send(t, "c1", "read both")

	var toolMsgs []AgentMessage
	for _, m := range mustAgent(t, tw, "a1").Memory("c1") {
		switch {
		case m.Role == RoleTool:
			toolMsgs = append(toolMsgs, m)
		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			require.Len(t, m.ToolCalls, 1)
			assert.Equal(t, "call_a", m.ToolCalls[0].ID)
		}
	}
	require.Len(t, toolMsgs, 1)
	assert.Equal(t, "call_a", toolMsgs[0].ToolCallID)
	assert.Contains(t, toolMsgs[0].Content, "1 | alpha")

	var flagged bool
	for _, s := range tw.rec.system("c1") {
		if strings.Contains(s.Content, "call_b") {
			flagged = true
		}
	}
	assert.True(t, flagged)
	assert.Equal(t, []string{"read it"}, tw.rec.replies("c1", "a1"))
}

func TestToolErrorsAreRecoverable(t *testing.T) {
	ids := &idSeq{}
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		last := lastMessage(req)
		if last.Role == RoleTool {
			if strings.HasPrefix(last.Content, "Unknown tool") {
				return toolResult(ids.next("call"), ToolReadFile, `{}`), nil
			}
			return textResult("recovered: " + last.Content), nil
		}
		return toolResult(ids.next("call"), "launch_rockets", `{}`), nil
	})
	tw := newTestWorld(t, Config{}, llm, "a1")

	tw.send(t, "c1", "go")

	var errs []string
	for _, m := range mustAgent(t, tw, "a1").Memory("c1") {
		if m.Role == RoleTool {
			assert.True(t, m.ToolError)
			errs = append(errs, m.Content)
		}
	}
	require.Len(t, errs, 2)
	assert.Equal(t, "Unknown tool: launch_rockets", errs[0])
	assert.Contains(t, errs[1], "Tool error (read_file)")
	require.Len(t, tw.rec.replies("c1", "a1"), 1)
	assert.Empty(t, tw.PendingToolCalls("c1"))
}

func TestMaxIterationsEndsTurn(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		return toolResult(NewMessageID(), ToolReadFile, `{"path":"f.txt"}`), nil
	})
	tw := newTestWorldWithStore(t, NewMemStore(), Config{WorkingDirectory: dir, MaxIterations: 3}, llm, []Option{WithLoopWindow(0)}, "a1")

	tw.send(t, "c1", "loop forever")

	assert.Len(t, llm.callsFor("a1"), 3)
	sys := tw.rec.system("c1")
	require.NotEmpty(t, sys)
	assert.Equal(t, LevelError, sys[len(sys)-1].Level)
	assert.Contains(t, sys[len(sys)-1].Content, "3 LLM calls")

	// memory up to the failure is kept
	var results int
	for _, m := range mustAgent(t, tw, "a1").Memory("c1") {
		if m.Role == RoleTool {
			results++
		}
	}
	assert.Equal(t, 3, results)
}

func TestLoopWarningSteersAgent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))
	llm := newScriptedLLM(func(req LLMRequest) (*LLMResult, error) {
		if lastMessage(req).Role == RoleSystem {
			return textResult("stopping"), nil
		}
		return toolResult(NewMessageID(), ToolReadFile, `{"path":"f.txt"}`), nil
	})
	tw := newTestWorld(t, Config{WorkingDirectory: dir}, llm, "a1")

	tw.send(t, "c1", "read")

	assert.Len(t, llm.callsFor("a1"), DefaultLoopWindow+1)
	assert.Equal(t, []string{"stopping"}, tw.rec.replies("c1", "a1"))
	var warned bool
	for _, s := range tw.rec.system("c1") {
		warned = warned || strings.HasPrefix(s.Content, "Loop detected")
	}
	assert.True(t, warned)
}

func TestLLMFailureIsTurnFatal(t *testing.T) {
	llm := newScriptedLLM(func(LLMRequest) (*LLMResult, error) {
		return nil, errors.New("provider unavailable")
	})
	tw := newTestWorld(t, Config{}, llm, "a1")

	tw.send(t, "c1", "hello")

	sys := tw.rec.system("c1")
	require.Len(t, sys, 1)
	assert.Equal(t, LevelError, sys[0].Level)
	assert.Contains(t, sys[0].Content, "provider unavailable")

	var sawError bool
	for _, ev := range tw.rec.all() {
		if ev.Type == EventSSE && ev.SSE.Kind == SSEError {
			sawError = true
		}
	}
	assert.True(t, sawError)
	assert.Len(t, mustAgent(t, tw, "a1").Memory("c1"), 1)
}

func TestProcessTurnRequiresChat(t *testing.T) {
	llm := newScriptedLLM(func(LLMRequest) (*LLMResult, error) { return textResult("x"), nil })
	tw := newTestWorld(t, Config{}, llm, "a1")
	rt, ok := tw.runtime("a1")
	require.True(t, ok)
	err := rt.Orchestrator().ProcessTurn(context.Background(), "", Event{})
	assert.ErrorIs(t, err, ErrMissingChat)
}

func TestRecoverTriggerFindsOriginatingSender(t *testing.T) {
	llm := newScriptedLLM(func(LLMRequest) (*LLMResult, error) { return textResult("x"), nil })
	tw := newTestWorld(t, Config{}, llm, "a1")
	rt, _ := tw.runtime("a1")
	a1 := rt.Agent()

	a1.appendMemory(AgentMessage{ID: "u1", Role: RoleUser, Sender: "human", SenderType: SenderHuman, ChatID: "c1"})
	a1.appendMemory(AgentMessage{ID: "u2", Role: RoleUser, Sender: "a2", SenderType: SenderAgent, ChatID: "c1"})
	a1.appendMemory(AgentMessage{ID: "o1", Role: RoleAssistant, ChatID: "c1"})
	a1.appendMemory(AgentMessage{ID: "u3", Role: RoleUser, Sender: "a3", SenderType: SenderAgent, ChatID: "c1"})

	trig := rt.Orchestrator().recoverTrigger("c1", "o1")
	assert.Equal(t, "a2", trig.sender)
	assert.Equal(t, SenderAgent, trig.senderType)

	trig = rt.Orchestrator().recoverTrigger("c2", "missing")
	assert.Equal(t, SenderHuman, trig.senderType)
}

func mustAgent(t *testing.T, tw *testWorld, id string) *Agent {
	t.Helper()
	a, ok := tw.Agent(id)
	require.True(t, ok)
	return a
}
