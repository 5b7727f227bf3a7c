package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yysun/agent-world-sub009/world"
)

// chatSession connects a terminal to one chat of a world.
type chatSession struct {
	w   *world.World
	out io.Writer

	mu       sync.Mutex
	chatID   string
	streams  map[string]bool
	requests map[string]world.ApprovalRequest
}

func newChatSession(w *world.World, chatID string, out io.Writer) *chatSession {
	w.SelectChat(chatID)
	return &chatSession{
		w:        w,
		out:      out,
		chatID:   chatID,
		streams:  make(map[string]bool),
		requests: make(map[string]world.ApprovalRequest),
	}
}

func (s *chatSession) currentChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *chatSession) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

// handleEvent renders bus events of the current chat.
func (s *chatSession) handleEvent(_ context.Context, ev world.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ChatID != s.chatID {
		return nil
	}

	switch ev.Type {
	case world.EventSSE:
		switch ev.SSE.Kind {
		case world.SSEChunk:
			if !s.streams[ev.MessageID] {
				s.streams[ev.MessageID] = true
				fmt.Fprint(s.out, senderLabel(ev)+" ")
			}
			fmt.Fprint(s.out, ev.SSE.Content)
		case world.SSEEnd:
			if s.streams[ev.MessageID] {
				fmt.Fprintln(s.out)
			}
		case world.SSEError:
			if s.streams[ev.MessageID] {
				fmt.Fprintln(s.out)
			}
			delete(s.streams, ev.MessageID)
		}
	case world.EventSystem:
		fmt.Fprintln(s.out, renderSystem(ev.System))
	case world.EventMessage:
		if ev.SenderType == world.SenderHuman {
			return nil
		}
		for _, tc := range ev.Message.ToolCalls {
			if tc.Name != world.ApprovalToolName {
				continue
			}
			var req world.ApprovalRequest
			if err := json.Unmarshal(tc.Arguments, &req); err == nil {
				s.requests[req.ToolCallID] = req
			}
		}
		if s.streams[ev.MessageID] && len(ev.Message.ToolCalls) == 0 {
			delete(s.streams, ev.MessageID)
			return nil
		}
		delete(s.streams, ev.MessageID)
		if out, ok := renderMessage(ev); ok {
			fmt.Fprintln(s.out, out)
		}
	}
	return nil
}

// run reads lines until EOF, /quit or ctx is done, then waits for
// in-flight turns.
func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	s.println(chatStyle.Render(fmt.Sprintf("world %s · chat %s", s.w.Name(), s.currentChat())))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return s.w.Wait(ctx)
			}
			quit, err := s.handleLine(ctx, line)
			if err != nil {
				s.println(errorStyle.Render(err.Error()))
			}
			if quit {
				return s.w.Wait(ctx)
			}
		}
	}
}

var errUsage = errors.New("usage: /approve <tool_call_id> [once|session] | /deny <tool_call_id> | /pending | /new | /quit")

// handleLine runs one line of input. quit reports a /quit.
func (s *chatSession) handleLine(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := s.w.SendMessage(ctx, s.currentChat(), "human", line)
		return false, err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		chatID := s.w.NewChatID()
		s.mu.Lock()
		s.chatID = chatID
		s.mu.Unlock()
		s.w.SelectChat(chatID)
		s.println(chatStyle.Render("chat " + chatID))
		return false, nil
	case "/pending":
		pending := s.w.PendingToolCalls(s.currentChat())
		if len(pending) == 0 {
			s.println(infoStyle.Render("no pending tool calls"))
		}
		for _, p := range pending {
			s.println(toolStyle.Render(fmt.Sprintf("  @%s %s %s [%s]", p.AgentID, p.ToolCall.Name, compactJSON(p.ToolCall.Arguments), p.ToolCall.ID)))
		}
		return false, nil
	case "/approve":
		if len(fields) < 2 || len(fields) > 3 {
			return false, errUsage
		}
		scope := world.ScopeOnce
		if len(fields) == 3 {
			switch world.Scope(fields[2]) {
			case world.ScopeOnce, world.ScopeSession:
				scope = world.Scope(fields[2])
			default:
				return false, fmt.Errorf("unknown scope %q", fields[2])
			}
		}
		return false, s.resolve(ctx, fields[1], world.DecisionApprove, scope)
	case "/deny":
		if len(fields) != 2 {
			return false, errUsage
		}
		return false, s.resolve(ctx, fields[1], world.DecisionDeny, "")
	default:
		return false, errUsage
	}
}

func (s *chatSession) resolve(ctx context.Context, toolCallID string, decision world.Decision, scope world.Scope) error {
	chatID := s.currentChat()
	var pending *world.PendingToolCall
	for _, p := range s.w.PendingToolCalls(chatID) {
		if p.ToolCall.ID == toolCallID {
			pending = &p
			break
		}
	}
	if pending == nil {
		return fmt.Errorf("no pending tool call %s in this chat", toolCallID)
	}

	s.mu.Lock()
	req, seen := s.requests[toolCallID]
	delete(s.requests, toolCallID)
	s.mu.Unlock()

	res := world.ToolResolution{
		ToolCallID: toolCallID,
		AgentID:    pending.AgentID,
		ChatID:     pending.ChatID,
		Decision:   decision,
		Scope:      scope,
		ToolName:   pending.ToolCall.Name,
		ToolArgs:   pending.ToolCall.Arguments,
	}
	if seen {
		res.WorkingDirectory = req.WorkingDirectory
	}
	return s.w.ResolveTool(ctx, res)
}
