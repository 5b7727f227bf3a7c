package world

import (
	"context"
	"fmt"

	"github.com/yysun/agent-world-sub009/unifiedllm"
)

// LLMResultType discriminates LLMResult.
type LLMResultType string

const (
	ResultText      LLMResultType = "text"
	ResultToolCalls LLMResultType = "tool_calls"
)

// LLMRequest is one call to the model on behalf of an agent in a chat.
type LLMRequest struct {
	WorldID      string
	AgentID      string
	ChatID       string
	Provider     string
	Model        string
	SystemPrompt string
	// Messages is the agent's memory for ChatID, oldest first.
	Messages    []AgentMessage
	Tools       []ToolDefinition
	Temperature *float64
	// OnChunk, when set, receives streamed text deltas.
	OnChunk func(delta string)
}

// LLMResult is the complete model output. Callers branch only on a complete
// result, never on a partial stream.
type LLMResult struct {
	Type      LLMResultType
	Content   string
	ToolCalls []ToolCall
}

// LLMProvider turns a request into a result. It must not execute tools,
// check approvals, or loop.
type LLMProvider interface {
	Call(ctx context.Context, req LLMRequest) (*LLMResult, error)
}

// UnifiedProvider implements LLMProvider on a unifiedllm.Client.
type UnifiedProvider struct {
	client *unifiedllm.Client
	stream bool
}

// NewUnifiedProvider wraps client. When stream is true, calls use
// Client.Stream and forward deltas to LLMRequest.OnChunk.
func NewUnifiedProvider(client *unifiedllm.Client, stream bool) *UnifiedProvider {
	return &UnifiedProvider{client: client, stream: stream}
}

// Call sends req and returns the complete result.
func (p *UnifiedProvider) Call(ctx context.Context, req LLMRequest) (*LLMResult, error) {
	ureq := buildUnifiedRequest(req)

	var resp *unifiedllm.Response
	var err error
	if p.stream {
		var ch <-chan unifiedllm.StreamEvent
		ch, err = p.client.Stream(ctx, ureq)
		if err == nil {
			resp, err = unifiedllm.Collect(ctx, ch, req.OnChunk)
		}
	} else {
		resp, err = p.client.Complete(ctx, ureq)
		if err == nil && req.OnChunk != nil && resp.Text() != "" {
			req.OnChunk(resp.Text())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("llm call for agent %s: %w", req.AgentID, err)
	}
	return resultFromResponse(resp), nil
}

func resultFromResponse(resp *unifiedllm.Response) *LLMResult {
	calls := resp.ToolCallsFromResponse()
	if len(calls) == 0 {
		return &LLMResult{Type: ResultText, Content: resp.Text()}
	}
	out := &LLMResult{Type: ResultToolCalls, Content: resp.Text()}
	for _, c := range calls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

func buildUnifiedRequest(req LLMRequest) unifiedllm.Request {
	messages := make([]unifiedllm.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, unifiedllm.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, ConvertMemoryToMessages(req.Messages)...)

	var defs []unifiedllm.ToolDefinition
	for _, t := range req.Tools {
		defs = append(defs, unifiedllm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	var choice *unifiedllm.ToolChoice
	if len(defs) > 0 {
		choice = &unifiedllm.ToolChoice{Mode: "auto"}
	}

	return unifiedllm.Request{
		Model:       req.Model,
		Provider:    req.Provider,
		Messages:    messages,
		ToolDefs:    defs,
		ToolChoice:  choice,
		Temperature: req.Temperature,
		Metadata: map[string]string{
			"world": req.WorldID,
			"agent": req.AgentID,
			"chat":  req.ChatID,
		},
	}
}

// ConvertMemoryToMessages converts an agent's chat memory into LLM messages.
// Tool calls still waiting for approval are left out so the model never sees
// a call without its result.
func ConvertMemoryToMessages(memory []AgentMessage) []unifiedllm.Message {
	var messages []unifiedllm.Message
	for _, m := range memory {
		switch m.Role {
		case RoleUser:
			msg := unifiedllm.UserMessage(m.Content)
			msg.Name = m.Sender
			messages = append(messages, msg)
		case RoleAssistant:
			msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
			if m.Content != "" {
				msg.Content = append(msg.Content, unifiedllm.TextPart(m.Content))
			}
			for _, tc := range m.ToolCalls {
				if m.IsPending(tc.ID) {
					continue
				}
				msg.Content = append(msg.Content, unifiedllm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
			}
			if len(msg.Content) > 0 {
				messages = append(messages, msg)
			}
		case RoleTool:
			messages = append(messages, unifiedllm.ToolResultMessage(m.ToolCallID, m.Content, m.ToolError))
		case RoleSystem:
			messages = append(messages, unifiedllm.SystemMessage(m.Content))
		}
	}
	return messages
}
