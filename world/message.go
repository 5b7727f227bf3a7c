package world

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message in an agent's memory.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SenderType classifies the origin of a published message.
type SenderType string

const (
	SenderHuman  SenderType = "human"
	SenderAgent  SenderType = "agent"
	SenderSystem SenderType = "system"
)

// Decision is the outcome of a tool approval.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Scope is how long an approval lasts.
type Scope string

const (
	ScopeOnce    Scope = "once"
	ScopeSession Scope = "session"
)

// ApprovalToolName is the pseudo tool name carried by approval request
// messages so front ends can render them.
const ApprovalToolName = "requestApproval"

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResult records how a tool call was completed. Superseded calls
// were closed by a newer turn in the same chat and never ran.
type ToolCallResult struct {
	Decision   Decision  `json:"decision,omitempty"`
	Scope      Scope     `json:"scope,omitempty"`
	Superseded bool      `json:"superseded,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToolCallStatus is the durable completion state of one tool call.
// Complete=false means the call is waiting for approval.
type ToolCallStatus struct {
	Complete bool            `json:"complete"`
	Result   *ToolCallResult `json:"result,omitempty"`
}

// ResolutionRecord is attached to the role=tool message produced by a human
// resolution. Session approvals are found by scanning for these.
type ResolutionRecord struct {
	ToolName         string          `json:"toolName"`
	ToolArgs         json.RawMessage `json:"toolArgs,omitempty"`
	WorkingDirectory string          `json:"workingDirectory,omitempty"`
	Decision         Decision        `json:"decision"`
	Scope            Scope           `json:"scope"`
}

// AgentMessage is one entry of an agent's append-only memory.
type AgentMessage struct {
	ID             string                    `json:"id"`
	Role           Role                      `json:"role"`
	Content        string                    `json:"content"`
	Sender         string                    `json:"sender,omitempty"`
	SenderType     SenderType                `json:"senderType,omitempty"`
	ChatID         string                    `json:"chatId"`
	AgentID        string                    `json:"agentId"`
	ToolCalls      []ToolCall                `json:"tool_calls,omitempty"`
	ToolCallID     string                    `json:"tool_call_id,omitempty"`
	ToolError      bool                      `json:"toolError,omitempty"`
	ToolCallStatus map[string]ToolCallStatus `json:"toolCallStatus,omitempty"`
	Resolution     *ResolutionRecord         `json:"resolution,omitempty"`
	CreatedAt      time.Time                 `json:"createdAt"`
}

// Clone returns a deep copy of m.
func (m AgentMessage) Clone() AgentMessage {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = ToolCall{ID: tc.ID, Name: tc.Name, Arguments: cloneRaw(tc.Arguments)}
		}
	}
	if m.ToolCallStatus != nil {
		out.ToolCallStatus = make(map[string]ToolCallStatus, len(m.ToolCallStatus))
		for id, st := range m.ToolCallStatus {
			if st.Result != nil {
				r := *st.Result
				st.Result = &r
			}
			out.ToolCallStatus[id] = st
		}
	}
	if m.Resolution != nil {
		r := *m.Resolution
		r.ToolArgs = cloneRaw(m.Resolution.ToolArgs)
		out.Resolution = &r
	}
	return out
}

// IsPending reports whether the tool call id is recorded on m and still
// waiting for a resolution.
func (m AgentMessage) IsPending(toolCallID string) bool {
	st, ok := m.ToolCallStatus[toolCallID]
	return ok && !st.Complete
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// ApprovalRequest asks a human to approve one tool call.
type ApprovalRequest struct {
	RequestID        string          `json:"requestId"`
	AgentID          string          `json:"agentId"`
	ChatID           string          `json:"chatId"`
	ToolCallID       string          `json:"tool_call_id"`
	ToolName         string          `json:"toolName"`
	ToolArgs         json.RawMessage `json:"toolArgs"`
	WorkingDirectory string          `json:"workingDirectory,omitempty"`
	Options          []string        `json:"options"`
}

// ApprovalOptions are the choices offered with every ApprovalRequest.
var ApprovalOptions = []string{"deny", "approve_once", "approve_session"}

// ToolResolution is an inbound human decision on a pending tool call. It is
// consumed once and never stored as such.
type ToolResolution struct {
	ToolCallID       string          `json:"tool_call_id"`
	AgentID          string          `json:"agentId"`
	ChatID           string          `json:"chatId,omitempty"`
	Decision         Decision        `json:"decision"`
	Scope            Scope           `json:"scope,omitempty"`
	ToolName         string          `json:"toolName"`
	ToolArgs         json.RawMessage `json:"toolArgs,omitempty"`
	WorkingDirectory string          `json:"workingDirectory,omitempty"`
}

// EventType discriminates bus events.
type EventType string

const (
	EventMessage EventType = "message"
	EventSSE     EventType = "sse"
	EventSystem  EventType = "system"
)

// SSEKind is the phase of a streamed reply.
type SSEKind string

const (
	SSEStart SSEKind = "start"
	SSEChunk SSEKind = "chunk"
	SSEEnd   SSEKind = "end"
	SSEError SSEKind = "error"
)

// SSEPayload carries one streaming event.
type SSEPayload struct {
	Kind    SSEKind `json:"kind"`
	Content string  `json:"content,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// SystemLevel is the severity of a system event.
type SystemLevel string

const (
	LevelInfo    SystemLevel = "info"
	LevelWarning SystemLevel = "warning"
	LevelError   SystemLevel = "error"
)

// SystemPayload carries a system notice.
type SystemPayload struct {
	Level   SystemLevel `json:"level"`
	Content string      `json:"content"`
}

// Event is the envelope published on a world's bus.
type Event struct {
	Type       EventType      `json:"type"`
	Sender     string         `json:"sender"`
	SenderType SenderType     `json:"senderType"`
	ChatID     string         `json:"chatId"`
	MessageID  string         `json:"messageId"`
	Timestamp  time.Time      `json:"timestamp"`
	Message    *AgentMessage  `json:"message,omitempty"`
	SSE        *SSEPayload    `json:"sse,omitempty"`
	System     *SystemPayload `json:"system,omitempty"`
}

// messageEvent wraps msg in a message event.
func messageEvent(msg AgentMessage) Event {
	m := msg.Clone()
	return Event{
		Type:       EventMessage,
		Sender:     msg.Sender,
		SenderType: msg.SenderType,
		ChatID:     msg.ChatID,
		MessageID:  msg.ID,
		Timestamp:  msg.CreatedAt,
		Message:    &m,
	}
}

func systemEvent(sender, chatID string, level SystemLevel, content string) Event {
	return Event{
		Type:       EventSystem,
		Sender:     sender,
		SenderType: SenderSystem,
		ChatID:     chatID,
		MessageID:  NewMessageID(),
		Timestamp:  time.Now(),
		System:     &SystemPayload{Level: level, Content: content},
	}
}

func sseEvent(agentID, chatID, messageID string, payload SSEPayload) Event {
	return Event{
		Type:       EventSSE,
		Sender:     agentID,
		SenderType: SenderAgent,
		ChatID:     chatID,
		MessageID:  messageID,
		Timestamp:  time.Now(),
		SSE:        &payload,
	}
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return uuid.New().String()
}

// NewChatID returns a fresh chat id.
func NewChatID() string {
	return "chat-" + uuid.New().String()[:8]
}

// FilterChat returns the messages of memory that belong to chatID, in order.
// An empty chatID returns every message.
func FilterChat(memory []AgentMessage, chatID string) []AgentMessage {
	out := make([]AgentMessage, 0, len(memory))
	for _, m := range memory {
		if chatID == "" || m.ChatID == chatID {
			out = append(out, m.Clone())
		}
	}
	return out
}
