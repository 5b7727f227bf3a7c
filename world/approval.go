package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// ToolInvocation is a tool request as the approval gate sees it.
type ToolInvocation struct {
	ToolCallID       string
	AgentID          string
	ChatID           string
	Name             string
	Args             json.RawMessage
	WorkingDirectory string
}

// ApprovalCheck is the result of CheckApproval.
type ApprovalCheck struct {
	NeedsApproval bool
	CanExecute    bool
	// Request is set when NeedsApproval is true.
	Request *ApprovalRequest
}

// ApprovalGate decides whether a tool call may run without asking, and
// whether an inbound resolution may touch an agent's memory.
type ApprovalGate struct {
	logger *zap.Logger
}

// NewApprovalGate creates an ApprovalGate.
func NewApprovalGate(logger *zap.Logger) *ApprovalGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalGate{logger: logger}
}

// CheckApproval scans memory, which must already be scoped to one chat, for
// a session-scoped approval matching inv: same tool name ignoring case, the
// same working directory, and deeply equal arguments. One-time approvals
// and denials are never reused.
func (g *ApprovalGate) CheckApproval(memory []AgentMessage, inv ToolInvocation) ApprovalCheck {
	for i := len(memory) - 1; i >= 0; i-- {
		rec := memory[i].Resolution
		if memory[i].Role != RoleTool || rec == nil {
			continue
		}
		if rec.Decision != DecisionApprove || rec.Scope != ScopeSession {
			continue
		}
		if !strings.EqualFold(rec.ToolName, inv.Name) {
			continue
		}
		if rec.WorkingDirectory != inv.WorkingDirectory {
			continue
		}
		if !ArgsEqual(rec.ToolArgs, inv.Args) {
			continue
		}
		g.logger.Debug("session approval matched",
			zap.String("tool", inv.Name),
			zap.String("chat", inv.ChatID),
			zap.String("approval_message", memory[i].ID))
		return ApprovalCheck{CanExecute: true}
	}

	return ApprovalCheck{
		NeedsApproval: true,
		Request: &ApprovalRequest{
			RequestID:        "approval-" + uuid.New().String(),
			AgentID:          inv.AgentID,
			ChatID:           inv.ChatID,
			ToolCallID:       inv.ToolCallID,
			ToolName:         inv.Name,
			ToolArgs:         cloneRaw(inv.Args),
			WorkingDirectory: inv.WorkingDirectory,
			Options:          append([]string(nil), ApprovalOptions...),
		},
	}
}

// VerifyOwnership checks res against the target agent's own memory. It
// returns the recorded tool call and the assistant message holding it. The
// recorded call, never the resolution's claims, is what gets executed.
func (g *ApprovalGate) VerifyOwnership(memory []AgentMessage, res ToolResolution) (ToolCall, AgentMessage, error) {
	call, origin, ok := findToolCall(memory, res.ToolCallID)
	if !ok {
		return ToolCall{}, AgentMessage{}, ErrNotOwner
	}
	if origin.AgentID != "" && res.AgentID != "" && origin.AgentID != res.AgentID {
		return ToolCall{}, AgentMessage{}, ErrNotOwner
	}
	st, tracked := origin.ToolCallStatus[call.ID]
	if !tracked || st.Complete {
		return ToolCall{}, AgentMessage{}, ErrAlreadyResolved
	}
	if res.ChatID != "" && res.ChatID != origin.ChatID {
		return ToolCall{}, AgentMessage{}, fmt.Errorf("%w: chat %q", ErrResolutionMismatch, res.ChatID)
	}
	if res.ToolName != "" && !strings.EqualFold(res.ToolName, call.Name) {
		return ToolCall{}, AgentMessage{}, fmt.Errorf("%w: tool %q", ErrResolutionMismatch, res.ToolName)
	}
	if len(bytes.TrimSpace(res.ToolArgs)) > 0 && !ArgsEqual(res.ToolArgs, call.Arguments) {
		return ToolCall{}, AgentMessage{}, fmt.Errorf("%w: arguments", ErrResolutionMismatch)
	}
	return call, origin, nil
}

// ArgsEqual compares two JSON argument documents by value. Empty and null
// documents equal an empty object.
func ArgsEqual(a, b json.RawMessage) bool {
	va, errA := decodeArgs(a)
	vb, errB := decodeArgs(b)
	if errA != nil || errB != nil {
		return false
	}
	return cmp.Equal(va, vb)
}

func decodeArgs(raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return map[string]interface{}{}, nil
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}

const resolutionSchemaJSON = `{
  "type": "object",
  "required": ["tool_call_id", "agentId", "decision", "toolName"],
  "properties": {
    "tool_call_id": {"type": "string", "minLength": 1},
    "agentId": {"type": "string", "minLength": 1},
    "chatId": {"type": "string"},
    "decision": {"enum": ["approve", "deny"]},
    "scope": {"enum": ["once", "session"]},
    "toolName": {"type": "string", "minLength": 1},
    "toolArgs": {"type": ["object", "null"]},
    "workingDirectory": {"type": "string"}
  }
}`

var resolutionSchema = jsonschema.MustCompileString("mem://schemas/tool-resolution.json", resolutionSchemaJSON)

// ParseToolResolution validates an inbound resolution payload and decodes
// it. A missing scope defaults to once.
func ParseToolResolution(data []byte) (ToolResolution, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ToolResolution{}, fmt.Errorf("decode tool resolution: %w", err)
	}
	if err := resolutionSchema.Validate(doc); err != nil {
		return ToolResolution{}, fmt.Errorf("invalid tool resolution: %w", err)
	}
	var res ToolResolution
	if err := json.Unmarshal(data, &res); err != nil {
		return ToolResolution{}, fmt.Errorf("decode tool resolution: %w", err)
	}
	if res.Scope == "" {
		res.Scope = ScopeOnce
	}
	return res, nil
}

// resolutionRecord builds the durable record stored with a resolution's tool
// message.
func resolutionRecord(call ToolCall, workingDir string, decision Decision, scope Scope) *ResolutionRecord {
	return &ResolutionRecord{
		ToolName:         call.Name,
		ToolArgs:         cloneRaw(call.Arguments),
		WorkingDirectory: workingDir,
		Decision:         decision,
		Scope:            scope,
	}
}

func supersededStatus() ToolCallStatus {
	return ToolCallStatus{
		Complete: true,
		Result:   &ToolCallResult{Superseded: true, Timestamp: time.Now()},
	}
}

func completedStatus(decision Decision, scope Scope) ToolCallStatus {
	return ToolCallStatus{
		Complete: true,
		Result:   &ToolCallResult{Decision: decision, Scope: scope, Timestamp: time.Now()},
	}
}
