package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yysun/agent-world-sub009/world"
)

var (
	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	humanStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	chatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	approvalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
)

const toolPreviewLimit = 400

func senderLabel(ev world.Event) string {
	if ev.SenderType == world.SenderHuman {
		return humanStyle.Render(ev.Sender + ":")
	}
	return agentStyle.Render("@" + ev.Sender + ":")
}

func renderSystem(p *world.SystemPayload) string {
	switch p.Level {
	case world.LevelError:
		return errorStyle.Render("✗ " + p.Content)
	case world.LevelWarning:
		return warningStyle.Render("! " + p.Content)
	default:
		return infoStyle.Render("· " + p.Content)
	}
}

// renderMessage renders a non-streamed message event. ok is false for
// messages that produce no output.
func renderMessage(ev world.Event) (string, bool) {
	msg := ev.Message
	if msg == nil {
		return "", false
	}
	switch {
	case msg.Role == world.RoleTool:
		status := "result"
		if msg.ToolError {
			status = "error"
		}
		return toolStyle.Render(fmt.Sprintf("  ↳ %s (%s): %s", status, msg.ToolCallID, preview(msg.Content))), true
	case len(msg.ToolCalls) > 0:
		var lines []string
		for _, tc := range msg.ToolCalls {
			if tc.Name == world.ApprovalToolName {
				lines = append(lines, renderApproval(tc))
				continue
			}
			lines = append(lines, toolStyle.Render(fmt.Sprintf("  ⚙ @%s calls %s %s [%s]", ev.Sender, tc.Name, compactJSON(tc.Arguments), tc.ID)))
		}
		return strings.Join(lines, "\n"), true
	case msg.Content == "":
		return "", false
	default:
		return senderLabel(ev) + " " + msg.Content, true
	}
}

func renderApproval(tc world.ToolCall) string {
	var req world.ApprovalRequest
	if err := json.Unmarshal(tc.Arguments, &req); err != nil {
		return errorStyle.Render("malformed approval request: " + err.Error())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "@%s wants to run %s %s\n", req.AgentID, req.ToolName, compactJSON(req.ToolArgs))
	if req.WorkingDirectory != "" {
		fmt.Fprintf(&b, "in %s\n", req.WorkingDirectory)
	}
	fmt.Fprintf(&b, "/approve %s once | /approve %s session | /deny %s", req.ToolCallID, req.ToolCallID, req.ToolCallID)
	return approvalStyle.Render(b.String())
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", " ⏎ ")
	if len(s) > toolPreviewLimit {
		return s[:toolPreviewLimit] + "…"
	}
	return s
}
