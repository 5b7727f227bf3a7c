package world

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// DefaultLoopWindow is the number of recent tool calls inspected.
const DefaultLoopWindow = 6

// toolCallSignature is the tool name plus a hash of its arguments.
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentToolCallSignatures returns up to count signatures of the latest
// tool calls in memory, oldest first.
func recentToolCallSignatures(memory []AgentMessage, count int) []string {
	var sigs []string
	for i := len(memory) - 1; i >= 0 && len(sigs) < count; i-- {
		m := memory[i]
		if m.Role != RoleAssistant {
			continue
		}
		for j := len(m.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			tc := m.ToolCalls[j]
			sigs = append(sigs, toolCallSignature(tc.Name, tc.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls in memory repeat
// a pattern of length 1, 2 or 3. memory must be scoped to one chat.
func DetectLoop(memory []AgentMessage, windowSize int) bool {
	if windowSize <= 1 {
		return false
	}
	sigs := recentToolCallSignatures(memory, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i++ {
			if sigs[i] != sigs[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
