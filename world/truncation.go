package world

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultToolCharLimits caps tool output before it enters memory.
var DefaultToolCharLimits = map[string]int{
	ToolReadFile:  50000,
	ToolShellCmd:  30000,
	ToolWriteFile: 1000,
}

// DefaultTruncationModes per tool. Unlisted tools use head_tail.
var DefaultTruncationModes = map[string]TruncationMode{
	ToolReadFile:  TruncateHeadTail,
	ToolShellCmd:  TruncateHeadTail,
	ToolWriteFile: TruncateTail,
}

// DefaultToolLineLimits is applied after the character limit.
var DefaultToolLineLimits = map[string]int{
	ToolShellCmd: 256,
}

const fallbackCharLimit = 30000

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"Re-run the tool with more targeted parameters to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the first and last lines of output up to maxLines.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the character limit, then the line limit, for
// toolName.
func TruncateToolOutput(output string, toolName string) string {
	maxChars, ok := DefaultToolCharLimits[toolName]
	if !ok {
		maxChars = fallbackCharLimit
	}
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)
	if maxLines := DefaultToolLineLimits[toolName]; maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
