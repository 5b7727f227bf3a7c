package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024

// PromptContext is what BuildSystemPrompt needs to know about the world.
type PromptContext struct {
	WorldName string
	Agent     AgentConfig
	Roster    []AgentConfig
	Tools     []ToolDefinition
	Env       *LocalEnvironment
}

// BuildSystemPrompt assembles the agent's prompt, the mention protocol, the
// world roster, the environment block and any project instructions.
func BuildSystemPrompt(pc PromptContext) string {
	var sb strings.Builder
	if p := strings.TrimSpace(pc.Agent.SystemPrompt); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "You are %s (id: %s) in the world %q.\n", pc.Agent.Name, pc.Agent.ID, pc.WorldName)
	sb.WriteString("\n<participants>\n")
	for _, a := range pc.Roster {
		if a.ID == pc.Agent.ID {
			continue
		}
		fmt.Fprintf(&sb, "- @%s (%s)\n", a.ID, a.Name)
	}
	sb.WriteString("- @human (the user)\n")
	sb.WriteString("</participants>\n")

	sb.WriteString("\n<mention_rules>\n")
	sb.WriteString("Start a line with @name to address that participant; they will reply.\n")
	sb.WriteString("Only the first @mention of a message from an agent routes it.\n")
	sb.WriteString("Never mention yourself. Reply without a mention to end the exchange.\n")
	sb.WriteString("</mention_rules>\n")

	if len(pc.Tools) > 0 {
		sb.WriteString("\n<tools>\n")
		for _, t := range pc.Tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		}
		sb.WriteString("Request one tool call at a time. Some tools wait for human approval.\n")
		sb.WriteString("</tools>\n")
	}

	if pc.Env != nil {
		sb.WriteString("\n")
		sb.WriteString(buildEnvironmentContext(pc.Env, pc.Agent.Model))
		sb.WriteString("\n")
		if docs := discoverProjectDocs(pc.Env.WorkingDirectory()); docs != "" {
			sb.WriteString("\n")
			sb.WriteString(docs)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func buildEnvironmentContext(env *LocalEnvironment, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", env.WorkingDirectory())
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// discoverProjectDocs loads AGENTS.md from the working directory, capped at
// 32KB.
func discoverProjectDocs(workingDir string) string {
	content, err := os.ReadFile(filepath.Join(workingDir, "AGENTS.md"))
	if err != nil {
		return ""
	}
	text := string(content)
	if len(text) > maxProjectDocBytes {
		text = text[:maxProjectDocBytes] + "\n[Project instructions truncated at 32KB]"
	}
	return "# AGENTS.md\n\n" + text
}
