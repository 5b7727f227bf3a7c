package world

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Built-in tool names.
const (
	ToolShellCmd  = "shell_cmd"
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
)

// RegisterBuiltinTools registers shell_cmd, read_file and write_file.
// shell_cmd and write_file require approval.
func RegisterBuiltinTools(reg *ToolRegistry) error {
	for _, tool := range []RegisteredTool{shellCmdTool(), readFileTool(), writeFileTool()} {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func shellCmdTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name: ToolShellCmd,
			Description: "Execute a shell command in the world's working directory. " +
				"Without parameters the command runs through /bin/sh; with parameters it is executed directly. " +
				"Returns stdout, stderr and the exit code. Requires human approval.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "The command to run.",
					},
					"parameters": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Arguments passed to the command.",
					},
					"directory": map[string]interface{}{
						"type":        "string",
						"description": "Directory to run in, relative to the working directory.",
					},
					"timeout_ms": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Override the default command timeout in milliseconds.",
					},
				},
				"required": []string{"command"},
			},
		},
		RequiresApproval: true,
		WorkingDirectory: func(args map[string]interface{}, env *LocalEnvironment) string {
			dir, _ := GetStringArg(args, "directory")
			return env.ResolvePath(dir)
		},
		Executor: func(ctx context.Context, arguments json.RawMessage, env *LocalEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			command, ok := GetStringArg(args, "command")
			if !ok || command == "" {
				return "", fmt.Errorf("command is required")
			}
			params, _ := GetStringSliceArg(args, "parameters")
			dir, _ := GetStringArg(args, "directory")
			timeoutMs, _ := GetIntArg(args, "timeout_ms")

			result, err := env.ExecCommand(ctx, command, params, time.Duration(timeoutMs)*time.Millisecond, dir)
			if err != nil {
				return "", err
			}
			return formatExecResult(result), nil
		},
	}
}

func formatExecResult(r *ExecResult) string {
	var sb strings.Builder
	sb.WriteString(r.Output())
	if r.TimedOut {
		fmt.Fprintf(&sb, "\n[Command timed out after %dms]", r.DurationMs)
	} else if r.ExitCode != 0 {
		fmt.Fprintf(&sb, "\n[Exit code: %d]", r.ExitCode)
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return sb.String()
}

func readFileTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        ToolReadFile,
			Description: "Read a file inside the working directory. Returns line-numbered content.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "Path to the file, relative to the working directory.",
					},
					"offset": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "1-based line number to start reading from.",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Maximum number of lines to read. Default: 2000.",
					},
				},
				"required": []string{"path"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, env *LocalEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			path, _ := GetStringArg(args, "path")
			offset, _ := GetIntArg(args, "offset")
			limit, _ := GetIntArg(args, "limit")
			if limit == 0 {
				limit = 2000
			}
			return env.ReadFile(path, offset, limit)
		},
	}
}

func writeFileTool() RegisteredTool {
	return RegisteredTool{
		Definition: ToolDefinition{
			Name:        ToolWriteFile,
			Description: "Write content to a file, creating parent directories. Requires human approval.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "Path to write, relative to the working directory.",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "The full file content.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
		RequiresApproval: true,
		Executor: func(_ context.Context, arguments json.RawMessage, env *LocalEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			path, _ := GetStringArg(args, "path")
			content, _ := GetStringArg(args, "content")
			if err := env.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	}
}
