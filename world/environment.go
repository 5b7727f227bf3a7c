package world

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are withheld from tool processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalEnvironment runs tools on the local machine, rooted at a world's
// working directory.
type LocalEnvironment struct {
	workingDir     string
	defaultTimeout time.Duration
}

// NewLocalEnvironment creates an environment rooted at workingDir. An empty
// workingDir means the process working directory; a zero timeout means 30s.
func NewLocalEnvironment(workingDir string, defaultTimeout time.Duration) *LocalEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(workingDir); err == nil {
		workingDir = abs
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &LocalEnvironment{workingDir: workingDir, defaultTimeout: defaultTimeout}
}

func (e *LocalEnvironment) WorkingDirectory() string { return e.workingDir }

func (e *LocalEnvironment) Platform() string { return runtime.GOOS + "/" + runtime.GOARCH }

// ResolvePath makes path absolute against the working directory.
func (e *LocalEnvironment) ResolvePath(path string) string {
	if path == "" {
		return e.workingDir
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.workingDir, path)
}

// ConfinePath resolves path inside the working directory. Absolute paths,
// paths that climb out with "..", and symlinks pointing outside are
// rejected with ErrOutsideWorkingDirectory.
func (e *LocalEnvironment) ConfinePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkingDirectory, path)
	}
	resolved := filepath.Join(e.workingDir, path)
	if !isWithin(e.workingDir, resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkingDirectory, path)
	}
	target, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		// Missing files fail at open time with the usual error.
		return resolved, nil
	}
	root, err := filepath.EvalSymlinks(e.workingDir)
	if err != nil {
		root = e.workingDir
	}
	if !isWithin(root, target) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkingDirectory, path)
	}
	return target, nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ReadFile returns line-numbered content starting at the 1-based offset.
// path must stay inside the working directory.
func (e *LocalEnvironment) ReadFile(path string, offset, limit int) (string, error) {
	resolved, err := e.ConfinePath(path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	startLine := 0
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= len(lines) {
		return "", nil
	}
	endLine := len(lines)
	if limit > 0 && startLine+limit < endLine {
		endLine = startLine + limit
	}

	var sb strings.Builder
	for i := startLine; i < endLine; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteFile writes content, creating parent directories.
func (e *LocalEnvironment) WriteFile(path string, content string) error {
	resolved := e.ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("write_file: failed to create directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// ExecCommand runs command in dir. With no args the command goes through
// /bin/sh -c; with args it is executed directly. The whole process group is
// killed when the timeout fires.
func (e *LocalEnvironment) ExecCommand(ctx context.Context, command string, args []string, timeout time.Duration, dir string) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if len(args) == 0 {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	} else {
		cmd = exec.CommandContext(ctx, command, args...)
	}
	cmd.Dir = e.ResolvePath(dir)
	cmd.Env = filterEnvironment()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("exec %s: %w", command, err)
		}
	}
	return result, nil
}
