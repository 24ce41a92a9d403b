package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// maxCommandLen caps a shell command at 4096 bytes.
const maxCommandLen = 4096

// maxMetachars bounds the shell metacharacter budget per command.
const maxMetachars = 10

// defaultExecTimeout bounds tool execution when no override is given.
const defaultExecTimeout = 5 * time.Second

// denyPatterns is the hard denylist. Substring matches reject the
// command outright, before any allow-list check.
var denyPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	":(){ :|:& };:",
	"mkfs",
	"dd if=/dev/zero",
	"> /dev/sda",
	"chmod -R 777 /",
	"wget | sh",
	"curl | sh",
}

// ShellTool executes a single command via /bin/sh -c with captured
// output. Guarded by a denylist, a metacharacter budget, and an
// optional allow-list of base commands.
type ShellTool struct {
	allowlist []glob.Glob
	timeout   time.Duration
}

// NewShellTool builds the tool. allowlist patterns match the first
// whitespace-delimited token (the base command); an empty allowlist
// permits any base command that survives the denylist.
func NewShellTool(allowlist []string, timeout time.Duration) (*ShellTool, error) {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	t := &ShellTool{timeout: timeout}
	for _, pattern := range allowlist {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("shell allowlist pattern %q: %w", pattern, err)
		}
		t.allowlist = append(t.allowlist, g)
	}
	return t, nil
}

func (t *ShellTool) Name() string       { return "shell_exec" }
func (t *ShellTool) Category() Category { return CategoryExecute }
func (t *ShellTool) Description() string {
	return "Run an allow-listed shell command and capture its output"
}
func (t *ShellTool) RequiresConfirmation() bool { return true }

func (t *ShellTool) Schema() Schema {
	return Schema{
		"command":    {Type: "string", Required: true, Description: "Command passed to /bin/sh -c"},
		"timeout_ms": {Type: "integer", Required: false, Description: "Execution timeout in milliseconds"},
	}
}

// Validate applies the guard rails in order: length, denylist,
// metacharacter budget, allow-list. No side effects.
func (t *ShellTool) Validate(command string) error {
	if len(command) > maxCommandLen {
		return NewErrorf(ErrCommandTooLong, "command is %d bytes, limit is %d", len(command), maxCommandLen)
	}
	for _, pattern := range denyPatterns {
		if strings.Contains(command, pattern) {
			return NewErrorf(ErrDangerousCommand, "command matches denied pattern %q", pattern)
		}
	}
	meta := 0
	for _, r := range command {
		switch r {
		case '`', '$', '(', ')':
			meta++
		}
	}
	if meta > maxMetachars {
		return NewErrorf(ErrDangerousCommand, "command has %d shell metacharacters, limit is %d", meta, maxMetachars)
	}
	if len(t.allowlist) > 0 {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return NewError(ErrInvalidParams, "command is empty")
		}
		base := fields[0]
		allowed := false
		for _, g := range t.allowlist {
			if g.Match(base) {
				allowed = true
				break
			}
		}
		if !allowed {
			return NewErrorf(ErrNotAllowed, "base command %q is not on the allow-list", base)
		}
	}
	return nil
}

// ExecResult is the structured shell output.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// Execute validates then runs the command. Runs on its own OS process;
// the calling goroutine blocks, so callers dispatch from a worker.
func (t *ShellTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	schema := t.Schema()
	command := stringParam(params, schema, "command")
	if err := t.Validate(command); err != nil {
		return nil, err
	}

	timeout := t.timeout
	if ms := intParam(params, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	res := ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}
	if execCtx.Err() == context.DeadlineExceeded {
		return nil, NewErrorf(ErrTimeout, "command exceeded %s", timeout)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return nil, NewErrorf(ErrExecutionFailed, "run command: %v", err)
		}
	}

	payload, merr := json.Marshal(res)
	if merr != nil {
		return nil, merr
	}
	return &Result{
		Success:      res.ExitCode == 0,
		Output:       payload,
		ErrorMessage: exitMessage(res.ExitCode),
	}, nil
}

func exitMessage(code int) string {
	if code == 0 {
		return ""
	}
	return fmt.Sprintf("exit status %d", code)
}
