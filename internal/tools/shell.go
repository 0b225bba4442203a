package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 120 * time.Second
	maxShellOutput      = 8 * 1024 // 8KB
)

// Executor runs a shell command and reports its outcome.
type Executor interface {
	Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error)
}

// HostExecutor runs commands against the local host shell.
type HostExecutor struct{}

func (h *HostExecutor) Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error) {
	execCmd := exec.CommandContext(ctx, "sh", "-c", cmd)
	if workDir != "" {
		execCmd.Dir = workDir
	}

	var outBuf, errBuf bytes.Buffer
	execCmd.Stdout = &outBuf
	execCmd.Stderr = &errBuf

	runErr := execCmd.Run()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			err = runErr
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, err
}

// denyList blocks commands this agent should never run unsupervised.
var denyList = map[string]struct{}{
	"rm": {}, "rmdir": {}, "mkfs": {}, "dd": {},
	"shutdown": {}, "reboot": {}, "halt": {}, "poweroff": {},
	"kill": {}, "killall": {}, "pkill": {},
	"sudo": {}, "su": {}, "chmod": {}, "chown": {},
}

func firstWord(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ShellTool runs one command through args["command"], honoring an optional
// args["working_dir"] and args["timeout_sec"] (capped at maxShellTimeout).
type ShellTool struct {
	Executor Executor
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Run(ctx context.Context, args map[string]string) (string, error) {
	cmd := args["command"]
	if cmd == "" {
		return "", fmt.Errorf("shell: missing command")
	}
	if _, denied := denyList[firstWord(cmd)]; denied {
		return "", fmt.Errorf("shell: command %q is not permitted", firstWord(cmd))
	}

	timeout := defaultShellTimeout
	if raw := args["timeout_sec"]; raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
			if timeout > maxShellTimeout {
				timeout = maxShellTimeout
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := t.Executor.Exec(runCtx, cmd, args["working_dir"])
	if err != nil {
		return "", fmt.Errorf("shell: exec: %w", err)
	}

	out := stdout
	if stderr != "" {
		out += "\n[stderr]\n" + stderr
	}
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput] + "\n[output truncated]"
	}
	return fmt.Sprintf("exit_code=%d\n%s", exitCode, out), nil
}
