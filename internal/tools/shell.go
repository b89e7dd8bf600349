package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Shell executes shell command strings inside the workspace.
type Shell struct {
	Paths
}

// ShellOptions tune a single Run call.
type ShellOptions struct {
	// Dir is the working directory; defaults to the workspace root. It must
	// be the workspace or a descendant of it.
	Dir string
	// Timeout, when positive, kills the process and yields ExitTimeout.
	Timeout time.Duration
	DryRun  bool
}

// Run executes command via `sh -c`, capturing both streams to timestamped
// log files. A working directory outside the workspace is refused outright:
// no process is spawned and the result carries exit code 1.
func (s *Shell) Run(ctx context.Context, command string, opts ShellOptions) Result {
	ts := timestamp()
	stdoutPath := filepath.Join(s.Logs, "stdout_"+ts+".log")
	stderrPath := filepath.Join(s.Logs, "stderr_"+ts+".log")

	if opts.DryRun {
		extra := map[string]string{"planned_command": command}
		if opts.Timeout > 0 {
			extra["planned_timeout"] = opts.Timeout.String()
		}
		return Result{OK: true, ExitCode: 0, Extra: extra}
	}

	dir := opts.Dir
	if dir == "" {
		dir = s.Workspace
	}
	if !s.insideWorkspace(dir) {
		return Result{OK: false, Stderr: "Refusing to run outside workspace", ExitCode: 1}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = 1
		}
	}
	errText := stderr.String()
	if opts.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded {
		exitCode = ExitTimeout
		errText += fmt.Sprintf("\n[timeout after %s]", opts.Timeout)
	}

	_ = os.WriteFile(stdoutPath, stdout.Bytes(), 0o644)
	_ = os.WriteFile(stderrPath, []byte(errText), 0o644)

	return Result{
		OK:       exitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   errText,
		ExitCode: exitCode,
		Extra: map[string]string{
			"stdout_path": stdoutPath,
			"stderr_path": stderrPath,
		},
	}
}

func (s *Shell) insideWorkspace(dir string) bool {
	ws, err := filepath.Abs(s.Workspace)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(ws, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
