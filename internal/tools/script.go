package tools

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// Script executes a generated code string as a standalone interpreter
// process rooted at the workspace.
type Script struct {
	Paths
	// Interpreter defaults to python3.
	Interpreter string
}

func (p *Script) interpreter() string {
	if p.Interpreter != "" {
		return p.Interpreter
	}
	return "python3"
}

// Run writes code to a timestamped file under scratchDir and executes it,
// capturing both streams to log files. Dry run performs no side effect and
// reports the would-be script path.
func (p *Script) Run(ctx context.Context, code string, scratchDir string, dryRun bool) Result {
	ts := timestamp()
	scriptPath := filepath.Join(scratchDir, "script_"+ts+".py")
	stdoutPath := filepath.Join(p.Logs, "py_stdout_"+ts+".log")
	stderrPath := filepath.Join(p.Logs, "py_stderr_"+ts+".log")

	if dryRun {
		return Result{OK: true, ExitCode: 0, Extra: map[string]string{"planned_script": scriptPath}}
	}

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: 1}
	}
	if err := os.WriteFile(scriptPath, []byte(code), 0o644); err != nil {
		return Result{OK: false, Stderr: err.Error(), ExitCode: 1}
	}

	cmd := exec.CommandContext(ctx, p.interpreter(), scriptPath)
	cmd.Dir = p.Workspace
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

	_ = os.WriteFile(stdoutPath, stdout.Bytes(), 0o644)
	_ = os.WriteFile(stderrPath, stderr.Bytes(), 0o644)

	return Result{
		OK:       exitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Extra: map[string]string{
			"script_path": scriptPath,
			"stdout_path": stdoutPath,
			"stderr_path": stderrPath,
		},
	}
}
