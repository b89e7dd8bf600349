package orchestrator

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/example/nlagent/internal/providers/llm"
	"github.com/example/nlagent/internal/report"
	"github.com/example/nlagent/internal/tools"
)

const codegenSystem = "You write complete, runnable Python 3 scripts. Use only the standard library unless the task names a package. Print results to stdout."

var fenceRe = regexp.MustCompile("(?s)```(?:python)?\\s*(.*?)```")

var scriptTool = llm.ToolSpec{
	Name:        "generate_python_script",
	Description: "Return a complete Python script for the task.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code":  map[string]any{"type": "string", "description": "Complete Python source."},
			"notes": map[string]any{"type": "string", "description": "Short notes on approach."},
		},
		"required": []string{"code"},
	},
}

// generateCode asks the oracle for a Python script via three strategies in
// order: a forced tool call, JSON mode, then a strict plain-text retry.
// On failure it persists a failed report and returns ok=false with the
// finished outcome.
func (o *Orchestrator) generateCode(ctx context.Context, task string, rep *report.Builder, kind string) (string, Outcome, bool) {
	if !o.LLM.Enabled() {
		rep.AddStep(report.StepRecord{Name: "llm.generate", Command: task, Success: false, Notes: "oracle not configured"})
		return "", o.finish(rep, kind, false,
			"LLM not configured. Set OPENAI_API_KEY or GOOGLE_API_KEY to enable code generation."), false
	}

	user := "Task: " + task + "\nReturn the full script."
	code := o.codeViaToolCall(ctx, user)
	if code == "" {
		code = o.codeViaJSON(ctx, user)
	}
	if code == "" {
		code = o.codeViaText(ctx, user)
	}
	if strings.TrimSpace(code) == "" {
		rep.AddStep(report.StepRecord{Name: "llm.generate", Command: task, Success: false, Notes: "empty response"})
		return "", o.finish(rep, kind, false, "LLM returned empty code"), false
	}
	rep.AddStep(report.StepRecord{Name: "llm.generate", Command: task, Success: true,
		Notes: fmt.Sprintf("%d bytes of python", len(code))})
	return code, Outcome{}, true
}

func (o *Orchestrator) codeViaToolCall(ctx context.Context, user string) string {
	_, calls, err := o.LLM.CompleteWithTools(ctx, codegenSystem, user,
		[]llm.ToolSpec{scriptTool}, scriptTool.Name, 2000)
	if err != nil {
		o.Log.Debug("tool-call generation failed", zap.Error(err))
		return ""
	}
	for _, call := range calls {
		if call.Name != scriptTool.Name {
			continue
		}
		args := llm.DecodeLooseJSON(call.Arguments)
		if code := llm.GetString(args, "code"); code != "" {
			return code
		}
	}
	return ""
}

func (o *Orchestrator) codeViaJSON(ctx context.Context, user string) string {
	obj, err := o.LLM.CompleteJSON(ctx,
		codegenSystem+" Respond as JSON: {\"code\": \"...\", \"notes\": \"...\"}.", user, 2000)
	if err != nil {
		o.Log.Debug("json generation failed", zap.Error(err))
		return ""
	}
	return llm.GetString(obj, "code")
}

// codeViaText is the last resort: plain text with fences stripped, kept
// only when it looks like Python at all.
func (o *Orchestrator) codeViaText(ctx context.Context, user string) string {
	text, err := o.LLM.CompleteText(ctx,
		codegenSystem+" Return ONLY the Python source, no prose.", user, 0.2, 2000)
	if err != nil {
		o.Log.Debug("text generation failed", zap.Error(err))
		return ""
	}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	if !looksLikePython(text) {
		return ""
	}
	return text
}

func looksLikePython(code string) bool {
	for _, marker := range []string{"import", "def ", "print("} {
		if strings.Contains(code, marker) {
			return true
		}
	}
	return false
}

var failureSignals = []string{
	"error", "exception", "traceback", "timeout", "connection refused",
	"not found", "modulenotfounderror", "typeerror", "valueerror",
	"http error", "bad request", "failed",
}

func looksFailed(res tools.Result) bool {
	if !res.OK {
		return true
	}
	combined := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	for _, s := range failureSignals {
		if strings.Contains(combined, s) {
			return true
		}
	}
	return false
}

// autofix gives the oracle exactly one chance to repair a failed script.
// The fixed code replaces the file on disk and the command is re-run once;
// whatever that second run produces is final.
func (o *Orchestrator) autofix(ctx context.Context, goal, scriptPath, command string, res tools.Result, rep *report.Builder) tools.Result {
	if !looksFailed(res) || !o.LLM.Enabled() || o.Settings.DryRun {
		return res
	}

	original, err := os.ReadFile(scriptPath)
	if err != nil {
		o.Log.Warn("autofix skipped", zap.Error(err))
		return res
	}
	user := fmt.Sprintf("Goal: %s\n\nScript:\n%s\n\nExit code: %d\n\nStdout:\n%s\n\nStderr:\n%s\n\nFix the script. Respond as JSON: {\"code\": \"...\"}.",
		goal, string(original), res.ExitCode, tail(res.Stdout, 2000), tail(res.Stderr, 2000))
	obj, err := o.LLM.CompleteJSON(ctx, "You repair broken Python scripts. Return the complete corrected source.", user, 2000)
	if err != nil {
		o.Log.Warn("autofix generation failed", zap.Error(err))
		return res
	}
	fixed := llm.GetString(obj, "code")
	if strings.TrimSpace(fixed) == "" || fixed == string(original) {
		return res
	}

	if err := os.WriteFile(scriptPath, []byte(fixed), 0o644); err != nil {
		o.Log.Warn("autofix write failed", zap.Error(err))
		return res
	}
	rep.AddStep(report.StepRecord{Name: "file.update", Command: scriptPath, Success: true, Notes: "autofix applied"})

	retry := o.Shell.Run(ctx, command, tools.ShellOptions{})
	rep.AddStep(stepFromResult("shell.run (retry)", command, retry))
	return retry
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
