// Package orchestrator turns one natural-language goal into a bounded
// sequence of tool invocations: clarify, route, execute, autofix once,
// report.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/nlagent/internal/config"
	"github.com/example/nlagent/internal/providers/llm"
	"github.com/example/nlagent/internal/report"
	"github.com/example/nlagent/internal/tools"
)

const plannerSystem = "You are an automation planner. Given a natural language goal, you will produce a minimal step-by-step plan using available tools: shell, python, web, db. Return concise steps."

// Outcome is the final result of one goal invocation. The report path is
// always the last artifact.
type Outcome struct {
	OK        bool
	Steps     []report.StepRecord
	Artifacts []string
	Message   string
}

// Orchestrator drives the single-pass state machine:
// ClarifyCheck -> Routing -> Executing -> AutoFix -> Reporting.
type Orchestrator struct {
	Settings *config.Settings
	LLM      llm.Client
	Log      *zap.Logger

	Shell    *tools.Shell
	Script   *tools.Script
	Web      *tools.Web
	DB       *tools.DB
	Packages *tools.Packages

	routes []route
}

func New(cfg *config.Settings, client llm.Client, logger *zap.Logger) *Orchestrator {
	paths := tools.Paths{Workspace: cfg.WorkspaceDir, Outputs: cfg.OutputsDir, Logs: cfg.LogsDir}
	shell := &tools.Shell{Paths: paths}
	o := &Orchestrator{
		Settings: cfg,
		LLM:      client,
		Log:      logger,
		Shell:    shell,
		Script:   &tools.Script{Paths: paths, Interpreter: cfg.PythonBin},
		Web:      &tools.Web{Paths: paths},
		DB:       &tools.DB{Paths: paths},
		Packages: &tools.Packages{Shell: shell},
	}
	o.routes = o.buildRoutes()
	return o
}

// Execute runs the state machine for one goal. Any unexpected panic during
// routing or execution is caught here once, logged, and converted into a
// failed run with its own persisted report.
func (o *Orchestrator) Execute(ctx context.Context, goal string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.Log.Error("unexpected failure", zap.Any("panic", r), zap.String("goal", goal))
			rep := report.NewBuilder("Task Failed", goal)
			out = o.finish(rep, "task_failed", false, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	if !o.Settings.AssumeDefaults && o.LLM.Enabled() {
		if questions := o.askMissingParameters(ctx, goal); len(questions) > 0 {
			var parts []string
			for i, q := range questions {
				parts = append(parts, fmt.Sprintf("[%d] %s", i+1, q))
			}
			rep := report.NewBuilder("Clarification Needed", goal)
			msg := "Missing critical details. Please answer: " + strings.Join(parts, " ") +
				". Include the answers in the goal and re-run."
			return o.finish(rep, "clarification_needed", false, msg)
		}
	}

	planText := o.plan(ctx, goal)
	if planText != "" {
		o.Log.Info("plan", zap.String("plan", planText))
	}
	if o.risky(planText+" "+goal) && !o.Settings.AutoYes && !o.Settings.DryRun {
		rep := report.NewBuilder("Confirmation Required", goal)
		return o.finish(rep, "confirmation_required", false,
			"Confirmation required for potentially risky operations. Re-run with --auto-yes or refine the request.")
	}

	for _, r := range o.routes {
		if r.match(goal) {
			o.Log.Info("routing", zap.String("route", r.name))
			return r.handle(ctx, goal)
		}
	}
	// The generic route matches everything; this is unreachable.
	rep := report.NewBuilder("Task Failed", goal)
	return o.finish(rep, "task_failed", false, "no route matched")
}

// askMissingParameters returns up to 3 clarifying questions, or nil when
// the oracle answers "none". An unreachable oracle also returns nil so the
// check never blocks execution.
func (o *Orchestrator) askMissingParameters(ctx context.Context, goal string) []string {
	prompt := "Given the user's goal, list up to 3 short, critical questions needed to safely execute. " +
		"Respond as numbered lines only, or 'none' if sufficient.\nGoal: " + goal
	resp, err := o.LLM.CompleteText(ctx, plannerSystem, prompt, 0.2, 512)
	if err != nil {
		o.Log.Warn("clarify check skipped", zap.Error(err))
		return nil
	}
	var lines []string
	for _, l := range strings.Split(resp, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 || strings.HasPrefix(strings.ToLower(lines[0]), "none") {
		return nil
	}
	if len(lines) > 3 {
		lines = lines[:3]
	}
	return lines
}

func (o *Orchestrator) plan(ctx context.Context, goal string) string {
	if !o.LLM.Enabled() {
		return ""
	}
	prompt := fmt.Sprintf("Goal: %s\nReturn a short plan with steps using shell/python/web/db as needed.", goal)
	plan, err := o.LLM.CompleteText(ctx, plannerSystem, prompt, 0.2, 400)
	if err != nil {
		o.Log.Warn("plan generation failed", zap.Error(err))
		return ""
	}
	return plan
}

var riskKeywords = []string{"apt", "pip install", "rm -rf", "systemctl", "service "}

func (o *Orchestrator) risky(text string) bool {
	lowered := strings.ToLower(text)
	for _, k := range riskKeywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// finish persists the report and assembles the outcome. The report path is
// appended as the last artifact even when saving partially failed.
func (o *Orchestrator) finish(rep *report.Builder, kind string, ok bool, msg string) Outcome {
	artifacts := rep.Artifacts()
	path, err := rep.Save(o.Settings.ReportsDir, kind)
	if err != nil {
		o.Log.Error("report save failed", zap.Error(err))
	} else {
		artifacts = append(artifacts, path)
	}
	return Outcome{OK: ok, Steps: rep.Steps(), Artifacts: artifacts, Message: msg}
}

// stepFromResult converts a tool result into a step record.
func stepFromResult(name, command string, res tools.Result) report.StepRecord {
	s := report.StepRecord{
		Name:       name,
		Command:    command,
		Success:    res.OK,
		StdoutPath: res.Extra["stdout_path"],
		StderrPath: res.Extra["stderr_path"],
		Notes:      strings.TrimSpace(res.Stdout),
	}
	if res.ExitCode != tools.ExitNone {
		s.ExitCode = report.ExitCode(res.ExitCode)
	}
	return s
}
