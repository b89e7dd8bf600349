package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/example/nlagent/internal/config"
	"github.com/example/nlagent/internal/providers/llm"
	"github.com/example/nlagent/internal/report"
	"github.com/example/nlagent/internal/tools"
)

const plannerSystem = "You are an iterative task planner. Each pass you propose a small batch of concrete tasks that move toward the goal, building on the accumulated context."

var urlRe = regexp.MustCompile(`https?://\S+`)

// Outcome is the final result of an iterative run. The report path is
// always the last artifact.
type Outcome struct {
	OK        bool
	Steps     []report.StepRecord
	Artifacts []string
	Message   string
}

// passPlan is one pass worth of tasks. Approach is one of "incremental",
// "rebuild" or "extend".
type passPlan struct {
	Approach  string
	Tasks     []string
	Reasoning string
}

// Planner executes a goal over up to MaxPasses plan/execute rounds.
// GoalChecker decides whether the accumulated context satisfies the goal;
// the zero value uses a conservative default.
type Planner struct {
	Settings *config.Settings
	LLM      llm.Client
	Log      *zap.Logger

	Script *tools.Script
	Web    *tools.Web

	GoalChecker func(*UnifiedContext) bool
}

func New(cfg *config.Settings, client llm.Client, logger *zap.Logger) *Planner {
	paths := tools.Paths{Workspace: cfg.WorkspaceDir, Outputs: cfg.OutputsDir, Logs: cfg.LogsDir}
	return &Planner{
		Settings: cfg,
		LLM:      client,
		Log:      logger,
		Script:   &tools.Script{Paths: paths, Interpreter: cfg.PythonBin},
		Web:      &tools.Web{Paths: paths},
	}
}

// defaultGoalMet requires at least one successful execution and some
// accumulated material, either code sections or data files.
func defaultGoalMet(u *UnifiedContext) bool {
	return u.SuccessCount() >= 1 && (len(u.DataFiles) > 0 || len(u.Sections) > 0)
}

func (p *Planner) goalMet(u *UnifiedContext) bool {
	if p.GoalChecker != nil {
		return p.GoalChecker(u)
	}
	return defaultGoalMet(u)
}

// Run drives the pass loop. A task failure aborts its pass; a failure on
// the final pass fails the whole run. Any unexpected panic inside a pass
// is caught here once, logged, and converted into a failed run with its
// own persisted report.
func (p *Planner) Run(ctx context.Context, goal string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.Log.Error("unexpected failure", zap.Any("panic", r), zap.String("goal", goal))
			rep := report.NewBuilder("Task Failed", goal)
			out = p.finish(rep, "task_failed", false, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	rep := report.NewBuilder("Iterative Task", goal)
	uctx := NewUnifiedContext()
	maxPasses := p.Settings.MaxPasses
	if maxPasses < 1 {
		maxPasses = 1
	}

	met := false
	for pass := 1; pass <= maxPasses; pass++ {
		plan := p.planPass(ctx, goal, uctx, pass)
		p.Log.Info("pass planned", zap.Int("pass", pass),
			zap.String("approach", plan.Approach), zap.Int("tasks", len(plan.Tasks)))
		rep.AddStep(report.StepRecord{
			Name:    fmt.Sprintf("plan (pass %d)", pass),
			Success: true,
			Notes:   fmt.Sprintf("approach=%s tasks=%d %s", plan.Approach, len(plan.Tasks), plan.Reasoning),
		})

		passFailed := false
		var failMsg string
		for i, task := range plan.Tasks {
			st := p.runTask(ctx, goal, task, uctx, rep)
			uctx.RecordExecution(pass, i+1, st)
			if !st.Success {
				passFailed = true
				failMsg = firstLine(st.Output)
				if failMsg == "" {
					failMsg = "task failed: " + task
				}
				break
			}
		}

		if passFailed && pass == maxPasses {
			p.mergeIfNeeded(ctx, goal, uctx, rep)
			return p.finish(rep, "iterative_task", false, "Failed on final pass: "+failMsg)
		}
		if !passFailed && p.goalMet(uctx) {
			met = true
			p.Log.Info("goal satisfied", zap.Int("pass", pass))
			break
		}
	}

	p.mergeIfNeeded(ctx, goal, uctx, rep)
	if !met && !p.goalMet(uctx) {
		return p.finish(rep, "iterative_task", false, fmt.Sprintf("Goal not satisfied after %d passes.", maxPasses))
	}
	return p.finish(rep, "iterative_task", true, fmt.Sprintf("Goal satisfied. %d sections, %d data files.",
		len(uctx.Sections), len(uctx.DataFiles)))
}

// planPass asks the oracle for this pass's tasks. A disabled oracle or a
// malformed response degrades to a single task equal to the whole goal.
func (p *Planner) planPass(ctx context.Context, goal string, u *UnifiedContext, pass int) passPlan {
	fallback := passPlan{Approach: "incremental", Tasks: []string{goal}}
	if !p.LLM.Enabled() {
		return fallback
	}

	user := fmt.Sprintf("Goal: %s\nPass: %d\n\nContext so far:\n%s\n"+
		"Propose the next tasks. Respond as JSON: {\"approach\": \"incremental|rebuild|extend\", "+
		"\"tasks\": [\"...\"], \"reasoning\": \"...\"}.", goal, pass, u.Summary())
	obj, err := p.LLM.CompleteJSON(ctx, plannerSystem, user, 1200)
	if err != nil {
		p.Log.Warn("pass planning failed", zap.Error(err))
		return fallback
	}

	plan := passPlan{
		Approach:  strings.ToLower(llm.GetString(obj, "approach")),
		Tasks:     llm.GetStringSlice(obj, "tasks"),
		Reasoning: llm.GetString(obj, "reasoning"),
	}
	switch plan.Approach {
	case "incremental", "rebuild", "extend":
	default:
		return fallback
	}
	var tasks []string
	for _, t := range plan.Tasks {
		if t = strings.TrimSpace(t); t != "" {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return fallback
	}
	plan.Tasks = tasks
	return plan
}

// runTask executes one task: a task containing a URL is a fetch, anything
// else becomes a generated code section that is run immediately.
func (p *Planner) runTask(ctx context.Context, goal, task string, u *UnifiedContext, rep *report.Builder) ExecutionState {
	if url := urlRe.FindString(task); url != "" {
		res := p.Web.Fetch(ctx, url, p.Settings.DryRun)
		rep.AddStep(stepFromResult("web.fetch", url, res))
		if res.Artifact != "" {
			u.AddDataFile(res.Artifact)
			rep.AddArtifact(res.Artifact)
		}
		return ExecutionState{Success: res.OK, Output: res.Stderr, Artifact: res.Artifact}
	}

	section, ok := p.generateSection(ctx, goal, task, u)
	if !ok {
		rep.AddStep(report.StepRecord{Name: "llm.generate", Command: task, Success: false, Notes: "no code produced"})
		return ExecutionState{Success: false, Output: "code generation failed for task: " + task}
	}
	u.AddSection(section)

	res := p.Script.Run(ctx, section.Code, p.Settings.TmpDir, p.Settings.DryRun)
	rep.AddStep(stepFromResult("script.run", task, res))
	out := res.Stdout
	if !res.OK {
		out = res.Stderr
	}
	return ExecutionState{Success: res.OK, Output: out, Artifact: res.Extra["script_path"]}
}

// generateSection asks for the code plus its declared imports and
// variables so later passes can plan against them.
func (p *Planner) generateSection(ctx context.Context, goal, task string, u *UnifiedContext) (CodeSection, bool) {
	if !p.LLM.Enabled() {
		return CodeSection{}, false
	}
	user := fmt.Sprintf("Goal: %s\nTask: %s\n\nContext so far:\n%s\n"+
		"Write Python 3 code for the task. Respond as JSON: {\"code\": \"...\", \"imports\": [\"...\"], "+
		"\"variables\": {\"name\": \"description\"}, \"functions\": [\"...\"], \"notes\": \"...\"}.", goal, task, u.Summary())
	obj, err := p.LLM.CompleteJSON(ctx,
		"You write complete, runnable Python 3 code sections that build on prior context.", user, 2000)
	if err != nil {
		p.Log.Warn("section generation failed", zap.Error(err))
		return CodeSection{}, false
	}
	code := llm.GetString(obj, "code")
	if strings.TrimSpace(code) == "" {
		return CodeSection{}, false
	}
	return CodeSection{
		Code:      code,
		Notes:     llm.GetString(obj, "notes"),
		Imports:   llm.GetStringSlice(obj, "imports"),
		Variables: llm.GetStringMap(obj, "variables"),
		Functions: llm.GetStringSlice(obj, "functions"),
	}, true
}

// mergeIfNeeded writes the combined script to the workspace when more than
// one section accumulated. The merged script is never executed.
func (p *Planner) mergeIfNeeded(ctx context.Context, goal string, u *UnifiedContext, rep *report.Builder) {
	if len(u.Sections) <= 1 || p.Settings.DryRun {
		return
	}
	merged := p.MergeSections(ctx, goal, u)
	path, err := tools.WriteWorkspaceFile(p.Settings.WorkspaceDir, "merged", ".py", []byte(merged))
	if err != nil {
		p.Log.Warn("merge write failed", zap.Error(err))
		rep.AddStep(report.StepRecord{Name: "merge", Success: false, Notes: err.Error()})
		return
	}
	rep.AddStep(report.StepRecord{Name: "merge", Command: path, Success: true,
		Notes: fmt.Sprintf("%d sections combined", len(u.Sections))})
	rep.AddArtifact(path)
}

func (p *Planner) finish(rep *report.Builder, kind string, ok bool, msg string) Outcome {
	artifacts := rep.Artifacts()
	path, err := rep.Save(p.Settings.ReportsDir, kind)
	if err != nil {
		p.Log.Error("report save failed", zap.Error(err))
	} else {
		artifacts = append(artifacts, path)
	}
	return Outcome{OK: ok, Steps: rep.Steps(), Artifacts: artifacts, Message: msg}
}

func stepFromResult(name, command string, res tools.Result) report.StepRecord {
	s := report.StepRecord{
		Name:       name,
		Command:    command,
		Success:    res.OK,
		StdoutPath: res.Extra["stdout_path"],
		StderrPath: res.Extra["stderr_path"],
		Notes:      strings.TrimSpace(firstLine(res.Stdout)),
	}
	if res.ExitCode != tools.ExitNone {
		s.ExitCode = report.ExitCode(res.ExitCode)
	}
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
