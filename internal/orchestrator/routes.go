package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/example/nlagent/internal/providers/llm"
	"github.com/example/nlagent/internal/report"
	"github.com/example/nlagent/internal/tools"
)

// route is one entry in the ordered routing table. The first matching
// route wins; the generic route matches everything and must stay last.
type route struct {
	name   string
	match  func(goal string) bool
	handle func(ctx context.Context, goal string) Outcome
}

var (
	scriptPatternRe = regexp.MustCompile(`(?i)create\s+a\s+python\s+script\s+named\s+([A-Za-z0-9_./-]+\.py)\s+to\s+(.+)`)
	runSuffixRe     = regexp.MustCompile(`(?i)\s+and\s+run\s+it\.?\s*$`)
	urlRe           = regexp.MustCompile(`https?://\S+`)
	dbURLRe         = regexp.MustCompile(`\b[a-zA-Z0-9+]+://[^\s']+`)
	sqlRe           = regexp.MustCompile(`(?is)\bselect\b[\s\S]+`)
)

func (o *Orchestrator) buildRoutes() []route {
	return []route{
		{
			name:   "script_pattern",
			match:  func(g string) bool { return scriptPatternRe.MatchString(g) },
			handle: o.handleScriptPattern,
		},
		{
			name:   "web_summarize",
			match:  func(g string) bool { return urlRe.MatchString(g) },
			handle: o.handleWebSummarize,
		},
		{
			name:   "db_query",
			match:  hasDBIntent,
			handle: o.handleDBQuery,
		},
		{
			name:   "package_install",
			match:  hasPackageIntent,
			handle: o.handlePackages,
		},
		{
			name:   "generic",
			match:  func(string) bool { return true },
			handle: o.handleGeneric,
		},
	}
}

// handleScriptPattern serves "create a python script named X.py to <task>"
// goals: generate the code, write it at the named workspace path, run it.
func (o *Orchestrator) handleScriptPattern(ctx context.Context, goal string) Outcome {
	m := scriptPatternRe.FindStringSubmatch(goal)
	rel := strings.TrimPrefix(m[1], "workspace/")
	task := runSuffixRe.ReplaceAllString(strings.TrimSpace(m[2]), "")

	rep := report.NewBuilder("Script Task", goal)
	dest := filepath.Join(o.Settings.WorkspaceDir, rel)
	if !insideDir(o.Settings.WorkspaceDir, dest) {
		rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: false, Notes: "path escapes the workspace"})
		return o.finish(rep, "script_task", false, "Refusing to write outside workspace: "+m[1])
	}

	code, out, ok := o.generateCode(ctx, task, rep, "script_task")
	if !ok {
		return out
	}

	if o.Settings.DryRun {
		rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: true, Notes: "dry-run: skipped"})
		rep.AddStep(report.StepRecord{Name: "shell.run", Command: "python3 " + rel, Success: true, Notes: "dry-run: skipped"})
		return o.finish(rep, "script_task", true, "Dry run complete. No files written, nothing executed.")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: false, Notes: err.Error()})
		return o.finish(rep, "script_task", false, "could not create script directory: "+err.Error())
	}
	if err := os.WriteFile(dest, []byte(code), 0o644); err != nil {
		rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: false, Notes: err.Error()})
		return o.finish(rep, "script_task", false, "could not write script: "+err.Error())
	}
	rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: true})
	rep.AddArtifact(dest)

	command := o.Settings.PythonBin + " " + rel
	res := o.Shell.Run(ctx, command, tools.ShellOptions{})
	rep.AddStep(stepFromResult("shell.run", command, res))
	res = o.autofix(ctx, goal, dest, command, res, rep)

	if !res.OK {
		return o.finish(rep, "script_task", false, "script failed: "+firstLine(res.Stderr))
	}
	return o.finish(rep, "script_task", true, "Script created and executed: "+rel)
}

// handleWebSummarize fetches the first URL in the goal, extracts visible
// text, and writes a markdown summary. Without a configured oracle it
// degrades to a labeled excerpt instead of failing.
func (o *Orchestrator) handleWebSummarize(ctx context.Context, goal string) Outcome {
	url := urlRe.FindString(goal)
	rep := report.NewBuilder("Web Task", goal)

	res := o.Web.Fetch(ctx, url, o.Settings.DryRun)
	rep.AddStep(stepFromResult("web.fetch", url, res))
	if res.Artifact != "" {
		rep.AddArtifact(res.Artifact)
	}
	if o.Settings.DryRun {
		return o.finish(rep, "web_task", true, "Dry run complete. No fetch performed.")
	}
	if !res.OK {
		return o.finish(rep, "web_task", false, "fetch failed: "+firstLine(res.Stderr))
	}

	text, err := o.Web.ExtractText(res.Artifact)
	if err != nil {
		rep.AddStep(report.StepRecord{Name: "web.extract", Command: res.Artifact, Success: false, Notes: err.Error()})
		return o.finish(rep, "web_task", false, "text extraction failed: "+err.Error())
	}
	rep.AddStep(report.StepRecord{Name: "web.extract", Command: res.Artifact, Success: true,
		Notes: fmt.Sprintf("%d characters", len(text))})

	var summary string
	if o.LLM.Enabled() {
		chunks := tools.ChunkText(text, 8000)
		summary, err = llm.SummarizeChunks(ctx, o.LLM,
			"You summarize web pages into concise markdown with key points.", chunks, 700)
		if err != nil {
			rep.AddStep(report.StepRecord{Name: "llm.summarize", Command: url, Success: false, Notes: err.Error()})
			return o.finish(rep, "web_task", false, "summarization failed: "+err.Error())
		}
		rep.AddStep(report.StepRecord{Name: "llm.summarize", Command: url, Success: true})
	} else {
		excerpt := text
		if len(excerpt) > 1000 {
			excerpt = excerpt[:1000]
		}
		summary = "LLM not configured. Extracted text excerpt:\n\n" + excerpt
	}

	dest := filepath.Join(o.Settings.OutputsDir, "web_summary.md")
	if err := os.WriteFile(dest, []byte(summary), 0o644); err != nil {
		return o.finish(rep, "web_task", false, "could not write summary: "+err.Error())
	}
	rep.AddArtifact(dest)
	return o.finish(rep, "web_task", true, "Summary written to "+dest)
}

func hasDBIntent(goal string) bool {
	lowered := strings.ToLower(goal)
	for _, k := range []string{"postgres", "postgresql", "mysql", "sqlite", "mssql"} {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// handleDBQuery extracts a connection URL and a SELECT statement from the
// goal and exports the result set.
func (o *Orchestrator) handleDBQuery(ctx context.Context, goal string) Outcome {
	rep := report.NewBuilder("Database Task", goal)

	url := dbURLRe.FindString(goal)
	if url == "" {
		return o.finish(rep, "db_task", false, "Missing connection URL.")
	}
	sql := strings.TrimSpace(sqlRe.FindString(goal))
	if sql == "" {
		return o.finish(rep, "db_task", false, "Missing SQL query. Please provide a SELECT statement.")
	}

	req := tools.QueryRequest{URL: url, SQL: sql, OutBase: "query_result"}
	res := o.DB.Query(ctx, req, o.Settings.DryRun)
	rep.AddStep(stepFromResult("db.query", sql, res))
	for _, key := range []string{"csv", "gob"} {
		if p := res.Extra[key]; p != "" && !o.Settings.DryRun {
			rep.AddArtifact(p)
		}
	}
	if o.Settings.DryRun {
		return o.finish(rep, "db_task", true, "Dry run complete. Query not executed.")
	}
	if !res.OK {
		return o.finish(rep, "db_task", false, "query failed: "+firstLine(res.Stderr))
	}
	return o.finish(rep, "db_task", true, fmt.Sprintf("Exported %s rows to %s", res.Extra["rows"], res.Extra["csv"]))
}

func hasPackageIntent(goal string) bool {
	lowered := strings.ToLower(goal)
	if !strings.Contains(lowered, "install") {
		return false
	}
	for _, k := range []string{"git", "jq", "apt", "pip"} {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// handlePackages installs the tools named in the goal and verifies each
// with a version check.
func (o *Orchestrator) handlePackages(ctx context.Context, goal string) Outcome {
	rep := report.NewBuilder("Package Install", goal)
	lowered := strings.ToLower(goal)

	var plan tools.PackagePlan
	for _, name := range []string{"git", "jq", "curl", "wget"} {
		if containsWord(lowered, name) {
			plan.Apt = append(plan.Apt, name)
		}
	}
	if len(plan.Apt) == 0 && len(plan.Pip) == 0 {
		return o.finish(rep, "package_install", false, "No recognized packages in goal.")
	}

	res := o.Packages.Ensure(ctx, plan, o.Settings.AutoYes, o.Settings.DryRun)
	rep.AddStep(stepFromResult("packages.ensure", strings.Join(o.Packages.Commands(plan, o.Settings.AutoYes), " && "), res))
	if o.Settings.DryRun {
		return o.finish(rep, "package_install", true, "Dry run complete. No packages installed.")
	}
	if !res.OK {
		return o.finish(rep, "package_install", false, "package installation failed")
	}

	ok := true
	for _, name := range plan.Apt {
		cmd := name + " --version"
		vres := o.Shell.Run(ctx, cmd, tools.ShellOptions{})
		rep.AddStep(stepFromResult("verify", cmd, vres))
		if !vres.OK {
			ok = false
		}
	}
	if !ok {
		return o.finish(rep, "package_install", false, "version check failed after install")
	}
	return o.finish(rep, "package_install", true, "Installed: "+strings.Join(plan.Apt, ", "))
}

// handleGeneric serves any remaining goal by generating a python script
// for it, writing it under a sanitized name, and running it.
func (o *Orchestrator) handleGeneric(ctx context.Context, goal string) Outcome {
	rep := report.NewBuilder("Generic Task", goal)
	code, out, ok := o.generateCode(ctx, goal, rep, "generic_task")
	if !ok {
		return out
	}

	rel := report.SanitizeFilename(truncate(goal, 40)) + ".py"
	dest := filepath.Join(o.Settings.WorkspaceDir, rel)
	if o.Settings.DryRun {
		rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: true, Notes: "dry-run: skipped"})
		return o.finish(rep, "generic_task", true, "Dry run complete. No files written, nothing executed.")
	}
	if err := os.WriteFile(dest, []byte(code), 0o644); err != nil {
		rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: false, Notes: err.Error()})
		return o.finish(rep, "generic_task", false, "could not write script: "+err.Error())
	}
	rep.AddStep(report.StepRecord{Name: "file.write", Command: dest, Success: true})
	rep.AddArtifact(dest)

	command := o.Settings.PythonBin + " " + rel
	res := o.Shell.Run(ctx, command, tools.ShellOptions{})
	rep.AddStep(stepFromResult("shell.run", command, res))
	res = o.autofix(ctx, goal, dest, command, res, rep)

	if !res.OK {
		return o.finish(rep, "generic_task", false, "task failed: "+firstLine(res.Stderr))
	}
	o.Log.Info("generic task complete", zap.String("script", dest))
	return o.finish(rep, "generic_task", true, "Task complete. Script: "+rel)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func containsWord(haystack, word string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(haystack)
}

// insideDir reports whether path is root or a descendant of it, matching
// the shell runner's containment rule.
func insideDir(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
