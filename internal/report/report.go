// Package report accumulates step records for one run and renders them as
// a persisted markdown report.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// StepRecord is one completed or attempted action. Records are immutable
// once appended; their order is execution order.
type StepRecord struct {
	Name    string
	Command string
	// ExitCode is nil for non-process actions.
	ExitCode   *int
	StdoutPath string
	StderrPath string
	Success    bool
	Notes      string
}

// ExitCode builds the optional exit code pointer for a StepRecord.
func ExitCode(code int) *int { return &code }

// Builder collects the step sequence and artifact list for one run.
type Builder struct {
	Title     string
	Goal      string
	StartedAt time.Time

	steps     []StepRecord
	artifacts []string
}

func NewBuilder(title, goal string) *Builder {
	return &Builder{Title: title, Goal: goal, StartedAt: time.Now().UTC()}
}

func (b *Builder) AddStep(s StepRecord) { b.steps = append(b.steps, s) }

func (b *Builder) AddArtifact(path string) {
	if path != "" {
		b.artifacts = append(b.artifacts, path)
	}
}

// Steps returns a snapshot of the step sequence in execution order.
func (b *Builder) Steps() []StepRecord {
	out := make([]StepRecord, len(b.steps))
	copy(out, b.steps)
	return out
}

// Artifacts returns a snapshot of the artifact list.
func (b *Builder) Artifacts() []string {
	out := make([]string, len(b.artifacts))
	copy(out, b.artifacts)
	return out
}

// Render produces the markdown report body.
func (b *Builder) Render(finishedAt time.Time) string {
	var lines []string
	lines = append(lines, "# "+b.Title, "")
	lines = append(lines, "- Goal: "+b.Goal)
	lines = append(lines, "- Started: "+b.StartedAt.Format(time.RFC3339))
	lines = append(lines, "- Finished: "+finishedAt.Format(time.RFC3339))
	lines = append(lines, "", "## Steps")
	for _, s := range b.steps {
		status := "OK"
		if !s.Success {
			status = "FAIL"
		}
		lines = append(lines, fmt.Sprintf("- %s | %s", s.Name, status))
		if s.Command != "" {
			lines = append(lines, fmt.Sprintf("  - Command: `%s`", s.Command))
		}
		if s.ExitCode != nil {
			lines = append(lines, fmt.Sprintf("  - Exit code: %d", *s.ExitCode))
		}
		if s.StdoutPath != "" {
			lines = append(lines, fmt.Sprintf("  - Stdout: `%s`", s.StdoutPath))
		}
		if s.StderrPath != "" {
			lines = append(lines, fmt.Sprintf("  - Stderr: `%s`", s.StderrPath))
		}
		if s.Notes != "" {
			lines = append(lines, "  - Notes: "+s.Notes)
		}
	}
	lines = append(lines, "")
	if len(b.artifacts) > 0 {
		lines = append(lines, "## Artifacts")
		for _, a := range b.artifacts {
			lines = append(lines, fmt.Sprintf("- `%s`", a))
		}
	}
	return strings.Join(lines, "\n")
}

// Save renders and persists the report under reportsDir with a UTC
// timestamp prefix and the task-kind suffix, returning the saved path.
func (b *Builder) Save(reportsDir, kind string) (string, error) {
	ts := time.Now().UTC().Format("20060102_150405")
	name := SanitizeFilename(ts+"_"+kind) + ".md"
	path := filepath.Join(reportsDir, name)
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(b.Render(time.Now().UTC())), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces s to a safe filename fragment.
func SanitizeFilename(s string) string {
	s = unsafeFilename.ReplaceAllString(s, "_")
	return strings.Trim(s, "._")
}
