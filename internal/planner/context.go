// Package planner runs a goal over multiple plan/execute passes,
// carrying accumulated code and data context between passes.
package planner

import (
	"fmt"
	"sort"
	"strings"
)

// CodeSection is one generated unit of Python code with its declared
// imports and variables.
type CodeSection struct {
	Code      string
	Notes     string
	Imports   []string
	Variables map[string]string
	Functions []string
}

// ExecutionState records the outcome of one executed task.
type ExecutionState struct {
	Success  bool
	Output   string
	Artifact string
}

// UnifiedContext accumulates everything produced across passes. Merges
// are additive: sections append, variables and imports union, data files
// append. Nothing is ever removed between passes.
type UnifiedContext struct {
	Variables  map[string]string
	Imports    map[string]struct{}
	Sections   []CodeSection
	DataFiles  []string
	Executions map[string]ExecutionState
}

func NewUnifiedContext() *UnifiedContext {
	return &UnifiedContext{
		Variables:  make(map[string]string),
		Imports:    make(map[string]struct{}),
		Executions: make(map[string]ExecutionState),
	}
}

// AddSection merges a generated section into the context.
func (u *UnifiedContext) AddSection(s CodeSection) {
	u.Sections = append(u.Sections, s)
	for _, imp := range s.Imports {
		if imp = strings.TrimSpace(imp); imp != "" {
			u.Imports[imp] = struct{}{}
		}
	}
	for k, v := range s.Variables {
		u.Variables[k] = v
	}
}

// AddDataFile records a fetched or produced data file path.
func (u *UnifiedContext) AddDataFile(path string) {
	if path != "" {
		u.DataFiles = append(u.DataFiles, path)
	}
}

// RecordExecution stores the outcome of a task keyed "pass<N>/task<M>".
func (u *UnifiedContext) RecordExecution(pass, task int, st ExecutionState) {
	u.Executions[fmt.Sprintf("pass%d/task%d", pass, task)] = st
}

// SuccessCount returns the number of successful executions so far.
func (u *UnifiedContext) SuccessCount() int {
	n := 0
	for _, st := range u.Executions {
		if st.Success {
			n++
		}
	}
	return n
}

// Summary renders the context for inclusion in a planning prompt.
func (u *UnifiedContext) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sections: %d\n", len(u.Sections))

	if len(u.Imports) > 0 {
		imports := make([]string, 0, len(u.Imports))
		for imp := range u.Imports {
			imports = append(imports, imp)
		}
		sort.Strings(imports)
		fmt.Fprintf(&b, "Imports: %s\n", strings.Join(imports, ", "))
	}
	if len(u.Variables) > 0 {
		keys := make([]string, 0, len(u.Variables))
		for k := range u.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var pairs []string
		for _, k := range keys {
			pairs = append(pairs, k+"="+u.Variables[k])
		}
		fmt.Fprintf(&b, "Variables: %s\n", strings.Join(pairs, ", "))
	}
	if len(u.DataFiles) > 0 {
		fmt.Fprintf(&b, "Data files: %s\n", strings.Join(u.DataFiles, ", "))
	}
	for i, s := range u.Sections {
		note := s.Notes
		if note == "" {
			note = firstNonEmptyLine(s.Code)
		}
		fmt.Fprintf(&b, "Section %d: %s\n", i+1, note)
		if len(s.Functions) > 0 {
			fmt.Fprintf(&b, "  functions: %s\n", strings.Join(s.Functions, ", "))
		}
	}
	fmt.Fprintf(&b, "Successful executions: %d\n", u.SuccessCount())
	return b.String()
}

func firstNonEmptyLine(s string) string {
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}
