// Package tools implements the side-effecting tool adapters: shell commands,
// generated Python scripts, web fetch, database queries and package installs.
// Every adapter returns the uniform Result contract.
package tools

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Exit code conventions shared by all adapters.
const (
	// ExitTimeout marks a command killed on timeout, matching timeout(1).
	ExitTimeout = 124
	// ExitNone marks results that did not come from a process.
	ExitNone = -1
)

// Result is the uniform return contract of every tool adapter.
// Invariant: OK implies ExitCode is 0 or ExitNone.
type Result struct {
	OK       bool
	Stdout   string
	Stderr   string
	ExitCode int
	// Artifact is the tool's primary output file, if any.
	Artifact string
	// Extra holds tool-specific auxiliary paths and metadata. Never secrets.
	Extra map[string]string
}

// Paths are the directories every adapter writes under.
type Paths struct {
	Workspace string
	Outputs   string
	Logs      string
}

func timestamp() string {
	return time.Now().UTC().Format("20060102_150405")
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// WriteWorkspaceFile writes data to dir under a timestamped name
// "<prefix>_<ts><ext>" and returns the full path.
func WriteWorkspaceFile(dir, prefix, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, prefix+"_"+timestamp()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ChunkText splits s into size-character pieces, in order.
func ChunkText(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(s); start += size {
		end := start + size
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[start:end])
	}
	return out
}
