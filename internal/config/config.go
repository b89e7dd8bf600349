// Package config resolves agent settings from flags, environment and an
// optional .env file, and prepares the on-disk workspace layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Settings is the resolved runtime configuration for one agent process.
type Settings struct {
	RootDir      string
	WorkspaceDir string
	OutputsDir   string
	ReportsDir   string
	LogsDir      string
	TmpDir       string

	OpenAIAPIKey string
	OpenAIBase   string
	Model        string
	GoogleAPIKey string
	Provider     string

	PythonBin string

	AutoYes        bool
	DryRun         bool
	AssumeDefaults bool
	Verbose        bool
	MaxPasses      int
}

// Options carries the CLI overrides into Load.
type Options struct {
	AutoYes        bool
	DryRun         bool
	Model          string
	AssumeDefaults bool
	Verbose        bool
	Passes         int
}

// Load reads .env (without overriding the real environment), resolves all
// settings and eagerly creates the workspace directory tree.
func Load(opts Options) (*Settings, error) {
	_ = godotenv.Load()

	root := os.Getenv("AGENT_ROOT")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}

	s := &Settings{
		RootDir:      root,
		WorkspaceDir: filepath.Join(root, "workspace"),
		OutputsDir:   filepath.Join(root, "outputs"),
		ReportsDir:   filepath.Join(root, "reports"),
		LogsDir:      filepath.Join(root, "logs"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIBase:   strings.TrimRight(os.Getenv("OPENAI_BASE_URL"), "/"),
		Model:        getenv("OPENAI_MODEL", "gpt-4o-mini"),
		GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
		Provider:     strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))),

		PythonBin: getenv("AGENT_PYTHON", "python3"),

		AutoYes:        opts.AutoYes,
		DryRun:         opts.DryRun,
		AssumeDefaults: opts.AssumeDefaults || envBool("AGENT_ASSUME_DEFAULTS"),
		Verbose:        opts.Verbose,
		MaxPasses:      opts.Passes,
	}
	s.TmpDir = filepath.Join(s.WorkspaceDir, "tmp")

	if opts.Model != "" {
		s.Model = opts.Model
	}
	if s.MaxPasses < 1 {
		s.MaxPasses = 1
	}
	if v := os.Getenv("AGENT_MAX_PASSES"); v != "" && opts.Passes == 0 {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxPasses = n
		}
	}

	for _, d := range []string{s.WorkspaceDir, s.OutputsDir, s.ReportsDir, s.LogsDir, s.TmpDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return s, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
