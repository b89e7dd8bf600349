package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/nlagent/internal/config"
	"github.com/example/nlagent/internal/providers/llm"
)

// fakeLLM is a scriptable oracle. Unset hooks return errors so tests fail
// loudly on unexpected calls.
type fakeLLM struct {
	enabled bool
	textFn  func(system, user string) (string, error)
	jsonFn  func(system, user string) (map[string]any, error)
	toolsFn func(system, user string, toolChoice string) (llm.Message, []llm.ToolCall, error)
}

func (f *fakeLLM) Enabled() bool { return f.enabled }

func (f *fakeLLM) CompleteText(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	if f.textFn == nil {
		return "", errors.New("unexpected CompleteText")
	}
	return f.textFn(system, user)
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, system, user string, maxTokens int) (map[string]any, error) {
	if f.jsonFn == nil {
		return nil, errors.New("unexpected CompleteJSON")
	}
	return f.jsonFn(system, user)
}

func (f *fakeLLM) CompleteWithTools(ctx context.Context, system, user string, tools []llm.ToolSpec, toolChoice string, maxTokens int) (llm.Message, []llm.ToolCall, error) {
	if f.toolsFn == nil {
		return llm.Message{}, nil, errors.New("unexpected CompleteWithTools")
	}
	return f.toolsFn(system, user, toolChoice)
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	root := t.TempDir()
	s := &config.Settings{
		RootDir:        root,
		WorkspaceDir:   filepath.Join(root, "workspace"),
		OutputsDir:     filepath.Join(root, "outputs"),
		ReportsDir:     filepath.Join(root, "reports"),
		LogsDir:        filepath.Join(root, "logs"),
		PythonBin:      "python3",
		AssumeDefaults: true,
		MaxPasses:      1,
	}
	s.TmpDir = filepath.Join(s.WorkspaceDir, "tmp")
	for _, d := range []string{s.WorkspaceDir, s.OutputsDir, s.ReportsDir, s.LogsDir, s.TmpDir} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return s
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func newHTMLServer(t *testing.T, page string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/html")
		_, _ = rw.Write([]byte(page))
	}))
}

// toolCallCode wires the forced tool call to return the given script.
func toolCallCode(code string) func(string, string, string) (llm.Message, []llm.ToolCall, error) {
	return func(system, user, choice string) (llm.Message, []llm.ToolCall, error) {
		return llm.Message{}, []llm.ToolCall{
			{ID: "1", Name: "generate_python_script", Arguments: `{"code": ` + jsonQuote(code) + `}`},
		}, nil
	}
}

func jsonQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}

func lastArtifact(out Outcome) string {
	if len(out.Artifacts) == 0 {
		return ""
	}
	return out.Artifacts[len(out.Artifacts)-1]
}

func TestRoutingPriority(t *testing.T) {
	o := New(testSettings(t), llm.Disabled{}, zap.NewNop())

	cases := map[string]string{
		"create a python script named hello.py to print hi": "script_pattern",
		"summarize https://example.com/page":                "web_summarize",
		"query the sqlite database for users":               "db_query",
		"install git and jq":                                "package_install",
		"count the words in notes.txt":                      "generic",
	}
	for goal, want := range cases {
		matched := ""
		for _, r := range o.routes {
			if r.match(goal) {
				matched = r.name
				break
			}
		}
		assert.Equal(t, want, matched, "goal %q", goal)
	}
}

func TestWebRouteWithoutLLM(t *testing.T) {
	// The excerpt degradation needs no oracle and no live network: point the
	// goal at a local server.
	srv := newHTMLServer(t, "<html><body><p>"+strings.Repeat("word ", 400)+"</p></body></html>")
	defer srv.Close()

	o := New(testSettings(t), llm.Disabled{}, zap.NewNop())
	out := o.Execute(context.Background(), "summarize "+srv.URL)
	require.True(t, out.OK, out.Message)

	summary, err := os.ReadFile(filepath.Join(o.Settings.OutputsDir, "web_summary.md"))
	require.NoError(t, err)
	text := string(summary)
	assert.True(t, strings.HasPrefix(text, "LLM not configured. Extracted text excerpt:"))
	assert.LessOrEqual(t, len(text), len("LLM not configured. Extracted text excerpt:\n\n")+1000)

	assert.True(t, strings.HasSuffix(lastArtifact(out), ".md"))
}

func TestGenericRouteWithoutLLMFails(t *testing.T) {
	o := New(testSettings(t), llm.Disabled{}, zap.NewNop())
	out := o.Execute(context.Background(), "count the words in notes.txt")
	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "LLM not configured")
	// The failed run still persists its report.
	require.NotEmpty(t, out.Artifacts)
	assert.FileExists(t, lastArtifact(out))
}

func TestEmptyCodeFailsWithReport(t *testing.T) {
	oracle := &fakeLLM{
		enabled: true,
		textFn:  func(system, user string) (string, error) { return "", nil },
		jsonFn:  func(system, user string) (map[string]any, error) { return map[string]any{}, nil },
		toolsFn: func(system, user, choice string) (llm.Message, []llm.ToolCall, error) {
			return llm.Message{}, nil, nil
		},
	}
	o := New(testSettings(t), oracle, zap.NewNop())
	out := o.Execute(context.Background(), "do something vague")

	assert.False(t, out.OK)
	assert.Equal(t, "LLM returned empty code", out.Message)
	assert.FileExists(t, lastArtifact(out))
}

func TestClarifyAbort(t *testing.T) {
	oracle := &fakeLLM{
		enabled: true,
		textFn: func(system, user string) (string, error) {
			return "1. Which file?\n2. What format?", nil
		},
	}
	cfg := testSettings(t)
	cfg.AssumeDefaults = false
	o := New(cfg, oracle, zap.NewNop())
	out := o.Execute(context.Background(), "convert the file")

	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "Missing critical details")
	assert.Contains(t, out.Message, "[1] 1. Which file?")
	assert.FileExists(t, lastArtifact(out))
}

func TestClarifyNoneProceeds(t *testing.T) {
	calls := 0
	oracle := &fakeLLM{
		enabled: true,
		textFn: func(system, user string) (string, error) {
			calls++
			if calls == 1 {
				return "none", nil
			}
			return "1. fetch the page", nil
		},
	}
	srv := newHTMLServer(t, "<html><body><p>content</p></body></html>")
	defer srv.Close()

	cfg := testSettings(t)
	cfg.AssumeDefaults = false
	o := New(cfg, oracle, zap.NewNop())
	out := o.Execute(context.Background(), "summarize "+srv.URL)
	require.True(t, out.OK, out.Message)
	// clarify, plan, one chunk summary, one merge
	assert.GreaterOrEqual(t, calls, 4)
}

func TestRiskyPlanNeedsConfirmation(t *testing.T) {
	o := New(testSettings(t), llm.Disabled{}, zap.NewNop())
	out := o.Execute(context.Background(), "use apt to install git")

	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "Confirmation required")
	assert.FileExists(t, lastArtifact(out))
}

func TestRiskyPlanAutoYesProceeds(t *testing.T) {
	cfg := testSettings(t)
	cfg.AutoYes = true
	cfg.DryRun = true
	o := New(cfg, llm.Disabled{}, zap.NewNop())
	out := o.Execute(context.Background(), "use apt to install git")
	assert.True(t, out.OK, out.Message)
	assert.Contains(t, out.Message, "Dry run")
}

func TestScriptPatternRoute(t *testing.T) {
	requirePython(t)
	oracle := &fakeLLM{
		enabled: true,
		toolsFn: toolCallCode("print('generated output')"),
	}
	o := New(testSettings(t), oracle, zap.NewNop())
	out := o.Execute(context.Background(), "create a python script named hello.py to print a greeting and run it.")
	require.True(t, out.OK, out.Message)
	assert.Contains(t, out.Message, "hello.py")

	code, err := os.ReadFile(filepath.Join(o.Settings.WorkspaceDir, "hello.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('generated output')", string(code))
}

func TestScriptPatternWorkspacePrefix(t *testing.T) {
	requirePython(t)
	oracle := &fakeLLM{
		enabled: true,
		toolsFn: toolCallCode(`print("Hello")`),
	}
	o := New(testSettings(t), oracle, zap.NewNop())
	out := o.Execute(context.Background(), "create a python script named workspace/hello.py to print the text Hello and run it")
	require.True(t, out.OK, out.Message)

	// The workspace/ prefix names the workspace root, not a subdirectory.
	code, err := os.ReadFile(filepath.Join(o.Settings.WorkspaceDir, "hello.py"))
	require.NoError(t, err)
	assert.Equal(t, `print("Hello")`, string(code))

	var runCommand string
	var runExit *int
	for _, s := range out.Steps {
		if s.Name == "shell.run" {
			runCommand = s.Command
			runExit = s.ExitCode
		}
	}
	assert.Equal(t, "python3 hello.py", runCommand)
	require.NotNil(t, runExit)
	assert.Equal(t, 0, *runExit)
	assert.True(t, strings.HasSuffix(lastArtifact(out), ".md"))
}

func TestScriptPatternRejectsEscapingPath(t *testing.T) {
	o := New(testSettings(t), llm.Disabled{}, zap.NewNop())
	out := o.Execute(context.Background(), "create a python script named ../../evil.py to print hi and run it")

	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "Refusing to write outside workspace")
	assert.FileExists(t, lastArtifact(out))

	escaped := filepath.Join(o.Settings.WorkspaceDir, "../../evil.py")
	_, err := os.Stat(escaped)
	assert.True(t, os.IsNotExist(err))
}

func TestAutofixRunsAtMostOnce(t *testing.T) {
	requirePython(t)
	fixes := 0
	oracle := &fakeLLM{
		enabled: true,
		toolsFn: toolCallCode("import sys\nsys.exit(1)"),
		jsonFn: func(system, user string) (map[string]any, error) {
			fixes++
			return map[string]any{"code": "print('repaired')"}, nil
		},
	}
	o := New(testSettings(t), oracle, zap.NewNop())
	out := o.Execute(context.Background(), "do a thing that initially fails")

	require.True(t, out.OK, out.Message)
	assert.Equal(t, 1, fixes)

	retries := 0
	updates := 0
	for _, s := range out.Steps {
		if s.Name == "shell.run (retry)" {
			retries++
		}
		if s.Name == "file.update" {
			updates++
		}
	}
	assert.Equal(t, 1, retries)
	assert.Equal(t, 1, updates)
}

func TestAutofixFailureIsFinal(t *testing.T) {
	requirePython(t)
	oracle := &fakeLLM{
		enabled: true,
		toolsFn: toolCallCode("import sys\nsys.exit(1)"),
		jsonFn: func(system, user string) (map[string]any, error) {
			return map[string]any{"code": "import sys\nsys.exit(2)"}, nil
		},
	}
	o := New(testSettings(t), oracle, zap.NewNop())
	out := o.Execute(context.Background(), "do a thing that keeps failing")

	assert.False(t, out.OK)
	retries := 0
	for _, s := range out.Steps {
		if s.Name == "shell.run (retry)" {
			retries++
		}
	}
	assert.Equal(t, 1, retries)
}

func TestDBRouteMissingSQL(t *testing.T) {
	o := New(testSettings(t), llm.Disabled{}, zap.NewNop())
	out := o.Execute(context.Background(), "query the postgres://u@h/db database for users")

	assert.False(t, out.OK)
	assert.Equal(t, "Missing SQL query. Please provide a SELECT statement.", out.Message)
}

func TestDBRouteMissingURL(t *testing.T) {
	o := New(testSettings(t), llm.Disabled{}, zap.NewNop())
	out := o.Execute(context.Background(), "run a query against the sqlite database")

	assert.False(t, out.OK)
	assert.Equal(t, "Missing connection URL.", out.Message)
}

func TestDryRunWritesNoFiles(t *testing.T) {
	oracle := &fakeLLM{
		enabled: true,
		toolsFn: toolCallCode("print('x')"),
	}
	cfg := testSettings(t)
	cfg.DryRun = true
	o := New(cfg, oracle, zap.NewNop())
	out := o.Execute(context.Background(), "create a python script named dry.py to print x and run it.")

	require.True(t, out.OK, out.Message)
	_, err := os.Stat(filepath.Join(cfg.WorkspaceDir, "dry.py"))
	assert.True(t, os.IsNotExist(err))
}
