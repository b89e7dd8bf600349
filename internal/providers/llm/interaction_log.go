package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InteractionLog persists every oracle interaction: one timestamped JSON
// document per call plus a consolidated plain-text log. Prompts and
// responses land here; API keys never do.
type InteractionLog struct {
	Dir string
	Log *zap.Logger
}

type interactionEntry struct {
	Timestamp    string         `json:"timestamp"`
	Method       string         `json:"method"`
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt"`
	UserPrompt   string         `json:"user_prompt"`
	Response     string         `json:"response"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Record is nil-safe so clients can carry a nil log in tests.
func (l *InteractionLog) Record(method, model, system, user, response string, extra map[string]any) {
	if l == nil || l.Dir == "" {
		return
	}
	if l.Log != nil {
		l.Log.Debug("llm call", zap.String("method", method), zap.String("model", model))
	}
	ts := time.Now().UTC().Format("20060102_150405.000")
	entry := interactionEntry{
		Timestamp:    ts,
		Method:       method,
		Model:        model,
		SystemPrompt: system,
		UserPrompt:   user,
		Response:     response,
		Extra:        extra,
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return
	}

	name := fmt.Sprintf("llm_interaction_%s_%s.json", ts, uuid.NewString()[:8])
	if b, err := json.MarshalIndent(entry, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(l.Dir, name), b, 0o644)
	}

	f, err := os.OpenFile(filepath.Join(l.Dir, "llm_interactions.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n%s\nTIMESTAMP: %s\nMETHOD: %s\nMODEL: %s\nSYSTEM PROMPT:\n%s\nUSER PROMPT:\n%s\nRESPONSE:\n%s\n",
		divider, ts, method, model, system, user, response)
}

const divider = "================================================================================"
