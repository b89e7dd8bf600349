// Package llm wraps the external language model ("oracle") behind a small
// capability interface: free-text completion, JSON-structured completion
// and tool-call completion.
package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by every call on the Disabled client.
var ErrNotConfigured = errors.New("llm not configured")

// ToolSpec describes one function-like tool the oracle may invoke.
// Parameters is a JSON-schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one structured tool invocation returned by the oracle.
// Arguments is the raw JSON argument string for the caller to parse.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is the assistant message accompanying tool calls.
type Message struct {
	Role    string
	Content string
}

// ToolChoiceAuto lets the oracle decide whether to call a tool; any other
// value forces the tool of that name.
const ToolChoiceAuto = "auto"

// Client is the oracle capability interface. All calls are synchronous and
// block on the network.
type Client interface {
	// Enabled reports whether a real provider is configured.
	Enabled() bool
	CompleteText(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error)
	// CompleteJSON asks for a single JSON object. JSON errors degrade to a
	// best-effort extraction and finally an empty map; a transport error on
	// the primary attempt is retried once via a plain-text fallback.
	CompleteJSON(ctx context.Context, system, user string, maxTokens int) (map[string]any, error)
	CompleteWithTools(ctx context.Context, system, user string, tools []ToolSpec, toolChoice string, maxTokens int) (Message, []ToolCall, error)
}
