package llm

import "context"

// Disabled is the no-credentials client: every call fails with
// ErrNotConfigured so callers can degrade explicitly.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) CompleteText(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) CompleteJSON(ctx context.Context, system, user string, maxTokens int) (map[string]any, error) {
	return nil, ErrNotConfigured
}

func (Disabled) CompleteWithTools(ctx context.Context, system, user string, tools []ToolSpec, toolChoice string, maxTokens int) (Message, []ToolCall, error) {
	return Message{}, nil, ErrNotConfigured
}
