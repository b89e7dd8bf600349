package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingClient echoes a canned reply per call and records every prompt.
type recordingClient struct {
	prompts []string
	fail    bool
}

func (r *recordingClient) Enabled() bool { return true }

func (r *recordingClient) CompleteText(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	if r.fail {
		return "", errors.New("boom")
	}
	r.prompts = append(r.prompts, user)
	return fmt.Sprintf("summary-%d", len(r.prompts)), nil
}

func (r *recordingClient) CompleteJSON(ctx context.Context, system, user string, maxTokens int) (map[string]any, error) {
	return map[string]any{}, nil
}

func (r *recordingClient) CompleteWithTools(ctx context.Context, system, user string, tools []ToolSpec, toolChoice string, maxTokens int) (Message, []ToolCall, error) {
	return Message{}, nil, nil
}

func TestSummarizeChunks(t *testing.T) {
	ctx := context.Background()

	t.Run("one call per chunk plus exactly one merge", func(t *testing.T) {
		c := &recordingClient{}
		out, err := SummarizeChunks(ctx, c, "sys", []string{"first", "second"}, 100)
		require.NoError(t, err)

		require.Len(t, c.prompts, 3)
		assert.Contains(t, c.prompts[0], "Chunk 1:\nfirst")
		assert.Contains(t, c.prompts[1], "Chunk 2:\nsecond")
		assert.True(t, strings.HasPrefix(c.prompts[2], "Merge and deduplicate:"))
		assert.Contains(t, c.prompts[2], "summary-1")
		assert.Contains(t, c.prompts[2], "summary-2")
		assert.Equal(t, "summary-3", out)
	})

	t.Run("zero chunks still issues the merge call", func(t *testing.T) {
		c := &recordingClient{}
		_, err := SummarizeChunks(ctx, c, "sys", nil, 100)
		require.NoError(t, err)
		require.Len(t, c.prompts, 1)
		assert.True(t, strings.HasPrefix(c.prompts[0], "Merge and deduplicate:"))
	})

	t.Run("oversized chunks are capped", func(t *testing.T) {
		c := &recordingClient{}
		big := strings.Repeat("x", chunkCap+500)
		_, err := SummarizeChunks(ctx, c, "sys", []string{big}, 100)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(c.prompts[0]), chunkCap+len("Chunk 1:\n"))
	})

	t.Run("errors propagate", func(t *testing.T) {
		c := &recordingClient{fail: true}
		_, err := SummarizeChunks(ctx, c, "sys", []string{"a"}, 100)
		assert.Error(t, err)
	})
}
