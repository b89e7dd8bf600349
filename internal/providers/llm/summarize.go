package llm

import (
	"context"
	"fmt"
	"strings"
)

// chunkCap limits how much of each chunk a single summarization call sees.
const chunkCap = 8000

// SummarizeChunks summarizes each chunk independently and in order, then
// issues exactly one merge call over the partial summaries, also for an
// empty chunk list. No chunk is retried here; errors propagate.
func SummarizeChunks(ctx context.Context, c Client, system string, chunks []string, maxTokens int) (string, error) {
	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if len(chunk) > chunkCap {
			chunk = chunk[:chunkCap]
		}
		content := fmt.Sprintf("Chunk %d:\n%s", i+1, chunk)
		summary, err := c.CompleteText(ctx, system, content, 0.2, maxTokens)
		if err != nil {
			return "", err
		}
		partials = append(partials, summary)
	}
	merged := strings.Join(partials, "\n\n")
	return c.CompleteText(ctx, system, "Merge and deduplicate:\n"+merged, 0.2, maxTokens)
}
