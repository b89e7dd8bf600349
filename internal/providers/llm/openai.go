package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	APIKey  string
	Model   string
	BaseURL string
	Logs    *InteractionLog
}

func (c *OpenAIClient) Enabled() bool { return c.APIKey != "" }

// isGPT5 classifies the active model. Recomputed on every call: the model
// identifier may change between calls within one run.
func (c *OpenAIClient) isGPT5() bool {
	m := strings.ToLower(c.Model)
	return strings.HasPrefix(m, "gpt-5") || strings.Contains(m, "gpt5") || strings.HasSuffix(m, "-5")
}

// applyTokenParams sets the token-limit field under the name the active
// model accepts. GPT-5 family endpoints reject "max_tokens" and require
// "max_completion_tokens".
func (c *OpenAIClient) applyTokenParams(body map[string]any, maxTokens int) {
	if c.isGPT5() {
		body["max_completion_tokens"] = maxTokens
		return
	}
	body["max_tokens"] = maxTokens
}

// applyTemperature sets temperature where the model supports it; the GPT-5
// family only accepts the default and the field must be omitted entirely.
func (c *OpenAIClient) applyTemperature(body map[string]any, temperature float64) {
	if c.isGPT5() {
		return
	}
	body["temperature"] = temperature
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) CompleteText(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	body := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	c.applyTokenParams(body, maxTokens)
	c.applyTemperature(body, temperature)

	var resp chatResponse
	if err := c.postJSON(ctx, c.endpoint("/v1/chat/completions"), body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices")
	}
	content := resp.Choices[0].Message.Content
	c.Logs.Record("complete_text", c.Model, system, user, content, map[string]any{
		"temperature": temperature, "max_tokens": maxTokens,
	})
	return content, nil
}

func (c *OpenAIClient) CompleteJSON(ctx context.Context, system, user string, maxTokens int) (map[string]any, error) {
	body := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	c.applyTokenParams(body, maxTokens)
	c.applyTemperature(body, 0.2)

	content := ""
	fallbackUsed := false
	var resp chatResponse
	if err := c.postJSON(ctx, c.endpoint("/v1/chat/completions"), body, &resp); err == nil && len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	} else {
		// Fallback: ask for raw JSON in plain text.
		fallbackUsed = true
		plain, ferr := c.CompleteText(ctx, system+"\nReturn ONLY JSON.", user, 0.2, maxTokens)
		if ferr != nil {
			return nil, ferr
		}
		content = plain
	}

	parsed := DecodeLooseJSON(content)
	c.Logs.Record("complete_json", c.Model, system, user, content, map[string]any{
		"max_tokens": maxTokens, "fallback_used": fallbackUsed,
	})
	return parsed, nil
}

func (c *OpenAIClient) CompleteWithTools(ctx context.Context, system, user string, tools []ToolSpec, toolChoice string, maxTokens int) (Message, []ToolCall, error) {
	specs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	var choice any = toolChoice
	if toolChoice != ToolChoiceAuto && toolChoice != "" {
		choice = map[string]any{"type": "function", "function": map[string]string{"name": toolChoice}}
	}

	body := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"tools":       specs,
		"tool_choice": choice,
	}
	c.applyTokenParams(body, maxTokens)
	c.applyTemperature(body, 0.2)

	var resp chatResponse
	if err := c.postJSON(ctx, c.endpoint("/v1/chat/completions"), body, &resp); err != nil {
		return Message{}, nil, err
	}
	if len(resp.Choices) == 0 {
		return Message{}, nil, errors.New("no choices")
	}
	msg := resp.Choices[0].Message
	calls := make([]ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	c.Logs.Record("complete_with_tools", c.Model, system, user, msg.Content, map[string]any{
		"max_tokens": maxTokens, "tool_choice": toolChoice, "tool_calls": len(calls),
	})
	return Message{Role: msg.Role, Content: msg.Content}, calls, nil
}

func (c *OpenAIClient) postJSON(ctx context.Context, url string, body any, out any) error {
	b, _ := json.Marshal(body)
	httpClient := &http.Client{Timeout: clientTimeout()}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")
		res, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			if isTimeout(err) {
				time.Sleep(backoff(attempt))
				continue
			}
			return err
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			err := json.NewDecoder(res.Body).Decode(out)
			res.Body.Close()
			return err
		}
		var eresp map[string]any
		_ = json.NewDecoder(res.Body).Decode(&eresp)
		res.Body.Close()
		lastErr = fmt.Errorf("openai status %d: %v", res.StatusCode, eresp)
		if res.StatusCode == 408 || res.StatusCode == 429 || (res.StatusCode >= 500 && res.StatusCode <= 599) {
			time.Sleep(backoff(attempt))
			continue
		}
		return lastErr
	}
	return lastErr
}

func (c *OpenAIClient) endpoint(path string) string {
	base := c.BaseURL
	if base == "" {
		base = os.Getenv("OPENAI_API_BASE")
	}
	if base == "" {
		base = "https://api.openai.com"
	}
	return base + path
}

func clientTimeout() time.Duration {
	if v := os.Getenv("LLM_HTTP_TIMEOUT_MS"); v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil {
			return ms
		}
	}
	return 45 * time.Second
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

func backoff(i int) time.Duration {
	return time.Duration(500*(1<<i)) * time.Millisecond
}
