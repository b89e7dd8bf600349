package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, capture *map[string]any, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if capture != nil {
			*capture = body
		}
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(reply))
	}))
}

const textReply = `{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`

func TestOpenAITokenParams(t *testing.T) {
	t.Run("gpt-4 family uses max_tokens and temperature", func(t *testing.T) {
		var got map[string]any
		srv := chatServer(t, &got, textReply)
		defer srv.Close()

		c := &OpenAIClient{APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL}
		out, err := c.CompleteText(context.Background(), "sys", "usr", 0.7, 100)
		require.NoError(t, err)
		assert.Equal(t, "hi there", out)

		assert.Equal(t, float64(100), got["max_tokens"])
		assert.Equal(t, 0.7, got["temperature"])
		assert.NotContains(t, got, "max_completion_tokens")
	})

	t.Run("gpt-5 family uses max_completion_tokens and omits temperature", func(t *testing.T) {
		var got map[string]any
		srv := chatServer(t, &got, textReply)
		defer srv.Close()

		c := &OpenAIClient{APIKey: "k", Model: "gpt-5-mini", BaseURL: srv.URL}
		_, err := c.CompleteText(context.Background(), "sys", "usr", 0.7, 100)
		require.NoError(t, err)

		assert.Equal(t, float64(100), got["max_completion_tokens"])
		assert.NotContains(t, got, "max_tokens")
		assert.NotContains(t, got, "temperature")
	})
}

func TestOpenAIIsGPT5(t *testing.T) {
	for model, want := range map[string]bool{
		"gpt-5":       true,
		"gpt-5-mini":  true,
		"mygpt5x":     true,
		"custom-5":    true,
		"gpt-4o-mini": false,
		"gpt-4.1":     false,
	} {
		c := &OpenAIClient{Model: model}
		assert.Equal(t, want, c.isGPT5(), "model %s", model)
	}
}

func TestOpenAICompleteJSON(t *testing.T) {
	t.Run("parses a json_object response", func(t *testing.T) {
		var got map[string]any
		srv := chatServer(t, &got, `{"choices":[{"message":{"content":"{\"code\":\"print(1)\"}"}}]}`)
		defer srv.Close()

		c := &OpenAIClient{APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL}
		obj, err := c.CompleteJSON(context.Background(), "sys", "usr", 200)
		require.NoError(t, err)
		assert.Equal(t, "print(1)", obj["code"])
		rf, ok := got["response_format"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "json_object", rf["type"])
	})

	t.Run("falls back to plain text when json mode is rejected", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			calls++
			if _, hasRF := body["response_format"]; hasRF {
				rw.WriteHeader(http.StatusBadRequest)
				_, _ = rw.Write([]byte(`{"error":{"message":"response_format not supported"}}`))
				return
			}
			_, _ = rw.Write([]byte(`{"choices":[{"message":{"content":"` + "```json\\n{\\\"a\\\": 1}\\n```" + `"}}]}`))
		}))
		defer srv.Close()

		c := &OpenAIClient{APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL}
		obj, err := c.CompleteJSON(context.Background(), "sys", "usr", 200)
		require.NoError(t, err)
		assert.Equal(t, float64(1), obj["a"])
		assert.Equal(t, 2, calls)
	})
}

func TestOpenAICompleteWithTools(t *testing.T) {
	var got map[string]any
	reply := `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[` +
		`{"id":"call_1","type":"function","function":{"name":"gen","arguments":"{\"code\":\"x=1\"}"}}]}}]}`
	srv := chatServer(t, &got, reply)
	defer srv.Close()

	c := &OpenAIClient{APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL}
	spec := ToolSpec{Name: "gen", Description: "d", Parameters: map[string]any{"type": "object"}}
	_, calls, err := c.CompleteWithTools(context.Background(), "sys", "usr", []ToolSpec{spec}, "gen", 500)
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "gen", calls[0].Name)
	assert.Equal(t, `{"code":"x=1"}`, calls[0].Arguments)

	// A named tool choice is encoded as the forced-function object.
	choice, ok := got["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "function", choice["type"])
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = rw.Write([]byte(textReply))
	}))
	defer srv.Close()

	c := &OpenAIClient{APIKey: "k", Model: "gpt-4o-mini", BaseURL: srv.URL}
	out, err := c.CompleteText(context.Background(), "s", "u", 0.2, 50)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	assert.Equal(t, 3, attempts)
}

func TestOpenAIEnabled(t *testing.T) {
	assert.False(t, (&OpenAIClient{}).Enabled())
	assert.True(t, (&OpenAIClient{APIKey: "k"}).Enabled())
}
