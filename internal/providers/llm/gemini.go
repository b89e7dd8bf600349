package llm

import (
	"context"
	"encoding/json"
	"errors"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient backs the oracle interface with the Gemini API.
type GeminiClient struct {
	APIKey string
	Model  string
	Logs   *InteractionLog

	client *genai.Client
}

func (g *GeminiClient) Enabled() bool { return g.APIKey != "" }

func (g *GeminiClient) generativeModel(ctx context.Context) (*genai.GenerativeModel, error) {
	if g.client == nil {
		c, err := genai.NewClient(ctx, option.WithAPIKey(g.APIKey))
		if err != nil {
			return nil, err
		}
		g.client = c
	}
	return g.client.GenerativeModel(g.Model), nil
}

func (g *GeminiClient) CompleteText(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	m, err := g.generativeModel(ctx)
	if err != nil {
		return "", err
	}
	m.SetTemperature(float32(temperature))
	m.SetMaxOutputTokens(int32(maxTokens))
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", err
	}
	out := firstText(resp)
	g.Logs.Record("complete_text", g.Model, system, user, out, map[string]any{
		"temperature": temperature, "max_tokens": maxTokens,
	})
	return out, nil
}

func (g *GeminiClient) CompleteJSON(ctx context.Context, system, user string, maxTokens int) (map[string]any, error) {
	m, err := g.generativeModel(ctx)
	if err != nil {
		return nil, err
	}
	m.SetTemperature(0.2)
	m.SetMaxOutputTokens(int32(maxTokens))
	m.ResponseMIMEType = "application/json"
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	content := ""
	fallbackUsed := false
	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err == nil {
		content = firstText(resp)
	} else {
		fallbackUsed = true
		plain, ferr := g.CompleteText(ctx, system+"\nReturn ONLY JSON.", user, 0.2, maxTokens)
		if ferr != nil {
			return nil, ferr
		}
		content = plain
	}

	parsed := DecodeLooseJSON(content)
	g.Logs.Record("complete_json", g.Model, system, user, content, map[string]any{
		"max_tokens": maxTokens, "fallback_used": fallbackUsed,
	})
	return parsed, nil
}

func (g *GeminiClient) CompleteWithTools(ctx context.Context, system, user string, tools []ToolSpec, toolChoice string, maxTokens int) (Message, []ToolCall, error) {
	m, err := g.generativeModel(ctx)
	if err != nil {
		return Message{}, nil, err
	}
	m.SetTemperature(0.2)
	m.SetMaxOutputTokens(int32(maxTokens))
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenaiSchema(t.Parameters),
		})
	}
	m.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	if toolChoice != ToolChoiceAuto && toolChoice != "" {
		m.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingAny,
			AllowedFunctionNames: []string{toolChoice},
		}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return Message{}, nil, err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Message{}, nil, errors.New("no candidates")
	}

	var msg Message
	msg.Role = "assistant"
	var calls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			msg.Content += string(p)
		case genai.FunctionCall:
			args, _ := json.Marshal(p.Args)
			calls = append(calls, ToolCall{Name: p.Name, Arguments: string(args)})
		}
	}
	g.Logs.Record("complete_with_tools", g.Model, system, user, msg.Content, map[string]any{
		"max_tokens": maxTokens, "tool_choice": toolChoice, "tool_calls": len(calls),
	})
	return msg, calls, nil
}

// toGenaiSchema maps the JSON-schema Parameters object of a ToolSpec onto
// the genai schema type. Only object-of-strings shapes are used by the
// orchestrator; anything unrecognized falls back to a string property.
func toGenaiSchema(params map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	props, _ := params["properties"].(map[string]any)
	for name, raw := range props {
		prop := &genai.Schema{Type: genai.TypeString}
		if pm, ok := raw.(map[string]any); ok {
			if d, ok := pm["description"].(string); ok {
				prop.Description = d
			}
		}
		schema.Properties[name] = prop
	}
	if req, ok := params["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	} else if req, ok := params["required"].([]string); ok {
		schema.Required = req
	}
	return schema
}

func firstText(r *genai.GenerateContentResponse) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
