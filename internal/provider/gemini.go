package provider

import (
	"context"
	"encoding/json"
	"iter"

	"google.golang.org/genai"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/normalize"
)

// Gemini streams through the Google Gen AI SDK. Function calls arrive
// whole, so each one is a single fragment at the next free index.
type Gemini struct {
	model  string
	config *genai.ClientConfig
}

func NewGemini(apiKey, model, baseURL string) *Gemini {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	return &Gemini{model: model, config: cfg}
}

func (p *Gemini) Name() string {
	return "gemini"
}

func (p *Gemini) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	client, err := genai.NewClient(ctx, p.config)
	if err != nil {
		return nil, &llm.ProviderError{Provider: p.Name(), Message: "create client", Err: err}
	}

	config := &genai.GenerateContentConfig{}
	if system := llm.FlattenSystem(req.Messages); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = buildGeminiTools(req.Tools)
		config.ToolConfig = buildGeminiToolConfig(req.ToolChoice)
	}

	seq := client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), buildGeminiContents(req.Messages), config)
	next, stop := iter.Pull2(seq)
	turn := normalize.NewTurn(p.Name())
	calls := 0

	step := func() ([]llm.Event, bool) {
		resp, err, ok := next()
		if !ok {
			return turn.Complete(), false
		}
		if err != nil {
			return turn.Fail(sdkError(p.Name(), err)), false
		}

		if u := resp.UsageMetadata; u != nil && u.TotalTokenCount > 0 {
			turn.SetUsage(llm.Usage{
				InputTokens:       int(u.PromptTokenCount),
				OutputTokens:      int(u.CandidatesTokenCount),
				CachedInputTokens: int(u.CachedContentTokenCount),
			})
		}
		if len(resp.Candidates) == 0 {
			return nil, true
		}
		cand := resp.Candidates[0]
		turn.SetFinishReason(string(cand.FinishReason))
		if cand.Content == nil {
			return nil, true
		}

		var events []llm.Event
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || part.FunctionCall.Args == nil {
					args = []byte("{}")
				}
				events = append(events, turn.ToolCall(llm.PartialToolCall{
					Index:             calls,
					ID:                part.FunctionCall.ID,
					Name:              part.FunctionCall.Name,
					ArgumentsFragment: string(args),
				})...)
				calls++
			case part.Thought:
				events = append(events, turn.Reasoning(part.Text)...)
			case part.Text != "":
				events = append(events, turn.Text(part.Text)...)
			}
		}
		return events, true
	}
	return normalize.NewPullStream(ctx, step, func() error {
		stop()
		return nil
	}), nil
}

// buildGeminiContents maps history onto user and model contents. Tool
// results become function responses; consecutive ones share a content.
func buildGeminiContents(messages []llm.Message) []*genai.Content {
	var contents []*genai.Content
	var results *genai.Content
	flush := func() {
		if results != nil {
			contents = append(contents, results)
			results = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			flush()
			if text := msg.Text(); text != "" {
				contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
			}
		case llm.RoleAssistant:
			flush()
			content := &genai.Content{Role: genai.RoleModel}
			if text := msg.Text(); text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: text})
			}
			for _, call := range msg.ToolCalls() {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: toolArgsToMap(call.Arguments),
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case llm.RoleTool:
			result, ok := msg.ToolResult()
			if !ok {
				continue
			}
			if results == nil {
				results = &genai.Content{Role: genai.RoleUser}
			}
			key := "output"
			if result.IsError() {
				key = "error"
			}
			results.Parts = append(results.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       result.ToolCallID,
					Name:     result.Name,
					Response: map[string]any{key: result.Content},
				},
			})
		}
	}
	flush()
	return contents
}

func toolArgsToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{"_raw": string(raw)}
}

func buildGeminiTools(specs []llm.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaToGenai(spec.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func buildGeminiToolConfig(choice llm.ToolChoice) *genai.ToolConfig {
	cfg := &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
	switch choice.Mode {
	case llm.ToolChoiceNone:
		cfg.Mode = genai.FunctionCallingConfigModeNone
	case llm.ToolChoiceRequired:
		cfg.Mode = genai.FunctionCallingConfigModeAny
	case llm.ToolChoiceName:
		if choice.Name != "" {
			cfg.Mode = genai.FunctionCallingConfigModeAny
			cfg.AllowedFunctionNames = []string{choice.Name}
		}
	}
	return &genai.ToolConfig{FunctionCallingConfig: cfg}
}

// schemaToGenai converts a JSON schema map into the SDK's typed schema.
// Keywords Gemini rejects (format, bounds, defaults) are dropped.
func schemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{
		Type:     schemaType(schema["type"]),
		Required: schemaRequired(schema),
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	switch enum := schema["enum"].(type) {
	case []string:
		out.Enum = enum
	case []interface{}:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if m, ok := prop.(map[string]interface{}); ok {
				out.Properties[name] = schemaToGenai(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = schemaToGenai(items)
	}
	return out
}

func schemaType(v interface{}) genai.Type {
	switch v {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
