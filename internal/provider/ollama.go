package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/samsaffron/llmloop/internal/frame"
	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/normalize"
)

// Ollama streams from Ollama's native /api/chat endpoint, which emits one
// JSON object per line.
type Ollama struct {
	baseURL string
	model   string
	options map[string]any
	think   *bool
	client  *http.Client
}

func NewOllama(baseURL, model string, options map[string]any, client *http.Client) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	p := &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  client,
	}
	// "think" is a top-level request field; everything else goes under
	// "options" (temperature, num_ctx, ...).
	for k, v := range options {
		if k == "think" {
			if b, ok := v.(bool); ok {
				p.think = &b
			}
			continue
		}
		if p.options == nil {
			p.options = make(map[string]any)
		}
		p.options[k] = v
	}
	return p
}

func (p *Ollama) Name() string {
	return "ollama"
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []chatTool      `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Think    *bool           `json:"think,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (p *Ollama) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	messages := buildOllamaMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("ollama: no messages provided")
	}
	tools, err := buildChatTools(req.Tools)
	if err != nil {
		return nil, err
	}

	options := p.options
	if req.Temperature > 0 {
		options = mergeOptions(options, "temperature", float64(req.Temperature))
	}
	if req.MaxOutputTokens > 0 {
		options = mergeOptions(options, "num_predict", req.MaxOutputTokens)
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    chooseModel(req.Model, p.model),
		Messages: messages,
		Tools:    tools,
		Stream:   true,
		Think:    p.think,
		Options:  options,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := doStreaming(ctx, p.client, httpReq, p.Name())
	if err != nil {
		return errorStream(err)
	}
	return normalize.NewStream(ctx, resp.Body, frame.NDJSON, normalize.NewOllama(), p.Name()), nil
}

func mergeOptions(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

func buildOllamaMessages(messages []llm.Message) []ollamaMessage {
	var result []ollamaMessage
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleTool:
			for _, part := range msg.Parts {
				if part.Type != llm.PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, ollamaMessage{
					Role:     "tool",
					Content:  part.ToolResult.Content,
					ToolName: part.ToolResult.Name,
				})
			}
		default:
			out := ollamaMessage{Role: string(msg.Role), Content: msg.Text()}
			for _, call := range msg.ToolCalls() {
				args := call.Arguments
				if !json.Valid(args) {
					args = json.RawMessage("{}")
				}
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					Function: ollamaFunction{Name: call.Name, Arguments: args},
				})
			}
			if out.Content == "" && len(out.ToolCalls) == 0 {
				continue
			}
			result = append(result, out)
		}
	}
	return result
}
