// Package provider implements llm.Provider over HTTP streaming endpoints and
// vendor SDKs.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samsaffron/llmloop/internal/frame"
	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/normalize"
)

// DefaultTimeout bounds a whole streaming request, including the body.
const DefaultTimeout = 10 * time.Minute

// Compat speaks the OpenAI chat completions dialect over SSE. It works
// against llama.cpp, vLLM, LM Studio and similar servers.
type Compat struct {
	name      string
	baseURL   string
	apiKey    string
	model     string
	headers   map[string]string
	thinkTags [2]string
	client    *http.Client
}

// CompatOption configures a Compat provider.
type CompatOption func(*Compat)

// WithHTTPClient replaces the default client, e.g. to change the timeout.
func WithHTTPClient(c *http.Client) CompatOption {
	return func(p *Compat) {
		if c != nil {
			p.client = c
		}
	}
}

// WithHeaders adds static headers to every request.
func WithHeaders(h map[string]string) CompatOption {
	return func(p *Compat) { p.headers = h }
}

// WithThinkTags extracts reasoning that the server inlines in content.
func WithThinkTags(open, close string) CompatOption {
	return func(p *Compat) { p.thinkTags = [2]string{open, close} }
}

// WithName sets the label used in errors and logs.
func WithName(name string) CompatOption {
	return func(p *Compat) {
		if name != "" {
			p.name = name
		}
	}
}

func NewCompat(baseURL, apiKey, model string, opts ...CompatOption) *Compat {
	p := &Compat{
		name:    "openai-compat",
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Compat) Name() string {
	return p.name
}

// Chat completion request structures. Tool choice is either a string or
// an object.
type chatRequest struct {
	Model             string         `json:"model"`
	Messages          []chatMessage  `json:"messages"`
	Tools             []chatTool     `json:"tools,omitempty"`
	ToolChoice        interface{}    `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool          `json:"parallel_tool_calls,omitempty"`
	Temperature       *float64       `json:"temperature,omitempty"`
	MaxTokens         *int           `json:"max_tokens,omitempty"`
	Stream            bool           `json:"stream"`
	StreamOptions     *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatCallFunction `json:"function"`
}

type chatCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (p *Compat) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	body, err := p.requestBody(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return errorStream(err)
	}

	opts := []normalize.Option{normalize.WithProviderName(p.name)}
	if p.thinkTags[0] != "" {
		opts = append(opts, normalize.WithThinkTags(p.thinkTags[0], p.thinkTags[1]))
	}
	return normalize.NewStream(ctx, resp.Body, frame.SSE, normalize.NewOpenAIChat(opts...), p.name), nil
}

// requestBody renders req as the JSON body sent to the server.
func (p *Compat) requestBody(req llm.Request) ([]byte, error) {
	messages := buildChatMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("%s: no messages provided", p.name)
	}
	tools, err := buildChatTools(req.Tools)
	if err != nil {
		return nil, err
	}

	chatReq := chatRequest{
		Model:         chooseModel(req.Model, p.model),
		Messages:      messages,
		Tools:         tools,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	if len(tools) > 0 {
		chatReq.ToolChoice = buildChatToolChoice(req.ToolChoice)
		if req.ParallelToolCalls {
			v := true
			chatReq.ParallelToolCalls = &v
		}
	}
	if req.Temperature > 0 {
		v := float64(req.Temperature)
		chatReq.Temperature = &v
	}
	if req.MaxOutputTokens > 0 {
		v := req.MaxOutputTokens
		chatReq.MaxTokens = &v
	}
	return json.Marshal(chatReq)
}

// post sends body and returns the response once the server accepted it.
func (p *Compat) post(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for key, value := range p.headers {
		if value != "" {
			httpReq.Header.Set(key, value)
		}
	}
	return doStreaming(ctx, p.client, httpReq, p.name)
}

// doStreaming sends req. Non-2xx responses and connection failures become
// *llm.ProviderError.
func doStreaming(ctx context.Context, client *http.Client, req *http.Request, name string) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &llm.ProviderError{Provider: name, Message: "request failed", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &llm.ProviderError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
		}
	}
	return resp, nil
}

// errorMessage extracts {"error":{"message":...}} or {"error":"..."} from
// an error body, falling back to the raw text.
func errorMessage(raw []byte, status string) string {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		return text
	}
	return status
}

func buildChatMessages(messages []llm.Message) []chatMessage {
	var result []chatMessage
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
			text := msg.Text()
			calls := msg.ToolCalls()
			if msg.Role == llm.RoleAssistant && len(calls) > 0 {
				out := chatMessage{Role: "assistant", Content: text}
				for _, call := range calls {
					out.ToolCalls = append(out.ToolCalls, chatToolCall{
						ID:   call.ID,
						Type: "function",
						Function: chatCallFunction{
							Name:      call.Name,
							Arguments: string(call.Arguments),
						},
					})
				}
				result = append(result, out)
				continue
			}
			if text == "" {
				continue
			}
			result = append(result, chatMessage{Role: string(msg.Role), Content: text})
		case llm.RoleTool:
			for _, part := range msg.Parts {
				if part.Type != llm.PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, chatMessage{
					Role:       "tool",
					Content:    part.ToolResult.Content,
					ToolCallID: part.ToolResult.ToolCallID,
				})
			}
		}
	}
	return result
}

func buildChatTools(specs []llm.ToolSpec) ([]chatTool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]chatTool, 0, len(specs))
	for _, spec := range specs {
		schema, err := json.Marshal(spec.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", spec.Name, err)
		}
		tools = append(tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		})
	}
	return tools, nil
}

func buildChatToolChoice(choice llm.ToolChoice) interface{} {
	switch choice.Mode {
	case llm.ToolChoiceNone:
		return "none"
	case llm.ToolChoiceRequired:
		return "required"
	case llm.ToolChoiceName:
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": choice.Name},
		}
	default:
		return "auto"
	}
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
