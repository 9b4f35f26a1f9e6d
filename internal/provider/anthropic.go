package provider

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/normalize"
)

const anthropicDefaultMaxTokens = 4096

// Anthropic streams from the Messages API through the official SDK.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, model: model}
}

func (p *Anthropic) Name() string {
	return "anthropic"
}

func (p *Anthropic) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	params := p.params(req)
	stream := p.client.Messages.NewStreaming(ctx, params)
	turn := normalize.NewTurn(p.Name())

	var usage llm.Usage
	step := func() ([]llm.Event, bool) {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				return turn.Fail(sdkError(p.Name(), err)), false
			}
			return turn.Finish(), false
		}

		switch variant := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = int(variant.Message.Usage.InputTokens)
			usage.CachedInputTokens = int(variant.Message.Usage.CacheReadInputTokens)
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				// The start block carries an empty input; arguments arrive as
				// input_json_delta fragments.
				return turn.ToolCall(llm.PartialToolCall{
					Index: int(variant.Index),
					ID:    block.ID,
					Name:  block.Name,
				}), true
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				return turn.Text(delta.Text), true
			case anthropic.ThinkingDelta:
				return turn.Reasoning(delta.Thinking), true
			case anthropic.InputJSONDelta:
				if delta.PartialJSON != "" {
					return turn.ToolCall(llm.PartialToolCall{
						Index:             int(variant.Index),
						ArgumentsFragment: delta.PartialJSON,
					}), true
				}
			}
		case anthropic.MessageDeltaEvent:
			turn.SetFinishReason(string(variant.Delta.StopReason))
			if variant.Usage.InputTokens > 0 {
				usage.InputTokens = int(variant.Usage.InputTokens)
			}
			usage.OutputTokens = int(variant.Usage.OutputTokens)
			turn.SetUsage(usage)
		case anthropic.MessageStopEvent:
			return turn.Complete(), true
		}
		return nil, true
	}
	return normalize.NewPullStream(ctx, step, stream.Close), nil
}

func (p *Anthropic) params(req llm.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, p.model)),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = int64(req.MaxOutputTokens)
	}
	if system := llm.FlattenSystem(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
		params.ToolChoice = buildAnthropicToolChoice(req.ToolChoice, req.ParallelToolCalls)
	}
	return params
}

// buildAnthropicMessages maps history onto alternating user and assistant
// messages. Tool results travel as user content, and consecutive results
// are merged into a single message.
func buildAnthropicMessages(messages []llm.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingUser []anthropic.ContentBlockParamUnion
	flushUser := func() {
		if len(pendingUser) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingUser...))
			pendingUser = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser, llm.RoleTool:
			pendingUser = append(pendingUser, anthropicBlocks(msg.Parts, false)...)
		case llm.RoleAssistant:
			flushUser()
			if blocks := anthropicBlocks(msg.Parts, true); len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flushUser()
	return out
}

func anthropicBlocks(parts []llm.Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case llm.PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case llm.PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, toolUseInput(part.ToolCall.Arguments), part.ToolCall.Name))
			}
		case llm.PartToolResult:
			if part.ToolResult != nil {
				blocks = append(blocks, anthropicToolResult(part.ToolResult))
			}
		}
	}
	return blocks
}

// toolUseInput returns args when they form a JSON object. Arguments cut
// off mid-stream are replaced by {} so the history can still be sent.
func toolUseInput(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return trimmed
	}
	return json.RawMessage("{}")
}

func anthropicToolResult(result *llm.ToolResult) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: result.ToolCallID,
		IsError:   anthropic.Bool(result.IsError()),
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: nonEmpty(result.Content)}},
		},
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func buildAnthropicTools(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func buildAnthropicToolChoice(choice llm.ToolChoice, parallel bool) anthropic.ToolChoiceUnionParam {
	disableParallel := !parallel
	switch choice.Mode {
	case llm.ToolChoiceNone:
		none := anthropic.NewToolChoiceNoneParam()
		return anthropic.ToolChoiceUnionParam{OfNone: &none}
	case llm.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{DisableParallelToolUse: anthropic.Bool(disableParallel)}}
	case llm.ToolChoiceName:
		return anthropic.ToolChoiceParamOfTool(choice.Name)
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{DisableParallelToolUse: anthropic.Bool(disableParallel)}}
	}
}

// schemaRequired reads the "required" list of a JSON schema, which may hold
// either []string or []interface{} depending on how it was built.
func schemaRequired(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func nonEmpty(s string) string {
	if s == "" {
		return "(no output)"
	}
	return s
}
