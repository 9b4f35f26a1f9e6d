package provider

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/normalize"
)

// OpenAI streams chat completions through the official SDK. Tool call
// deltas are keyed by index; only the first delta of a call carries its id.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(apiKey, model string, opts ...option.RequestOption) *OpenAI {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

func (p *OpenAI) Name() string {
	return "openai"
}

func (p *OpenAI) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	turn := normalize.NewTurn(p.Name())

	step := func() ([]llm.Event, bool) {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				return turn.Fail(sdkError(p.Name(), err)), false
			}
			// The SDK swallows the [DONE] sentinel, so a clean end of the
			// SSE stream is the completion.
			return turn.Complete(), false
		}

		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			turn.SetUsage(llm.Usage{
				InputTokens:       int(chunk.Usage.PromptTokens),
				OutputTokens:      int(chunk.Usage.CompletionTokens),
				CachedInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			})
		}

		var events []llm.Event
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			events = append(events, turn.Text(choice.Delta.Content)...)
			for _, tc := range choice.Delta.ToolCalls {
				events = append(events, turn.ToolCall(llm.PartialToolCall{
					Index:             int(tc.Index),
					ID:                tc.ID,
					Name:              tc.Function.Name,
					ArgumentsFragment: tc.Function.Arguments,
				})...)
			}
			turn.SetFinishReason(choice.FinishReason)
		}
		return events, true
	}
	return normalize.NewPullStream(ctx, step, stream.Close), nil
}

func (p *OpenAI) params(req llm.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    chooseModel(req.Model, p.model),
		Messages: buildOpenAIMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
		params.ToolChoice = buildOpenAIToolChoice(req.ToolChoice)
		params.ParallelToolCalls = openai.Bool(req.ParallelToolCalls)
	}
	return params
}

func buildOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(msg.Text()))
		case llm.RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
			for _, call := range calls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID:   call.ID,
						Type: constant.Function("function"),
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: string(call.Arguments),
						},
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      constant.Assistant("assistant"),
				ToolCalls: toolCalls,
			}
			if text := msg.Text(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case llm.RoleTool:
			if result, ok := msg.ToolResult(); ok {
				out = append(out, openai.ToolMessage(nonEmpty(result.Content), result.ToolCallID))
			}
		}
	}
	return out
}

func buildOpenAITools(specs []llm.ToolSpec) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		def := openai.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: openai.FunctionParameters(spec.Schema),
		}
		if spec.Description != "" {
			def.Description = openai.String(spec.Description)
		}
		tools = append(tools, openai.ChatCompletionFunctionTool(def))
	}
	return tools
}

func buildOpenAIToolChoice(choice llm.ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice.Mode {
	case llm.ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case llm.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	case llm.ToolChoiceName:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
}
