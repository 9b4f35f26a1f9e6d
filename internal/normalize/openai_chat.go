package normalize

import (
	"encoding/json"
	"strings"

	"github.com/samsaffron/llmloop/internal/frame"
	"github.com/samsaffron/llmloop/internal/llm"
)

// OpenAIChat normalizes the SSE chunk stream of OpenAI-compatible
// /chat/completions endpoints (OpenAI, vLLM, LM Studio, llama.cpp, ...).
//
// finish_reason only records why the turn ended; the Completion is emitted
// on the [DONE] sentinel because servers send usage in a trailing chunk.
type OpenAIChat struct {
	*turnState
}

// NewOpenAIChat returns a normalizer for one stream.
func NewOpenAIChat(opts ...Option) *OpenAIChat {
	return &OpenAIChat{turnState: newTurnState("openai-compat", opts)}
}

type oaiChunk struct {
	Choices []oaiChoice     `json:"choices"`
	Usage   *oaiUsage       `json:"usage,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int      `json:"index"`
	Delta        oaiDelta `json:"delta"`
	FinishReason *string  `json:"finish_reason"`
}

type oaiDelta struct {
	Content          *string        `json:"content"`
	ReasoningContent *string        `json:"reasoning_content"`
	Reasoning        *string        `json:"reasoning"`
	ToolCalls        []oaiToolDelta `json:"tool_calls"`
}

type oaiToolDelta struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type oaiUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type oaiAPIError struct {
	Type    string `json:"type"`
	Code    any    `json:"code"`
	Message string `json:"message"`
}

func (n *OpenAIChat) Normalize(f frame.Frame) ([]llm.Event, error) {
	if n.done {
		return nil, nil
	}
	if f.Done {
		return n.complete(), nil
	}

	if f.Event == "error" {
		var chunk oaiChunk
		_ = json.Unmarshal([]byte(f.Data), &chunk)
		return n.fail(&llm.ProviderError{Provider: n.provider, Message: apiErrorMessage(chunk.Error, f.Data)}), nil
	}

	var chunk oaiChunk
	ok, err := n.decode(f.Data, &chunk)
	if !ok {
		return nil, err
	}
	if len(chunk.Error) > 0 && string(chunk.Error) != "null" {
		return n.fail(&llm.ProviderError{Provider: n.provider, Message: apiErrorMessage(chunk.Error, f.Data)}), nil
	}

	var events []llm.Event
	for _, choice := range chunk.Choices {
		// Only the first choice is surfaced; n>1 is never requested.
		if choice.Index != 0 {
			continue
		}
		d := choice.Delta
		if d.ReasoningContent != nil {
			events = append(events, n.reasoningDelta(*d.ReasoningContent)...)
		} else if d.Reasoning != nil {
			events = append(events, n.reasoningDelta(*d.Reasoning)...)
		}
		if d.Content != nil {
			events = append(events, n.content(*d.Content)...)
		}
		for i, tc := range d.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			events = append(events, n.toolDelta(llm.PartialToolCall{
				Index:             idx,
				ID:                tc.ID,
				Name:              tc.Function.Name,
				ArgumentsFragment: argumentsFragment(tc.Function.Arguments),
			}))
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			n.finish = *choice.FinishReason
		}
	}

	if chunk.Usage != nil {
		u := llm.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
		if chunk.Usage.PromptTokensDetails != nil {
			u.CachedInputTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		// Usage is cumulative in this dialect; keep the latest report.
		n.usage = &u
	}
	return events, nil
}

func (n *OpenAIChat) Finish() []llm.Event {
	return n.finishStream()
}

// apiErrorMessage extracts a message from either {"message": ...} or a bare
// string, falling back to the raw frame.
func apiErrorMessage(raw json.RawMessage, fallback string) string {
	if len(raw) > 0 {
		var apiErr oaiAPIError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			return apiErr.Message
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return truncate(fallback, 500)
	}
	return "unknown error"
}
