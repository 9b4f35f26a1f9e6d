package normalize

import (
	"encoding/json"

	"github.com/samsaffron/llmloop/internal/frame"
	"github.com/samsaffron/llmloop/internal/llm"
)

// Ollama normalizes the NDJSON stream of Ollama's /api/chat endpoint. Tool
// calls arrive whole, with arguments as a JSON object; the stream ends with
// an object carrying "done": true.
type Ollama struct {
	*turnState
}

// NewOllama returns a normalizer for one stream.
func NewOllama(opts ...Option) *Ollama {
	return &Ollama{turnState: newTurnState("ollama", opts)}
}

type ollamaChunk struct {
	Message *struct {
		Content   string           `json:"content"`
		Thinking  string           `json:"thinking"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

type ollamaToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Index     *int            `json:"index"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (n *Ollama) Normalize(f frame.Frame) ([]llm.Event, error) {
	if n.done {
		return nil, nil
	}

	var chunk ollamaChunk
	ok, err := n.decode(f.Data, &chunk)
	if !ok {
		return nil, err
	}
	if chunk.Error != "" {
		return n.fail(&llm.ProviderError{Provider: n.provider, Message: chunk.Error}), nil
	}

	var events []llm.Event
	if msg := chunk.Message; msg != nil {
		events = append(events, n.reasoningDelta(msg.Thinking)...)
		events = append(events, n.content(msg.Content)...)
		for _, tc := range msg.ToolCalls {
			idx := n.acc.Len()
			if tc.Function.Index != nil {
				idx = *tc.Function.Index
			}
			events = append(events, n.toolDelta(llm.PartialToolCall{
				Index:             idx,
				ID:                tc.ID,
				Name:              tc.Function.Name,
				ArgumentsFragment: argumentsFragment(tc.Function.Arguments),
			}))
		}
	}

	if chunk.Done {
		n.finish = chunk.DoneReason
		if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
			n.addUsage(llm.Usage{InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount})
		}
		events = append(events, n.complete()...)
	}
	return events, nil
}

func (n *Ollama) Finish() []llm.Event {
	return n.finishStream()
}
