package session

import (
	"encoding/json"
	"fmt"

	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/loop"
)

// storedState is the JSON form of a loop.LoopState. Pending calls are
// stored by id; the calls themselves live in the last assistant message.
type storedState struct {
	Transcript json.RawMessage `json:"transcript"`
	Step       int             `json:"step"`
	Pending    []string        `json:"pending,omitempty"`
}

// EncodeState serializes st for storage.
func EncodeState(st loop.LoopState) ([]byte, error) {
	transcript, err := llm.MarshalTranscript(st.Messages)
	if err != nil {
		return nil, err
	}
	stored := storedState{Transcript: transcript, Step: st.StepIndex}
	for _, c := range st.Pending {
		stored.Pending = append(stored.Pending, c.ID)
	}
	return json.Marshal(stored)
}

// DecodeState is the inverse of EncodeState.
func DecodeState(data []byte) (loop.LoopState, error) {
	var stored storedState
	if err := json.Unmarshal(data, &stored); err != nil {
		return loop.LoopState{}, fmt.Errorf("decode state: %w", err)
	}
	messages, err := llm.UnmarshalTranscript(stored.Transcript)
	if err != nil {
		return loop.LoopState{}, err
	}
	st := loop.LoopState{Messages: messages, StepIndex: stored.Step}
	if len(stored.Pending) == 0 {
		return st, nil
	}

	if len(messages) == 0 || messages[len(messages)-1].Role != llm.RoleAssistant {
		return loop.LoopState{}, fmt.Errorf("decode state: pending calls without an assistant turn")
	}
	byID := make(map[string]llm.ToolCall)
	for _, c := range messages[len(messages)-1].ToolCalls() {
		byID[c.ID] = c
	}
	for _, id := range stored.Pending {
		c, ok := byID[id]
		if !ok {
			return loop.LoopState{}, fmt.Errorf("decode state: pending call %s not in history", id)
		}
		st.Pending = append(st.Pending, c)
	}
	return st, nil
}
