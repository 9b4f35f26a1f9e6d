// Package toolcall reassembles streamed tool calls from index-keyed
// fragments.
package toolcall

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/samsaffron/llmloop/internal/llm"
)

type entry struct {
	id   string
	name string
	args strings.Builder
}

// Accumulator maps a provider-assigned index to the call being assembled at
// that slot. It is scoped to one turn; call Reset before the next.
type Accumulator struct {
	byIndex map[int]*entry
	order   []int
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{byIndex: make(map[int]*entry)}
}

// Add folds one fragment into its slot and returns the call assembled so
// far. The returned arguments need not be valid JSON yet.
func (a *Accumulator) Add(p llm.PartialToolCall) llm.ToolCall {
	e, ok := a.byIndex[p.Index]
	if !ok {
		e = &entry{}
		a.byIndex[p.Index] = e
		a.order = append(a.order, p.Index)
	}
	// First-seen id and name win; later fragments usually omit them.
	if e.id == "" {
		e.id = p.ID
	}
	if e.name == "" {
		e.name = p.Name
	}
	e.args.WriteString(p.ArgumentsFragment)
	return llm.ToolCall{
		ID:        e.id,
		Name:      e.name,
		Arguments: json.RawMessage(e.args.String()),
	}
}

// Len returns the number of distinct indices seen this turn.
func (a *Accumulator) Len() int {
	return len(a.byIndex)
}

// Calls closes the accumulated calls and returns them ordered by index.
// Empty arguments become {}; missing or repeated ids are replaced with
// generated ones, which stay stable across repeated calls.
func (a *Accumulator) Calls() []llm.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indices := append([]int(nil), a.order...)
	sort.Ints(indices)

	seen := make(map[string]bool, len(indices))
	calls := make([]llm.ToolCall, 0, len(indices))
	for _, idx := range indices {
		e := a.byIndex[idx]
		if e.id == "" || seen[e.id] {
			e.id = NewID()
		}
		seen[e.id] = true

		args := e.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		calls = append(calls, llm.ToolCall{
			ID:        e.id,
			Name:      e.name,
			Arguments: json.RawMessage(args),
		})
	}
	return calls
}

// Reset discards every slot.
func (a *Accumulator) Reset() {
	a.byIndex = make(map[int]*entry)
	a.order = a.order[:0]
}

// NewID returns a fresh tool call id.
func NewID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
