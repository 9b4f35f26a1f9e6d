package ui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/samsaffron/llmloop/internal/llm"
	"github.com/samsaffron/llmloop/internal/loop"
)

// CallLabel formats a pending call for a prompt or listing.
func CallLabel(s *Styles, call llm.ToolCall, preview string) string {
	label := s.Tool.Render(call.Name)
	if preview != "" {
		label += " " + s.Preview.Render(preview)
	}
	return label
}

// PromptApprovals asks which pending calls of a blocked turn may run.
// Flagged calls start unselected; the others start selected since they
// would have run without asking. Calls left unselected are denied.
func PromptApprovals(blocked loop.Blocked, describe func(llm.ToolCall) string) (loop.Decisions, error) {
	s := NewStyles(DefaultTheme())
	calls := blocked.Calls()

	options := make([]huh.Option[string], 0, len(calls))
	for _, call := range calls {
		preview := ""
		if describe != nil {
			preview = describe(call)
		}
		options = append(options, huh.NewOption(CallLabel(s, call, preview), call.ID).Selected(!blocked.IsFlagged(call.ID)))
	}

	var approved []string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title(fmt.Sprintf("Approve %d of %d tool calls?", len(blocked.Flagged), len(calls))).
				Description("space toggles, enter confirms; unselected calls are denied").
				Options(options...).
				Value(&approved),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}
	return Decide(calls, approved), nil
}

// Decide approves the calls whose ids are listed and denies the rest.
func Decide(calls []llm.ToolCall, approved []string) loop.Decisions {
	ok := make(map[string]bool, len(approved))
	for _, id := range approved {
		ok[id] = true
	}
	d := make(loop.Decisions, len(calls))
	for _, c := range calls {
		if ok[c.ID] {
			d[c.ID] = loop.Approve
		} else {
			d[c.ID] = loop.Deny
		}
	}
	return d
}
