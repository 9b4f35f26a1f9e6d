package tools

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// unknownParams returns one warning line per argument key the tool does not
// declare, sorted, or "" when every key is known. The model sees the
// warning ahead of the tool's own output.
func unknownParams(args json.RawMessage, known ...string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(args, &m); err != nil {
		return ""
	}
	var extra []string
	for k := range m {
		if !slices.Contains(known, k) {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return ""
	}
	slices.Sort(extra)
	var sb strings.Builder
	for _, k := range extra {
		fmt.Fprintf(&sb, "Unknown parameter '%s' was ignored\n", k)
	}
	return sb.String()
}

// decodeArgs unmarshals args into v, treating an empty payload as {}.
func decodeArgs(args json.RawMessage, v any) *ToolError {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return NewToolErrorf(ErrInvalidParams, "invalid arguments: %v", err)
	}
	return nil
}
