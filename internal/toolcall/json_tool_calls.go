package toolcall

import (
	"encoding/json"
	"strings"
)

// SplitContentAndToolCalls trims trailing whitespace from text; if the
// result does not end in '}', there is no tool call. Otherwise it scans
// backward counting braces (ASCII-only, safe on UTF-8) to find the
// matching '{', parses that substring as JSON, and requires a "tool_calls"
// array. On success it returns the text before the JSON object and the
// JSON object text itself; prefix + json always equals the
// whitespace-trimmed input.
func SplitContentAndToolCalls(text string) (string, *string) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if !strings.HasSuffix(trimmed, "}") {
		return text, nil
	}

	depth := 0
	matchStart := -1
	for i := len(trimmed) - 1; i >= 0; i-- {
		switch trimmed[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				matchStart = i
			}
		}
		if matchStart >= 0 {
			break
		}
	}
	if matchStart < 0 {
		return text, nil
	}

	candidate := trimmed[matchStart:]
	var envelope struct {
		ToolCalls []json.RawMessage `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(candidate), &envelope); err != nil {
		return text, nil
	}
	if envelope.ToolCalls == nil {
		return text, nil
	}

	prefix := trimmed[:matchStart]
	return prefix, &candidate
}

type rawToolCall struct {
	ID        *string         `json:"id"`
	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ExtractToolCallMessages parses the "tool_calls" array out of jsonText
// (the candidate returned by SplitContentAndToolCalls) and converts each
// entry to a ToolRequest, handling both the OpenAI shape
// ({function:{name,arguments: <json string>}, id}) and the native shape
// ({name, arguments: <object>|<json string>, id?}). Entries with an empty
// name are skipped; entries missing an id receive a fresh one.
func ExtractToolCallMessages(jsonText string) []ToolRequest {
	var envelope struct {
		ToolCalls []rawToolCall `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(jsonText), &envelope); err != nil {
		return nil
	}

	out := make([]ToolRequest, 0, len(envelope.ToolCalls))
	for _, tc := range envelope.ToolCalls {
		var name string
		var args map[string]any

		if tc.Function != nil {
			name = tc.Function.Name
			args = parseArgumentsString(tc.Function.Arguments)
		} else if tc.Name != nil {
			name = *tc.Name
			args = parseArguments(tc.Arguments)
		}

		if name == "" {
			continue
		}
		id := ""
		if tc.ID != nil {
			id = *tc.ID
		}
		if id == "" {
			id = freshID()
		}
		out = append(out, ToolRequest{ID: id, Name: name, Arguments: args})
	}
	return out
}

func parseArgumentsString(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func parseArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	// The native shape allows arguments to be either an object or a
	// JSON-encoded string of an object.
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseArgumentsString(s)
	}
	return map[string]any{}
}
