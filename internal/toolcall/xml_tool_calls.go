package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	xmlOpenTag  = "<tool_call>"
	xmlCloseTag = "</tool_call>"
)

// SplitContentAndXMLToolCalls reports whether an XML tool-call block has
// begun anywhere in text. content is everything before the first opening
// tag with trailing whitespace trimmed, stable whether or not the block
// has closed yet (used by the native
// path to compute a streaming cutoff even while a block is still being
// written). blocks holds the raw inner text of every *closed*
// <tool_call>…</tool_call> pair found, in order; multiple blocks
// accumulate. found is false only when no opening tag has appeared at
// all.
func SplitContentAndXMLToolCalls(text string) (content string, blocks []string, found bool) {
	idx := strings.Index(text, xmlOpenTag)
	if idx < 0 {
		return text, nil, false
	}
	content = strings.TrimRight(text[:idx], " \t\r\n")

	rest := text[idx:]
	for {
		start := strings.Index(rest, xmlOpenTag)
		if start < 0 {
			break
		}
		afterOpen := rest[start+len(xmlOpenTag):]
		end := strings.Index(afterOpen, xmlCloseTag)
		if end < 0 {
			break // unterminated block; stop, it is still in flight.
		}
		blocks = append(blocks, afterOpen[:end])
		rest = afterOpen[end+len(xmlCloseTag):]
	}
	return content, blocks, true
}

var functionTagRe = regexp.MustCompile(`(?s)<function=([^>]+)>(.*)</function>`)
var parameterTagRe = regexp.MustCompile(`(?s)<parameter=([^>]+)>(.*?)</parameter>`)
var argKeyRe = regexp.MustCompile(`(?s)<arg_key>(.*?)</arg_key>\s*<arg_value>(.*?)</arg_value>`)

// ExtractXMLToolCallMessages parses every raw <tool_call> block body
// (as returned by SplitContentAndXMLToolCalls) into a ToolRequest,
// handling both the <function=NAME><parameter=K>V</parameter>…</function>
// form and the GLM-style NAME<arg_key>K</arg_key><arg_value>V</arg_value>…
// form, including a zero-argument "<tool_call>NAME</tool_call>".
func ExtractXMLToolCallMessages(blocks []string) []ToolRequest {
	out := make([]ToolRequest, 0, len(blocks))
	for _, raw := range blocks {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var name string
		var args map[string]any
		if m := functionTagRe.FindStringSubmatch(raw); m != nil {
			name, args = parseFunctionParamStyle(m[1], m[2])
		} else {
			name, args = parseGLMStyle(raw)
		}
		if name == "" {
			continue
		}
		out = append(out, ToolRequest{ID: freshID(), Name: name, Arguments: args})
	}
	return out
}

func parseFunctionParamStyle(name, body string) (string, map[string]any) {
	args := map[string]any{}
	for _, m := range parameterTagRe.FindAllStringSubmatch(body, -1) {
		key, value := m[1], m[2]
		args[key] = coerceXMLValue(value)
	}
	return strings.TrimSpace(name), args
}

func parseGLMStyle(raw string) (string, map[string]any) {
	pairs := argKeyRe.FindAllStringSubmatchIndex(raw, -1)
	if len(pairs) == 0 {
		return strings.TrimSpace(raw), map[string]any{}
	}
	name := strings.TrimSpace(raw[:pairs[0][0]])
	args := map[string]any{}
	for _, m := range argKeyRe.FindAllStringSubmatch(raw, -1) {
		key, value := m[1], m[2]
		args[strings.TrimSpace(key)] = coerceXMLValue(value)
	}
	return name, args
}

func coerceXMLValue(value string) any {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		return parsed
	}
	return value
}
