package toolcall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario E: native JSON tool call.
func TestSplitContentAndToolCalls_NativeJSON(t *testing.T) {
	text := `Here is the result.` + "\n" +
		`{"tool_calls":[{"function":{"name":"developer__shell","arguments":"{\"command\":\"ls\"}"},"id":"c1"}]}`

	content, jsonStr := SplitContentAndToolCalls(text)
	require.Equal(t, "Here is the result.\n", content)
	require.NotNil(t, jsonStr)

	calls := ExtractToolCallMessages(*jsonStr)
	require.Len(t, calls, 1)
	require.Equal(t, "developer__shell", calls[0].Name)
	require.Equal(t, "c1", calls[0].ID)
	require.Equal(t, "ls", calls[0].Arguments["command"])
}

func TestSplitContentAndToolCalls_NativeShapeObjectArguments(t *testing.T) {
	text := `{"tool_calls":[{"name":"foo","arguments":{"x":1}}]}`
	content, jsonStr := SplitContentAndToolCalls(text)
	require.Equal(t, "", content)
	require.NotNil(t, jsonStr)

	calls := ExtractToolCallMessages(*jsonStr)
	require.Len(t, calls, 1)
	require.Equal(t, "foo", calls[0].Name)
	require.InDelta(t, 1, calls[0].Arguments["x"], 0)
	require.NotEmpty(t, calls[0].ID, "missing id must get a fresh one")
}

func TestSplitContentAndToolCalls_NoTrailingBrace(t *testing.T) {
	content, jsonStr := SplitContentAndToolCalls("just some plain text")
	require.Equal(t, "just some plain text", content)
	require.Nil(t, jsonStr)
}

func TestSplitContentAndToolCalls_EmptyNameSkipped(t *testing.T) {
	text := `{"tool_calls":[{"name":"","arguments":{}},{"name":"ok","arguments":{}}]}`
	_, jsonStr := SplitContentAndToolCalls(text)
	require.NotNil(t, jsonStr)
	calls := ExtractToolCallMessages(*jsonStr)
	require.Len(t, calls, 1)
	require.Equal(t, "ok", calls[0].Name)
}

// Invariant 4: for text ending in a well-formed JSON tool-call block,
// prefix + json = trim_trailing_ws(text) and safe_stream_end(prefix) = len(prefix).
func TestSplitContentAndToolCalls_WellFormedInvariant(t *testing.T) {
	text := "Some preamble.\n" + `{"tool_calls":[{"name":"foo","arguments":{}}]}` + "  \n"
	content, jsonStr := SplitContentAndToolCalls(text)
	require.NotNil(t, jsonStr)

	trimmed := "Some preamble.\n" + `{"tool_calls":[{"name":"foo","arguments":{}}]}`
	require.Equal(t, trimmed, content+*jsonStr)
	require.Equal(t, len(content), SafeStreamEnd(content))
}
