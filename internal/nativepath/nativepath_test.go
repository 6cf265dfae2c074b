package nativepath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamState_StreamsPlainTextImmediately(t *testing.T) {
	var s StreamState
	emit, stop := s.OnToken("hello ", nil)
	require.Equal(t, "hello ", emit)
	require.False(t, stop)

	emit, stop = s.OnToken("world", nil)
	require.Equal(t, "world", emit)
	require.False(t, stop)
}

func TestStreamState_HoldsBackDuringJSONToolCall(t *testing.T) {
	var s StreamState
	emit, _ := s.OnToken("Here you go.\n", nil)
	require.Equal(t, "Here you go.\n", emit)

	emit, _ = s.OnToken(`{"tool_calls":[{"name":"foo",`, nil)
	require.Empty(t, emit)

	emit, stop := s.OnToken(`"arguments":{}}]}`, nil)
	require.Empty(t, emit)
	require.False(t, stop)

	calls := s.ToolCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "foo", calls[0].Name)
}

func TestStreamState_StopsOnAdditionalStopSequence(t *testing.T) {
	var s StreamState
	_, stop := s.OnToken("done<|end|>", []string{"<|end|>"})
	require.True(t, stop)
}

func TestCompactTools_KeepsOnlyNameAndDescription(t *testing.T) {
	tools := []ToolDefinition{{Name: "developer__shell", Description: "runs a shell command", Parameters: []byte(`{}`)}}
	compact := CompactTools(tools)
	require.Len(t, compact, 1)
	require.Equal(t, "developer__shell", compact[0]["name"])
	require.Equal(t, "runs a shell command", compact[0]["description"])
}

func TestStreamState_RemainderFallsBackWhenNoToolCall(t *testing.T) {
	var s StreamState
	s.OnToken("just text, no tool call", nil)
	require.Equal(t, "", s.Remainder())
}
