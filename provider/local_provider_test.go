package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaneholloman/goose-local-inference/internal/emulator"
	"github.com/shaneholloman/goose-local-inference/internal/markdown"
	"github.com/shaneholloman/goose-local-inference/internal/registry"
)

type fakeRegistry struct {
	entries map[string]registry.ModelEntry
}

func (f *fakeRegistry) GetModel(id string) (registry.ModelEntry, bool) {
	e, ok := f.entries[id]
	return e, ok
}

func (f *fakeRegistry) Load() ([]registry.ModelEntry, error) {
	out := make([]registry.ModelEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func TestLocalProvider_FetchSupportedModels(t *testing.T) {
	reg := &fakeRegistry{entries: map[string]registry.ModelEntry{
		"a": {ID: "a"},
		"b": {ID: "b"},
	}}
	p := NewLocalProvider(nil, nil, reg)

	ids, err := p.FetchSupportedModels(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestToChatMessages_PrependsSystemAndMapsRoles(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: []ContentPart{{Kind: PartText, Text: "hi"}}},
		{Role: RoleAssistant, Content: []ContentPart{{Kind: PartText, Text: "hello"}}},
	}
	out := toChatMessages("be nice", messages)
	require.Len(t, out, 3)
	require.Equal(t, "system", out[0].Role)
	require.Equal(t, "be nice", out[0].Content)
	require.Equal(t, "user", out[1].Role)
	require.Equal(t, "hi", out[1].Content)
	require.Equal(t, "assistant", out[2].Role)
	require.Equal(t, "hello", out[2].Content)
}

func TestToChatMessages_NoSystemWhenEmpty(t *testing.T) {
	out := toChatMessages("", []Message{{Role: RoleUser, Content: []ContentPart{{Kind: PartText, Text: "hi"}}}})
	require.Len(t, out, 1)
	require.Equal(t, "user", out[0].Role)
}

func TestFlattenContent_RendersToolResponses(t *testing.T) {
	ok := flattenContent([]ContentPart{{Kind: PartToolResponse, ToolOutput: "5 files"}})
	require.Equal(t, "Command output:\n5 files\n", ok)

	failed := flattenContent([]ContentPart{{Kind: PartToolResponse, ToolError: "not found"}})
	require.Equal(t, "Command error: not found\n", failed)
}

func TestHasCodeExecutionTool(t *testing.T) {
	require.True(t, hasCodeExecutionTool([]ToolDefinition{{Name: "code_execution__execute"}}))
	require.False(t, hasCodeExecutionTool([]ToolDefinition{{Name: "developer__shell"}}))
}

func TestFlattenEmulatorHistory_RendersShellRoundTrip(t *testing.T) {
	messages := []Message{
		{Role: RoleAssistant, Content: []ContentPart{{Kind: PartToolRequest, ToolArgs: map[string]any{"command": "ls"}}}},
		{Role: RoleUser, Content: []ContentPart{{Kind: PartToolResponse, ToolOutput: "a.txt\n"}}},
	}
	out := flattenEmulatorHistory(messages)
	require.Len(t, out, 1)
	require.Equal(t, "user", out[0].Role)
	require.Contains(t, out[0].Content, "$ ls")
	require.Contains(t, out[0].Content, "Command output:\na.txt")
}

func TestFlattenEmulatorHistory_EmptyWhenNoTurns(t *testing.T) {
	require.Nil(t, flattenEmulatorHistory(nil))
}

func TestSend_ReturnsFalseOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan StreamItem, 1)
	require.False(t, send(ctx, out, StreamItem{}))
}

func TestSend_DeliversOnOpenContext(t *testing.T) {
	out := make(chan StreamItem, 1)
	require.True(t, send(context.Background(), out, StreamItem{Usage: &Usage{CompletionTokens: 1}}))
	item := <-out
	require.Equal(t, 1, item.Usage.CompletionTokens)
}

func TestEmitEmulatorAction_TextGoesThroughMarkdownBuffer(t *testing.T) {
	md := markdown.New()
	out := make(chan StreamItem, 4)
	ok := emitEmulatorAction(context.Background(), out, md, emulator.Action{Kind: emulator.ActionText, Text: "plain text"})
	require.True(t, ok)
	item := <-out
	require.Equal(t, "plain text", item.Message.Content[0].Text)
}

func TestEmitEmulatorAction_ShellCommandEmitsToolRequest(t *testing.T) {
	md := markdown.New()
	out := make(chan StreamItem, 4)
	ok := emitEmulatorAction(context.Background(), out, md, emulator.Action{Kind: emulator.ActionShellCommand, Command: "ls -la"})
	require.True(t, ok)
	item := <-out
	require.Equal(t, PartToolRequest, item.Message.Content[0].Kind)
	require.Equal(t, "ls -la", item.Message.Content[0].ToolArgs["command"])
}
