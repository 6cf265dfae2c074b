package emulator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario C: a shell command split across chunk boundaries still
// produces one ShellCommand action.
func TestEmulatorParser_ShellCommandSplit(t *testing.T) {
	p := NewParser(false)
	actions := p.Push("Let me check.\n$ ls -")
	require.Len(t, actions, 1)
	require.Equal(t, ActionText, actions[0].Kind)
	require.Equal(t, "Let me check.\n", actions[0].Text)

	actions = p.Push("la\n")
	require.Len(t, actions, 1)
	require.Equal(t, ActionShellCommand, actions[0].Kind)
	require.Equal(t, "ls -la", actions[0].Command)
}

// Scenario D: a dollar sign mid-sentence never triggers command mode.
func TestEmulatorParser_DollarMidSentence(t *testing.T) {
	p := NewParser(false)
	var text string
	for _, a := range p.Push("The total cost is $5 million dollars.") {
		require.Equal(t, ActionText, a.Kind)
		text += a.Text
	}
	for _, a := range p.Flush() {
		require.Equal(t, ActionText, a.Kind)
		text += a.Text
	}
	require.Equal(t, "The total cost is $5 million dollars.", text)
}

func TestEmulatorParser_CodeModeExecuteBlock(t *testing.T) {
	p := NewParser(true)
	var actions []Action
	actions = append(actions, p.Push("I'll run this now.\n```execute\nconsole.log(1)")...)
	actions = append(actions, p.Push("\n```\nDone.")...)
	actions = append(actions, p.Flush()...)

	var kinds []ActionKind
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	require.Contains(t, kinds, ActionExecuteCode)

	for _, a := range actions {
		if a.Kind == ActionExecuteCode {
			require.Equal(t, "console.log(1)", a.Code)
		}
	}
}

// The emulator parser must recognize the exact fence form its own
// history.FlattenHistory renders: no leading space before the fence.
func TestEmulatorParser_RecognizesFlattenHistoryFenceForm(t *testing.T) {
	p := NewParser(true)
	rendered := FlattenHistory([]Turn{{Code: "console.log(1)"}})

	var actions []Action
	actions = append(actions, p.Push(rendered)...)
	actions = append(actions, p.Flush()...)

	var found bool
	for _, a := range actions {
		if a.Kind == ActionExecuteCode {
			found = true
			require.Equal(t, "console.log(1)", a.Code)
		}
	}
	require.True(t, found, "parser must recognize its own package's FlattenHistory fence output")
}

func TestEmulatorParser_UnterminatedCommandFlushedAtEnd(t *testing.T) {
	p := NewParser(false)
	p.Push("Running it.\n$ echo hi")
	actions := p.Flush()
	require.Len(t, actions, 1)
	require.Equal(t, ActionShellCommand, actions[0].Kind)
	require.Equal(t, "echo hi", actions[0].Command)
}

func TestEmulatorParser_EmptyCommandIgnored(t *testing.T) {
	p := NewParser(false)
	actions := p.Push("\n$ \n")
	actions = append(actions, p.Flush()...)
	for _, a := range actions {
		require.NotEqual(t, ActionShellCommand, a.Kind)
	}
}

// Invariant 6: the recovered text and command sequence do not depend on
// how the stream was chunked.
func TestEmulatorParser_ChunkBoundaryIdempotent(t *testing.T) {
	full := "Let me check that.\n$ ls -la\nLooks good.\n$ echo done\n"

	whole := reduce(NewParser(false), []string{full})

	var chunks []string
	for _, r := range full {
		chunks = append(chunks, string(r))
	}
	oneAtATime := reduce(NewParser(false), chunks)

	require.Equal(t, whole.text, oneAtATime.text)
	require.Equal(t, whole.commands, oneAtATime.commands)
}

type reduced struct {
	text     string
	commands []string
}

func reduce(p *Parser, chunks []string) reduced {
	var r reduced
	for _, c := range chunks {
		for _, a := range p.Push(c) {
			apply(&r, a)
		}
	}
	for _, a := range p.Flush() {
		apply(&r, a)
	}
	return r
}

func apply(r *reduced, a Action) {
	switch a.Kind {
	case ActionText:
		r.text += a.Text
	case ActionShellCommand:
		r.commands = append(r.commands, a.Command)
	case ActionExecuteCode:
		r.commands = append(r.commands, a.Code)
	}
}
