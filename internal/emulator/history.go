package emulator

import "fmt"

// Turn is the minimal shape this package needs from a prior conversation
// turn, enough to flatten it back into emulator text syntax.
type Turn struct {
	// Exactly one of Text, Command, Code, Output, or Error is set.
	Text    string
	Command string
	Code    string
	Output  *string
	Error   *string
}

// FlattenHistory renders prior turns into the same text form the model
// would have produced or read during emulation: shell commands as
// "$ <command>", code blocks as fenced ```execute blocks, tool responses
// as "Command output:"/"Command error:" lines. Turns that reference a
// tool outside the emulator's vocabulary (neither Command nor Code nor a
// response) are dropped.
func FlattenHistory(turns []Turn) string {
	var out string
	for _, t := range turns {
		switch {
		case t.Command != "":
			out += "$ " + t.Command + "\n"
		case t.Code != "":
			out += "```execute\n" + t.Code + "\n```\n"
		case t.Output != nil:
			out += fmt.Sprintf("Command output:\n%s\n", *t.Output)
		case t.Error != nil:
			out += fmt.Sprintf("Command error: %s\n", *t.Error)
		case t.Text != "":
			out += t.Text + "\n"
		}
	}
	return out
}
