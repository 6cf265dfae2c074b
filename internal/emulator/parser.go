package emulator

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shaneholloman/goose-local-inference/internal/toolcall"
)

// ParserState is the streaming emulator parser's current mode.
type ParserState int

const (
	Normal ParserState = iota
	InCommand
	InExecuteBlock
)

// ActionKind distinguishes the three things the parser can recover from
// model output.
type ActionKind int

const (
	ActionText ActionKind = iota
	ActionShellCommand
	ActionExecuteCode
)

// Action is one recovered unit of model output.
type Action struct {
	Kind    ActionKind
	Text    string
	Command string
	Code    string
}

const (
	// holdBackShellOnly is len("\n$"): a command trigger can never be
	// split across a chunk boundary if this many trailing runes are held
	// back every time nothing else matched.
	holdBackShellOnly = 2
	// holdBackCodeMode matches the original HOLD_BACK_CODE_MODE constant: a
	// multi-byte chunk boundary must not be able to fall inside the
	// "```execute\n" trigger, counted in runes.
	holdBackCodeMode = 12

	shellToolName = "developer__shell"
)

// Parser recovers structured actions from streaming emulator output: shell
// commands on "$ " lines, or fenced ```execute code blocks in code mode.
type Parser struct {
	codeMode bool
	state    ParserState
	buf      string
	seenAny  bool
}

// NewParser constructs a parser for either code mode (the catalog includes
// code_execution__execute) or shell-only mode.
func NewParser(codeMode bool) *Parser {
	return &Parser{codeMode: codeMode}
}

// Push feeds chunk in and returns every action that became recoverable.
func (p *Parser) Push(chunk string) []Action {
	p.buf += chunk
	return p.drain()
}

// Flush returns everything still buffered as a best-effort final action,
// regardless of whether its trigger was ever completed.
func (p *Parser) Flush() []Action {
	actions := p.drain()
	if p.buf == "" {
		return actions
	}
	switch p.state {
	case InCommand:
		cmd := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p.buf), "$"))
		if cmd != "" {
			actions = append(actions, Action{Kind: ActionShellCommand, Command: cmd})
		}
	case InExecuteBlock:
		if strings.TrimSpace(p.buf) != "" {
			actions = append(actions, Action{Kind: ActionExecuteCode, Code: p.buf})
		}
	default:
		actions = append(actions, Action{Kind: ActionText, Text: p.buf})
	}
	p.buf = ""
	return actions
}

func (p *Parser) drain() []Action {
	var actions []Action
	for {
		var act *Action
		var progressed bool
		switch p.state {
		case Normal:
			act, progressed = p.stepNormal()
		case InCommand:
			act, progressed = p.stepCommand()
		case InExecuteBlock:
			act, progressed = p.stepExecuteBlock()
		}
		if act != nil {
			actions = append(actions, *act)
		}
		if !progressed {
			return actions
		}
	}
}

func (p *Parser) stepNormal() (*Action, bool) {
	first := !p.seenAny

	if p.codeMode {
		if idx := strings.Index(p.buf, "```execute\n"); idx >= 0 {
			prefix := p.buf[:idx]
			p.buf = p.buf[idx+len("```execute\n"):]
			p.state = InExecuteBlock
			p.seenAny = true
			if strings.TrimSpace(prefix) == "" {
				return nil, true
			}
			return textAction(prefix), true
		}
		if strings.HasSuffix(p.buf, "```execute") {
			prefix := strings.TrimSuffix(p.buf, "```execute")
			p.buf = ""
			p.state = InExecuteBlock
			p.seenAny = true
			return textAction(prefix), true
		}
	}

	if idx := strings.Index(p.buf, "\n$"); idx >= 0 {
		emitted := p.buf[:idx+1]
		p.buf = p.buf[idx+1:]
		p.state = InCommand
		p.seenAny = true
		return textAction(emitted), true
	}

	if first && strings.HasPrefix(p.buf, "$") {
		p.state = InCommand
		p.seenAny = true
		return nil, true
	}

	holdBack := holdBackShellOnly
	if p.codeMode {
		holdBack = holdBackCodeMode
	}
	runeCount := utf8.RuneCountInString(p.buf)
	if runeCount <= holdBack {
		return nil, false
	}
	cut := cutAtRune(p.buf, runeCount-holdBack)
	emitted := p.buf[:cut]
	p.buf = p.buf[cut:]
	p.seenAny = true
	return textAction(emitted), true
}

func (p *Parser) stepCommand() (*Action, bool) {
	idx := strings.IndexByte(p.buf, '\n')
	if idx < 0 {
		return nil, false
	}
	line := p.buf[:idx]
	p.buf = p.buf[idx+1:]
	p.state = Normal

	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "$") {
		return nil, true
	}
	cmd := strings.TrimSpace(strings.TrimPrefix(trimmed, "$"))
	if cmd == "" {
		return nil, true
	}
	return &Action{Kind: ActionShellCommand, Command: cmd}, true
}

func (p *Parser) stepExecuteBlock() (*Action, bool) {
	idx := strings.Index(p.buf, "\n```")
	if idx < 0 {
		return nil, false
	}
	code := p.buf[:idx]
	p.buf = p.buf[idx+len("\n```"):]
	p.state = Normal
	if strings.TrimSpace(code) == "" {
		return nil, true
	}
	return &Action{Kind: ActionExecuteCode, Code: code}, true
}

func textAction(s string) *Action {
	if s == "" {
		return nil
	}
	return &Action{Kind: ActionText, Text: s}
}

func cutAtRune(s string, runeIdx int) int {
	i := 0
	for n := 0; n < runeIdx; n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// ToolRequest converts a ShellCommand or ExecuteCode action into a tool
// request, returning nil for Text actions.
func (a Action) ToolRequest() *toolcall.ToolRequest {
	switch a.Kind {
	case ActionShellCommand:
		return &toolcall.ToolRequest{ID: uuid.NewString(), Name: shellToolName, Arguments: map[string]any{"command": a.Command}}
	case ActionExecuteCode:
		return &toolcall.ToolRequest{ID: uuid.NewString(), Name: codeExecutionToolName, Arguments: map[string]any{"code": wrap(a.Code)}}
	default:
		return nil
	}
}

// wrap leaves code untouched if it already defines its own entry point,
// otherwise wraps it as one.
func wrap(code string) string {
	if strings.Contains(code, "async function run()") {
		return code
	}
	return "async function run() {\n" + code + "\n}"
}
