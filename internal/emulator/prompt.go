// Package emulator implements the text-based tool-calling protocol used
// when a model has no native tool support: a system prompt teaching the
// model to emit shell commands or code blocks, a history flattener that
// renders prior tool turns back into that same text form, and a streaming
// parser that recovers structured actions from the model's output.
package emulator

import (
	"fmt"
	"runtime"
	"strings"
)

const codeExecutionToolName = "code_execution__execute"

// ToolCatalogEntry is the minimal shape this package needs from a tool
// definition.
type ToolCatalogEntry struct {
	Name        string
	Description string
}

// SystemPrompt builds the emulator's system prompt: a fixed preamble
// describing the environment, followed by either the code-mode or
// plain-mode tool description block.
func SystemPrompt(cwd, shell string, tools []ToolCatalogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are running on %s. The current working directory is %s and the shell is %s.\n\n", runtime.GOOS, cwd, shell)

	if codeMode, idx := hasCodeExecution(tools); codeMode {
		b.WriteString("To perform an action, emit a fenced code block starting with ```execute containing:\n\n")
		b.WriteString("async function run() {\n  // your code here\n}\n\n")
		b.WriteString("The following tools are available as async functions inside run():\n")
		for i, t := range tools {
			if i == idx {
				continue
			}
			b.WriteString(toolSignature(t))
			b.WriteByte('\n')
		}
		return b.String()
	}

	b.WriteString("To run a shell command, write a line starting with \"$ \" followed by the command.\n\n")
	b.WriteString("The following tools are available:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}

func hasCodeExecution(tools []ToolCatalogEntry) (bool, int) {
	for i, t := range tools {
		if t.Name == codeExecutionToolName {
			return true, i
		}
	}
	return false, -1
}

func toolSignature(t ToolCatalogEntry) string {
	namespace, method, ok := strings.Cut(t.Name, "__")
	if !ok {
		return fmt.Sprintf("%s(): %s", t.Name, t.Description)
	}
	return fmt.Sprintf("%s.%s(): %s", capitalize(namespace), snakeToCamel(method), t.Description)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// snakeToCamel converts one snake_case segment to camelCase: a single
// pass keeping the first word as written and capitalizing every word
// after an underscore.
func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(capitalize(p))
	}
	return b.String()
}
