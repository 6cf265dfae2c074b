// Package markdown implements the streaming-safe markdown buffer: it holds
// back incomplete markdown constructs so a renderer only ever receives
// well-formed output. It is a self-contained state machine with no
// dependency on the generation pipeline; a CLI or other terminal
// collaborator feeds it the same text a generation emits.
package markdown

import "strings"

// ParseState tracks every in-progress markdown construct. "Clean" means
// every flag is false: nothing is left partially open.
type ParseState struct {
	InCodeBlock  bool
	FenceChar    byte
	FenceLen     int
	InTable      bool
	PendingHeading bool
	InInlineCode bool
	InlineCodeLen int

	InBold          bool
	InItalic        bool
	InStrikethrough bool
	InLinkText      bool
	InLinkURL       bool
	InImageAlt      bool
}

// Clean reports whether no construct is left partially open.
func (s ParseState) Clean() bool {
	return !s.InCodeBlock && !s.InTable && !s.PendingHeading && !s.InInlineCode &&
		!s.InBold && !s.InItalic && !s.InStrikethrough &&
		!s.InLinkText && !s.InLinkURL && !s.InImageAlt
}

// Buffer accepts incremental text chunks and returns only the prefix that
// is safe to render.
type Buffer struct {
	pending string
}

// New returns an empty streaming markdown buffer.
func New() *Buffer { return &Buffer{} }

// Push appends chunk and returns the largest prefix of the buffered text
// that is safe to render, retaining the remainder internally.
func (b *Buffer) Push(chunk string) string {
	b.pending += chunk
	safe := safeEnd(b.pending)
	out := b.pending[:safe]
	b.pending = b.pending[safe:]
	return out
}

// Flush returns everything buffered regardless of state, for end-of-stream.
func (b *Buffer) Flush() string {
	out := b.pending
	b.pending = ""
	return out
}

// safeEnd computes the last byte position at which a parse of buf from the
// start reaches a clean state, reparsing from scratch each time as the
// algorithm specifies.
func safeEnd(buf string) int {
	state := ParseState{}
	pos := 0
	lastSafe := 0

	for pos < len(buf) {
		rest := buf[pos:]
		nl := strings.IndexByte(rest, '\n')
		complete := nl >= 0

		var line string
		if complete {
			line = rest[:nl+1]
		} else {
			line = rest
		}

		if state.InCodeBlock {
			content := line
			if complete {
				content = strings.TrimRight(line, "\n")
			}
			if complete && isFenceClose(content, state.FenceChar, state.FenceLen) {
				state.InCodeBlock = false
			}
			if !complete {
				break
			}
			pos += len(line)
			if state.Clean() {
				lastSafe = pos
			}
			continue
		}

		content := line
		if complete {
			content = strings.TrimRight(line, "\n")
		}

		trimmed := strings.TrimLeft(content, " ")

		var offset int
		switch {
		case isTableRow(trimmed):
			state.InTable = true
			offset = -1
		case isFenceOpenLine(trimmed):
			fc, fl, _ := parseFenceOpen(trimmed)
			state.InCodeBlock = true
			state.FenceChar = fc
			state.FenceLen = fl
			offset = -1
		default:
			if markerLen, ok := parseHeadingOpen(trimmed); ok {
				state.PendingHeading = true
				parseInlineScan(trimmed[markerLen:], &state)
				offset = -1
			} else {
				offset = parseInlineScan(content, &state)
			}
		}

		if !complete {
			if offset >= 0 {
				lastSafe = pos + offset
			}
			break
		}

		pos += len(line)
		state.InTable = false
		state.PendingHeading = false
		if state.Clean() {
			lastSafe = pos
		}
	}

	return lastSafe
}
