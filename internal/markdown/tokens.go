package markdown

import (
	"regexp"
	"strings"
)

// tokenRe recognizes inline constructs in priority order: escape, backtick
// runs, then the emphasis/strikethrough/link/image delimiters.
var tokenRe = regexp.MustCompile("\\\\.|`+|\\*\\*\\*|\\*\\*|\\*|___|__|_|~~|!\\[|\\]\\(|\\[|\\]|\\)")

// parseInlineScan tokenizes content, mutating state as constructs open and
// close, and returns the byte offset of the last point at which state was
// clean. It returns -1 if no such point exists (state was already unclean
// on entry and nothing in content closed it).
func parseInlineScan(content string, state *ParseState) int {
	lastSafe := -1
	if state.Clean() {
		lastSafe = 0
	}
	i, n := 0, len(content)

	for i < n {
		if state.InInlineCode {
			j := strings.IndexByte(content[i:], '`')
			if j < 0 {
				i = n
				break
			}
			j += i
			k := j
			for k < n && content[k] == '`' {
				k++
			}
			if k-j == state.InlineCodeLen {
				state.InInlineCode = false
				state.InlineCodeLen = 0
				i = k
				if state.Clean() {
					lastSafe = i
				}
			} else {
				i = k
			}
			continue
		}

		loc := tokenRe.FindStringIndex(content[i:])
		if loc == nil {
			if state.Clean() {
				lastSafe = n
			}
			break
		}
		if loc[0] > 0 && state.Clean() {
			lastSafe = i + loc[0]
		}
		i += loc[0]
		tok := content[i : i+(loc[1]-loc[0])]
		i += len(tok)
		applyToken(tok, state)
		if state.Clean() {
			lastSafe = i
		}
	}

	return lastSafe
}

func applyToken(tok string, state *ParseState) {
	switch {
	case tok[0] == '\\':
		// escape: neutralizes the next character, no state change.
	case tok[0] == '`':
		state.InInlineCode = true
		state.InlineCodeLen = len(tok)
	case tok == "***" || tok == "___":
		state.InBold = !state.InBold
		state.InItalic = !state.InItalic
	case tok == "**" || tok == "__":
		state.InBold = !state.InBold
	case tok == "*" || tok == "_":
		state.InItalic = !state.InItalic
	case tok == "~~":
		state.InStrikethrough = !state.InStrikethrough
	case tok == "![":
		state.InImageAlt = true
	case tok == "](":
		switch {
		case state.InImageAlt:
			state.InImageAlt = false
			state.InLinkURL = true
		case state.InLinkText:
			state.InLinkText = false
			state.InLinkURL = true
		}
	case tok == "[":
		state.InLinkText = true
	case tok == "]":
		state.InLinkText = false
	case tok == ")":
		state.InLinkURL = false
	}
}

func parseFenceOpen(s string) (fenceChar byte, fenceLen int, ok bool) {
	if len(s) < 3 {
		return 0, 0, false
	}
	c := s[0]
	if c != '`' && c != '~' {
		return 0, 0, false
	}
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	if n < 3 {
		return 0, 0, false
	}
	return c, n, true
}

func isFenceOpenLine(s string) bool {
	_, _, ok := parseFenceOpen(s)
	return ok
}

func isFenceClose(s string, fenceChar byte, fenceLen int) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < fenceLen {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != fenceChar {
			return false
		}
	}
	return true
}

func isTableRow(s string) bool {
	return strings.HasPrefix(s, "|")
}

// parseHeadingOpen recognizes an ATX heading (1-6 '#' followed by a space
// or end of line) and returns the length of the marker to skip, including
// one following space when present.
func parseHeadingOpen(s string) (markerLen int, ok bool) {
	n := 0
	for n < len(s) && n < 6 && s[n] == '#' {
		n++
	}
	if n == 0 {
		return 0, false
	}
	if n == len(s) {
		return n, true
	}
	if s[n] == ' ' {
		return n + 1, true
	}
	return 0, false
}
