package toolcall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeStreamEnd_PlainText(t *testing.T) {
	text := "Here is the result."
	require.Equal(t, len(text), SafeStreamEnd(text))
}

func TestSafeStreamEnd_HoldsBackOpenBrace(t *testing.T) {
	text := `Here is the result. {"tool_calls":[`
	got := SafeStreamEnd(text)
	require.Equal(t, len("Here is the result. "), got)
}

func TestSafeStreamEnd_ResumesAfterMatchingBrace(t *testing.T) {
	text := `prefix {"a":1} suffix`
	got := SafeStreamEnd(text)
	require.Equal(t, len(text), got)
}

func TestSafeStreamEnd_HoldsBackToolCallTag(t *testing.T) {
	text := "Some text <tool_call>load"
	got := SafeStreamEnd(text)
	require.Equal(t, len("Some text "), got)
}

func TestSafeStreamEnd_HoldsBackPartialToolCallTagSuffix(t *testing.T) {
	text := "Some text <tool_cal"
	got := SafeStreamEnd(text)
	require.Equal(t, len("Some text "), got)
}

func TestSafeStreamEnd_StrayClosingBraceDrivesDepthNegative(t *testing.T) {
	text := "Don't forget to close the } bracket properly. And then say hello."
	got := SafeStreamEnd(text)
	require.Equal(t, len("Don't forget to close the "), got)
}

func TestSafeStreamEnd_StrayClosingBraceResumesAfterCompensatingOpenBrace(t *testing.T) {
	text := "stray } then { resumes"
	got := SafeStreamEnd(text)
	require.Equal(t, len(text), got)
}

// Invariant 5: monotonic across extension by any chunk.
func TestSafeStreamEnd_Monotonic(t *testing.T) {
	cases := []struct{ t, chunk string }{
		{"prefix {\"a\":1", "} suffix"},
		{"Some text <tool_ca", "ll>load</tool_call>"},
		{"plain ", "text continues"},
		{"nested {\"a\":{\"b\":1", "}} done"},
	}
	for _, c := range cases {
		before := SafeStreamEnd(c.t)
		after := SafeStreamEnd(c.t + c.chunk)
		require.GreaterOrEqual(t, after, before-len(c.chunk), "text=%q chunk=%q", c.t, c.chunk)
	}
}
