package markdown

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario A: bold across chunks.
func TestBuffer_BoldAcrossChunks(t *testing.T) {
	b := New()
	out1 := b.Push("Here's the **important")
	require.Equal(t, "Here's the ", out1)

	out2 := b.Push("** part.")
	require.Equal(t, "**important** part.", out2)

	require.Equal(t, "", b.Flush())
}

// Scenario B: code fence across chunks.
func TestBuffer_CodeFenceAcrossChunks(t *testing.T) {
	b := New()
	chunks := []string{
		"```rust\n",
		"fn main() {\n",
		"    println!(\"hello\");\n",
		"}\n",
		"```\n",
	}
	var got string
	for _, c := range chunks {
		got += b.Push(c)
	}
	got += b.Flush()

	require.Equal(t, "```rust\nfn main() {\n    println!(\"hello\");\n}\n```\n", got)
}

func TestBuffer_InlineCodeHeldBackUntilClosed(t *testing.T) {
	b := New()
	out1 := b.Push("Run `go test")
	require.Equal(t, "Run ", out1)

	out2 := b.Push("` now")
	require.Equal(t, "`go test` now", out2)
}

func TestBuffer_LinkHeldBackUntilClosed(t *testing.T) {
	b := New()
	out1 := b.Push("See [docs")
	require.Equal(t, "See ", out1)

	out2 := b.Push("](https://example.com) here")
	require.Equal(t, "[docs](https://example.com) here", out2)
}

// Invariant 3: concatenating all Push outputs plus Flush equals the
// concatenation of all inputs - no byte loss, no duplication.
func TestBuffer_NoLossNoDuplication(t *testing.T) {
	inputs := []string{
		"# Heading one\n",
		"Some **bold and _italic_", " nested** text.\n",
		"```go\n", "func main() {}\n", "```\n",
		"A [link](http://x) and ![img](http://y).\n",
		"trailing partial **bold",
	}
	b := New()
	var out, in string
	for _, c := range inputs {
		in += c
		out += b.Push(c)
	}
	out += b.Flush()
	require.Equal(t, in, out)
}

func TestBuffer_PlainTextPassesThroughImmediately(t *testing.T) {
	b := New()
	out := b.Push("just plain text, nothing special")
	require.Equal(t, "just plain text, nothing special", out)
}
