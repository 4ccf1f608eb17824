package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmpty(t *testing.T) {
	assert.Nil(t, Split("", DefaultOptions()))
	assert.Nil(t, Split(" \n\n\t", DefaultOptions()))
}

func TestSplitShortDocument(t *testing.T) {
	text := "\n# Notes\n\nThis is a short memory.\n"
	chunks := Split(text, DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "# Notes\n\nThis is a short memory.", chunks[0].Text)
	assert.Equal(t, "Notes", chunks[0].Heading)
	assert.Equal(t, 2, chunks[0].StartLine)
	assert.Equal(t, 4, chunks[0].EndLine)
}

func TestSplitOnHeadings(t *testing.T) {
	body := strings.Repeat("Some content filling space. ", 12)
	text := "# One\n\n" + body + "\n\n# Two\n\n" + body + "\n\n# Three\n\n" + body

	chunks := Split(text, Options{TargetSize: 400, MaxSize: 600})
	require.Len(t, chunks, 3, "a heading never shares a chunk with the previous section")
	for i, want := range []string{"One", "Two", "Three"} {
		assert.Equal(t, want, chunks[i].Heading)
		assert.True(t, strings.HasPrefix(chunks[i].Text, "# "+want+"\n\n"), chunks[i].Text)
		assert.Equal(t, 1+4*i, chunks[i].StartLine)
		assert.Equal(t, 3+4*i, chunks[i].EndLine)
	}
}

func TestSplitMergesSmallParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 30)
	text := strings.Join([]string{para, para, para, para, para}, "\n\n")

	chunks := Split(text, Options{TargetSize: 350, MaxSize: 400})
	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, 5, chunks[1].StartLine)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 350)
	}
}

func TestSplitRespectsMaxSize(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "This is a line of text that is about sixty characters long.")
	}
	chunks := Split(strings.Join(lines, "\n"), Options{TargetSize: 200, MaxSize: 300})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 300)
	}
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 20, chunks[len(chunks)-1].EndLine)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndLine+1, chunks[i].StartLine, "line ranges are contiguous")
	}
}

func TestSplitLongLine(t *testing.T) {
	line := strings.Repeat("héllo wörld ", 100)
	chunks := Split(line, Options{TargetSize: 100, MaxSize: 150})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 100)
		assert.True(t, strings.HasPrefix(c.Text, "héllo") || strings.HasPrefix(c.Text, "wörld"), c.Text)
		assert.Equal(t, 1, c.StartLine)
	}
}

func TestSplitKeepsCodeFencesTogether(t *testing.T) {
	code := "```go\nfunc main() {\n\n\tprintln(\"hi\")\n}\n```"
	text := strings.Repeat("intro ", 40) + "\n\n" + code + "\n\n" + strings.Repeat("outro ", 40)

	chunks := Split(text, Options{TargetSize: 100, MaxSize: 250})
	var found bool
	for _, c := range chunks {
		if strings.Contains(c.Text, "func main()") {
			found = true
			assert.Contains(t, c.Text, "println")
		}
	}
	assert.True(t, found)
}

func TestSplitWordsNeverLoops(t *testing.T) {
	pieces := splitWords("ééé", 1)
	assert.Equal(t, []string{"é", "é", "é"}, pieces)
}
