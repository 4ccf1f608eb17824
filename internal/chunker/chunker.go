// Package chunker splits markdown documents into memory-sized chunks.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 800
	DefaultMaxSize    = 1200
)

// Options configures chunking. Sizes are in bytes.
type Options struct {
	// TargetSize is where adjacent sections stop being merged.
	TargetSize int
	// MaxSize is the hard ceiling for a single chunk.
	MaxSize int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

func (o Options) normalized() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.MaxSize < o.TargetSize {
		o.MaxSize = o.TargetSize
	}
	return o
}

// Chunk is a piece of a document with its 1-based source line range.
type Chunk struct {
	Text      string
	Heading   string
	StartLine int
	EndLine   int
}

// Split breaks text into chunks on markdown headings and paragraph breaks,
// merging small sections up to TargetSize and cutting anything over MaxSize
// on line, then word, boundaries. Text that fits in MaxSize is one chunk.
func Split(text string, opts Options) []Chunk {
	opts = opts.normalized()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sections := splitSections(text)
	if len(strings.TrimSpace(text)) <= opts.MaxSize && len(sections) > 0 {
		first, last := sections[0], sections[len(sections)-1]
		return []Chunk{{
			Text:      strings.TrimSpace(text),
			Heading:   first.heading,
			StartLine: first.startLine,
			EndLine:   last.endLine,
		}}
	}
	return merge(sections, opts)
}

type section struct {
	lines     []string
	heading   string
	startLine int
	endLine   int
}

func (s section) text() string {
	return strings.TrimSpace(strings.Join(s.lines, "\n"))
}

// splitSections cuts on heading lines and blank lines. Each section keeps
// the nearest heading above it.
func splitSections(text string) []section {
	var (
		out     []section
		cur     section
		heading string
	)
	flush := func() {
		if cur.text() != "" {
			out = append(out, cur)
		}
		cur = section{}
	}

	inFence := false
	for i, line := range strings.Split(text, "\n") {
		n := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence && isHeading(trimmed) {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		if !inFence && trimmed == "" {
			flush()
			continue
		}
		if len(cur.lines) == 0 {
			cur.startLine = n
			cur.heading = heading
		}
		cur.lines = append(cur.lines, line)
		cur.endLine = n
	}
	flush()
	return out
}

func isHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	rest := strings.TrimLeft(line, "#")
	return len(line)-len(rest) <= 6 && (rest == "" || rest[0] == ' ')
}

// merge joins consecutive sections under TargetSize and splits any that
// exceed MaxSize. A new heading always starts a new chunk once the current
// one has content.
func merge(sections []section, opts Options) []Chunk {
	var (
		out []Chunk
		acc *Chunk
	)
	emit := func() {
		if acc != nil {
			out = append(out, *acc)
			acc = nil
		}
	}

	for _, s := range sections {
		t := s.text()
		if len(t) > opts.MaxSize {
			emit()
			out = append(out, hardSplit(s, opts)...)
			continue
		}
		if acc != nil && s.heading == acc.Heading && len(acc.Text)+2+len(t) <= opts.TargetSize {
			acc.Text += "\n\n" + t
			acc.EndLine = s.endLine
			continue
		}
		emit()
		acc = &Chunk{Text: t, Heading: s.heading, StartLine: s.startLine, EndLine: s.endLine}
	}
	emit()
	return out
}

// hardSplit breaks an oversized section on line boundaries, falling back to
// word boundaries for single lines longer than TargetSize.
func hardSplit(s section, opts Options) []Chunk {
	var (
		out   []Chunk
		buf   []string
		size  int
		start = s.startLine
	)
	flush := func(end int) {
		if t := strings.TrimSpace(strings.Join(buf, "\n")); t != "" {
			out = append(out, Chunk{Text: t, Heading: s.heading, StartLine: start, EndLine: end})
		}
		buf, size = nil, 0
	}

	for i, line := range s.lines {
		n := s.startLine + i
		if len(line) > opts.TargetSize {
			flush(n - 1)
			for _, piece := range splitWords(line, opts.TargetSize) {
				out = append(out, Chunk{Text: piece, Heading: s.heading, StartLine: n, EndLine: n})
			}
			start = n + 1
			continue
		}
		if size+len(line) > opts.TargetSize && len(buf) > 0 {
			flush(n - 1)
			start = n
		}
		buf = append(buf, line)
		size += len(line) + 1
	}
	flush(s.endLine)
	return out
}

// splitWords cuts a long line into pieces of at most limit bytes, preferring
// spaces and never splitting a rune.
func splitWords(line string, limit int) []string {
	var out []string
	line = strings.TrimSpace(line)
	for len(line) > limit {
		cut := strings.LastIndexByte(line[:limit], ' ')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(line)
			}
		}
		out = append(out, strings.TrimSpace(line[:cut]))
		line = strings.TrimSpace(line[cut:])
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}
