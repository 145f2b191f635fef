package chunk

import (
	"context"
	"regexp"
	"strings"

	"github.com/jamaly87/codebase-context-engine/internal/models"
)

// RecursiveSplitter accumulates lines up to chunk_size tokens, preferring to
// break at a recognized language boundary within a short lookahead window
// before falling back to a hard cut, then carries the trailing
// chunk_overlap tokens of lines into the start of the next chunk. It is the
// splitter of last resort: used directly for languages with no grammar, and
// handed an oversized AST node's content when the node itself has no
// splittable children.
type RecursiveSplitter struct{}

// NewRecursiveSplitter returns a ready-to-use RecursiveSplitter. It holds no
// state, so a single instance may be shared across goroutines.
func NewRecursiveSplitter() *RecursiveSplitter {
	return &RecursiveSplitter{}
}

// Split implements Splitter.
func (r *RecursiveSplitter) Split(ctx context.Context, source, language, path string, opts Options) ([]models.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.normalized()
	return r.splitText(source, language, path, opts, 1), nil
}

// splitText is the shared worker behind Split and the AST splitter's
// oversized-leaf fallback. lineOffset lets a caller splitting a sub-range of
// a larger file (an AST node's content) report correct absolute line numbers.
func (r *RecursiveSplitter) splitText(content, language, path string, opts Options, lineOffset int) []models.Chunk {
	lines := strings.Split(content, "\n")

	var chunks []models.Chunk
	var current []string
	currentTokens := 0
	startLine := lineOffset

	i := 0
	for i < len(lines) {
		line := lines[i]
		lineTokens := tokenLen(line)

		// A single line that alone exceeds the budget (minified JS, a giant
		// one-line data file, a long string literal) can never be broken
		// between lines, so it gets the sentence/word/character cascade
		// instead. Pieces keep the line's own number as their range.
		if lineTokens > opts.ChunkSize {
			if c := buildChunk(current, path, startLine, language); c != nil {
				chunks = append(chunks, *c)
			}
			lineNo := lineOffset + i
			for _, piece := range splitOversizedLine(line, opts.ChunkSize) {
				if strings.TrimSpace(piece) == "" {
					continue
				}
				chunks = append(chunks, newChunk(piece, path, lineNo, lineNo, language, ""))
			}
			current = nil
			currentTokens = 0
			startLine = lineNo + 1
			i++
			continue
		}

		if currentTokens+lineTokens > opts.ChunkSize && len(current) > 0 {
			for j := i; j < i+10 && j < len(lines); j++ {
				if isBoundary(strings.TrimSpace(lines[j]), language) {
					for k := i; k < j; k++ {
						current = append(current, lines[k])
						currentTokens += tokenLen(lines[k])
					}
					i = j
					line = lines[i]
					lineTokens = tokenLen(line)
					break
				}
			}

			if c := buildChunk(current, path, startLine, language); c != nil {
				chunks = append(chunks, *c)
			}

			overlap := overlapLines(current, opts.ChunkOverlap)
			startLine = lineOffset + i - len(overlap)
			current = overlap
			currentTokens = tokenLen(strings.Join(current, "\n"))
		}

		current = append(current, line)
		currentTokens += lineTokens
		i++
	}

	if c := buildChunk(current, path, startLine, language); c != nil {
		chunks = append(chunks, *c)
	}
	return chunks
}

func buildChunk(lines []string, path string, startLine int, language string) *models.Chunk {
	if len(lines) == 0 {
		return nil
	}
	content := strings.Join(lines, "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	c := newChunk(content, path, startLine, startLine+len(lines)-1, language, "")
	return &c
}

// oversizedLineSeparators is the cascade tried against a line that alone
// exceeds chunk_size: sentence breaks first, then words, then characters as
// the final resort.
var oversizedLineSeparators = []string{". ", " ", ""}

func splitOversizedLine(line string, maxTokens int) []string {
	return splitBySeparators(line, oversizedLineSeparators, maxTokens)
}

// splitBySeparators greedily packs separator-delimited segments into pieces
// of at most maxTokens tokens, recursing into the next separator for any
// segment that is itself too large. The empty-string separator at the end
// of the cascade means character-level splitting, which always succeeds.
func splitBySeparators(text string, separators []string, maxTokens int) []string {
	if tokenLen(text) <= maxTokens {
		return []string{text}
	}
	sep := separators[0]
	if sep == "" {
		return splitByRunes(text, maxTokens)
	}

	var out []string
	var buf strings.Builder
	bufTokens := 0
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
			bufTokens = 0
		}
	}
	for _, part := range strings.SplitAfter(text, sep) {
		partTokens := tokenLen(part)
		if partTokens > maxTokens {
			flush()
			out = append(out, splitBySeparators(part, separators[1:], maxTokens)...)
			continue
		}
		if bufTokens+partTokens > maxTokens {
			flush()
		}
		buf.WriteString(part)
		bufTokens += partTokens
	}
	flush()
	return out
}

// splitByRunes cuts text into windows of at most maxTokens tokens at rune
// boundaries. The window starts at maxTokens runes and shrinks until it
// fits, since a rune can encode to more than one token.
func splitByRunes(text string, maxTokens int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		n := len(runes)
		if n > maxTokens {
			n = maxTokens
		}
		for n > 1 && tokenLen(string(runes[:n])) > maxTokens {
			n--
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func overlapLines(lines []string, overlapTokens int) []string {
	if len(lines) == 0 || overlapTokens <= 0 {
		return nil
	}
	var out []string
	total := 0
	for i := len(lines) - 1; i >= 0 && total < overlapTokens; i-- {
		out = append([]string{lines[i]}, out...)
		total += tokenLen(lines[i])
	}
	return out
}

// languageBoundaryPatterns are checked, in order, against a trimmed line to
// decide whether it opens a new top-level declaration worth breaking before.
var languageBoundaryPatterns = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`^func\s+\w+`),
		regexp.MustCompile(`^func\s*\([^)]+\)\s*\w+`),
		regexp.MustCompile(`^type\s+\w+\s+(struct|interface)`),
		regexp.MustCompile(`^(const|var)\s+\w+`),
	},
	"python": {
		regexp.MustCompile(`^def\s+\w+`),
		regexp.MustCompile(`^async\s+def\s+\w+`),
		regexp.MustCompile(`^class\s+\w+`),
		regexp.MustCompile(`^@\w+`),
	},
	"java": {
		regexp.MustCompile(`^(public|private|protected)?\s*(static\s+)?(final\s+)?(class|interface|enum)\s+\w+`),
		regexp.MustCompile(`^(public|private|protected)?\s*(static\s+)?[\w<>\[\],\s]+\s+\w+\s*\([^)]*\)\s*\{?\s*$`),
		regexp.MustCompile(`^@\w+`),
	},
	"javascript": {
		regexp.MustCompile(`^(export\s+)?(default\s+)?(async\s+)?(function|class)\s+\w+`),
		regexp.MustCompile(`^(export\s+)?(const|let|var)\s+\w+\s*=`),
	},
	"typescript": {
		regexp.MustCompile(`^(export\s+)?(default\s+)?(async\s+)?(function|class|interface|type)\s+\w+`),
		regexp.MustCompile(`^(export\s+)?(const|let|var)\s+\w+\s*[:=]`),
	},
}

var defaultBoundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*$`),
}

func isBoundary(line, language string) bool {
	patterns, ok := languageBoundaryPatterns[language]
	if !ok {
		patterns = defaultBoundaryPatterns
	}
	for _, p := range patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
