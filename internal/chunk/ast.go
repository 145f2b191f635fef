package chunk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// nodeKindByLanguage maps each language's tree-sitter node types to the
// coarse kind reported on the resulting Chunk. Node type strings come from
// each grammar and are not under our control; if a grammar is upgraded these
// may need revisiting.
var nodeKindByLanguage = map[string]map[string]string{
	"go": {
		"function_declaration": "function",
		"method_declaration":   "method",
		"type_declaration":     "type",
		"import_declaration":   "import",
	},
	"python": {
		"function_definition":  "function",
		"class_definition":     "class",
		"decorated_definition": "function",
	},
	"java": {
		"class_declaration":       "class",
		"interface_declaration":   "interface",
		"enum_declaration":        "enum",
		"method_declaration":      "method",
		"constructor_declaration": "method",
	},
	"javascript": {
		"function_declaration": "function",
		"class_declaration":    "class",
		"method_definition":    "method",
		"arrow_function":       "function",
		"function_expression":  "function",
	},
	"typescript": {
		"function_declaration":   "function",
		"class_declaration":      "class",
		"interface_declaration":  "interface",
		"type_alias_declaration": "type",
		"method_definition":      "method",
		"arrow_function":         "function",
	},
}

var classLikeKinds = map[string]bool{"class": true, "interface": true, "enum": true}
var memberKinds = map[string]bool{"method": true, "function": true}

// ASTSplitter extracts chunks along syntactic boundaries using tree-sitter
// grammars. Parsers are not safe for concurrent use, so parsing is
// serialized; the (expensive) tree walk that follows runs unlocked.
type ASTSplitter struct {
	parsers map[string]*sitter.Parser
	mux     sync.Mutex
}

// NewASTSplitter registers a parser for every language with an entry in
// nodeKindByLanguage.
func NewASTSplitter() (*ASTSplitter, error) {
	s := &ASTSplitter{parsers: make(map[string]*sitter.Parser)}
	s.register("go", golang.GetLanguage())
	s.register("python", python.GetLanguage())
	s.register("java", java.GetLanguage())
	s.register("javascript", javascript.GetLanguage())
	s.register("typescript", typescript.GetLanguage())
	return s, nil
}

func (s *ASTSplitter) register(name string, lang *sitter.Language) {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	s.parsers[name] = p
}

// Close releases the underlying tree-sitter parsers.
func (s *ASTSplitter) Close() {
	s.mux.Lock()
	defer s.mux.Unlock()
	for _, p := range s.parsers {
		p.Close()
	}
}

// Split implements Splitter. Returns an error (never a partial result) on
// any parse failure, signaling the caller to fall back to the
// recursive-character splitter.
func (s *ASTSplitter) Split(ctx context.Context, source, language, path string, opts Options) ([]models.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mux.Lock()
	parser, ok := s.parsers[language]
	if !ok {
		s.mux.Unlock()
		return nil, fmt.Errorf("no AST parser registered for language %q", language)
	}
	tree, err := parser.ParseCtx(ctx, nil, []byte(source))
	s.mux.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if tree == nil || tree.RootNode() == nil {
		return nil, fmt.Errorf("parse produced no tree for %s", path)
	}

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("syntax error parsing %s", path)
	}

	kinds := nodeKindByLanguage[language]
	var candidates []*sitter.Node
	collectCandidates(root, kinds, &candidates)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no semantic nodes found in %s", path)
	}

	opts = opts.normalized()
	var chunks []models.Chunk
	for _, node := range candidates {
		chunks = append(chunks, refine(node, source, language, path, opts, kinds)...)
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].StartLine < chunks[j].StartLine })
	return coalesceSmallSiblings(chunks, opts), nil
}

// collectCandidates walks the tree collecting the outermost node matching
// kinds on each branch. It does not descend past a match: members nested
// inside a matched node (e.g. a class's methods) are only extracted
// separately if refine later finds the class itself oversized.
func collectCandidates(node *sitter.Node, kinds map[string]string, out *[]*sitter.Node) {
	if node == nil {
		return
	}
	if _, ok := kinds[node.Type()]; ok {
		*out = append(*out, node)
		return
	}
	childCount := int(node.ChildCount())
	for i := 0; i < childCount; i++ {
		collectCandidates(node.Child(i), kinds, out)
	}
}

func refine(node *sitter.Node, source, language, path string, opts Options, kinds map[string]string) []models.Chunk {
	content := nodeContent(node, source)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	kind := kinds[node.Type()]
	if kind == "" {
		kind = "block"
	}
	startLine := int(node.StartPoint().Row) + 1
	endLine := int(node.EndPoint().Row) + 1

	if tokenLen(content) <= opts.ChunkSize {
		return []models.Chunk{newChunk(content, path, startLine, endLine, language, kind)}
	}

	if classLikeKinds[kind] {
		return splitClassLike(node, source, language, path, opts, kinds, kind)
	}

	var out []models.Chunk
	childCount := int(node.ChildCount())
	for i := 0; i < childCount; i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if _, ok := kinds[child.Type()]; ok {
			out = append(out, refine(child, source, language, path, opts, kinds)...)
		}
	}
	if len(out) > 0 {
		return out
	}

	return recursiveFallback(content, language, path, opts, startLine)
}

// splitClassLike handles an oversized class/interface/enum node: it emits a
// summary chunk covering everything before the first member, then one chunk
// per member (itself refined, in case a single method is still oversized).
func splitClassLike(node *sitter.Node, source, language, path string, opts Options, kinds map[string]string, kind string) []models.Chunk {
	startLine := int(node.StartPoint().Row) + 1

	// Grammars wrap members in a body node (class_body, block), so the
	// collection descends until it hits a member or a nested class-like
	// node, which refine handles on its own.
	var members []*sitter.Node
	var collectMembers func(n *sitter.Node)
	collectMembers = func(n *sitter.Node) {
		childCount := int(n.ChildCount())
		for i := 0; i < childCount; i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			if k := kinds[child.Type()]; memberKinds[k] || classLikeKinds[k] {
				members = append(members, child)
				continue
			}
			collectMembers(child)
		}
	}
	collectMembers(node)

	if len(members) == 0 {
		return recursiveFallback(nodeContent(node, source), language, path, opts, startLine)
	}

	summaryEndRow := int(members[0].StartPoint().Row)
	summary := linesBetween(source, int(node.StartPoint().Row), summaryEndRow)

	var chunks []models.Chunk
	if strings.TrimSpace(summary) != "" {
		chunks = append(chunks, newChunk(summary, path, startLine, summaryEndRow, language, kind+"_summary"))
	}
	for _, m := range members {
		chunks = append(chunks, refine(m, source, language, path, opts, kinds)...)
	}
	return chunks
}

func recursiveFallback(content, language, path string, opts Options, lineOffset int) []models.Chunk {
	r := NewRecursiveSplitter()
	chunks := r.splitText(content, language, path, opts, lineOffset)
	if len(chunks) == 0 {
		return []models.Chunk{newChunk(content, path, lineOffset, lineOffset+strings.Count(content, "\n"), language, "block")}
	}
	return chunks
}

// coalesceSmallSiblings merges runs of adjacent small chunks (e.g. several
// tiny top-level functions) up to chunk_size, so the index isn't flooded
// with sub-threshold fragments.
func coalesceSmallSiblings(chunks []models.Chunk, opts Options) []models.Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	threshold := opts.ChunkSize / 4
	var out []models.Chunk
	i := 0
	for i < len(chunks) {
		cur := chunks[i]
		for i+1 < len(chunks) &&
			tokenLen(cur.Content) < threshold &&
			tokenLen(chunks[i+1].Content) < threshold &&
			tokenLen(cur.Content)+tokenLen(chunks[i+1].Content) <= opts.ChunkSize &&
			chunks[i+1].StartLine-cur.EndLine <= 2 {
			nxt := chunks[i+1]
			merged := newChunk(cur.Content+"\n"+nxt.Content, cur.RelativePath, cur.StartLine, nxt.EndLine, cur.Language, "")
			cur = merged
			i++
		}
		out = append(out, cur)
		i++
	}
	return out
}

func nodeContent(node *sitter.Node, source string) string {
	start, end := node.StartByte(), node.EndByte()
	if start >= end || int(end) > len(source) {
		return ""
	}
	return source[start:end]
}

func linesBetween(source string, startRow, endRowExclusive int) string {
	lines := strings.Split(source, "\n")
	if startRow < 0 {
		startRow = 0
	}
	if endRowExclusive > len(lines) {
		endRowExclusive = len(lines)
	}
	if startRow >= endRowExclusive {
		return ""
	}
	return strings.Join(lines[startRow:endRowExclusive], "\n")
}
