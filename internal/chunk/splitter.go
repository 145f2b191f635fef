// Package chunk turns source file contents into ordered, non-overlapping (or
// minimally overlapping) Chunks along syntactic boundaries where possible,
// falling back to a token-budgeted recursive-character split otherwise.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strconv"

	"github.com/jamaly87/codebase-context-engine/internal/models"
)

// Options configures a single Split call.
type Options struct {
	ChunkSize    int // in cl100k_base tokens
	ChunkOverlap int // in cl100k_base tokens, must stay < ChunkSize
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 200
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 10
	}
	return o
}

// Splitter turns one file's content into an ordered slice of Chunks.
type Splitter interface {
	Split(ctx context.Context, source, language, path string, opts Options) ([]models.Chunk, error)
}

// Pipeline is the engine's default splitter: try the AST splitter when the
// language has a grammar, fall back to the recursive-character splitter on
// any parse failure or for languages without one.
type Pipeline struct {
	ast       *ASTSplitter
	recursive *RecursiveSplitter
}

// NewPipeline builds a Pipeline with all supported grammars registered.
func NewPipeline() (*Pipeline, error) {
	ast, err := NewASTSplitter()
	if err != nil {
		return nil, err
	}
	return &Pipeline{ast: ast, recursive: NewRecursiveSplitter()}, nil
}

// Split implements Splitter.
func (p *Pipeline) Split(ctx context.Context, source, language, path string, opts Options) ([]models.Chunk, error) {
	opts = opts.normalized()
	if language == "" {
		language = "unknown"
	}
	if HasASTSupport(language) {
		chunks, err := p.ast.Split(ctx, source, language, path, opts)
		if err == nil && len(chunks) > 0 {
			return chunks, nil
		}
		if err != nil {
			log.Printf("chunk: parse_failed for %s (%s): %v; falling back to recursive splitter", path, language, err)
		}
	}
	return p.recursive.Split(ctx, source, language, path, opts)
}

func newChunk(content, path string, startLine, endLine int, language, kind string) models.Chunk {
	return models.Chunk{
		Content:      content,
		RelativePath: path,
		StartLine:    startLine,
		EndLine:      endLine,
		Language:     language,
		NodeKind:     kind,
		ContentHash:  contentHash(content),
	}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ID builds the deterministic chunk identifier used as a HybridDocument.ID:
// {fingerprint}-{relative_path}-{start_line}-{end_line}-{hash(content)[0:8]}.
func ID(fingerprint string, c models.Chunk) string {
	return fingerprint + "-" + c.RelativePath + "-" + strconv.Itoa(c.StartLine) + "-" + strconv.Itoa(c.EndLine) + "-" + c.ContentHash[:8]
}
