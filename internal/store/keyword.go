package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// keywordIndex wraps one bleve index per collection for BM25 scoring. Both
// concrete VectorStore backends (sqlite-vec and milvus) share this type:
// the dense ANN layer differs, the sparse layer does not.
type keywordIndex struct {
	mu      sync.RWMutex
	baseDir string
	indexes map[string]bleve.Index
}

func newKeywordIndex(baseDir string) *keywordIndex {
	return &keywordIndex{baseDir: baseDir, indexes: make(map[string]bleve.Index)}
}

func (k *keywordIndex) path(collection string) string {
	return filepath.Join(k.baseDir, collection+".bleve")
}

func (k *keywordIndex) ensure(collection string) (bleve.Index, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if idx, ok := k.indexes[collection]; ok {
		return idx, nil
	}

	path := k.path(collection)
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		if err := os.MkdirAll(k.baseDir, 0755); err != nil {
			return nil, fmt.Errorf("creating keyword index dir: %w", err)
		}
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(path, mapping)
		if err != nil {
			return nil, fmt.Errorf("creating keyword index for %s: %w", collection, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening keyword index for %s: %w", collection, err)
	}

	k.indexes[collection] = idx
	return idx, nil
}

func (k *keywordIndex) drop(collection string) error {
	k.mu.Lock()
	idx, open := k.indexes[collection]
	delete(k.indexes, collection)
	k.mu.Unlock()

	if open {
		if err := idx.Close(); err != nil {
			return err
		}
	}
	path := k.path(collection)
	if _, err := os.Stat(path); err == nil {
		return os.RemoveAll(path)
	}
	return nil
}

type keywordDoc struct {
	Content      string `json:"content"`
	RelativePath string `json:"relativePath"`
	FileExt      string `json:"fileExtension"`
}

func (k *keywordIndex) upsert(ctx context.Context, collection string, docs []keywordBatchEntry) error {
	if len(docs) == 0 {
		return nil
	}
	idx, err := k.ensure(collection)
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, keywordDoc{
			Content:      strings.Join(d.Keywords, " "),
			RelativePath: d.RelativePath,
			FileExt:      d.FileExt,
		}); err != nil {
			return fmt.Errorf("indexing %s: %w", d.ID, err)
		}
	}
	return idx.Batch(batch)
}

type keywordBatchEntry struct {
	ID           string
	Keywords     []string
	RelativePath string
	FileExt      string
}

func (k *keywordIndex) deleteByPath(ctx context.Context, collection string, relativePaths []string) error {
	if len(relativePaths) == 0 {
		return nil
	}
	idx, err := k.ensure(collection)
	if err != nil {
		return err
	}
	for _, p := range relativePaths {
		// relativePath is indexed through bleve's default analyzer, which
		// splits a path into several tokens, so candidates are found with a
		// phrase query and the stored field is compared exactly.
		q := bleve.NewMatchPhraseQuery(p)
		q.SetField("relativePath")
		req := bleve.NewSearchRequest(q)
		req.Size = 10000
		req.Fields = []string{"relativePath"}
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("finding docs for %s: %w", p, err)
		}
		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			if hit.Fields["relativePath"] == p {
				batch.Delete(hit.ID)
			}
		}
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("deleting docs for %s: %w", p, err)
		}
	}
	return nil
}

// search runs a BM25 query over content, identical tokenization to
// ingestion (bleve's default analyzer lowercases and splits on
// non-identifier characters). When filter is non-empty, the extension
// constraint is folded into the same bleve query as a conjunct, rather than
// trimming the topK result set afterward.
func (k *keywordIndex) search(ctx context.Context, collection, text string, topK int, filter Filter) ([]KeywordHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	idx, err := k.ensure(collection)
	if err != nil {
		return nil, err
	}

	contentQuery := bleve.NewMatchQuery(text)
	contentQuery.SetField("content")

	var q query.Query = contentQuery
	if !filter.Empty() {
		extQueries := make([]query.Query, len(filter.Extensions))
		for i, ext := range filter.Extensions {
			tq := bleve.NewTermQuery(extensionToken(ext))
			tq.SetField("fileExtension")
			extQueries[i] = tq
		}
		q = bleve.NewConjunctionQuery(contentQuery, bleve.NewDisjunctionQuery(extQueries...))
	}

	req := bleve.NewSearchRequest(q)
	req.Size = topK

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, KeywordHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// extensionToken normalizes a file extension (e.g. ".GO") to the token form
// bleve's default analyzer stores for the fileExtension field: it strips
// punctuation (the leading dot) and lowercases, so a term query against the
// indexed field must match that same shape.
func extensionToken(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func (k *keywordIndex) closeAll() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var firstErr error
	for name, idx := range k.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(k.indexes, name)
	}
	return firstErr
}

// identifierSplit breaks text on anything that cannot appear in an
// identifier, so ingestion and query agree on what a token is.
var identifierSplit = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Tokenize splits text into lowercase identifier-like tokens of at least two
// characters, dropping nothing else: stopword removal is left to bleve's
// analyzer on the indexing side, this is only used by the query planner to
// build q_sparse consistently with how content was tokenized at ingestion.
func Tokenize(text string) []string {
	fields := identifierSplit.Split(strings.ToLower(text), -1)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
