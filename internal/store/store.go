// Package store provides a pluggable VectorStore capability interface over
// the engine's hybrid (dense + keyword) collections.
package store

import (
	"context"
	"fmt"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

// DenseHit is one dense-vector search result.
type DenseHit struct {
	Document models.HybridDocument
	Score    float64 // cosine similarity, higher is better
}

// KeywordHit is one BM25 search result.
type KeywordHit struct {
	ID    string
	Score float64
}

// Filter narrows a dense or keyword query to documents whose file extension
// is one of Extensions (case-insensitive, e.g. ".go"). It is applied inside
// the query itself: the sqlite-vec backend folds it into the SQL predicate
// that gates which rows the ANN scan can return, Milvus folds it into the
// search's boolean expression, and the shared bleve keyword index folds it
// into the query as a conjunct. It is never applied to an unfiltered top-K
// window after the fact, so a caller asking for N matching-extension
// results gets up to N of them whenever that many exist in the collection.
// A zero-value Filter matches every document.
type Filter struct {
	Extensions []string
}

// Empty reports whether f constrains anything.
func (f Filter) Empty() bool {
	return len(f.Extensions) == 0
}

// VectorStore is the capability surface the engine needs from a collection
// backend: lifecycle management plus the two query primitives the hybrid
// planner fuses.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string, dimension int) error
	HasCollection(ctx context.Context, collection string) (bool, error)
	DropCollection(ctx context.Context, collection string) error
	ListCollections(ctx context.Context) ([]string, error)

	Upsert(ctx context.Context, collection string, docs []models.HybridDocument) error
	DeleteByPath(ctx context.Context, collection string, relativePaths []string) error

	QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]DenseHit, error)
	QueryKeyword(ctx context.Context, collection string, query string, topK int, filter Filter) ([]KeywordHit, error)

	// GetByID hydrates full documents for ids that a keyword-only match
	// returned without content or metadata. IDs with no surviving document
	// (deleted since the keyword index was last compacted) are omitted from
	// the result, not errored.
	GetByID(ctx context.Context, collection string, ids []string) ([]models.HybridDocument, error)

	// CheckCollectionLimit reports whether creating one more collection would
	// exceed the backend's configured ceiling. A zero limit means unlimited.
	CheckCollectionLimit(ctx context.Context) (ok bool, limit int, current int, err error)

	Close() error
}

// New builds the VectorStore named in cfg.VectorDB.Provider.
func New(cfg *config.VectorDBConfig) (VectorStore, error) {
	switch cfg.Provider {
	case "sqlite-vec", "":
		return NewSQLiteVec(cfg)
	case "milvus":
		return NewMilvus(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store provider %q", cfg.Provider)
	}
}
