package engine

import (
	"errors"

	"github.com/jamaly87/codebase-context-engine/internal/embedding"
)

// Sentinel errors returned by Context's public operations. Callers should
// use errors.Is to test for these; wrapped context (path, collection) is
// added with fmt.Errorf("...: %w", ...) at the call site.
var (
	ErrPathNotFound           = errors.New("codebase path not found")
	ErrNotADirectory          = errors.New("codebase path is not a directory")
	ErrAlreadyIndexing        = errors.New("codebase is already being indexed")
	ErrAlreadyIndexed         = errors.New("codebase is already indexed")
	ErrNotIndexed             = errors.New("codebase has not been indexed")
	ErrInvalidExtensionFilter = errors.New("invalid extension filter")
	ErrCollectionLimitReached = errors.New("backend collection limit reached")
)

// EmbeddingProviderError wraps a failure from the embedding provider with a
// retryability classification, surfaced to callers who may want to decide
// whether retrying the whole operation is worthwhile.
type EmbeddingProviderError struct {
	Err       error
	retryable bool
}

func (e *EmbeddingProviderError) Error() string   { return "embedding provider: " + e.Err.Error() }
func (e *EmbeddingProviderError) Unwrap() error   { return e.Err }
func (e *EmbeddingProviderError) Retryable() bool { return e.retryable }

// wrapEmbeddingError lifts the provider package's retryability classification
// onto the engine-level error so callers never have to know about the
// provider's internal error type.
func wrapEmbeddingError(err error) error {
	var perr *embedding.Error
	return &EmbeddingProviderError{Err: err, retryable: errors.As(err, &perr) && perr.Retryable}
}

// VectorStoreError wraps a failure from the vector store backend.
type VectorStoreError struct {
	Err error
}

func (e *VectorStoreError) Error() string { return "vector store: " + e.Err.Error() }
func (e *VectorStoreError) Unwrap() error { return e.Err }
