package store

import "errors"

// ErrDimensionMismatch is returned when a vector's length disagrees with
// the dimension a collection was created with, a signal the embedding
// model changed underneath an existing index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrNotIndexed is returned by a query or upsert against a collection that
// does not exist; the store never auto-creates one on query.
var ErrNotIndexed = errors.New("collection not indexed")
