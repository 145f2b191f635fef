// Package fingerprint computes the deterministic path fingerprint used
// throughout the engine as the single source of truth for collection naming
// and hash-map filenames. Having two places compute this hash was the
// historical bug this package exists to prevent.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// Length is the number of hex characters in a fingerprint.
const Length = 8

// CollectionPrefix is prepended to a fingerprint to form a vector store
// collection name.
const CollectionPrefix = "hybrid_code_chunks_"

// Of returns the 8-character lowercase hex fingerprint of path's canonical
// absolute form. Canonicalization cleans `.`/`..` segments and normalizes
// separators; it does not resolve symlinks.
func Of(path string) string {
	canonical := canonicalize(path)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:Length]
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return filepath.Clean(abs)
}

// CollectionName returns the wire-contract collection name for path.
func CollectionName(path string) string {
	return CollectionPrefix + Of(path)
}
