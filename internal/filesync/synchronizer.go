// Package filesync walks a codebase, applies ignore rules, hashes file
// content, and diffs the result against a persisted FileHashMap to drive
// incremental indexing. Hash-map writes are atomic (temp file + rename).
package filesync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/pkg/fingerprint"
	"github.com/jamaly87/codebase-context-engine/pkg/ignore"
)

// defaultExcludedExtensions are binary formats never worth scanning for
// source text, folded into the ignore matcher alongside the directory
// excludes already covered by pkg/ignore's built-ins.
var defaultExcludedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".webp",
	".zip", ".tar", ".gz", ".7z", ".rar",
	".pdf", ".woff", ".woff2", ".ttf", ".eot",
	".mp3", ".mp4", ".mov", ".avi",
	".bin", ".dat", ".db", ".sqlite",
}

// SkipReason tags why a candidate file was excluded from a scan, surfaced
// in ScanResult for diagnostics.
type SkipReason string

const (
	SkipIgnored        SkipReason = "ignored"
	SkipSizeExceeded   SkipReason = "size_exceeded"
	SkipUnsupportedExt SkipReason = "unsupported_extension"
)

// Skipped records one excluded file and why.
type Skipped struct {
	RelativePath string
	Reason       SkipReason
}

// ScanResult is the outcome of walking a codebase once.
type ScanResult struct {
	Hashes  models.FileHashMap
	Skipped []Skipped
}

// Synchronizer computes incremental {added, modified, removed} diffs for one
// codebase root, persisting the hash map it diffs against under a
// fingerprint-derived filename.
type Synchronizer struct {
	root          string
	cacheDir      string
	maxFileSize   int64
	ignoreMatcher *ignore.Matcher
	supportedExts map[string]bool // nil means "all non-excluded extensions"
}

// Options configures a Synchronizer.
type Options struct {
	MaxFileSizeBytes    int64    // default 1 MiB
	CustomPatterns      []string // CUSTOM_IGNORE_PATTERNS
	CacheDir            string   // where the FileHashMap is persisted
	SupportedExtensions []string // nil/empty means index every non-excluded file
}

// New builds a Synchronizer rooted at codebasePath.
func New(codebasePath string, opts Options) *Synchronizer {
	maxSize := opts.MaxFileSizeBytes
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	var exts map[string]bool
	if len(opts.SupportedExtensions) > 0 {
		exts = make(map[string]bool, len(opts.SupportedExtensions))
		for _, e := range opts.SupportedExtensions {
			exts[strings.ToLower(e)] = true
		}
	}
	return &Synchronizer{
		root:          codebasePath,
		cacheDir:      opts.CacheDir,
		maxFileSize:   maxSize,
		ignoreMatcher: ignore.NewForCodebase(codebasePath, opts.CustomPatterns),
		supportedExts: exts,
	}
}

// hashMapPath is the deterministic per-codebase file the hash map is
// persisted under, keyed by the same path fingerprint used for collection
// naming. fingerprint.Of is the only place that hash is ever computed.
func (s *Synchronizer) hashMapPath() string {
	return filepath.Join(s.cacheDir, "filehashes-"+fingerprint.Of(s.root)+".json")
}

// Scan walks the codebase, applying ignore rules, extension filtering, and
// the max-file-size limit, and hashes every surviving file's content.
// Symlinked directories are never followed.
func (s *Synchronizer) Scan() (*ScanResult, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, fmt.Errorf("stat codebase root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("codebase root %s is not a directory", s.root)
	}

	result := &ScanResult{Hashes: make(models.FileHashMap)}

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // best-effort: skip unreadable entries, keep walking
		}
		if path == s.root {
			return nil
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 {
				return fs.SkipDir
			}
			if s.ignoreMatcher.ShouldIgnore(relPath + "/") {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if s.ignoreMatcher.ShouldIgnore(relPath) {
			result.Skipped = append(result.Skipped, Skipped{relPath, SkipIgnored})
			return nil
		}
		if isExcludedExtension(relPath) {
			result.Skipped = append(result.Skipped, Skipped{relPath, SkipIgnored})
			return nil
		}
		if s.supportedExts != nil && !s.supportedExts[strings.ToLower(filepath.Ext(relPath))] {
			result.Skipped = append(result.Skipped, Skipped{relPath, SkipUnsupportedExt})
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > s.maxFileSize {
			result.Skipped = append(result.Skipped, Skipped{relPath, SkipSizeExceeded})
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			return nil
		}
		result.Hashes[relPath] = hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking codebase: %w", err)
	}
	return result, nil
}

// Diff loads the persisted hash map (empty if none exists yet) and compares
// it against current, returning the sorted {added, modified, removed} sets.
func (s *Synchronizer) Diff(current models.FileHashMap) (models.SyncDiff, error) {
	previous, err := s.Load()
	if err != nil {
		return models.SyncDiff{}, err
	}

	var diff models.SyncDiff
	for path, hash := range current {
		if oldHash, ok := previous[path]; !ok {
			diff.Added = append(diff.Added, path)
		} else if oldHash != hash {
			diff.Modified = append(diff.Modified, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			diff.Removed = append(diff.Removed, path)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Removed)
	return diff, nil
}

// Load reads the persisted FileHashMap, returning an empty map if none has
// been committed yet.
func (s *Synchronizer) Load() (models.FileHashMap, error) {
	data, err := os.ReadFile(s.hashMapPath())
	if os.IsNotExist(err) {
		return models.FileHashMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading hash map: %w", err)
	}
	var m models.FileHashMap
	if err := json.Unmarshal(data, &m); err != nil {
		return models.FileHashMap{}, nil // corrupt hash map: treat as empty, same as a fresh codebase
	}
	return m, nil
}

// Commit atomically persists newMap as the codebase's new hash-map
// baseline (temp file + rename), so the next Diff call against an
// unchanged tree reports no changes.
func (s *Synchronizer) Commit(newMap models.FileHashMap) error {
	if err := os.MkdirAll(s.cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	data, err := json.Marshal(newMap)
	if err != nil {
		return fmt.Errorf("marshaling hash map: %w", err)
	}

	target := s.hashMapPath()
	tmp, err := os.CreateTemp(filepath.Dir(target), ".filehashes-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp hash map file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp hash map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp hash map: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp hash map into place: %w", err)
	}
	return nil
}

// Remove deletes the persisted hash map, used by clear_index.
func (s *Synchronizer) Remove() error {
	err := os.Remove(s.hashMapPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing hash map: %w", err)
	}
	return nil
}

func isExcludedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range defaultExcludedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	first := true
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if first {
				chunk = stripBOM(chunk)
				first = false
			}
			h.Write(chunk)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// stripBOM removes a leading UTF-8 byte-order mark so two byte-identical
// files saved by editors with different BOM conventions hash the same.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
