// Package engine orchestrates the codebase indexing and retrieval pipeline:
// fingerprinting a path, synchronizing its files, chunking and embedding
// what changed, and answering hybrid queries over the result. It is the one
// place that wires chunk, embedding, store, filesync, snapshot, and query
// together; nothing outside this package talks to more than one of them.
// The snapshot is the single source of truth for per-codebase status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamaly87/codebase-context-engine/internal/chunk"
	"github.com/jamaly87/codebase-context-engine/internal/embedding"
	"github.com/jamaly87/codebase-context-engine/internal/filesync"
	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/internal/query"
	"github.com/jamaly87/codebase-context-engine/internal/snapshot"
	"github.com/jamaly87/codebase-context-engine/internal/store"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
	"github.com/jamaly87/codebase-context-engine/pkg/fingerprint"
)

// Context is the engine's top-level handle: one per process, constructed
// from a single Config, owning its own provider/store instances. No global
// singletons.
type Context struct {
	cfg      *config.Config
	embedder embedding.Provider
	vecStore store.VectorStore
	planner  *query.Planner
	chunker  *chunk.Pipeline
	snap     *snapshot.Manager

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex        // fingerprint -> lock, guards IndexCodebase/ClearIndex
	cancels map[string]context.CancelFunc // fingerprint -> cancel for the in-flight indexing run

	registryMu sync.Mutex
	pathToFP   map[string]string // absolute path -> fingerprint
	fpToPath   map[string]string // fingerprint -> absolute path
}

// New constructs a Context from cfg, opening the embedding provider and
// vector store and loading the persisted snapshot.
func New(cfg *config.Config) (*Context, error) {
	embedder, err := embedding.New(&cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("constructing embedding provider: %w", err)
	}
	vecStore, err := store.New(&cfg.VectorDB)
	if err != nil {
		return nil, fmt.Errorf("constructing vector store: %w", err)
	}
	pipeline, err := chunk.NewPipeline()
	if err != nil {
		return nil, fmt.Errorf("constructing chunk pipeline: %w", err)
	}

	snapPath := filepath.Join(cfg.Cache.Directory, "mcp-codebase-snapshot.json")
	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	return &Context{
		cfg:      cfg,
		embedder: embedder,
		vecStore: vecStore,
		planner:  query.New(vecStore),
		chunker:  pipeline,
		snap:     snap,
		locks:    make(map[string]*sync.Mutex),
		cancels:  make(map[string]context.CancelFunc),
		pathToFP: make(map[string]string),
		fpToPath: make(map[string]string),
	}, nil
}

// Close releases the underlying vector store connection(s).
func (c *Context) Close() error {
	return c.vecStore.Close()
}

// extensionFilterRe is the only extension-filter entry shape search accepts:
// a dot followed by one or more alphanumerics.
var extensionFilterRe = regexp.MustCompile(`^\.[a-zA-Z0-9]+$`)

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// register records the path/fingerprint pair in the bidirectional registry
// (pathToFP and fpToPath). Nothing in this package reads the registry back:
// each operation derives the fingerprint again with fingerprint.Of. Only
// fingerprint.Of ever computes the hash itself.
func (c *Context) register(path, fp string) {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	c.pathToFP[path] = fp
	c.fpToPath[fp] = path
}

func (c *Context) lockFor(fp string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	mu, ok := c.locks[fp]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[fp] = mu
	}
	return mu
}

func (c *Context) setCancel(fp string, cancel context.CancelFunc) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	c.cancels[fp] = cancel
}

// cancelRun cancels any in-flight indexing run for fp. The runner notices at
// its next file or batch boundary and releases the per-codebase lock.
func (c *Context) cancelRun(fp string) {
	c.locksMu.Lock()
	cancel := c.cancels[fp]
	delete(c.cancels, fp)
	c.locksMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// GetCollectionName returns the deterministic collection name a codebase
// path maps to, without requiring the codebase to have been indexed yet.
func (c *Context) GetCollectionName(path string) (string, error) {
	abs, err := canonicalPath(path)
	if err != nil {
		return "", err
	}
	fp := fingerprint.Of(abs)
	c.register(abs, fp)
	return fingerprint.CollectionName(abs), nil
}

// HasIndex reports whether path is currently in the Indexed state.
func (c *Context) HasIndex(path string) (bool, error) {
	abs, err := canonicalPath(path)
	if err != nil {
		return false, err
	}
	return c.snap.GetStatus(abs) == models.StatusIndexed, nil
}

// GetIndexingStatus returns the full CodebaseInfo for path, and false if it
// has never been indexed or cleared.
func (c *Context) GetIndexingStatus(path string) (models.CodebaseInfo, bool, error) {
	abs, err := canonicalPath(path)
	if err != nil {
		return models.CodebaseInfo{}, false, err
	}
	info, ok := c.snap.GetInfo(abs)
	return info, ok, nil
}

// ListIndexed returns every currently-indexed codebase path.
func (c *Context) ListIndexed() []string { return c.snap.ListIndexed() }

// ListIndexing returns every codebase path currently being indexed.
func (c *Context) ListIndexing() []string { return c.snap.ListIndexing() }

// ProgressFunc receives coarse-grained progress updates during IndexCodebase,
// called at file- and batch-completion boundaries, never from more than one
// goroutine at a time.
type ProgressFunc func(models.IndexProgress)

// IndexCodebase scans path for changes since its last indexed state,
// chunks and embeds what changed, and upserts the result into the
// codebase's collection. If cfg.Indexing.Background is set, the heavy work
// runs in a detached goroutine and IndexCodebase returns immediately once
// the codebase is marked Indexing; otherwise it blocks until the pipeline
// completes.
func (c *Context) IndexCodebase(ctx context.Context, path string, forceReindex bool, progress ProgressFunc) error {
	abs, err := canonicalPath(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("%s: %w", abs, ErrPathNotFound)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", abs, ErrNotADirectory)
	}

	fp := fingerprint.Of(abs)
	collection := fingerprint.CollectionName(abs)
	c.register(abs, fp)

	mu := c.lockFor(fp)
	if !mu.TryLock() {
		return fmt.Errorf("%s: %w", abs, ErrAlreadyIndexing)
	}

	// Status is read under the per-codebase lock so the check and the claim
	// are atomic: a concurrent call on the same path either loses the
	// TryLock above or observes whatever state this call leaves behind. In
	// particular a forced reindex clears and restarts without ever releasing
	// the lock in between.
	switch c.snap.GetStatus(abs) {
	case models.StatusIndexing:
		mu.Unlock()
		return fmt.Errorf("%s: %w", abs, ErrAlreadyIndexing)
	case models.StatusIndexed:
		if !forceReindex {
			mu.Unlock()
			return fmt.Errorf("%s: %w", abs, ErrAlreadyIndexed)
		}
		if err := c.clearLocked(ctx, abs, collection); err != nil {
			mu.Unlock()
			return fmt.Errorf("clearing %s before forced reindex: %w", abs, err)
		}
	}

	if err := c.snap.SetIndexing(abs, 0); err != nil {
		mu.Unlock()
		return fmt.Errorf("recording indexing state: %w", err)
	}

	// The run gets its own cancelable context detached from the caller's:
	// a background index must outlive the request that started it, and
	// ClearIndex needs a handle to stop it at the next batch boundary.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.setCancel(fp, cancel)

	run := func() error {
		defer mu.Unlock()
		defer c.cancelRun(fp)
		return c.runIndex(runCtx, abs, fp, collection, progress)
	}

	if c.cfg.Indexing.Background {
		go func() {
			if err := run(); err != nil {
				log.Printf("engine: background index of %s failed: %v", abs, err)
			}
		}()
		return nil
	}
	return run()
}

// runIndex runs one indexing pass: scan, diff against the persisted hash
// map, delete stale documents, chunk and embed what changed, commit the new
// hash map. A forced reindex is handled entirely by the caller (IndexCodebase
// clears under the same lock acquisition before spawning the run), so by the
// time runIndex sees the codebase it has no persisted hash map and no
// collection: the diff below naturally reports every file as added.
func (c *Context) runIndex(ctx context.Context, abs, fp, collection string, progress ProgressFunc) error {
	jobID := uuid.New().String()
	log.Printf("engine: [%s] indexing %s (collection=%s)", jobID, abs, collection)

	syncer := filesync.New(abs, filesync.Options{
		MaxFileSizeBytes:    int64(c.cfg.Chunking.MaxFileSizeMB) << 20,
		CustomPatterns:      c.cfg.Ignore.Patterns,
		CacheDir:            c.cfg.Cache.Directory,
		SupportedExtensions: supportedExtensions(c.cfg),
	})

	scanResult, err := syncer.Scan()
	if err != nil {
		c.fail(abs, err, 0)
		return fmt.Errorf("scanning %s: %w", abs, err)
	}

	diff, err := syncer.Diff(scanResult.Hashes)
	if err != nil {
		c.fail(abs, err, 0)
		return fmt.Errorf("diffing %s: %w", abs, err)
	}

	exists, err := c.vecStore.HasCollection(ctx, collection)
	if err != nil {
		c.fail(abs, err, 0)
		return fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if !exists {
		// The cap only gates creating a genuinely new collection; a codebase
		// already indexed (incremental reindex, or a crash-recovered retry)
		// must never be blocked from continuing just because the backend is
		// now at its limit.
		ok, limit, current, err := c.vecStore.CheckCollectionLimit(ctx)
		if err != nil {
			c.fail(abs, err, 0)
			return fmt.Errorf("checking collection limit: %w", err)
		}
		if !ok {
			limitErr := fmt.Errorf("%w: %d/%d collections", ErrCollectionLimitReached, current, limit)
			c.fail(abs, limitErr, 0)
			return limitErr
		}
	}

	if err := c.vecStore.EnsureCollection(ctx, collection, c.embedder.Dimension()); err != nil {
		c.fail(abs, err, 0)
		return fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	stale := append(append([]string{}, diff.Removed...), diff.Modified...)
	if len(stale) > 0 {
		if err := c.vecStore.DeleteByPath(ctx, collection, stale); err != nil {
			c.fail(abs, err, 0)
			return fmt.Errorf("removing stale documents: %w", err)
		}
	}

	toProcess := append(append([]string{}, diff.Added...), diff.Modified...)
	if diff.Empty() {
		// Nothing changed since the last successful index: re-confirm the
		// Indexed state with whatever stats were already on record.
		if existing, ok := c.snap.GetInfo(abs); ok && existing.Status == models.StatusIndexed {
			return c.snap.SetIndexed(abs, snapshot.IndexedStats{
				IndexedFiles: existing.IndexedFiles,
				TotalChunks:  existing.TotalChunks,
				Outcome:      existing.IndexOutcome,
			})
		}
	}

	chunks, outcome, processedFiles, lastPct, err := c.chunkFiles(ctx, abs, fp, toProcess, progress)
	if err != nil {
		c.fail(abs, err, lastPct)
		return fmt.Errorf("chunking %s: %w", abs, err)
	}

	totalChunks, err := c.embedAndUpsert(ctx, collection, chunks, progress)
	if err != nil {
		c.fail(abs, err, 90)
		return fmt.Errorf("embedding/upserting %s: %w", abs, err)
	}

	if err := syncer.Commit(scanResult.Hashes); err != nil {
		// The store write already succeeded; a failed hash-map commit just
		// means the next sync rescans more than strictly necessary. Not
		// fatal, but worth a loud log since it's silent data risk otherwise.
		log.Printf("engine: [%s] failed to commit file hash map for %s: %v", jobID, abs, err)
	}

	if progress != nil {
		progress(models.IndexProgress{ProcessedFiles: processedFiles, TotalFiles: len(toProcess), Percentage: 100})
	}

	return c.snap.SetIndexed(abs, snapshot.IndexedStats{
		IndexedFiles: processedFiles,
		TotalChunks:  totalChunks,
		Outcome:      outcome,
	})
}

func (c *Context) fail(abs string, err error, lastPct float64) {
	if errors.Is(err, context.Canceled) {
		// A canceled run is being cleared, not failing; ClearIndex owns the
		// snapshot transition from here.
		return
	}
	if serr := c.snap.SetFailed(abs, err.Error(), lastPct); serr != nil {
		log.Printf("engine: failed to record failure state for %s: %v", abs, serr)
	}
}

// chunkFiles reads and splits every file in toProcess, reporting progress
// after each file. It is deliberately sequential: tree-sitter parsers are
// guarded by their own mutex inside ASTSplitter, so fanning this stage out
// would only buy overlap on file I/O, not on parsing.
//
// The returned int is the number of files actually reflected in chunks,
// which is len(toProcess) unless the chunk limit cut the run short
// (IndexOutcomeLimitReached): callers must use that count, not
// len(toProcess), for IndexedFiles stats, or a limit-truncated run reports
// having indexed files it never got to.
func (c *Context) chunkFiles(ctx context.Context, abs, fp string, toProcess []string, progress ProgressFunc) ([]models.Chunk, models.IndexOutcome, int, float64, error) {
	outcome := models.IndexOutcomeCompleted
	limit := c.cfg.Indexing.ChunkLimit

	var chunks []models.Chunk
	processed := 0
	opts := chunk.Options{ChunkSize: c.cfg.Chunking.ChunkSize, ChunkOverlap: c.cfg.Chunking.ChunkOverlap}

	for i, relPath := range toProcess {
		if err := ctx.Err(); err != nil {
			return chunks, outcome, processed, percentage(i, len(toProcess)), err
		}

		content, err := os.ReadFile(filepath.Join(abs, relPath))
		if err != nil {
			log.Printf("engine: skipping unreadable file %s: %v", relPath, err)
			processed++
			continue
		}

		language := chunk.DetectLanguage(relPath)
		fileChunks, err := c.chunker.Split(ctx, string(content), language, relPath, opts)
		if err != nil {
			log.Printf("engine: chunking failed for %s: %v", relPath, err)
			processed++
			continue
		}

		if limit > 0 && len(chunks)+len(fileChunks) > limit {
			remaining := limit - len(chunks)
			if remaining > 0 {
				chunks = append(chunks, fileChunks[:remaining]...)
				processed++
			}
			outcome = models.IndexOutcomeLimitReached
			log.Printf("engine: chunk limit %d reached while processing %s; stopping early", limit, abs)
			break
		}
		chunks = append(chunks, fileChunks...)
		processed++

		pct := percentage(i+1, len(toProcess))
		if progress != nil {
			progress(models.IndexProgress{ProcessedFiles: i + 1, TotalFiles: len(toProcess), Percentage: pct})
		}
		if err := c.snap.SetIndexing(abs, pct); err != nil {
			log.Printf("engine: failed to persist indexing progress for %s: %v", abs, err)
		}
	}

	return chunks, outcome, processed, percentage(len(toProcess), len(toProcess)), nil
}

func percentage(processed, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(processed) / float64(total) * 100
}

// embedAndUpsert batches chunks by the embedding provider's configured batch
// size, embeds each batch, and upserts the resulting documents. Progress is
// reported at batch boundaries, not per chunk, so no mutable counter is ever
// shared across goroutines.
func (c *Context) embedAndUpsert(ctx context.Context, collection string, chunks []models.Chunk, progress ProgressFunc) (int, error) {
	batchSize := c.cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	total := 0
	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}

		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, wrapEmbeddingError(err)
		}
		if len(vectors) != len(batch) {
			return total, fmt.Errorf("embedding provider returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		docs := make([]models.HybridDocument, len(batch))
		for i, ch := range batch {
			docs[i] = models.HybridDocument{
				ID:          chunk.ID(collectionFingerprint(collection), ch),
				Content:     ch.Content,
				DenseVector: vectors[i],
				Keywords:    store.Tokenize(ch.Content),
				Metadata: models.Metadata{
					RelativePath:  ch.RelativePath,
					StartLine:     ch.StartLine,
					EndLine:       ch.EndLine,
					Language:      ch.Language,
					FileExtension: strings.ToLower(filepath.Ext(ch.RelativePath)),
					NodeKind:      ch.NodeKind,
				},
			}
		}

		if err := c.vecStore.Upsert(ctx, collection, docs); err != nil {
			return total, &VectorStoreError{Err: err}
		}

		total += len(batch)
		if progress != nil {
			progress(models.IndexProgress{ProcessedFiles: total, TotalFiles: len(chunks), Percentage: percentage(total, len(chunks))})
		}
	}
	return total, nil
}

// collectionFingerprint recovers the bare fingerprint from a collection
// name built by fingerprint.CollectionName, since chunk.ID wants the
// fingerprint alone, not the prefixed collection name.
func collectionFingerprint(collection string) string {
	return collection[len(fingerprint.CollectionPrefix):]
}

// ClearIndex drops a codebase's collection, persisted hash map, and
// snapshot entry. It is a no-op (not an error) if the codebase was never
// indexed.
func (c *Context) ClearIndex(ctx context.Context, path string) error {
	abs, err := canonicalPath(path)
	if err != nil {
		return err
	}
	fp := fingerprint.Of(abs)
	collection := fingerprint.CollectionName(abs)
	c.register(abs, fp)

	// Stop any in-flight indexing run; it exits at its next file or batch
	// boundary and releases the lock we are about to take.
	c.cancelRun(fp)

	mu := c.lockFor(fp)
	mu.Lock()
	defer mu.Unlock()

	return c.clearLocked(ctx, abs, collection)
}

// clearLocked drops the collection, hash map, and snapshot entry. The
// caller must hold the per-codebase lock; IndexCodebase uses this for a
// forced reindex so the clear and the restart happen under one lock
// acquisition.
func (c *Context) clearLocked(ctx context.Context, abs, collection string) error {
	if err := c.vecStore.DropCollection(ctx, collection); err != nil {
		return fmt.Errorf("dropping collection %s: %w", collection, err)
	}

	syncer := filesync.New(abs, filesync.Options{CacheDir: c.cfg.Cache.Directory})
	if err := syncer.Remove(); err != nil {
		return fmt.Errorf("removing hash map for %s: %w", abs, err)
	}

	return c.snap.Remove(abs)
}

// SearchCode runs a hybrid query over path's collection. Results are
// flagged Partial if the codebase is still being indexed at query time.
func (c *Context) SearchCode(ctx context.Context, path, queryText string, opts models.SearchOptions) (*models.SearchResponse, error) {
	start := time.Now()
	abs, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, ErrPathNotFound)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotADirectory)
	}

	status := c.snap.GetStatus(abs)
	if status == "" || status == models.StatusIndexFailed {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotIndexed)
	}
	for _, ext := range opts.ExtensionFilter {
		if !extensionFilterRe.MatchString(ext) {
			return nil, fmt.Errorf("%q: %w", ext, ErrInvalidExtensionFilter)
		}
	}

	fp := fingerprint.Of(abs)
	collection := fingerprint.CollectionName(abs)
	c.register(abs, fp)

	queryVector, err := c.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, wrapEmbeddingError(err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = c.cfg.Search.DefaultLimit
	}
	candidateMultiple := c.cfg.Search.CandidateMultiple
	if candidateMultiple <= 0 {
		candidateMultiple = 4
	}
	candidateK := limit * candidateMultiple
	if candidateK < query.DefaultCandidateK {
		candidateK = query.DefaultCandidateK
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = c.cfg.Search.MinScoreThreshold
	}
	rrfK := c.cfg.Search.RRFConstant
	if rrfK <= 0 {
		rrfK = query.DefaultRRFK
	}

	docs, err := c.planner.Plan(ctx, collection, queryVector, queryText, query.Options{
		Strategy:        query.StrategyRRF,
		Limit:           limit,
		Threshold:       threshold,
		ExtensionFilter: opts.ExtensionFilter,
		RRFK:            rrfK,
		CandidateK:      candidateK,
	})
	if err != nil {
		return nil, &VectorStoreError{Err: err}
	}

	results := make([]models.SearchResult, 0, len(docs))
	for _, d := range docs {
		results = append(results, models.SearchResult{
			RelativePath: d.Document.Metadata.RelativePath,
			StartLine:    d.Document.Metadata.StartLine,
			EndLine:      d.Document.Metadata.EndLine,
			Language:     d.Document.Metadata.Language,
			NodeKind:     d.Document.Metadata.NodeKind,
			Content:      d.Document.Content,
			DenseScore:   d.DenseScore,
			FusedScore:   d.FusedScore,
		})
	}

	return &models.SearchResponse{
		Results:   results,
		Partial:   status == models.StatusIndexing,
		TotalTime: time.Since(start),
	}, nil
}

// extraTextExtensions are indexed without a grammar: their files go through
// the recursive-character splitter with language "unknown".
var extraTextExtensions = []string{
	".rs", ".c", ".h", ".cpp", ".hpp", ".cc", ".cs", ".rb", ".php",
	".swift", ".kt", ".scala", ".sh", ".sql",
	".md", ".markdown", ".txt", ".json", ".yaml", ".yml", ".toml",
}

func supportedExtensions(cfg *config.Config) []string {
	var exts []string
	exts = append(exts, cfg.Languages.Go.Extensions...)
	exts = append(exts, cfg.Languages.Python.Extensions...)
	exts = append(exts, cfg.Languages.Java.Extensions...)
	exts = append(exts, cfg.Languages.TypeScript.Extensions...)
	exts = append(exts, cfg.Languages.JavaScript.Extensions...)
	exts = append(exts, extraTextExtensions...)
	return exts
}
