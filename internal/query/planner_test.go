package query

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/internal/store"
)

// fakeStore is an in-memory stand-in for store.VectorStore, just enough
// surface for the planner's Plan/hydrate paths.
type fakeStore struct {
	dense   []store.DenseHit
	keyword []store.KeywordHit
	docs    map[string]models.HybridDocument
}

func (f *fakeStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}
func (f *fakeStore) HasCollection(ctx context.Context, collection string) (bool, error) {
	return true, nil
}
func (f *fakeStore) DropCollection(ctx context.Context, collection string) error { return nil }
func (f *fakeStore) ListCollections(ctx context.Context) ([]string, error)       { return nil, nil }
func (f *fakeStore) Upsert(ctx context.Context, collection string, docs []models.HybridDocument) error {
	return nil
}
func (f *fakeStore) DeleteByPath(ctx context.Context, collection string, relativePaths []string) error {
	return nil
}
func (f *fakeStore) QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter store.Filter) ([]store.DenseHit, error) {
	hits := f.dense
	if !filter.Empty() {
		filtered := make([]store.DenseHit, 0, len(hits))
		for _, h := range hits {
			if extensionAllowed(h.Document.Metadata.FileExtension, filter) {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
func (f *fakeStore) QueryKeyword(ctx context.Context, collection string, query string, topK int, filter store.Filter) ([]store.KeywordHit, error) {
	hits := f.keyword
	if !filter.Empty() {
		filtered := make([]store.KeywordHit, 0, len(hits))
		for _, h := range hits {
			if d, ok := f.docs[h.ID]; ok && extensionAllowed(d.Metadata.FileExtension, filter) {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func extensionAllowed(ext string, filter store.Filter) bool {
	for _, e := range filter.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
func (f *fakeStore) GetByID(ctx context.Context, collection string, ids []string) ([]models.HybridDocument, error) {
	out := make([]models.HybridDocument, 0, len(ids))
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeStore) CheckCollectionLimit(ctx context.Context) (bool, int, int, error) {
	return true, 0, 0, nil
}
func (f *fakeStore) Close() error { return nil }

func doc(id, relPath string) models.HybridDocument {
	return models.HybridDocument{
		ID:      id,
		Content: "content for " + id,
		Metadata: models.Metadata{
			RelativePath:  relPath,
			FileExtension: strings.ToLower(filepath.Ext(relPath)),
		},
	}
}

func TestRRFFusesOverlappingHits(t *testing.T) {
	fs := &fakeStore{
		dense: []store.DenseHit{
			{Document: doc("a", "a.go"), Score: 0.9},
			{Document: doc("b", "b.go"), Score: 0.8},
		},
		keyword: []store.KeywordHit{
			{ID: "b", Score: 5.0},
			{ID: "c", Score: 4.0},
		},
		docs: map[string]models.HybridDocument{
			"c": doc("c", "c.go"),
		},
	}
	p := New(fs)

	results, err := p.Plan(context.Background(), "coll", []float32{0.1}, "query", Options{Strategy: StrategyRRF, Limit: 10})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 fused results, got %d: %+v", len(results), results)
	}
	// b appears in both lists so it must rank first (highest fused score).
	if results[0].Document.ID != "b" {
		t.Errorf("expected b to rank first (appears in both lists), got %s", results[0].Document.ID)
	}
	// c was keyword-only and must be hydrated via GetByID.
	for _, r := range results {
		if r.Document.ID == "c" && r.Document.Content == "" {
			t.Error("expected keyword-only hit c to be hydrated with content")
		}
	}
}

func TestSparseOnlyHydratesContent(t *testing.T) {
	fs := &fakeStore{
		keyword: []store.KeywordHit{{ID: "x", Score: 3.0}},
		docs:    map[string]models.HybridDocument{"x": doc("x", "x.py")},
	}
	p := New(fs)

	results, err := p.Plan(context.Background(), "coll", nil, "query", Options{Strategy: StrategySparseOnly})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 1 || results[0].Document.Content == "" {
		t.Errorf("expected hydrated sparse-only result, got %+v", results)
	}
}

func TestDenseOnlyAppliesThreshold(t *testing.T) {
	fs := &fakeStore{
		dense: []store.DenseHit{
			{Document: doc("a", "a.go"), Score: 0.9},
			{Document: doc("b", "b.go"), Score: 0.1},
		},
	}
	p := New(fs)

	results, err := p.Plan(context.Background(), "coll", []float32{0.1}, "", Options{Strategy: StrategyDenseOnly, Threshold: 0.5})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "a" {
		t.Errorf("expected only the above-threshold hit, got %+v", results)
	}
}

func TestRRFThresholdKeepsSparseOnlyHits(t *testing.T) {
	fs := &fakeStore{
		dense: []store.DenseHit{
			{Document: doc("a", "a.go"), Score: 0.9},
			{Document: doc("b", "b.go"), Score: 0.1}, // below threshold, dense-ranked: dropped
		},
		keyword: []store.KeywordHit{
			{ID: "c", Score: 2.0}, // never scored by dense: kept regardless of threshold
		},
		docs: map[string]models.HybridDocument{"c": doc("c", "c.py")},
	}
	p := New(fs)

	results, err := p.Plan(context.Background(), "coll", []float32{0.1}, "query", Options{Threshold: 0.5})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	ids := make(map[string]bool, len(results))
	for _, r := range results {
		ids[r.Document.ID] = true
	}
	if !ids["a"] || !ids["c"] {
		t.Errorf("expected a (above threshold) and c (sparse-only) to survive, got %+v", results)
	}
	if ids["b"] {
		t.Errorf("expected b (below threshold, dense-ranked) to be dropped, got %+v", results)
	}
}

func TestExtensionFilterIsCaseInsensitive(t *testing.T) {
	fs := &fakeStore{
		dense: []store.DenseHit{
			{Document: doc("a", "pkg/a.GO"), Score: 0.9},
			{Document: doc("b", "pkg/b.py"), Score: 0.8},
		},
	}
	p := New(fs)

	results, err := p.Plan(context.Background(), "coll", []float32{0.1}, "", Options{
		Strategy:        StrategyDenseOnly,
		ExtensionFilter: []string{".go"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "a" {
		t.Errorf("expected extension filter to keep only a.GO, got %+v", results)
	}
}

// TestExtensionFilterAppliesBeforeCandidateTruncation: the filter must act
// inside each subquery, not on whatever happened to land in the unfiltered
// top-CandidateK window. Here most of the dense candidates are non-matching
// and would starve a limit=2 request if the filter were applied only after
// fetching CandidateK=3 hits.
func TestExtensionFilterAppliesBeforeCandidateTruncation(t *testing.T) {
	fs := &fakeStore{
		dense: []store.DenseHit{
			{Document: doc("n1", "n1.md"), Score: 0.95},
			{Document: doc("n2", "n2.md"), Score: 0.94},
			{Document: doc("n3", "n3.md"), Score: 0.93},
			{Document: doc("g1", "g1.go"), Score: 0.80},
			{Document: doc("g2", "g2.go"), Score: 0.79},
		},
	}
	p := New(fs)

	results, err := p.Plan(context.Background(), "coll", []float32{0.1}, "", Options{
		Strategy:        StrategyDenseOnly,
		Limit:           2,
		CandidateK:      3,
		ExtensionFilter: []string{".go"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matching-extension results despite a CandidateK of 3 mostly non-matching hits, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.Document.ID != "g1" && r.Document.ID != "g2" {
			t.Errorf("expected only .go hits, got %s", r.Document.ID)
		}
	}
}

func TestLimitTruncatesResults(t *testing.T) {
	fs := &fakeStore{
		dense: []store.DenseHit{
			{Document: doc("a", "a.go"), Score: 0.9},
			{Document: doc("b", "b.go"), Score: 0.8},
			{Document: doc("c", "c.go"), Score: 0.7},
		},
	}
	p := New(fs)

	results, err := p.Plan(context.Background(), "coll", []float32{0.1}, "", Options{Strategy: StrategyDenseOnly, Limit: 2})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected limit to truncate to 2 results, got %d", len(results))
	}
}

func TestTieBreaksDeterministicallyByID(t *testing.T) {
	docs := []models.ScoredDocument{
		{Document: models.HybridDocument{ID: "z"}, FusedScore: 1.0, DenseScore: 1.0},
		{Document: models.HybridDocument{ID: "a"}, FusedScore: 1.0, DenseScore: 1.0},
	}
	sortByFusedThenDenseThenID(docs)
	if docs[0].Document.ID != "a" || docs[1].Document.ID != "z" {
		t.Errorf("expected ascending-ID tie-break, got order %s,%s", docs[0].Document.ID, docs[1].Document.ID)
	}
}
