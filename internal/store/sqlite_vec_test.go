package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

func newTestSQLiteVec(t *testing.T) *SQLiteVec {
	t.Helper()
	s, err := NewSQLiteVec(&config.VectorDBConfig{Path: filepath.Join(t.TempDir(), "vectors.db")})
	if err != nil {
		t.Fatalf("NewSQLiteVec: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDoc(id, relPath string, vec []float32) models.HybridDocument {
	return models.HybridDocument{
		ID:          id,
		Content:     "content for " + id,
		DenseVector: vec,
		Keywords:    []string{"hello", "world"},
		Metadata:    models.Metadata{RelativePath: relPath, Language: "go", FileExtension: ".go"},
	}
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	s := newTestSQLiteVec(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "coll1", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := s.EnsureCollection(ctx, "coll1", 4); err != nil {
		t.Fatalf("EnsureCollection (second call): %v", err)
	}
	has, err := s.HasCollection(ctx, "coll1")
	if err != nil {
		t.Fatalf("HasCollection: %v", err)
	}
	if !has {
		t.Error("expected collection to exist")
	}
}

func TestEnsureCollectionRejectsDimensionChange(t *testing.T) {
	s := newTestSQLiteVec(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "coll1", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	err := s.EnsureCollection(ctx, "coll1", 8)
	if err == nil {
		t.Fatal("expected a dimension mismatch error")
	}
}

func TestUpsertAndQueryDenseRoundTrips(t *testing.T) {
	s := newTestSQLiteVec(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "coll1", 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	docs := []models.HybridDocument{
		testDoc("a", "a.go", []float32{1, 0, 0}),
		testDoc("b", "b.go", []float32{0, 1, 0}),
	}
	if err := s.Upsert(ctx, "coll1", docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := s.QueryDense(ctx, "coll1", []float32{1, 0, 0}, 5, Filter{})
	if err != nil {
		t.Fatalf("QueryDense: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Document.ID != "a" {
		t.Errorf("expected the closest match 'a' to rank first, got %s", hits[0].Document.ID)
	}
}

// TestQueryDenseFilterAppliesBeforeKNNLimit proves the extension filter is
// folded into the KNN query itself rather than trimmed off a fetched top-K:
// a topK of 1 still surfaces the .py match even though two closer .go
// vectors would otherwise fill that single slot.
func TestQueryDenseFilterAppliesBeforeKNNLimit(t *testing.T) {
	s := newTestSQLiteVec(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "coll1", 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	docs := []models.HybridDocument{
		testDoc("a", "a.go", []float32{1, 0, 0}),
		testDoc("b", "b.go", []float32{0.9, 0.1, 0}),
		{
			ID: "c", Content: "content for c", DenseVector: []float32{0, 0, 1},
			Keywords: []string{"hello"},
			Metadata: models.Metadata{RelativePath: "c.py", Language: "python", FileExtension: ".py"},
		},
	}
	if err := s.Upsert(ctx, "coll1", docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := s.QueryDense(ctx, "coll1", []float32{1, 0, 0}, 1, Filter{Extensions: []string{".py"}})
	if err != nil {
		t.Fatalf("QueryDense: %v", err)
	}
	if len(hits) != 1 || hits[0].Document.ID != "c" {
		t.Fatalf("expected the filter to surface 'c' despite topK=1 and two closer .go vectors, got %+v", hits)
	}
}

func TestDeleteByPathRemovesDocAndVector(t *testing.T) {
	s := newTestSQLiteVec(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "coll1", 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := s.Upsert(ctx, "coll1", []models.HybridDocument{testDoc("a", "a.go", []float32{1, 0, 0})}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.DeleteByPath(ctx, "coll1", []string{"a.go"}); err != nil {
		t.Fatalf("DeleteByPath: %v", err)
	}

	hits, err := s.QueryDense(ctx, "coll1", []float32{1, 0, 0}, 5, Filter{})
	if err != nil {
		t.Fatalf("QueryDense: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits after deletion, got %d", len(hits))
	}
}

func TestGetByIDHydratesKnownDocs(t *testing.T) {
	s := newTestSQLiteVec(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "coll1", 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := s.Upsert(ctx, "coll1", []models.HybridDocument{testDoc("a", "a.go", []float32{1, 0, 0})}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	docs, err := s.GetByID(ctx, "coll1", []string{"a", "missing"})
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "a" {
		t.Errorf("expected exactly the known doc 'a', got %+v", docs)
	}
}

func TestDropCollectionRemovesData(t *testing.T) {
	s := newTestSQLiteVec(t)
	ctx := context.Background()

	if err := s.EnsureCollection(ctx, "coll1", 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := s.DropCollection(ctx, "coll1"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	has, err := s.HasCollection(ctx, "coll1")
	if err != nil {
		t.Fatalf("HasCollection: %v", err)
	}
	if has {
		t.Error("expected collection to be gone after drop")
	}
}
