package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

func init() {
	sqlite_vec.Auto()
}

// defaultCollectionLimit bounds how many collections (codebases) a single
// sqlite-vec store will manage before check_collection_limit refuses new
// ones; 0 elsewhere in this package means "unlimited" but a local embedded
// file store benefits from a concrete ceiling.
const defaultCollectionLimit = 500

// SQLiteVec is the default, embedded VectorStore backend: one shared SQLite
// database (with the vec0 virtual-table extension loaded) per engine
// instance, one table pair per collection, plus a bleve index per
// collection for the keyword side.
type SQLiteVec struct {
	mu         sync.Mutex // serializes schema/writer access; SQLite is single-writer
	conn       *sql.DB
	keywords   *keywordIndex
	dimensions map[string]int
}

// NewSQLiteVec opens (creating if needed) the SQLite file at cfg.Path.
func NewSQLiteVec(cfg *config.VectorDBConfig) (*SQLiteVec, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(os.TempDir(), "context-vectordb", "vectors.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating vector db directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite-vec database: %w", err)
	}
	conn.SetMaxOpenConns(1) // SQLite is single-writer

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	)`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating collections table: %w", err)
	}

	s := &SQLiteVec{
		conn:       conn,
		keywords:   newKeywordIndex(filepath.Join(filepath.Dir(path), "bleve")),
		dimensions: make(map[string]int),
	}
	if err := s.loadDimensions(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteVec) loadDimensions() error {
	rows, err := s.conn.Query("SELECT name, dimension FROM collections")
	if err != nil {
		return fmt.Errorf("loading collection registry: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var dim int
		if err := rows.Scan(&name, &dim); err != nil {
			return err
		}
		s.dimensions[name] = dim
	}
	return rows.Err()
}

func docTable(collection string) string { return "docs_" + sanitize(collection) }
func vecTable(collection string) string { return "vecs_" + sanitize(collection) }
func sanitize(collection string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, collection)
}

// EnsureCollection creates the document and vec0 tables for collection if
// they don't exist, pinning the schema to dimension. Idempotent: calling it
// again with the same dimension is a no-op; a different dimension signals
// the embedding model changed underneath an existing collection.
func (s *SQLiteVec) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.dimensions[collection]; ok {
		if existing != dimension {
			return fmt.Errorf("%w: collection %s was created with dimension %d, got %d",
				ErrDimensionMismatch, collection, existing, dimension)
		}
		return nil
	}

	doc := docTable(collection)
	vec := vecTable(collection)

	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		relative_path TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		language TEXT,
		file_extension TEXT,
		node_kind TEXT,
		content TEXT NOT NULL,
		keywords TEXT NOT NULL
	)`, doc)); err != nil {
		return fmt.Errorf("creating document table: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_path ON %s(relative_path)", sanitize(collection), doc),
	); err != nil {
		return fmt.Errorf("creating path index: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(id TEXT PRIMARY KEY, embedding float[%d])", vec, dimension),
	); err != nil {
		return fmt.Errorf("creating vec0 table: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx,
		"INSERT INTO collections(name, dimension) VALUES (?, ?)", collection, dimension,
	); err != nil {
		return fmt.Errorf("registering collection: %w", err)
	}

	s.dimensions[collection] = dimension
	log.Printf("store: created collection %s (dim=%d)", collection, dimension)
	return nil
}

func (s *SQLiteVec) HasCollection(ctx context.Context, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dimensions[collection]
	return ok, nil
}

func (s *SQLiteVec) DropCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dimensions[collection]; !ok {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", docTable(collection))); err != nil {
		return fmt.Errorf("dropping document table: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", vecTable(collection))); err != nil {
		return fmt.Errorf("dropping vec0 table: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", collection); err != nil {
		return fmt.Errorf("unregistering collection: %w", err)
	}
	delete(s.dimensions, collection)
	return s.keywords.drop(collection)
}

func (s *SQLiteVec) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.dimensions))
	for name := range s.dimensions {
		names = append(names, name)
	}
	return names, nil
}

func (s *SQLiteVec) CheckCollectionLimit(ctx context.Context) (bool, int, int, error) {
	s.mu.Lock()
	current := len(s.dimensions)
	s.mu.Unlock()
	return current < defaultCollectionLimit, defaultCollectionLimit, current, nil
}

// Upsert writes docs transactionally: a dimension mismatch anywhere in the
// batch aborts the whole transaction, so a partial write never lands.
func (s *SQLiteVec) Upsert(ctx context.Context, collection string, docs []models.HybridDocument) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	dim, ok := s.dimensions[collection]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: collection %s", ErrNotIndexed, collection)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	doc := docTable(collection)
	vec := vecTable(collection)

	docStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, relative_path, start_line, end_line, language, file_extension, node_kind, content, keywords)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			relative_path=excluded.relative_path, start_line=excluded.start_line, end_line=excluded.end_line,
			language=excluded.language, file_extension=excluded.file_extension, node_kind=excluded.node_kind,
			content=excluded.content, keywords=excluded.keywords
	`, doc))
	if err != nil {
		return fmt.Errorf("preparing document upsert: %w", err)
	}
	defer docStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, embedding) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET embedding=excluded.embedding", vec))
	if err != nil {
		return fmt.Errorf("preparing vector upsert: %w", err)
	}
	defer vecStmt.Close()

	kwEntries := make([]keywordBatchEntry, 0, len(docs))
	for _, d := range docs {
		if len(d.DenseVector) != dim {
			return fmt.Errorf("%w: doc %s has %d dims, collection expects %d",
				ErrDimensionMismatch, d.ID, len(d.DenseVector), dim)
		}
		if _, err := docStmt.ExecContext(ctx, d.ID, d.Metadata.RelativePath, d.Metadata.StartLine, d.Metadata.EndLine,
			d.Metadata.Language, d.Metadata.FileExtension, d.Metadata.NodeKind, d.Content, strings.Join(d.Keywords, " ")); err != nil {
			return fmt.Errorf("upserting document %s: %w", d.ID, err)
		}
		if _, err := vecStmt.ExecContext(ctx, d.ID, float32SliceToBytes(d.DenseVector)); err != nil {
			return fmt.Errorf("upserting vector %s: %w", d.ID, err)
		}
		kwEntries = append(kwEntries, keywordBatchEntry{
			ID: d.ID, Keywords: d.Keywords, RelativePath: d.Metadata.RelativePath, FileExt: d.Metadata.FileExtension,
		})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert transaction: %w", err)
	}
	return s.keywords.upsert(ctx, collection, kwEntries)
}

func (s *SQLiteVec) DeleteByPath(ctx context.Context, collection string, relativePaths []string) error {
	if len(relativePaths) == 0 {
		return nil
	}
	s.mu.Lock()
	_, ok := s.dimensions[collection]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	doc := docTable(collection)
	vec := vecTable(collection)
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range relativePaths {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE relative_path = ?)", vec, doc), p); err != nil {
			return fmt.Errorf("deleting vectors for %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE relative_path = ?", doc), p); err != nil {
			return fmt.Errorf("deleting documents for %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete transaction: %w", err)
	}
	return s.keywords.deleteByPath(ctx, collection, relativePaths)
}

func (s *SQLiteVec) QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]DenseHit, error) {
	s.mu.Lock()
	dim, ok := s.dimensions[collection]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: collection %s", ErrNotIndexed, collection)
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection expects %d", ErrDimensionMismatch, len(vector), dim)
	}

	doc := docTable(collection)
	vec := vecTable(collection)

	args := []any{float32SliceToBytes(vector), topK}
	idFilter := ""
	if !filter.Empty() {
		placeholders := make([]string, len(filter.Extensions))
		for i, ext := range filter.Extensions {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(ext))
		}
		// Pre-filter the candidate id set by extension before the KNN scan
		// runs, so k matching rows come back instead of k unfiltered rows
		// that then get thinned out by extension.
		idFilter = fmt.Sprintf(" AND v.id IN (SELECT id FROM %s WHERE LOWER(file_extension) IN (%s))", doc, strings.Join(placeholders, ","))
	}

	query := fmt.Sprintf(`
		SELECT d.id, d.relative_path, d.start_line, d.end_line, d.language, d.file_extension, d.node_kind, d.content, d.keywords, v.distance
		FROM %s v
		JOIN %s d ON d.id = v.id
		WHERE v.embedding MATCH ? AND k = ?%s
		ORDER BY v.distance
	`, vec, doc, idFilter)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dense query: %w", err)
	}
	defer rows.Close()

	var hits []DenseHit
	for rows.Next() {
		var d models.HybridDocument
		var keywords string
		var distance float64
		if err := rows.Scan(&d.ID, &d.Metadata.RelativePath, &d.Metadata.StartLine, &d.Metadata.EndLine,
			&d.Metadata.Language, &d.Metadata.FileExtension, &d.Metadata.NodeKind, &d.Content, &keywords, &distance); err != nil {
			return nil, fmt.Errorf("scanning dense hit: %w", err)
		}
		d.Keywords = strings.Fields(keywords)
		hits = append(hits, DenseHit{Document: d, Score: cosineScoreFromDistance(distance)})
	}
	return hits, rows.Err()
}

func (s *SQLiteVec) QueryKeyword(ctx context.Context, collection string, query string, topK int, filter Filter) ([]KeywordHit, error) {
	return s.keywords.search(ctx, collection, query, topK, filter)
}

// GetByID hydrates documents by id from the document table, used to fill in
// keyword-only hits the BM25 index returned without content.
func (s *SQLiteVec) GetByID(ctx context.Context, collection string, ids []string) ([]models.HybridDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	_, ok := s.dimensions[collection]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	doc := docTable(collection)
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(
		"SELECT id, relative_path, start_line, end_line, language, file_extension, node_kind, content, keywords FROM %s WHERE id IN (%s)",
		doc, strings.Join(placeholders, ","))

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hydrating documents by id: %w", err)
	}
	defer rows.Close()

	var docs []models.HybridDocument
	for rows.Next() {
		var d models.HybridDocument
		var keywords string
		if err := rows.Scan(&d.ID, &d.Metadata.RelativePath, &d.Metadata.StartLine, &d.Metadata.EndLine,
			&d.Metadata.Language, &d.Metadata.FileExtension, &d.Metadata.NodeKind, &d.Content, &keywords); err != nil {
			return nil, fmt.Errorf("scanning hydrated document: %w", err)
		}
		d.Keywords = strings.Fields(keywords)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteVec) Close() error {
	if err := s.keywords.closeAll(); err != nil {
		log.Printf("store: error closing keyword indexes: %v", err)
	}
	return s.conn.Close()
}

// cosineScoreFromDistance converts sqlite-vec's L2 distance over
// normalized vectors back to a cosine-similarity-shaped score in [0,1]:
// for unit vectors, ||a-b||^2 = 2(1-cos); distance^2/2 subtracted from 1
// recovers cosine similarity.
func cosineScoreFromDistance(distance float64) float64 {
	cos := 1 - (distance*distance)/2
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return cos
}

func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
