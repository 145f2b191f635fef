package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/pkg/config"
)

const (
	milvusIDField      = "id"
	milvusVectorField  = "dense_vector"
	milvusPathField    = "relative_path"
	milvusStartField   = "start_line"
	milvusEndField     = "end_line"
	milvusLangField    = "language"
	milvusExtField     = "file_extension"
	milvusNodeField    = "node_kind"
	milvusContentField = "content"
	milvusKeywordField = "keywords"
)

// Milvus is the remote VectorStore backend: dense ANN is served by a
// Milvus cluster over gRPC, sparse/keyword scoring by the same local bleve
// index the sqlite-vec backend uses, since Milvus's own query language has
// no BM25 facility reachable from this SDK.
type Milvus struct {
	mu       sync.Mutex
	client   client.Client
	keywords *keywordIndex
	dims     map[string]int
}

// NewMilvus connects to the Milvus instance at cfg.Path (host:port).
func NewMilvus(cfg *config.VectorDBConfig) (*Milvus, error) {
	addr := cfg.Path
	if addr == "" {
		addr = "localhost:19530"
	}
	c, err := client.NewGrpcClient(context.Background(), addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus at %s: %w", addr, err)
	}
	return &Milvus{
		client:   c,
		keywords: newKeywordIndex(cfg.Path + "-bleve"),
		dims:     make(map[string]int),
	}, nil
}

func (m *Milvus) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.client.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if exists {
		if existing, ok := m.dims[collection]; ok && existing != dimension {
			return fmt.Errorf("%w: collection %s was created with dimension %d, got %d",
				ErrDimensionMismatch, collection, existing, dimension)
		}
		m.dims[collection] = dimension
		return nil
	}

	schema := entity.NewSchema().WithName(collection).WithDescription("hybrid code chunks").
		WithField(entity.NewField().WithName(milvusIDField).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(512)).
		WithField(entity.NewField().WithName(milvusPathField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
		WithField(entity.NewField().WithName(milvusStartField).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(milvusEndField).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(milvusLangField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(milvusExtField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
		WithField(entity.NewField().WithName(milvusNodeField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(milvusContentField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(milvusKeywordField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(milvusVectorField).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dimension)))

	if err := m.client.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
	if err != nil {
		return fmt.Errorf("building HNSW index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, collection, milvusVectorField, idx, false); err != nil {
		return fmt.Errorf("creating index on %s: %w", collection, err)
	}
	if err := m.client.LoadCollection(ctx, collection, false); err != nil {
		return fmt.Errorf("loading collection %s: %w", collection, err)
	}

	m.dims[collection] = dimension
	log.Printf("store: created milvus collection %s (dim=%d)", collection, dimension)
	return nil
}

func (m *Milvus) HasCollection(ctx context.Context, collection string) (bool, error) {
	return m.client.HasCollection(ctx, collection)
}

func (m *Milvus) DropCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	delete(m.dims, collection)
	m.mu.Unlock()

	if err := m.client.DropCollection(ctx, collection); err != nil {
		return fmt.Errorf("dropping collection %s: %w", collection, err)
	}
	return m.keywords.drop(collection)
}

func (m *Milvus) ListCollections(ctx context.Context) ([]string, error) {
	cols, err := m.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names, nil
}

func (m *Milvus) CheckCollectionLimit(ctx context.Context) (bool, int, int, error) {
	names, err := m.ListCollections(ctx)
	if err != nil {
		return false, 0, 0, err
	}
	// Milvus advertises no hard collection cap reachable from this SDK; the
	// engine still gets a ceiling so check_collection_limit has meaning.
	const limit = 10000
	return len(names) < limit, limit, len(names), nil
}

func (m *Milvus) Upsert(ctx context.Context, collection string, docs []models.HybridDocument) error {
	if len(docs) == 0 {
		return nil
	}
	m.mu.Lock()
	dim, ok := m.dims[collection]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: collection %s", ErrNotIndexed, collection)
	}

	ids := make([]string, len(docs))
	paths := make([]string, len(docs))
	starts := make([]int64, len(docs))
	ends := make([]int64, len(docs))
	langs := make([]string, len(docs))
	exts := make([]string, len(docs))
	nodes := make([]string, len(docs))
	contents := make([]string, len(docs))
	keywords := make([]string, len(docs))
	vectors := make([][]float32, len(docs))

	kwEntries := make([]keywordBatchEntry, 0, len(docs))
	for i, d := range docs {
		if len(d.DenseVector) != dim {
			return fmt.Errorf("%w: doc %s has %d dims, collection expects %d", ErrDimensionMismatch, d.ID, len(d.DenseVector), dim)
		}
		ids[i] = d.ID
		paths[i] = d.Metadata.RelativePath
		starts[i] = int64(d.Metadata.StartLine)
		ends[i] = int64(d.Metadata.EndLine)
		langs[i] = d.Metadata.Language
		exts[i] = d.Metadata.FileExtension
		nodes[i] = d.Metadata.NodeKind
		contents[i] = d.Content
		keywords[i] = joinKeywords(d.Keywords)
		vectors[i] = d.DenseVector
		kwEntries = append(kwEntries, keywordBatchEntry{ID: d.ID, Keywords: d.Keywords, RelativePath: d.Metadata.RelativePath, FileExt: d.Metadata.FileExtension})
	}

	// Milvus upsert semantics: delete-then-insert by primary key, since the
	// SDK's Upsert has historically lagged behind Insert for VarChar PKs.
	if err := m.deleteByIDs(ctx, collection, ids); err != nil {
		return fmt.Errorf("clearing prior versions before upsert: %w", err)
	}

	_, err := m.client.Insert(ctx, collection, "",
		entity.NewColumnVarChar(milvusIDField, ids),
		entity.NewColumnVarChar(milvusPathField, paths),
		entity.NewColumnInt64(milvusStartField, starts),
		entity.NewColumnInt64(milvusEndField, ends),
		entity.NewColumnVarChar(milvusLangField, langs),
		entity.NewColumnVarChar(milvusExtField, exts),
		entity.NewColumnVarChar(milvusNodeField, nodes),
		entity.NewColumnVarChar(milvusContentField, contents),
		entity.NewColumnVarChar(milvusKeywordField, keywords),
		entity.NewColumnFloatVector(milvusVectorField, dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", collection, err)
	}

	return m.keywords.upsert(ctx, collection, kwEntries)
}

func (m *Milvus) deleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	expr := fmt.Sprintf("%s in %s", milvusIDField, quotedList(ids))
	return m.client.Delete(ctx, collection, "", expr)
}

func (m *Milvus) DeleteByPath(ctx context.Context, collection string, relativePaths []string) error {
	if len(relativePaths) == 0 {
		return nil
	}
	expr := fmt.Sprintf("%s in %s", milvusPathField, quotedList(relativePaths))
	if err := m.client.Delete(ctx, collection, "", expr); err != nil {
		return fmt.Errorf("deleting by path from %s: %w", collection, err)
	}
	return m.keywords.deleteByPath(ctx, collection, relativePaths)
}

func (m *Milvus) QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]DenseHit, error) {
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("building search params: %w", err)
	}

	expr := extensionFilterExpr(filter)
	results, err := m.client.Search(ctx, collection, nil, expr, []string{
		milvusPathField, milvusStartField, milvusEndField, milvusLangField, milvusExtField, milvusNodeField, milvusContentField, milvusKeywordField,
	}, []entity.Vector{entity.FloatVector(vector)}, milvusVectorField, entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("dense query on %s: %w", collection, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	res := results[0]
	hits := make([]DenseHit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		doc := models.HybridDocument{}
		doc.ID = fmt.Sprint(res.IDs.(*entity.ColumnVarChar).Data()[i])
		doc.Metadata.RelativePath = columnString(res.Fields, milvusPathField, i)
		doc.Metadata.StartLine = int(columnInt(res.Fields, milvusStartField, i))
		doc.Metadata.EndLine = int(columnInt(res.Fields, milvusEndField, i))
		doc.Metadata.Language = columnString(res.Fields, milvusLangField, i)
		doc.Metadata.FileExtension = columnString(res.Fields, milvusExtField, i)
		doc.Metadata.NodeKind = columnString(res.Fields, milvusNodeField, i)
		doc.Content = columnString(res.Fields, milvusContentField, i)
		doc.Keywords = splitKeywords(columnString(res.Fields, milvusKeywordField, i))
		hits = append(hits, DenseHit{Document: doc, Score: float64(res.Scores[i])})
	}
	return hits, nil
}

func (m *Milvus) QueryKeyword(ctx context.Context, collection string, query string, topK int, filter Filter) ([]KeywordHit, error) {
	return m.keywords.search(ctx, collection, query, topK, filter)
}

// extensionFilterExpr builds the Milvus boolean expression for filter, folded
// directly into Search's expr argument so the ANN search itself only
// considers matching rows, rather than trimming an unfiltered result set
// afterward. An empty filter yields "", meaning no constraint.
func extensionFilterExpr(filter Filter) string {
	if filter.Empty() {
		return ""
	}
	return fmt.Sprintf("%s in %s", milvusExtField, quotedList(filter.Extensions))
}

// GetByID hydrates documents by primary key, used to fill in keyword-only
// hits the BM25 index returned without content.
func (m *Milvus) GetByID(ctx context.Context, collection string, ids []string) ([]models.HybridDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	expr := fmt.Sprintf("%s in %s", milvusIDField, quotedList(ids))
	result, err := m.client.Query(ctx, collection, nil, expr, []string{
		milvusIDField, milvusPathField, milvusStartField, milvusEndField, milvusLangField, milvusExtField, milvusNodeField, milvusContentField, milvusKeywordField,
	})
	if err != nil {
		return nil, fmt.Errorf("hydrating documents by id from %s: %w", collection, err)
	}

	idCol, ok := findVarCharColumn(result, milvusIDField)
	if !ok {
		return nil, nil
	}
	docs := make([]models.HybridDocument, 0, len(idCol))
	for i := range idCol {
		doc := models.HybridDocument{ID: idCol[i]}
		doc.Metadata.RelativePath = columnString(result, milvusPathField, i)
		doc.Metadata.StartLine = int(columnInt(result, milvusStartField, i))
		doc.Metadata.EndLine = int(columnInt(result, milvusEndField, i))
		doc.Metadata.Language = columnString(result, milvusLangField, i)
		doc.Metadata.FileExtension = columnString(result, milvusExtField, i)
		doc.Metadata.NodeKind = columnString(result, milvusNodeField, i)
		doc.Content = columnString(result, milvusContentField, i)
		doc.Keywords = splitKeywords(columnString(result, milvusKeywordField, i))
		docs = append(docs, doc)
	}
	return docs, nil
}

func findVarCharColumn(fields entity.ResultSet, name string) ([]string, bool) {
	for _, f := range fields {
		if f.Name() == name {
			if c, ok := f.(*entity.ColumnVarChar); ok {
				return c.Data(), true
			}
		}
	}
	return nil, false
}

func (m *Milvus) Close() error {
	if err := m.keywords.closeAll(); err != nil {
		log.Printf("store: error closing keyword indexes: %v", err)
	}
	return m.client.Close()
}

func joinKeywords(kw []string) string {
	out := ""
	for i, k := range kw {
		if i > 0 {
			out += " "
		}
		out += k
	}
	return out
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	return Tokenize(s)
}

func quotedList(values []string) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", v)
	}
	return out + "]"
}

func columnString(fields entity.ResultSet, name string, i int) string {
	for _, f := range fields {
		if f.Name() == name {
			if c, ok := f.(*entity.ColumnVarChar); ok {
				return c.Data()[i]
			}
		}
	}
	return ""
}

func columnInt(fields entity.ResultSet, name string, i int) int64 {
	for _, f := range fields {
		if f.Name() == name {
			if c, ok := f.(*entity.ColumnInt64); ok {
				return c.Data()[i]
			}
		}
	}
	return 0
}
