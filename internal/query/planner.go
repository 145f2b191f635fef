// Package query implements the hybrid retrieval planner: it fuses a dense
// (cosine similarity) candidate list and a sparse (BM25) candidate list with
// Reciprocal Rank Fusion, with alternate single-signal strategies for
// callers that want to bypass fusion.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jamaly87/codebase-context-engine/internal/models"
	"github.com/jamaly87/codebase-context-engine/internal/store"
)

// Strategy selects how dense and keyword candidate lists are combined.
type Strategy string

const (
	// StrategyRRF fuses dense and keyword rankings with Reciprocal Rank
	// Fusion. This is the default.
	StrategyRRF Strategy = "rrf"
	// StrategyWeightedSum linearly combines normalized dense and keyword
	// scores instead of rank-fusing them.
	StrategyWeightedSum Strategy = "weighted_sum"
	// StrategyDenseOnly skips the keyword query entirely.
	StrategyDenseOnly Strategy = "dense_only"
	// StrategySparseOnly skips the dense query entirely.
	StrategySparseOnly Strategy = "sparse_only"
)

// DefaultRRFK is the rank-damping constant from the original RRF paper; it
// controls how quickly a candidate's contribution falls off with rank.
const DefaultRRFK = 60

// DefaultCandidateK is how many candidates each side of the fusion fetches
// before truncating to the caller's requested limit.
const DefaultCandidateK = 50

// DenseWeight/KeywordWeight are the weighted_sum strategy's mixing
// coefficients; dense similarity is trusted a little more than lexical
// overlap since embeddings capture paraphrase the keyword index cannot.
const (
	DenseWeight   = 0.6
	KeywordWeight = 0.4
)

// Options configures one Plan call.
type Options struct {
	Strategy        Strategy
	Limit           int
	Threshold       float64  // dense-only score floor; 0 disables filtering
	ExtensionFilter []string // case-insensitive file extensions, e.g. ".go"
	RRFK            int      // 0 means DefaultRRFK
	CandidateK      int      // 0 means DefaultCandidateK
}

func (o Options) normalized() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyRRF
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.RRFK <= 0 {
		o.RRFK = DefaultRRFK
	}
	if o.CandidateK <= 0 {
		o.CandidateK = DefaultCandidateK
	}
	return o
}

// filter builds the store.Filter the dense and keyword subqueries apply
// internally, so extension-constrained searches are satisfied from the
// collection at large instead of from whatever happened to land in an
// unfiltered top-CandidateK window.
func (o Options) filter() store.Filter {
	if len(o.ExtensionFilter) == 0 {
		return store.Filter{}
	}
	exts := make([]string, len(o.ExtensionFilter))
	for i, e := range o.ExtensionFilter {
		exts[i] = strings.ToLower(e)
	}
	return store.Filter{Extensions: exts}
}

// Planner runs hybrid queries against one VectorStore collection.
type Planner struct {
	vectorStore store.VectorStore
}

// New builds a Planner over vs.
func New(vs store.VectorStore) *Planner {
	return &Planner{vectorStore: vs}
}

// Plan runs queryVector/queryText against collection and returns results
// fused and ranked per opts.
func (p *Planner) Plan(ctx context.Context, collection string, queryVector []float32, queryText string, opts Options) ([]models.ScoredDocument, error) {
	opts = opts.normalized()

	filter := opts.filter()

	switch opts.Strategy {
	case StrategyDenseOnly:
		hits, err := p.vectorStore.QueryDense(ctx, collection, queryVector, opts.CandidateK, filter)
		if err != nil {
			return nil, fmt.Errorf("dense query: %w", err)
		}
		docs := denseOnly(hits, opts.Threshold)
		return truncateToLimit(docs, opts.Limit), nil

	case StrategySparseOnly:
		kwHits, err := p.vectorStore.QueryKeyword(ctx, collection, queryText, opts.CandidateK, filter)
		if err != nil {
			return nil, fmt.Errorf("keyword query: %w", err)
		}
		docs := keywordHitsToDocs(kwHits)
		if err := p.hydrate(ctx, collection, docs); err != nil {
			return nil, err
		}
		return truncateToLimit(docs, opts.Limit), nil

	case StrategyWeightedSum:
		dense, kw, err := p.runBoth(ctx, collection, queryVector, queryText, opts, filter)
		if err != nil {
			return nil, err
		}
		docs := weightedSum(dense, kw)
		docs = applyDenseThreshold(docs, dense, opts.Threshold)
		if err := p.hydrate(ctx, collection, docs); err != nil {
			return nil, err
		}
		return truncateToLimit(docs, opts.Limit), nil

	default: // StrategyRRF
		dense, kw, err := p.runBoth(ctx, collection, queryVector, queryText, opts, filter)
		if err != nil {
			return nil, err
		}
		docs := reciprocalRankFusion(dense, kw, opts.RRFK)
		docs = applyDenseThreshold(docs, dense, opts.Threshold)
		if err := p.hydrate(ctx, collection, docs); err != nil {
			return nil, err
		}
		return truncateToLimit(docs, opts.Limit), nil
	}
}

// applyDenseThreshold drops documents that appeared in the dense candidate
// list with a similarity below threshold. The floor applies only to the
// dense component: a document that reached the fused result purely via the
// keyword list (never scored by the dense query) is kept regardless of
// threshold.
func applyDenseThreshold(docs []models.ScoredDocument, dense []store.DenseHit, threshold float64) []models.ScoredDocument {
	if threshold <= 0 {
		return docs
	}
	denseScore := make(map[string]float64, len(dense))
	for _, h := range dense {
		denseScore[h.Document.ID] = h.Score
	}
	out := docs[:0:0]
	for _, d := range docs {
		if score, hadDense := denseScore[d.Document.ID]; hadDense && score < threshold {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (p *Planner) runBoth(ctx context.Context, collection string, queryVector []float32, queryText string, opts Options, filter store.Filter) ([]store.DenseHit, []store.KeywordHit, error) {
	dense, err := p.vectorStore.QueryDense(ctx, collection, queryVector, opts.CandidateK, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("dense query: %w", err)
	}
	kw, err := p.vectorStore.QueryKeyword(ctx, collection, queryText, opts.CandidateK, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("keyword query: %w", err)
	}
	return dense, kw, nil
}

// keywordHitsToDocs lifts bare keyword-index ID/score pairs into
// ScoredDocuments with no content or metadata yet; hydrate fills that in.
func keywordHitsToDocs(hits []store.KeywordHit) []models.ScoredDocument {
	out := make([]models.ScoredDocument, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.ScoredDocument{
			Document:   models.HybridDocument{ID: h.ID},
			FusedScore: h.Score,
		})
	}
	return out
}

// hydrate fills in content and metadata for any document in docs whose
// Content is still empty (true of every keyword-only hit, since the BM25
// index stores IDs and tokens, not full documents) via a single batched
// GetByID call against the store.
func (p *Planner) hydrate(ctx context.Context, collection string, docs []models.ScoredDocument) error {
	var missingIDs []string
	for _, d := range docs {
		if d.Document.Content == "" {
			missingIDs = append(missingIDs, d.Document.ID)
		}
	}
	if len(missingIDs) == 0 {
		return nil
	}

	fetched, err := p.vectorStore.GetByID(ctx, collection, missingIDs)
	if err != nil {
		return fmt.Errorf("hydrating keyword-only hits: %w", err)
	}
	byID := make(map[string]models.HybridDocument, len(fetched))
	for _, d := range fetched {
		byID[d.ID] = d
	}
	for i, d := range docs {
		if full, ok := byID[d.Document.ID]; ok {
			docs[i].Document = full
		}
	}
	return nil
}

func denseOnly(hits []store.DenseHit, threshold float64) []models.ScoredDocument {
	out := make([]models.ScoredDocument, 0, len(hits))
	for _, h := range hits {
		if threshold > 0 && h.Score < threshold {
			continue
		}
		out = append(out, models.ScoredDocument{
			Document:   h.Document,
			DenseScore: h.Score,
			FusedScore: h.Score,
		})
	}
	return out
}

// reciprocalRankFusion implements RRF: each candidate's score is the sum of
// 1/(k+rank) across every list it appears in, 1-indexed rank. Keyword hits
// that never appeared in the dense list are kept with a bare ID (no dense
// score, no content/metadata) so they can still be hydrated by the caller.
func reciprocalRankFusion(dense []store.DenseHit, kw []store.KeywordHit, k int) []models.ScoredDocument {
	byID := make(map[string]*models.ScoredDocument)
	order := make([]string, 0, len(dense)+len(kw))

	for rank, h := range dense {
		score := 1.0 / float64(k+rank+1)
		doc := &models.ScoredDocument{Document: h.Document, DenseScore: h.Score, FusedScore: score}
		byID[h.Document.ID] = doc
		order = append(order, h.Document.ID)
	}
	for rank, h := range kw {
		score := 1.0 / float64(k+rank+1)
		if existing, ok := byID[h.ID]; ok {
			existing.FusedScore += score
			continue
		}
		doc := &models.ScoredDocument{Document: models.HybridDocument{ID: h.ID}, FusedScore: score}
		byID[h.ID] = doc
		order = append(order, h.ID)
	}

	out := make([]models.ScoredDocument, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sortByFusedThenDenseThenID(out)
	return out
}

// weightedSum linearly combines normalized dense cosine similarity with a
// min-max-normalized keyword score. Keyword-only documents carry no dense
// score, same caveat as RRF.
func weightedSum(dense []store.DenseHit, kw []store.KeywordHit) []models.ScoredDocument {
	byID := make(map[string]*models.ScoredDocument)
	order := make([]string, 0, len(dense)+len(kw))

	for _, h := range dense {
		doc := &models.ScoredDocument{Document: h.Document, DenseScore: h.Score, FusedScore: h.Score * DenseWeight}
		byID[h.Document.ID] = doc
		order = append(order, h.Document.ID)
	}

	maxKW := 0.0
	for _, h := range kw {
		if h.Score > maxKW {
			maxKW = h.Score
		}
	}
	for _, h := range kw {
		normalized := 0.0
		if maxKW > 0 {
			normalized = h.Score / maxKW
		}
		if existing, ok := byID[h.ID]; ok {
			existing.FusedScore += normalized * KeywordWeight
			continue
		}
		doc := &models.ScoredDocument{Document: models.HybridDocument{ID: h.ID}, FusedScore: normalized * KeywordWeight}
		byID[h.ID] = doc
		order = append(order, h.ID)
	}

	out := make([]models.ScoredDocument, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sortByFusedThenDenseThenID(out)
	return out
}

// sortByFusedThenDenseThenID breaks ties deterministically: fused score
// descending, then dense score descending, then document ID ascending.
func sortByFusedThenDenseThenID(docs []models.ScoredDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].FusedScore != docs[j].FusedScore {
			return docs[i].FusedScore > docs[j].FusedScore
		}
		if docs[i].DenseScore != docs[j].DenseScore {
			return docs[i].DenseScore > docs[j].DenseScore
		}
		return docs[i].Document.ID < docs[j].Document.ID
	})
}

// truncateToLimit trims docs to opts.Limit. Extension filtering itself
// already happened inside the dense/keyword subqueries (see Options.filter),
// so this is just the final page-size cut.
func truncateToLimit(docs []models.ScoredDocument, limit int) []models.ScoredDocument {
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}
