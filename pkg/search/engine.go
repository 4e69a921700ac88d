// Package search implements the read-side SearchEngine: BM25
// text search, fuzzy matching, vector KNN with a brute-force cosine
// fallback, hybrid RRF fusion, and optional multi-factor scoring with time
// decay. The engine mutates nothing and holds no per-query locks.
package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

// Mode selects the search strategy.
type Mode string

const (
	ModeText   Mode = "text"
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

// Result is one ranked memory.
type Result struct {
	Memory     *model.Memory
	Score      float64
	Similarity float64 // populated by vector/fuzzy search
	Highlights []string
}

// rrfK is the standard Reciprocal Rank Fusion constant, matching the 60.0
// the original passes at every call site.
const rrfK = 60.0

// defaultFuzzyThreshold filters fuzzy hits when the caller passes none.
const defaultFuzzyThreshold = 0.3

// Engine fans out backend predicates and merges in memory.
type Engine struct {
	backend store.StoreBackend
	log     *zap.Logger
}

func New(backend store.StoreBackend, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{backend: backend, log: log}
}

// Search dispatches on mode. Vector and
// Hybrid-with-vector require a caller-supplied query embedding; a Vector
// search without one is a Validation error — embeddings are never generated
// implicitly.
func (e *Engine) Search(ctx context.Context, query string, limit int, mode Mode, queryEmbedding []float32) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	switch mode {
	case ModeVector:
		if len(queryEmbedding) == 0 {
			return nil, locerr.NewValidation("query_embedding",
				"vector search requires a query embedding; supply one via query_embedding")
		}
		return e.Vector(ctx, queryEmbedding, limit)
	case ModeHybrid:
		return e.Hybrid(ctx, query, queryEmbedding, limit)
	default:
		return e.Text(ctx, query, limit)
	}
}

// Text runs the backend's BM25 predicate and resolves hits to memories,
// descending score.
func (e *Engine) Text(ctx context.Context, query string, limit int) ([]Result, error) {
	hits, err := e.backend.TextSearch(ctx, FilterQueryTokens(query), limit)
	if err != nil {
		return nil, locerr.Wrap(err, "text search")
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		m, err := e.backend.GetMemory(ctx, h.MemoryID)
		if err != nil || m == nil {
			continue
		}
		results = append(results, Result{Memory: m, Score: h.Score, Highlights: h.Highlights})
	}
	return results, nil
}

// Fuzzy runs the backend's fuzzy predicate with the given threshold
// (defaulting to 0.3 when <= 0).
func (e *Engine) Fuzzy(ctx context.Context, query string, threshold float64, limit int) ([]Result, error) {
	if threshold <= 0 {
		threshold = defaultFuzzyThreshold
	}
	hits, err := e.backend.FuzzySearch(ctx, query, threshold, limit)
	if err != nil {
		return nil, locerr.Wrap(err, "fuzzy search")
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		m, err := e.backend.GetMemory(ctx, h.MemoryID)
		if err != nil || m == nil {
			continue
		}
		results = append(results, Result{Memory: m, Score: h.Similarity, Similarity: h.Similarity})
	}
	return results, nil
}

// Vector issues KNN against the backend; when the index is unavailable or
// returns zero rows, it falls back to a brute-force cosine scan over every
// memory vector of matching dimension.
func (e *Engine) Vector(ctx context.Context, queryEmbedding []float32, k int) ([]Result, error) {
	hits, err := e.backend.VectorKNN(ctx, queryEmbedding, k)
	if err != nil {
		return nil, locerr.Wrap(err, "vector search")
	}
	if len(hits) == 0 {
		e.log.Debug("search: KNN returned nothing, brute-force cosine scan",
			zap.Int("dimension", len(queryEmbedding)))
		return e.bruteForceCosine(ctx, queryEmbedding, k)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		m, err := e.backend.GetMemory(ctx, h.MemoryID)
		if err != nil || m == nil {
			continue
		}
		results = append(results, Result{Memory: m, Score: h.Similarity, Similarity: h.Similarity})
	}
	return results, nil
}

func (e *Engine) bruteForceCosine(ctx context.Context, queryEmbedding []float32, k int) ([]Result, error) {
	vectors, err := e.backend.AllMemoryVectors(ctx, len(queryEmbedding))
	if err != nil {
		return nil, locerr.Wrap(err, "brute-force vector scan")
	}

	type scored struct {
		memoryID   string
		similarity float64
	}
	matches := make([]scored, 0, len(vectors))
	for _, v := range vectors {
		if v.Dimension != len(queryEmbedding) {
			e.log.Debug("search: skipping vector with mismatched dimension",
				zap.String("vector_id", v.ID), zap.Int("dimension", v.Dimension))
			continue
		}
		sim := model.CosineSimilarity(queryEmbedding, v.Vector)
		matches = append(matches, scored{memoryID: v.SourceID, similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].similarity > matches[j].similarity })
	if len(matches) > k {
		matches = matches[:k]
	}

	results := make([]Result, 0, len(matches))
	for _, s := range matches {
		m, err := e.backend.GetMemory(ctx, s.memoryID)
		if err != nil || m == nil {
			continue
		}
		results = append(results, Result{Memory: m, Score: s.similarity, Similarity: s.similarity})
	}
	return results, nil
}

// Hybrid fuses the BM25 and fuzzy lists (and the vector list when a query
// embedding is supplied) with Reciprocal Rank Fusion and truncates to limit.
func (e *Engine) Hybrid(ctx context.Context, query string, queryEmbedding []float32, limit int) ([]Result, error) {
	textResults, err := e.Text(ctx, query, limit*2)
	if err != nil {
		return nil, err
	}
	fuzzyResults, err := e.Fuzzy(ctx, query, 0, limit*2)
	if err != nil {
		return nil, err
	}

	lists := [][]Result{textResults, fuzzyResults}
	if len(queryEmbedding) > 0 {
		vectorResults, err := e.Vector(ctx, queryEmbedding, limit*2)
		if err != nil {
			return nil, err
		}
		lists = append(lists, vectorResults)
	}

	fused := FuseRRF(lists, rrfK)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// FuseRRF combines ranked lists by memory id with score Σ 1/(k + rank),
// rank 1-indexed per list. It is a pure function of (lists, k): ties are
// broken by first-insertion order, never map iteration.
func FuseRRF(lists [][]Result, k float64) []Result {
	scores := map[string]float64{}
	byID := map[string]Result{}
	var order []string

	for _, list := range lists {
		for rank, r := range list {
			id := r.Memory.ID
			if _, seen := scores[id]; !seen {
				order = append(order, id)
				byID[id] = r
			}
			scores[id] += 1.0 / (k + float64(rank+1))
		}
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.Score = scores[id]
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
