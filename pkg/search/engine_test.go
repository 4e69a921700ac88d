package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, store.StoreBackend) {
	t.Helper()
	backend, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return New(backend, nil), backend
}

func putMemory(t *testing.T, backend store.StoreBackend, id, content string, embedding []float32) *model.Memory {
	t.Helper()
	m := &model.Memory{
		ID:         id,
		Content:    content,
		MemoryType: model.MemoryTypeFact,
		Priority:   model.PriorityNormal,
		CreatedAt:  time.Now().UTC(),
		Properties: model.NullProperty(),
		Embedding:  embedding,
	}
	require.NoError(t, backend.PutMemory(context.Background(), m))
	if len(embedding) > 0 {
		require.NoError(t, backend.PutVector(context.Background(), model.NewMemoryVector(id, embedding, m.CreatedAt)))
	}
	return m
}

func unitVector(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestTextSearchRanksMatchingMemoryFirst(t *testing.T) {
	engine, backend := newTestEngine(t)
	m1 := putMemory(t, backend, "m1", "The protagonist is a skilled warrior named John", nil)
	putMemory(t, backend, "m2", "A quiet afternoon by the lake", nil)

	results, err := engine.Search(context.Background(), "warrior", 10, ModeText, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, m1.ID, results[0].Memory.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestTextSearchMonotonicity(t *testing.T) {
	engine, backend := newTestEngine(t)
	putMemory(t, backend, "without", "completely unrelated content", nil)
	putMemory(t, backend, "with", "the dragon guards the mountain pass", nil)

	results, err := engine.Text(context.Background(), "dragon", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, "without", r.Memory.ID)
	}
	assert.Equal(t, "with", results[0].Memory.ID)
}

func TestVectorSearchExactMatchTopRanked(t *testing.T) {
	engine, backend := newTestEngine(t)
	e1 := unitVector(64, 0)
	e2 := unitVector(64, 1)
	putMemory(t, backend, "m1", "first", e1)
	putMemory(t, backend, "m2", "second", e2)

	results, err := engine.Search(context.Background(), " ", 10, ModeVector, e1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-4)
}

// knnless simulates a backend whose vector index is unavailable; the engine
// must produce the same top-1 via the brute-force cosine fallback.
type knnless struct {
	store.StoreBackend
}

func (k knnless) VectorKNN(context.Context, []float32, int) ([]store.VectorHit, error) {
	return nil, nil
}

func TestVectorSearchFallbackParity(t *testing.T) {
	_, backend := newTestEngine(t)
	e1 := unitVector(64, 0)
	e2 := unitVector(64, 1)
	putMemory(t, backend, "m1", "first", e1)
	putMemory(t, backend, "m2", "second", e2)

	engine := New(knnless{backend}, nil)
	results, err := engine.Vector(context.Background(), e1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-4)
}

func TestVectorSearchRequiresEmbedding(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Search(context.Background(), "query", 10, ModeVector, nil)
	require.Error(t, err)
	assert.True(t, locerr.Is(err, locerr.Validation))
}

func TestFuzzySearchThreshold(t *testing.T) {
	engine, backend := newTestEngine(t)
	putMemory(t, backend, "m1", "the warrior rested", nil)

	results, err := engine.Fuzzy(context.Background(), "warior", 0.7, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].Memory.ID)
	assert.GreaterOrEqual(t, results[0].Similarity, 0.7)
}

func TestHybridFindsTextMatches(t *testing.T) {
	engine, backend := newTestEngine(t)
	putMemory(t, backend, "m1", "kubernetes deployment failed at noon", nil)
	putMemory(t, backend, "m2", "lunch was good", nil)

	results, err := engine.Search(context.Background(), "kubernetes deployment", 5, ModeHybrid, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].Memory.ID)
}

func TestFuseRRFDeterminism(t *testing.T) {
	mk := func(id string) Result { return Result{Memory: &model.Memory{ID: id}} }
	listA := []Result{mk("a"), mk("b"), mk("c")}
	listB := []Result{mk("b"), mk("d")}

	first := FuseRRF([][]Result{listA, listB}, rrfK)
	for i := 0; i < 10; i++ {
		again := FuseRRF([][]Result{listA, listB}, rrfK)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].Memory.ID, again[j].Memory.ID)
			assert.InDelta(t, first[j].Score, again[j].Score, 1e-12)
		}
	}

	// b appears in both lists, so it outranks everything else.
	assert.Equal(t, "b", first[0].Memory.ID)
	assert.InDelta(t, 1.0/(rrfK+2)+1.0/(rrfK+1), first[0].Score, 1e-12)
}

func TestFilterQueryTokens(t *testing.T) {
	assert.Equal(t, "warrior north", FilterQueryTokens("the warrior of the north"))
	// An all-stopword query passes through unchanged.
	assert.Equal(t, "the of", FilterQueryTokens("the of"))
}
