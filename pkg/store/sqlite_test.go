package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locai-dev/locai/pkg/model"
)

func newBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestMemoryRoundTrip(t *testing.T) {
	backend := newBackend(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	expires := now.Add(24 * time.Hour)

	in := &model.Memory{
		ID: "m1", Content: "remember this", MemoryType: model.MemoryTypeEpisodic,
		CreatedAt: now, AccessCount: 2, Priority: model.PriorityHigh,
		Tags: []string{"a", "b"}, Source: "test", ExpiresAt: &expires,
		Properties: model.ObjectProperty(map[string]model.Property{
			"nested": model.ObjectProperty(map[string]model.Property{"k": model.NumberProperty(1)}),
		}),
		RelatedMemories: []string{"m2"},
		Embedding:       []float32{0.5, -0.25, 1},
	}
	require.NoError(t, backend.PutMemory(context.Background(), in))

	out, err := backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Content, out.Content)
	assert.Equal(t, in.MemoryType, out.MemoryType)
	assert.Equal(t, in.CreatedAt, out.CreatedAt)
	assert.Equal(t, in.Tags, out.Tags)
	assert.Equal(t, in.RelatedMemories, out.RelatedMemories)
	assert.Equal(t, in.Embedding, out.Embedding)
	require.NotNil(t, out.ExpiresAt)
	assert.Equal(t, expires.UnixMilli(), out.ExpiresAt.UnixMilli())

	nested, ok := out.Properties.Get("nested")
	require.True(t, ok)
	k, ok := nested.Get("k")
	require.True(t, ok)
	n, _ := k.AsNumber()
	assert.Equal(t, 1.0, n)
}

func TestMemoryFilters(t *testing.T) {
	backend := newBackend(t)
	base := time.Now().UTC()

	mems := []*model.Memory{
		{ID: "a", Content: "golang generics", MemoryType: model.MemoryTypeFact, Source: "s1", Tags: []string{"go"}, CreatedAt: base.Add(-2 * time.Hour)},
		{ID: "b", Content: "rust lifetimes", MemoryType: model.MemoryTypeFact, Source: "s2", Tags: []string{"rust"}, CreatedAt: base.Add(-time.Hour)},
		{ID: "c", Content: "golang channels", MemoryType: model.MemoryTypeProcedural, Source: "s1", Tags: []string{"go", "concurrency"}, CreatedAt: base},
	}
	for _, m := range mems {
		m.Priority = model.PriorityNormal
		m.Properties = model.NullProperty()
		require.NoError(t, backend.PutMemory(context.Background(), m))
	}

	factType := model.MemoryTypeFact
	out, err := backend.ListMemories(context.Background(), model.MemoryFilter{MemoryType: &factType}, model.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = backend.ListMemories(context.Background(), model.MemoryFilter{ContentSubstring: "golang"}, model.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID, "default ordering is created_at DESC")

	out, err = backend.ListMemories(context.Background(), model.MemoryFilter{Tags: []string{"go", "concurrency"}}, model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].ID)

	cutoff := base.Add(-90 * time.Minute)
	out, err = backend.ListMemories(context.Background(), model.MemoryFilter{CreatedAfter: &cutoff}, model.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	n, err := backend.CountMemories(context.Background(), model.MemoryFilter{Source: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out, err = backend.ListMemories(context.Background(), model.MemoryFilter{}, model.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestIncrementMemoryField(t *testing.T) {
	backend := newBackend(t)
	require.NoError(t, backend.PutMemory(context.Background(), &model.Memory{
		ID: "m1", Content: "x", MemoryType: model.MemoryTypeFact,
		Priority: model.PriorityNormal, CreatedAt: time.Now().UTC(), Properties: model.NullProperty(),
	}))

	require.NoError(t, backend.IncrementMemoryField(context.Background(), "m1", "access_count", 3))
	m, err := backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.AccessCount)

	err = backend.IncrementMemoryField(context.Background(), "m1", "content", 1)
	assert.Error(t, err, "only counter fields are incrementable")
}

func TestSetMemoryLastAccessedTouchesOnlyThatColumn(t *testing.T) {
	backend := newBackend(t)
	require.NoError(t, backend.PutMemory(context.Background(), &model.Memory{
		ID: "m1", Content: "original content", MemoryType: model.MemoryTypeFact,
		Priority: model.PriorityHigh, Tags: []string{"keep"}, AccessCount: 7,
		CreatedAt: time.Now().UTC(), Properties: model.NullProperty(),
	}))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, backend.SetMemoryLastAccessed(context.Background(), "m1", at))

	m, err := backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, m.LastAccessed)
	assert.Equal(t, at.UnixMilli(), m.LastAccessed.UnixMilli())
	assert.Equal(t, "original content", m.Content)
	assert.Equal(t, model.PriorityHigh, m.Priority)
	assert.Equal(t, []string{"keep"}, m.Tags)
	assert.Equal(t, uint64(7), m.AccessCount)
}

func TestSetCurrentVersionIsAtomicPair(t *testing.T) {
	backend := newBackend(t)
	require.NoError(t, backend.PutMemory(context.Background(), &model.Memory{
		ID: "m1", Content: "x", MemoryType: model.MemoryTypeFact,
		Priority: model.PriorityNormal, CreatedAt: time.Now().UTC(), Properties: model.NullProperty(),
	}))

	require.NoError(t, backend.SetCurrentVersion(context.Background(), "m1", "v-1"))
	m, err := backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "v-1", m.CurrentVersionID)
	assert.Equal(t, uint64(1), m.VersionCount)

	require.NoError(t, backend.SetCurrentVersion(context.Background(), "m1", "v-2"))
	m, err = backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "v-2", m.CurrentVersionID)
	assert.Equal(t, uint64(2), m.VersionCount)
}

func TestTextSearchRanksMatches(t *testing.T) {
	backend := newBackend(t)
	for id, content := range map[string]string{
		"m1": "the dragon hoards gold in the mountain",
		"m2": "gold prices fell on tuesday",
		"m3": "nothing relevant at all",
	} {
		require.NoError(t, backend.PutMemory(context.Background(), &model.Memory{
			ID: id, Content: content, MemoryType: model.MemoryTypeFact,
			Priority: model.PriorityNormal, CreatedAt: time.Now().UTC(), Properties: model.NullProperty(),
		}))
	}

	hits, err := backend.TextSearch(context.Background(), "dragon gold", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "m1", hits[0].MemoryID, "memory matching both terms ranks first")
	for _, h := range hits {
		assert.NotEqual(t, "m3", h.MemoryID)
		assert.NotEmpty(t, h.Highlights)
	}
}

func TestTextSearchEmptyQuery(t *testing.T) {
	backend := newBackend(t)
	hits, err := backend.TextSearch(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFTSStaysInSyncOnUpdateAndDelete(t *testing.T) {
	backend := newBackend(t)
	m := &model.Memory{
		ID: "m1", Content: "searchable zebra", MemoryType: model.MemoryTypeFact,
		Priority: model.PriorityNormal, CreatedAt: time.Now().UTC(), Properties: model.NullProperty(),
	}
	require.NoError(t, backend.PutMemory(context.Background(), m))

	m.Content = "now about giraffes"
	require.NoError(t, backend.PutMemory(context.Background(), m))

	hits, err := backend.TextSearch(context.Background(), "zebra", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = backend.TextSearch(context.Background(), "giraffes", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	require.NoError(t, backend.DeleteMemory(context.Background(), "m1"))
	hits, err = backend.TextSearch(context.Background(), "giraffes", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorRoundTripAndDelete(t *testing.T) {
	backend := newBackend(t)
	v := model.NewMemoryVector("m1", []float32{1, 2, 3}, time.Now().UTC())
	require.NoError(t, backend.PutVector(context.Background(), v))

	out, err := backend.GetVector(context.Background(), "mem_m1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 3, out.Dimension)
	assert.Equal(t, []float32{1, 2, 3}, out.Vector)
	assert.Equal(t, "m1", out.SourceID)

	vectors, err := backend.AllMemoryVectors(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, vectors, 1)

	require.NoError(t, backend.DeleteVector(context.Background(), "mem_m1"))
	out, err = backend.GetVector(context.Background(), "mem_m1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestVersionRoundTrip(t *testing.T) {
	backend := newBackend(t)
	v := &model.MemoryVersion{
		ID: "row1", MemoryID: "m1", VersionID: "v1",
		Content: "full text", IsDelta: false, SizeBytes: 9,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Metadata:  model.NullProperty(),
		DiffData: []model.DiffHunk{{
			OldStartLine: 1, OldLineCount: 1, NewStartLine: 1, NewLineCount: 1,
			Lines: []model.HunkLine{{Kind: model.HunkContext, Text: "full text"}},
		}},
	}
	require.NoError(t, backend.PutVersion(context.Background(), v))

	out, err := backend.GetVersion(context.Background(), "m1", "v1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "full text", out.Content)
	require.Len(t, out.DiffData, 1)
	assert.Equal(t, model.HunkContext, out.DiffData[0].Lines[0].Kind)

	ids, err := backend.ListAllMemoryIDsWithVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}

func TestSnapshotRoundTrip(t *testing.T) {
	backend := newBackend(t)
	snap := &model.Snapshot{
		SnapshotID: "s1", CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		MemoryIDs:  []string{"m1", "m2"},
		VersionMap: map[string]string{"m1": "v1", "m2": "v2"},
		Metadata:   model.NullProperty(), SizeBytes: 42,
	}
	require.NoError(t, backend.PutSnapshot(context.Background(), snap))

	out, err := backend.GetSnapshot(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, snap.MemoryIDs, out.MemoryIDs)
	assert.Equal(t, snap.VersionMap, out.VersionMap)

	all, err := backend.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
