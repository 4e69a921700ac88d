package versioning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

func newTestStore(t *testing.T, cfg Config) (*Store, store.StoreBackend) {
	t.Helper()
	backend, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return New(backend, cfg, nil), backend
}

func putMemory(t *testing.T, backend store.StoreBackend, id, content string) *model.Memory {
	t.Helper()
	m := &model.Memory{
		ID:         id,
		Content:    content,
		MemoryType: model.MemoryTypeFact,
		Priority:   model.PriorityNormal,
		CreatedAt:  time.Now().UTC(),
		Properties: model.NullProperty(),
	}
	require.NoError(t, backend.PutMemory(context.Background(), m))
	return m
}

// pause guarantees successive versions get distinct created_at milliseconds.
func pause() { time.Sleep(3 * time.Millisecond) }

func TestCreateVersionBumpsCountAndPointer(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "A")

	v1, err := s.CreateVersion(context.Background(), "m1", "A", model.NullProperty())
	require.NoError(t, err)

	m, err := backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.VersionCount)
	assert.Equal(t, v1.VersionID, m.CurrentVersionID)

	pause()
	v2, err := s.CreateVersion(context.Background(), "m1", "B", model.NullProperty())
	require.NoError(t, err)

	m, err = backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.VersionCount)
	assert.Equal(t, v2.VersionID, m.CurrentVersionID)
}

func TestCreateVersionMissingMemory(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreateVersion(context.Background(), "nope", "x", model.NullProperty())
	assert.Error(t, err)
}

func TestRoundTripFullAndDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeltaThreshold = 1 // everything after the first version is a delta
	cfg.EnableCompression = false
	s, backend := newTestStore(t, cfg)
	putMemory(t, backend, "m1", "")

	contents := []string{
		"line one\nline two\nline three",
		"line one\nline 2\nline three",
		"line one\nline 2\nline three\nline four",
	}
	var versionIDs []string
	for _, c := range contents {
		v, err := s.CreateVersion(context.Background(), "m1", c, model.NullProperty())
		require.NoError(t, err)
		versionIDs = append(versionIDs, v.VersionID)
		pause()
	}

	// v2 and v3 are stored as deltas.
	raw, err := backend.GetVersion(context.Background(), "m1", versionIDs[1])
	require.NoError(t, err)
	assert.True(t, raw.IsDelta)
	assert.Empty(t, raw.Content)
	assert.NotEmpty(t, raw.DiffData)
	assert.Equal(t, versionIDs[0], raw.ParentVersionID)

	for i, want := range contents {
		_, got, err := s.GetVersion(context.Background(), "m1", versionIDs[i])
		require.NoError(t, err)
		assert.Equal(t, want, got, "version %d", i+1)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	original := "some content worth compressing\nwith several lines\nrepeated repeated repeated"
	blob, err := compressContent(original)
	require.NoError(t, err)
	assert.NotEqual(t, original, blob)

	back, err := decompressContent(blob)
	require.NoError(t, err)
	assert.Equal(t, original, back)
}

func TestAgedFullCopiesCompressInPlace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeltaThreshold = 100 // keep everything full copies
	cfg.EnableCompression = true
	cfg.CompressionThresholdDays = 0 // everything already written is "aged"
	s, backend := newTestStore(t, cfg)
	putMemory(t, backend, "m1", "")

	v1, err := s.CreateVersion(context.Background(), "m1", "first content", model.NullProperty())
	require.NoError(t, err)
	pause()
	_, err = s.CreateVersion(context.Background(), "m1", "second content", model.NullProperty())
	require.NoError(t, err)

	raw, err := backend.GetVersion(context.Background(), "m1", v1.VersionID)
	require.NoError(t, err)
	assert.True(t, raw.IsCompressed)
	assert.NotEqual(t, "first content", raw.Content)

	_, got, err := s.GetVersion(context.Background(), "m1", v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "first content", got)
}

func TestGetMemoryAtTimeSelectsNearestVersion(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "A")

	v1, err := s.CreateVersion(context.Background(), "m1", "A", model.NullProperty())
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	v2, err := s.CreateVersion(context.Background(), "m1", "B", model.NullProperty())
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	v3, err := s.CreateVersion(context.Background(), "m1", "C", model.NullProperty())
	require.NoError(t, err)

	for _, tc := range []struct {
		at   time.Time
		want string
	}{
		{v1.CreatedAt, "A"},
		{v2.CreatedAt, "B"},
		{v3.CreatedAt, "C"},
	} {
		got, ok, err := s.GetMemoryAtTime(context.Background(), "m1", tc.at)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tc.want, got)
	}
}

func TestGetMemoryAtTimeBeforeAnyVersion(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "A")
	v1, err := s.CreateVersion(context.Background(), "m1", "A", model.NullProperty())
	require.NoError(t, err)

	_, ok, err := s.GetMemoryAtTime(context.Background(), "m1", v1.CreatedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "no version existed then; never fabricate state")
}

func TestDeltaThresholdAndCompactKeepCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeltaThreshold = 1
	cfg.EnableCompression = false
	s, backend := newTestStore(t, cfg)
	putMemory(t, backend, "m1", "")

	for _, c := range []string{"v1", "v2", "v3", "v4", "v5"} {
		_, err := s.CreateVersion(context.Background(), "m1", c, model.NullProperty())
		require.NoError(t, err)
		pause()
	}

	vs, err := backend.ListVersions(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, vs, 5)
	assert.False(t, vs[0].IsDelta, "first version is a full copy")
	for _, v := range vs[1:] {
		assert.True(t, v.IsDelta)
	}

	keep := 2
	n, err := s.Compact(context.Background(), "m1", model.CompactFilter{KeepCount: &keep})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	vs, err = backend.ListVersions(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, vs, 2)

	_, got, err := s.GetCurrentVersion(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "v5", got)
}

func TestPromoteRewritesDeltaAsFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeltaThreshold = 1
	cfg.EnableCompression = false
	s, backend := newTestStore(t, cfg)
	putMemory(t, backend, "m1", "")

	_, err := s.CreateVersion(context.Background(), "m1", "base", model.NullProperty())
	require.NoError(t, err)
	pause()
	v2, err := s.CreateVersion(context.Background(), "m1", "changed", model.NullProperty())
	require.NoError(t, err)
	require.True(t, v2.IsDelta)

	require.NoError(t, s.Promote(context.Background(), "m1", v2.VersionID))

	raw, err := backend.GetVersion(context.Background(), "m1", v2.VersionID)
	require.NoError(t, err)
	assert.False(t, raw.IsDelta)
	assert.Equal(t, "changed", raw.Content)
	assert.Nil(t, raw.DiffData)
}

func TestDiffVersions(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "")

	v1, err := s.CreateVersion(context.Background(), "m1", "a\nb\nc", model.NullProperty())
	require.NoError(t, err)
	pause()
	v2, err := s.CreateVersion(context.Background(), "m1", "a\nB\nc", model.NullProperty())
	require.NoError(t, err)

	hunks, err := s.DiffVersions(context.Background(), "m1", v1.VersionID, v2.VersionID)
	require.NoError(t, err)
	require.NotEmpty(t, hunks)
	assert.Equal(t, "a\nB\nc", applyHunks("a\nb\nc", hunks))
}

func TestSnapshotRestoreIdempotent(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "alpha")
	putMemory(t, backend, "m2", "beta")

	_, err := s.CreateVersion(context.Background(), "m1", "alpha", model.NullProperty())
	require.NoError(t, err)
	_, err = s.CreateVersion(context.Background(), "m2", "beta", model.NullProperty())
	require.NoError(t, err)

	snap, err := s.CreateSnapshot(context.Background(), nil, model.NullProperty())
	require.NoError(t, err)
	require.Len(t, snap.MemoryIDs, 2)

	// Drift m1 forward, then restore.
	pause()
	_, err = s.CreateVersion(context.Background(), "m1", "alpha changed", model.NullProperty())
	require.NoError(t, err)

	results, err := s.RestoreSnapshot(context.Background(), snap.SnapshotID, model.RestoreOverwrite)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Restored, "memory %s: %s", r.MemoryID, r.Error)
	}

	m1, err := backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", m1.Content)

	again, err := s.CreateSnapshot(context.Background(), nil, model.NullProperty())
	require.NoError(t, err)
	assert.Equal(t, snap.VersionMap, again.VersionMap)
}

func TestRestoreCreateVersionsEmitsNewVersion(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "one")

	_, err := s.CreateVersion(context.Background(), "m1", "one", model.NullProperty())
	require.NoError(t, err)
	snap, err := s.CreateSnapshot(context.Background(), []string{"m1"}, model.NullProperty())
	require.NoError(t, err)
	pause()
	_, err = s.CreateVersion(context.Background(), "m1", "two", model.NullProperty())
	require.NoError(t, err)
	pause()

	_, err = s.RestoreSnapshot(context.Background(), snap.SnapshotID, model.RestoreCreateVersions)
	require.NoError(t, err)

	m, err := backend.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "one", m.Content)
	assert.Equal(t, uint64(3), m.VersionCount, "restore emitted a third version")
}

func TestSearchSnapshot(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "the treasure is buried north")
	putMemory(t, backend, "m2", "nothing to see here")

	_, err := s.CreateVersion(context.Background(), "m1", "the treasure is buried north", model.NullProperty())
	require.NoError(t, err)
	_, err = s.CreateVersion(context.Background(), "m2", "nothing to see here", model.NullProperty())
	require.NoError(t, err)

	snap, err := s.CreateSnapshot(context.Background(), nil, model.NullProperty())
	require.NoError(t, err)

	hits, err := s.SearchSnapshot(context.Background(), snap.SnapshotID, "Treasure")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].MemoryID)
}

func TestValidateAndRepairBrokenChain(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "x")

	// A delta pointing at a parent that never existed.
	orphan := &model.MemoryVersion{
		ID: "broken", MemoryID: "m1", VersionID: "broken-version",
		ParentVersionID: "ghost", IsDelta: true,
		DiffData: []model.DiffHunk{{
			OldStartLine: 1, OldLineCount: 0, NewStartLine: 1, NewLineCount: 1,
			Lines: []model.HunkLine{{Kind: model.HunkAdded, Text: "recovered"}},
		}},
		CreatedAt:  time.Now().UTC(),
		Metadata:   model.NullProperty(),
	}
	require.NoError(t, backend.PutVersion(context.Background(), orphan))

	issues, err := s.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueMissingParent, issues[0].Kind)

	results := s.Repair(context.Background(), issues)
	require.Len(t, results, 1)
	assert.True(t, results[0].Repaired)

	fixed, err := backend.GetVersion(context.Background(), "m1", "broken-version")
	require.NoError(t, err)
	assert.False(t, fixed.IsDelta)
	assert.Equal(t, "recovered", fixed.Content)

	issues, err = s.Validate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidateSelfReference(t *testing.T) {
	s, backend := newTestStore(t, DefaultConfig())
	putMemory(t, backend, "m1", "x")

	selfRef := &model.MemoryVersion{
		ID: "self", MemoryID: "m1", VersionID: "v-self",
		ParentVersionID: "v-self", IsDelta: true,
		CreatedAt: time.Now().UTC(),
		Metadata:  model.NullProperty(),
	}
	require.NoError(t, backend.PutVersion(context.Background(), selfRef))

	issues, err := s.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueSelfReference, issues[0].Kind)
}

func TestReconstructionCacheHit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableReconstructionCache = true
	cfg.CacheSize = 4
	s, backend := newTestStore(t, cfg)
	putMemory(t, backend, "m1", "cached")

	v, err := s.CreateVersion(context.Background(), "m1", "cached", model.NullProperty())
	require.NoError(t, err)

	// Delete the stored row out from under the cache; a cache hit still
	// serves the content via reconstruct, proving the hit path short-circuits
	// storage. GetVersion itself still reads the record, so call reconstruct
	// through GetMemoryAtTime's underlying path instead.
	content, err := s.reconstruct(context.Background(), "m1", v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "cached", content)

	require.NoError(t, backend.DeleteVersion(context.Background(), "m1", v.VersionID))
	content, err = s.reconstruct(context.Background(), "m1", v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "cached", content)
}

func TestApplyHunksEdgeCases(t *testing.T) {
	// A hunk whose declared old_line_count overshoots the body still lands
	// the cursor correctly (count governs, not body length).
	hunks := []model.DiffHunk{{
		OldStartLine: 1, OldLineCount: 2, NewStartLine: 1, NewLineCount: 1,
		Lines: []model.HunkLine{
			{Kind: model.HunkRemoved, Text: "a"},
			{Kind: model.HunkAdded, Text: "A"},
		},
	}}
	assert.Equal(t, "A\nc", applyHunks("a\nb\nc", hunks))

	// Empty hunk list is identity.
	assert.Equal(t, "a\nb", applyHunks("a\nb", nil))
}

func TestStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeltaThreshold = 1
	cfg.EnableCompression = false
	s, backend := newTestStore(t, cfg)
	putMemory(t, backend, "m1", "")

	_, err := s.CreateVersion(context.Background(), "m1", "one", model.NullProperty())
	require.NoError(t, err)
	pause()
	_, err = s.CreateVersion(context.Background(), "m1", "two", model.NullProperty())
	require.NoError(t, err)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMemories)
	assert.Equal(t, 2, stats.TotalVersions)
	assert.Equal(t, 1, stats.DeltaVersions)
	assert.Equal(t, 1, stats.FullVersions)
}
