// Package versioning implements VersionStore: an append-only
// version log per memory, storing either full copies or line-diff deltas
// against a nearby full "base", with optional gzip compression of aged full
// copies and a bounded LRU reconstruction cache.
package versioning

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

// Store is the append-only version store.
type Store struct {
	backend store.StoreBackend
	cfg     Config
	log     *zap.Logger

	cache   *reconstructionCache
	cacheMu sync.Mutex

	accessMu     sync.Mutex
	accessCounts map[string]int
}

func New(backend store.StoreBackend, cfg Config, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		backend:      backend,
		cfg:          cfg,
		log:          log,
		accessCounts: make(map[string]int),
	}
	if cfg.EnableReconstructionCache {
		s.cache = newReconstructionCache(cfg.CacheSize)
	}
	return s
}

// CreateVersion: read
// current_version_id/version_count, decide delta vs full, insert, then
// atomically bump the memory's current_version_id/version_count, then run
// opportunistic compression of aged full copies.
//
// The read-then-decide step (1-2) may race with a concurrent CreateVersion
// on the same memory and produce one extra full copy instead of a delta;
// an accepted race — SetCurrentVersion is atomic and no data is corrupted
// either way, only an extra full copy stored.
func (s *Store) CreateVersion(ctx context.Context, memoryID, content string, metadata model.Property) (*model.MemoryVersion, error) {
	m, err := s.backend.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, locerr.Wrap(err, "create version: load memory")
	}
	if m == nil {
		return nil, locerr.NewNotFound("memory not found: " + memoryID)
	}

	versionID := uuid.NewString()
	now := time.Now().UTC()
	v := &model.MemoryVersion{
		ID:        uuid.NewString(),
		MemoryID:  memoryID,
		VersionID: versionID,
		Metadata:  metadata,
		CreatedAt: now,
	}

	willDelta := int(m.VersionCount)+1 > s.cfg.DeltaThreshold && m.CurrentVersionID != ""
	if willDelta {
		parentContent, err := s.reconstruct(ctx, memoryID, m.CurrentVersionID)
		if err != nil {
			// A broken parent chain should not block writing new content;
			// fall back to a full copy rather than failing the write.
			s.log.Warn("versioning: parent reconstruction failed, storing full copy",
				zap.String("memory_id", memoryID), zap.Error(err))
			willDelta = false
		} else {
			hunks := computeDiff(parentContent, content)
			v.IsDelta = true
			v.ParentVersionID = m.CurrentVersionID
			v.DiffData = hunks
			v.SizeBytes = hunkBytes(hunks)
		}
	}
	if !willDelta {
		v.IsDelta = false
		v.Content = content
		v.SizeBytes = len(content)
	}

	if err := s.backend.PutVersion(ctx, v); err != nil {
		return nil, locerr.Wrap(err, "create version: put")
	}
	if err := s.backend.SetCurrentVersion(ctx, memoryID, versionID); err != nil {
		return nil, locerr.Wrap(err, "create version: set current")
	}

	if s.cache != nil {
		s.cacheMu.Lock()
		s.cache.put(cacheKey(memoryID, versionID), content)
		s.cacheMu.Unlock()
	}

	if s.cfg.EnableCompression {
		if err := s.compressAged(ctx, memoryID); err != nil {
			s.log.Warn("versioning: compression pass failed", zap.String("memory_id", memoryID), zap.Error(err))
		}
	}

	return v, nil
}

func hunkBytes(hunks []model.DiffHunk) int {
	n := 0
	for _, h := range hunks {
		for _, l := range h.Lines {
			n += len(l.Text)
		}
	}
	return n
}

// GetVersion reconstructs a version's content:
// cache hit short-circuits, otherwise decompress/reconstruct, recording
// access for auto-promotion even on a cache hit.
func (s *Store) GetVersion(ctx context.Context, memoryID, versionID string) (*model.MemoryVersion, string, error) {
	v, err := s.backend.GetVersion(ctx, memoryID, versionID)
	if err != nil {
		return nil, "", locerr.Wrap(err, "get version")
	}
	if v == nil {
		return nil, "", nil
	}
	s.recordAccess(memoryID, versionID)

	content, err := s.reconstruct(ctx, memoryID, versionID)
	if err != nil {
		return nil, "", err
	}

	if s.cfg.EnableAutoPromotion && v.IsDelta {
		s.maybePromote(ctx, memoryID, versionID)
	}
	return v, content, nil
}

// GetCurrentVersion reconstructs the memory's current version content.
func (s *Store) GetCurrentVersion(ctx context.Context, memoryID string) (*model.MemoryVersion, string, error) {
	m, err := s.backend.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, "", locerr.Wrap(err, "get current version: load memory")
	}
	if m == nil || m.CurrentVersionID == "" {
		return nil, "", nil
	}
	return s.GetVersion(ctx, memoryID, m.CurrentVersionID)
}

func (s *Store) recordAccess(memoryID, versionID string) {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	s.accessCounts[cacheKey(memoryID, versionID)]++
}

func (s *Store) accessCount(memoryID, versionID string) int {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	return s.accessCounts[cacheKey(memoryID, versionID)]
}

func (s *Store) maybePromote(ctx context.Context, memoryID, versionID string) {
	if s.accessCount(memoryID, versionID) < s.cfg.AutoPromotionAccessThreshold {
		return
	}
	if err := s.Promote(ctx, memoryID, versionID); err != nil {
		s.log.Debug("versioning: auto-promotion skipped", zap.String("version_id", versionID), zap.Error(err))
	}
}

// ListVersions returns every version for a memory in creation order, with
// Content replaced by a short preview (the full record can be arbitrarily
// large for full copies, and empty/diff-only for deltas).
func (s *Store) ListVersions(ctx context.Context, memoryID string) ([]*model.MemoryVersion, error) {
	vs, err := s.backend.ListVersions(ctx, memoryID)
	if err != nil {
		return nil, locerr.Wrap(err, "list versions")
	}
	for _, v := range vs {
		v.Content = preview(v.Content, 200)
	}
	return vs, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
