package versioning

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

// CreateSnapshot captures {memory_id -> current_version_id} for the given
// memory ids, or for every memory with a current version when ids is empty.
// Snapshots are append-only and immutable once written.
func (s *Store) CreateSnapshot(ctx context.Context, memoryIDs []string, metadata model.Property) (*model.Snapshot, error) {
	if len(memoryIDs) == 0 {
		all, err := s.backend.ListAllMemoryIDsWithVersions(ctx)
		if err != nil {
			return nil, locerr.Wrap(err, "create snapshot: list memories")
		}
		memoryIDs = all
	}

	versionMap := map[string]string{}
	sizeBytes := 0
	var included []string

	for _, id := range memoryIDs {
		m, err := s.backend.GetMemory(ctx, id)
		if err != nil {
			return nil, locerr.Wrap(err, "create snapshot: load memory")
		}
		if m == nil || m.CurrentVersionID == "" {
			continue
		}
		versionMap[id] = m.CurrentVersionID
		included = append(included, id)

		if v, err := s.backend.GetVersion(ctx, id, m.CurrentVersionID); err == nil && v != nil {
			sizeBytes += v.SizeBytes
		}
	}
	sort.Strings(included)

	snap := &model.Snapshot{
		SnapshotID: uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		MemoryIDs:  included,
		VersionMap: versionMap,
		Metadata:   metadata,
		SizeBytes:  sizeBytes,
	}
	if err := s.backend.PutSnapshot(ctx, snap); err != nil {
		return nil, locerr.Wrap(err, "create snapshot: put")
	}
	return snap, nil
}

// GetSnapshot loads a snapshot by id, or nil if absent.
func (s *Store) GetSnapshot(ctx context.Context, snapshotID string) (*model.Snapshot, error) {
	snap, err := s.backend.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, locerr.Wrap(err, "get snapshot")
	}
	return snap, nil
}

// ListSnapshots returns every stored snapshot.
func (s *Store) ListSnapshots(ctx context.Context) ([]*model.Snapshot, error) {
	out, err := s.backend.ListSnapshots(ctx)
	if err != nil {
		return nil, locerr.Wrap(err, "list snapshots")
	}
	return out, nil
}

// RestoreResult reports one memory's restore outcome.
type RestoreResult struct {
	MemoryID string
	Restored bool
	Skipped  bool
	Error    string
}

// RestoreSnapshot brings memories back to the state a snapshot captured.
// Modes:
//
//   - Overwrite: set the memory's content and current-version pointer back
//     to the captured version, without emitting a new version — a snapshot
//     taken right after restoring equals the one restored from;
//   - SkipExisting: leave every memory that still exists untouched (reported
//     as skipped); a memory that no longer exists is reported as a failed
//     entry and is not recreated, so this mode restores nothing;
//   - CreateVersions: emit a new version carrying the snapshot content.
//
// A memory whose captured version has since been deleted is reported as a
// failed entry, not an error for the whole restore: deleting referenced
// versions makes a snapshot non-restorable for those memories — detected,
// not prevented.
func (s *Store) RestoreSnapshot(ctx context.Context, snapshotID string, mode model.RestoreMode) ([]RestoreResult, error) {
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, locerr.NewNotFound("snapshot not found: " + snapshotID)
	}

	results := make([]RestoreResult, 0, len(snap.MemoryIDs))
	for _, memoryID := range snap.MemoryIDs {
		versionID := snap.VersionMap[memoryID]
		results = append(results, s.restoreOne(ctx, memoryID, versionID, mode))
	}
	return results, nil
}

func (s *Store) restoreOne(ctx context.Context, memoryID, versionID string, mode model.RestoreMode) RestoreResult {
	res := RestoreResult{MemoryID: memoryID}

	m, err := s.backend.GetMemory(ctx, memoryID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if mode == model.RestoreSkipExisting && m != nil {
		res.Skipped = true
		return res
	}
	if m == nil {
		res.Error = "memory no longer exists"
		return res
	}

	content, err := s.reconstruct(ctx, memoryID, versionID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	switch mode {
	case model.RestoreCreateVersions:
		if _, err := s.CreateVersion(ctx, memoryID, content, model.NullProperty()); err != nil {
			res.Error = err.Error()
			return res
		}
		// Re-read: CreateVersion just advanced the version pointer and count.
		fresh, err := s.backend.GetMemory(ctx, memoryID)
		if err != nil || fresh == nil {
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Error = "memory vanished during restore"
			}
			return res
		}
		fresh.Content = content
		if err := s.backend.PutMemory(ctx, fresh); err != nil {
			res.Error = err.Error()
			return res
		}
	default: // Overwrite, SkipExisting-with-missing-memory never reaches here
		m.Content = content
		m.CurrentVersionID = versionID
		if err := s.backend.PutMemory(ctx, m); err != nil {
			res.Error = err.Error()
			return res
		}
		if s.cache != nil {
			s.cacheMu.Lock()
			s.cache.invalidateMemory(memoryID)
			s.cacheMu.Unlock()
		}
	}

	res.Restored = true
	return res
}

// SnapshotHit is one match from SearchSnapshot.
type SnapshotHit struct {
	MemoryID  string
	VersionID string
	Content   string
}

// SearchSnapshot scans the contents a snapshot captured for a substring
// (case-insensitive), reconstructing each member version as needed.
func (s *Store) SearchSnapshot(ctx context.Context, snapshotID, query string) ([]SnapshotHit, error) {
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, locerr.NewNotFound("snapshot not found: " + snapshotID)
	}

	needle := strings.ToLower(query)
	var hits []SnapshotHit
	for _, memoryID := range snap.MemoryIDs {
		versionID := snap.VersionMap[memoryID]
		content, err := s.reconstruct(ctx, memoryID, versionID)
		if err != nil {
			s.log.Debug("versioning: snapshot member unreadable, skipping",
				zap.String("memory_id", memoryID), zap.String("version_id", versionID), zap.Error(err))
			continue
		}
		if strings.Contains(strings.ToLower(content), needle) {
			hits = append(hits, SnapshotHit{MemoryID: memoryID, VersionID: versionID, Content: content})
		}
	}
	return hits, nil
}
