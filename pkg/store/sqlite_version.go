package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

func marshalHunks(hunks []model.DiffHunk) interface{} {
	if len(hunks) == 0 {
		return nil
	}
	b, _ := json.Marshal(hunks)
	return string(b)
}

func unmarshalHunks(s sql.NullString) []model.DiffHunk {
	if !s.Valid || s.String == "" {
		return nil
	}
	var hunks []model.DiffHunk
	_ = json.Unmarshal([]byte(s.String), &hunks)
	return hunks
}

func (s *SQLiteBackend) PutVersion(ctx context.Context, v *model.MemoryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parentID interface{}
	if v.ParentVersionID != "" {
		parentID = v.ParentVersionID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_versions (id, memory_id, version_id, content, metadata, created_at,
			parent_version_id, diff_data, is_delta, size_bytes, is_compressed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, metadata=excluded.metadata, diff_data=excluded.diff_data,
			is_delta=excluded.is_delta, size_bytes=excluded.size_bytes, is_compressed=excluded.is_compressed
	`, v.ID, v.MemoryID, v.VersionID, v.Content, marshalProperty(v.Metadata), v.CreatedAt.UnixMilli(),
		parentID, marshalHunks(v.DiffData), boolToInt(v.IsDelta), v.SizeBytes, boolToInt(v.IsCompressed))
	if err != nil {
		return locerr.NewStorage("put version", err)
	}
	return nil
}

const versionColumns = `id, memory_id, version_id, content, metadata, created_at,
	parent_version_id, diff_data, is_delta, size_bytes, is_compressed`

func scanVersion(row interface{ Scan(dest ...interface{}) error }) (*model.MemoryVersion, error) {
	var id, memoryID, versionID, content, metadata string
	var createdAt int64
	var parentID, diffData sql.NullString
	var isDelta, isCompressed int64
	var sizeBytes int

	if err := row.Scan(&id, &memoryID, &versionID, &content, &metadata, &createdAt,
		&parentID, &diffData, &isDelta, &sizeBytes, &isCompressed); err != nil {
		return nil, err
	}

	return &model.MemoryVersion{
		ID:              id,
		MemoryID:        memoryID,
		VersionID:       versionID,
		Content:         content,
		Metadata:        unmarshalProperty(metadata),
		CreatedAt:       timeFromMillis(createdAt),
		ParentVersionID: parentID.String,
		DiffData:        unmarshalHunks(diffData),
		IsDelta:         isDelta != 0,
		SizeBytes:       sizeBytes,
		IsCompressed:    isCompressed != 0,
	}, nil
}

func (s *SQLiteBackend) GetVersion(ctx context.Context, memoryID, versionID string) (*model.MemoryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM memory_versions WHERE memory_id = ? AND version_id = ?`,
		memoryID, versionID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, locerr.NewStorage("get version", err)
	}
	return v, nil
}

func (s *SQLiteBackend) ListVersions(ctx context.Context, memoryID string) ([]*model.MemoryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+versionColumns+` FROM memory_versions WHERE memory_id = ? ORDER BY created_at ASC, rowid ASC`, memoryID)
	if err != nil {
		return nil, locerr.NewStorage("list versions", err)
	}
	defer rows.Close()

	var out []*model.MemoryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, locerr.NewStorage("scan version", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) DeleteVersion(ctx context.Context, memoryID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_versions WHERE memory_id = ? AND version_id = ?`, memoryID, versionID)
	if err != nil {
		return locerr.NewStorage("delete version", err)
	}
	return nil
}

func (s *SQLiteBackend) ListAllMemoryIDsWithVersions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT memory_id FROM memory_versions`)
	if err != nil {
		return nil, locerr.NewStorage("list versioned memories", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, locerr.NewStorage("scan memory id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) PutSnapshot(ctx context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, _ := json.Marshal(snap.VersionMap)
	mids, _ := json.Marshal(snap.MemoryIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, created_at, memory_ids, version_map, metadata, size_bytes)
		VALUES (?,?,?,?,?,?)
	`, snap.SnapshotID, snap.CreatedAt.UnixMilli(), string(mids), string(vm), marshalProperty(snap.Metadata), snap.SizeBytes)
	if err != nil {
		return locerr.NewStorage("put snapshot", err)
	}
	return nil
}

func (s *SQLiteBackend) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snapID, memoryIDs, versionMap, metadata string
	var createdAt int64
	var sizeBytes int
	row := s.db.QueryRowContext(ctx, `SELECT snapshot_id, created_at, memory_ids, version_map, metadata, size_bytes FROM snapshots WHERE snapshot_id = ?`, id)
	if err := row.Scan(&snapID, &createdAt, &memoryIDs, &versionMap, &metadata, &sizeBytes); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, locerr.NewStorage("get snapshot", err)
	}
	var ids []string
	var vm map[string]string
	_ = json.Unmarshal([]byte(memoryIDs), &ids)
	_ = json.Unmarshal([]byte(versionMap), &vm)
	return &model.Snapshot{
		SnapshotID: snapID, CreatedAt: timeFromMillis(createdAt),
		MemoryIDs: ids, VersionMap: vm, Metadata: unmarshalProperty(metadata), SizeBytes: sizeBytes,
	}, nil
}

func (s *SQLiteBackend) listSnapshotIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot_id FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, locerr.NewStorage("list snapshots", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, locerr.NewStorage("scan snapshot id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSnapshots fetches ids and bodies as two passes (rather than one RLock
// held across GetSnapshot's own RLock) since Go's sync.RWMutex does not
// support re-entrant locking from the same goroutine.
func (s *SQLiteBackend) ListSnapshots(ctx context.Context) ([]*model.Snapshot, error) {
	ids, err := s.listSnapshotIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Snapshot
	for _, id := range ids {
		snap, err := s.GetSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
