package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

func (s *SQLiteBackend) PutVector(ctx context.Context, v *model.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vectors (id, vector, dimension, metadata, source_id, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			vector=excluded.vector, dimension=excluded.dimension, metadata=excluded.metadata,
			source_id=excluded.source_id
	`, v.ID, encodeEmbedding(v.Vector), v.Dimension, marshalProperty(v.Metadata), v.SourceID, v.CreatedAt.UnixMilli())
	if err != nil {
		return locerr.NewStorage("put vector", err)
	}

	if err := s.upsertVec0(ctx, v); err != nil {
		s.log.Debug("vec0 upsert skipped", zapErr(err))
	}
	return nil
}

func (s *SQLiteBackend) GetVector(ctx context.Context, id string) (*model.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vecID, metadata string
	var sourceID sql.NullString
	var dimension int
	var vec []byte
	var createdAt int64

	row := s.db.QueryRowContext(ctx, `SELECT id, vector, dimension, metadata, source_id, created_at FROM vectors WHERE id = ?`, id)
	if err := row.Scan(&vecID, &vec, &dimension, &metadata, &sourceID, &createdAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, locerr.NewStorage("get vector", err)
	}

	return &model.Vector{
		ID:        vecID,
		Vector:    decodeEmbedding(vec),
		Dimension: dimension,
		Metadata:  unmarshalProperty(metadata),
		SourceID:  sourceID.String,
		CreatedAt: timeFromMillis(createdAt),
	}, nil
}

func (s *SQLiteBackend) DeleteVector(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return locerr.NewStorage("delete vector", err)
	}
	for dim := range s.vecTables {
		_, _ = s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM vec_memories_%d WHERE memory_id = ?`, dim), id)
	}
	return nil
}

func (s *SQLiteBackend) vecTableName(dim int) string {
	return fmt.Sprintf("vec_memories_%d", dim)
}

// ensureVecTable lazily creates a vec0 virtual table for a given embedding
// dimension (sqlite-vec requires the dimension fixed at table-creation
// time).
func (s *SQLiteBackend) ensureVecTable(ctx context.Context, dim int) error {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	if s.vecTables[dim] {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(memory_id TEXT PRIMARY KEY, embedding float[%d])`,
		s.vecTableName(dim), dim))
	if err != nil {
		return err
	}
	s.vecTables[dim] = true
	return nil
}

func (s *SQLiteBackend) upsertVec0(ctx context.Context, v *model.Vector) error {
	memoryType, _ := v.Metadata.Get("type")
	if kind, ok := memoryType.AsString(); !ok || kind != "memory" {
		return nil
	}
	if v.Dimension == 0 {
		return nil
	}
	if err := s.ensureVecTable(ctx, v.Dimension); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (memory_id, embedding) VALUES (?, vec_f32(?))
			ON CONFLICT(memory_id) DO UPDATE SET embedding=excluded.embedding`, s.vecTableName(v.Dimension)),
		v.SourceID, vecLiteral(v.Vector))
	return err
}

// VectorKNN returns nearest memory vectors via the vec0 index. Returns a
// nil slice (no error) when the table for this dimension does not exist
// yet or the query yields zero rows — callers fall back to brute force
//.
func (s *SQLiteBackend) VectorKNN(ctx context.Context, query []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dim := len(query)
	if !s.vecTables[dim] {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT memory_id, distance FROM %s WHERE embedding MATCH vec_f32(?) AND k = ? ORDER BY distance`,
			s.vecTableName(dim)),
		vecLiteral(query), k)
	if err != nil {
		// vec0 query errors are tolerated; callers fall back to brute force.
		return nil, nil
	}
	defer rows.Close()

	var out []VectorHit
	for rows.Next() {
		var memoryID string
		var distance float64
		if err := rows.Scan(&memoryID, &distance); err != nil {
			continue
		}
		// sqlite-vec's vec0 default distance is L2; convert to a
		// similarity-like score in a way that is monotonic with closeness.
		out = append(out, VectorHit{MemoryID: memoryID, Similarity: 1 / (1 + distance)})
	}
	return out, nil
}

func (s *SQLiteBackend) AllMemoryVectors(ctx context.Context, dimension int) ([]*model.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, dimension, metadata, source_id, created_at FROM vectors
		 WHERE dimension = ? AND metadata LIKE '%"type":"memory"%'`, dimension)
	if err != nil {
		return nil, locerr.NewStorage("list memory vectors", err)
	}
	defer rows.Close()

	var out []*model.Vector
	for rows.Next() {
		var id, metadata string
		var sourceID sql.NullString
		var dim int
		var vec []byte
		var createdAt int64
		if err := rows.Scan(&id, &vec, &dim, &metadata, &sourceID, &createdAt); err != nil {
			return nil, locerr.NewStorage("scan vector", err)
		}
		out = append(out, &model.Vector{
			ID: id, Vector: decodeEmbedding(vec), Dimension: dim,
			Metadata: unmarshalProperty(metadata), SourceID: sourceID.String,
			CreatedAt: timeFromMillis(createdAt),
		})
	}
	return out, rows.Err()
}
