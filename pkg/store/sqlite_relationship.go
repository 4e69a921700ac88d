package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

func (s *SQLiteBackend) PutRelationship(ctx context.Context, r *model.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, relationship_type, source_id, target_id, properties, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			relationship_type=excluded.relationship_type, source_id=excluded.source_id,
			target_id=excluded.target_id, properties=excluded.properties, updated_at=excluded.updated_at
	`, r.ID, r.RelationshipType, r.SourceID, r.TargetID, marshalProperty(r.Properties),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		return locerr.NewStorage("put relationship", err)
	}
	return nil
}

func scanRelationship(row interface{ Scan(dest ...interface{}) error }) (*model.Relationship, error) {
	var id, relType, sourceID, targetID, properties string
	var createdAt, updatedAt int64
	if err := row.Scan(&id, &relType, &sourceID, &targetID, &properties, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return &model.Relationship{
		ID:               id,
		RelationshipType: relType,
		SourceID:         sourceID,
		TargetID:         targetID,
		Properties:       unmarshalProperty(properties),
		CreatedAt:        timeFromMillis(createdAt),
		UpdatedAt:        timeFromMillis(updatedAt),
	}, nil
}

const relationshipColumns = `id, relationship_type, source_id, target_id, properties, created_at, updated_at`

func (s *SQLiteBackend) GetRelationship(ctx context.Context, id string) (*model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, locerr.NewStorage("get relationship", err)
	}
	return r, nil
}

func (s *SQLiteBackend) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id); err != nil {
		return locerr.NewStorage("delete relationship", err)
	}
	return nil
}

func (s *SQLiteBackend) ListRelationships(ctx context.Context, filter model.RelationshipFilter, opts model.ListOptions) ([]*model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clauses []string
	var args []interface{}
	if filter.RelationshipType != nil {
		clauses = append(clauses, "relationship_type = ?")
		args = append(args, *filter.RelationshipType)
	}
	if filter.SourceID != "" {
		clauses = append(clauses, "source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, filter.TargetID)
	}

	q := `SELECT ` + relationshipColumns + ` FROM relationships`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, locerr.NewStorage("list relationships", err)
	}
	defer rows.Close()

	var out []*model.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, locerr.NewStorage("scan relationship", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) PutEdge(ctx context.Context, e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (relationship_id, source_id, target_id, rel_type)
		VALUES (?,?,?,?)
		ON CONFLICT(source_id, target_id, rel_type) DO UPDATE SET relationship_id=excluded.relationship_id
	`, e.RelationshipID, e.SourceID, e.TargetID, e.Type)
	if err != nil {
		return locerr.NewStorage("put edge", err)
	}
	return nil
}

func (s *SQLiteBackend) DeleteEdge(ctx context.Context, sourceID, targetID, relType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE source_id = ? AND target_id = ? AND rel_type = ?`,
		sourceID, targetID, relType)
	if err != nil {
		return locerr.NewStorage("delete edge", err)
	}
	return nil
}

func (s *SQLiteBackend) Traverse(ctx context.Context, nodeID string, relType string, dir model.RelationDirection) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	switch dir {
	case model.DirectionOut:
		rows, err = s.traverseQuery(ctx, "source_id = ?", nodeID, relType)
	case model.DirectionIn:
		rows, err = s.traverseQuery(ctx, "target_id = ?", nodeID, relType)
	default:
		q := `SELECT relationship_id, source_id, target_id, rel_type FROM edges WHERE (source_id = ? OR target_id = ?)`
		args := []interface{}{nodeID, nodeID}
		if relType != "" {
			q += " AND rel_type = ?"
			args = append(args, relType)
		}
		rows, err = s.db.QueryContext(ctx, q, args...)
	}
	if err != nil {
		return nil, locerr.NewStorage("traverse", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.RelationshipID, &e.SourceID, &e.TargetID, &e.Type); err != nil {
			return nil, locerr.NewStorage("scan edge", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) traverseQuery(ctx context.Context, idClause, nodeID, relType string) (*sql.Rows, error) {
	q := `SELECT relationship_id, source_id, target_id, rel_type FROM edges WHERE ` + idClause
	args := []interface{}{nodeID}
	if relType != "" {
		q += " AND rel_type = ?"
		args = append(args, relType)
	}
	return s.db.QueryContext(ctx, q, args...)
}
