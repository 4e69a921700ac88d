package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

func (s *SQLiteBackend) PutEntity(ctx context.Context, e *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, entity_type, properties, created_at, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type=excluded.entity_type, properties=excluded.properties, updated_at=excluded.updated_at
	`, e.ID, e.EntityType, marshalProperty(e.Properties), e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
	if err != nil {
		return locerr.NewStorage("put entity", err)
	}
	return nil
}

func scanEntity(row interface{ Scan(dest ...interface{}) error }) (*model.Entity, error) {
	var id, entityType, properties string
	var createdAt, updatedAt int64
	if err := row.Scan(&id, &entityType, &properties, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return &model.Entity{
		ID:         id,
		EntityType: entityType,
		Properties: unmarshalProperty(properties),
		CreatedAt:  timeFromMillis(createdAt),
		UpdatedAt:  timeFromMillis(updatedAt),
	}, nil
}

const entityColumns = `id, entity_type, properties, created_at, updated_at`

func (s *SQLiteBackend) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, locerr.NewStorage("get entity", err)
	}
	return e, nil
}

func (s *SQLiteBackend) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return locerr.NewStorage("delete entity", err)
	}
	return nil
}

func (s *SQLiteBackend) ListEntities(ctx context.Context, filter model.EntityFilter, opts model.ListOptions) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildEntityWhere(filter)
	q := `SELECT ` + entityColumns + ` FROM entities`
	if where != "" {
		q += " WHERE " + where
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
		return nil, locerr.NewStorage("list entities", err)
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, locerr.NewStorage("scan entity", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) CountEntities(ctx context.Context, filter model.EntityFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	where, args := buildEntityWhere(filter)
	q := `SELECT COUNT(*) FROM entities`
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, locerr.NewStorage("count entities", err)
	}
	return n, nil
}

func buildEntityWhere(filter model.EntityFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if filter.EntityType != nil {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, *filter.EntityType)
	}
	if filter.NameSubstring != "" {
		clauses = append(clauses, "properties LIKE ?")
		args = append(args, "%\"name\":%"+filter.NameSubstring+"%")
	}
	for k, v := range filter.PropertiesEquals {
		clauses = append(clauses, "properties LIKE ?")
		args = append(args, "%\""+k+"\":"+marshalProperty(v)+"%")
	}
	return strings.Join(clauses, " AND "), args
}
