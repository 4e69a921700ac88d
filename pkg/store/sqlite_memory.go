package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

func marshalProperty(p model.Property) string {
	b, err := json.Marshal(p)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalProperty(s string) model.Property {
	var p model.Property
	if s == "" {
		return p
	}
	_ = json.Unmarshal([]byte(s), &p)
	return p
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var out []string
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func (s *SQLiteBackend) PutMemory(ctx context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var embeddingBlob interface{}
	if len(m.Embedding) > 0 {
		embeddingBlob = encodeEmbedding(m.Embedding)
	}
	var currentVersionID interface{}
	if m.CurrentVersionID != "" {
		currentVersionID = m.CurrentVersionID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, memory_type, created_at, last_accessed, access_count,
			priority, tags, source, expires_at, properties, related_memories, embedding,
			current_version_id, version_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, memory_type=excluded.memory_type,
			last_accessed=excluded.last_accessed, access_count=excluded.access_count,
			priority=excluded.priority, tags=excluded.tags, source=excluded.source,
			expires_at=excluded.expires_at, properties=excluded.properties,
			related_memories=excluded.related_memories, embedding=excluded.embedding,
			current_version_id=excluded.current_version_id, version_count=excluded.version_count
	`, m.ID, m.Content, string(m.MemoryType), m.CreatedAt.UnixMilli(), nullableTime(m.LastAccessed),
		int64(m.AccessCount), string(m.Priority), marshalStrings(m.Tags), m.Source,
		nullableTime(m.ExpiresAt), marshalProperty(m.Properties), marshalStrings(m.RelatedMemories),
		embeddingBlob, currentVersionID, int64(m.VersionCount))
	if err != nil {
		return locerr.NewStorage("put memory", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, m.ID); err != nil {
		s.log.Warn("fts delete failed", zapErr(err))
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memories_fts (id, content) VALUES (?, ?)`, m.ID, m.Content); err != nil {
		s.log.Warn("fts insert failed", zapErr(err))
	}
	return nil
}

func scanMemory(row interface {
	Scan(dest ...interface{}) error
}) (*model.Memory, error) {
	var id, content, memType, priority, tags, source, properties, related string
	var createdAt int64
	var lastAccessed, expiresAt sql.NullInt64
	var accessCount, versionCount int64
	var embedding []byte
	var currentVersionID sql.NullString

	if err := row.Scan(&id, &content, &memType, &createdAt, &lastAccessed, &accessCount,
		&priority, &tags, &source, &expiresAt, &properties, &related, &embedding,
		&currentVersionID, &versionCount); err != nil {
		return nil, err
	}

	m := &model.Memory{
		ID:              id,
		Content:         content,
		MemoryType:      model.MemoryType(memType),
		CreatedAt:       timeFromMillis(createdAt),
		AccessCount:     uint64(accessCount),
		Priority:        model.Priority(priority),
		Tags:            unmarshalStrings(tags),
		Source:          source,
		Properties:      unmarshalProperty(properties),
		RelatedMemories: unmarshalStrings(related),
		VersionCount:    uint64(versionCount),
	}
	if lastAccessed.Valid {
		t := timeFromMillis(lastAccessed.Int64)
		m.LastAccessed = &t
	}
	if expiresAt.Valid {
		t := timeFromMillis(expiresAt.Int64)
		m.ExpiresAt = &t
	}
	if len(embedding) > 0 {
		m.Embedding = decodeEmbedding(embedding)
	}
	if currentVersionID.Valid {
		m.CurrentVersionID = currentVersionID.String
	}
	return m, nil
}

const memoryColumns = `id, content, memory_type, created_at, last_accessed, access_count,
	priority, tags, source, expires_at, properties, related_memories, embedding,
	current_version_id, version_count`

func (s *SQLiteBackend) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, locerr.NewStorage("get memory", err)
	}
	return m, nil
}

func (s *SQLiteBackend) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return locerr.NewStorage("delete memory", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		s.log.Warn("fts delete failed", zapErr(err))
	}
	return nil
}

func (s *SQLiteBackend) ListMemories(ctx context.Context, filter model.MemoryFilter, opts model.ListOptions) ([]*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildMemoryWhere(filter)
	q := `SELECT ` + memoryColumns + ` FROM memories`
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
		return nil, locerr.NewStorage("list memories", err)
	}
	defer rows.Close()

	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, locerr.NewStorage("scan memory", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) CountMemories(ctx context.Context, filter model.MemoryFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildMemoryWhere(filter)
	q := `SELECT COUNT(*) FROM memories`
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, locerr.NewStorage("count memories", err)
	}
	return n, nil
}

func buildMemoryWhere(filter model.MemoryFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.MemoryType != nil {
		clauses = append(clauses, "memory_type = ?")
		args = append(args, string(*filter.MemoryType))
	}
	if filter.ContentSubstring != "" {
		clauses = append(clauses, "content LIKE ?")
		args = append(args, "%"+filter.ContentSubstring+"%")
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.CreatedAfter != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.CreatedAfter.UnixMilli())
	}
	if filter.CreatedBefore != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.CreatedBefore.UnixMilli())
	}
	for _, tag := range filter.Tags {
		clauses = append(clauses, "tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}
	for k, v := range filter.Properties {
		clauses = append(clauses, "properties LIKE ?")
		args = append(args, "%\""+k+"\":"+marshalProperty(v)+"%")
	}
	return strings.Join(clauses, " AND "), args
}

// SetCurrentVersion implements the atomic "set current_version_id, bump
// version_count" update: both fields change in the same UPDATE statement so
// no other reader can observe one without the other.
func (s *SQLiteBackend) SetCurrentVersion(ctx context.Context, memoryID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET current_version_id = ?, version_count = version_count + 1 WHERE id = ?
	`, versionID, memoryID)
	if err != nil {
		return locerr.NewStorage("set current version", err)
	}
	return nil
}

// SetMemoryLastAccessed is a merge-style single-column update: it touches
// only last_accessed, so a concurrent full-row write to the same memory is
// never clobbered by background access tracking.
func (s *SQLiteBackend) SetMemoryLastAccessed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET last_accessed = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return locerr.NewStorage("set last_accessed", err)
	}
	return nil
}

func (s *SQLiteBackend) IncrementMemoryField(ctx context.Context, id, field string, delta int64) error {
	if field != "access_count" && field != "version_count" {
		return locerr.NewValidation(field, "unsupported incrementable field")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET `+field+` = `+field+` + ? WHERE id = ?`, delta, id)
	if err != nil {
		return locerr.NewStorage("increment "+field, err)
	}
	return nil
}
