package store

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/locai-dev/locai/pkg/locerr"
)

// TextSearch delegates to FTS5's built-in bm25() ranking.
func (s *SQLiteBackend) TextSearch(ctx context.Context, query string, limit int) ([]TextHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bm25(memories_fts) AS rank, snippet(memories_fts, 1, '[', ']', '...', 10)
		FROM memories_fts WHERE memories_fts MATCH ? ORDER BY rank LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, locerr.NewStorage("text search", err)
	}
	defer rows.Close()

	var out []TextHit
	for rows.Next() {
		var id, snippet string
		var rank float64
		if err := rows.Scan(&id, &rank, &snippet); err != nil {
			return nil, locerr.NewStorage("scan text hit", err)
		}
		// FTS5's bm25() returns lower-is-better; invert so higher is
		// more relevant, matching the rest of the engine's score convention.
		out = append(out, TextHit{MemoryID: id, Score: -rank, Highlights: []string{snippet}})
	}
	return out, rows.Err()
}

// ftsQuery escapes a free-text query into an FTS5 MATCH expression by
// quoting each token, tolerating punctuation FTS5's default tokenizer
// would otherwise choke on.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " OR ")
}

// FuzzySearch scans memory content and scores it against query with
// Jaro-Winkler similarity via antzucaro/matchr (the pack's only
// fuzzy-string library, sourced from MrWong99-glyphoxa's go.mod).
func (s *SQLiteBackend) FuzzySearch(ctx context.Context, query string, threshold float64, limit int) ([]FuzzyHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, content FROM memories`)
	if err != nil {
		return nil, locerr.NewStorage("fuzzy search", err)
	}
	defer rows.Close()

	var hits []FuzzyHit
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, locerr.NewStorage("scan fuzzy candidate", err)
		}
		sim := bestWindowSimilarity(query, content)
		if sim >= threshold {
			hits = append(hits, FuzzyHit{MemoryID: id, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, locerr.NewStorage("fuzzy search rows", err)
	}

	sortFuzzyHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// bestWindowSimilarity scores how well query matches content as the best of
// the full-string score and every query-token/content-token pair score,
// adapted from MrWong99-glyphoxa's bestJWScore, using Jaro-Winkler via antzucaro/matchr
// (the pack's only fuzzy-string library).
func bestWindowSimilarity(query, content string) float64 {
	q := strings.ToLower(query)
	c := strings.ToLower(content)

	best := matchr.JaroWinkler(q, c, false)

	qTokens := strings.Fields(q)
	cTokens := strings.Fields(c)
	for _, qt := range qTokens {
		for _, ct := range cTokens {
			if s := matchr.JaroWinkler(qt, ct, false); s > best {
				best = s
			}
		}
	}
	return best
}

func sortFuzzyHits(hits []FuzzyHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Similarity > hits[j-1].Similarity; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
