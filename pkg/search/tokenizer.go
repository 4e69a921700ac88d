package search

import (
	"strings"

	"github.com/orsinium-labs/stopwords"

	implicitmatcher "github.com/locai-dev/locai/pkg/implicit-matcher"
)

// stopwordChecker is the robust English stopword list, backed up by the
// matcher package's small hand-rolled map for title abbreviations the
// library misses.
var stopwordChecker = stopwords.MustGet("en")

// FilterQueryTokens drops stopwords from a free-text query before it reaches
// the BM25 predicate, so "the warrior of the north" ranks on warrior/north.
// A query that is all stopwords passes through unchanged — filtering to
// nothing would turn a weak query into no query.
func FilterQueryTokens(query string) string {
	fields := strings.Fields(query)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		lower := strings.ToLower(f)
		if stopwordChecker.Contains(lower) || implicitmatcher.StopWords[lower] {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return query
	}
	return strings.Join(kept, " ")
}
