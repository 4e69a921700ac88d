package universal

import (
	"fmt"
	"strings"
)

// ExplainResults renders a short human-readable account of why each result
// surfaced, in rank order.
func ExplainResults(results []Result) string {
	if len(results) == 0 {
		return "No results matched the query."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d results:\n", len(results))
	for i, r := range results {
		switch r.Kind {
		case KindMemoryResult:
			fmt.Fprintf(&sb, "%d. memory %s (score %.3f): matched on content\n",
				i+1, r.Memory.ID, r.Score)
		case KindEntityResult:
			name := r.Entity.Name()
			if name == "" {
				name = r.Entity.ID
			}
			fmt.Fprintf(&sb, "%d. entity %s (score %.3f): %s field match\n",
				i+1, name, r.Score, r.Entity.EntityType)
		case KindGraphResult:
			fmt.Fprintf(&sb, "%d. graph around %s (score %.3f): %d memories, %d entities, %d relationships\n",
				i+1, r.Graph.CenterID, r.Score,
				len(r.Graph.Memories), len(r.Graph.Entities), len(r.Graph.Relationships))
		}
	}
	return sb.String()
}
