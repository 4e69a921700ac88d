// Package universal implements UniversalSearch and the intelligence layer
//: three sub-searches (memories, entities, graphs) merged by
// score, query analysis, session context, and suggestions.
package universal

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/search"
	"github.com/locai-dev/locai/pkg/store"
)

// ResultKind tags which sub-search produced a UniversalResult.
type ResultKind string

const (
	KindMemoryResult ResultKind = "memory"
	KindEntityResult ResultKind = "entity"
	KindGraphResult  ResultKind = "graph"
)

// GraphResult is a subgraph centered on one matched record: the memories
// mentioning it, the entities it touches, and the connecting relationships.
type GraphResult struct {
	CenterID      string
	CenterKind    model.RecordKind
	Memories      []*model.Memory
	Entities      []*model.Entity
	Relationships []*model.Relationship
}

// Result is one universal search hit.
type Result struct {
	Kind   ResultKind
	Score  float64
	Memory *model.Memory
	Entity *model.Entity
	Graph  *GraphResult
}

// Config bounds the universal search's fan-out.
type Config struct {
	// GraphDepth bounds subgraph expansion around matched records.
	GraphDepth int
	// EntityLimit caps how many entities are scored per query.
	EntityLimit int
}

func DefaultConfig() Config {
	return Config{GraphDepth: 2, EntityLimit: 100}
}

// Searcher runs the three sub-searches in sequence and merges by score
// descending.
type Searcher struct {
	cfg     Config
	backend store.StoreBackend
	engine  *search.Engine
	log     *zap.Logger
}

func NewSearcher(cfg Config, backend store.StoreBackend, engine *search.Engine, log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{cfg: cfg, backend: backend, engine: engine, log: log}
}

// Search runs memory, entity, and graph sub-searches and merges the results
// by score descending.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	var merged []Result

	memoryResults, err := s.engine.Hybrid(ctx, query, nil, limit)
	if err != nil {
		return nil, locerr.Wrap(err, "universal: memory search")
	}
	for _, r := range memoryResults {
		merged = append(merged, Result{Kind: KindMemoryResult, Score: r.Score, Memory: r.Memory})
	}

	entityResults, err := s.searchEntities(ctx, query)
	if err != nil {
		return nil, locerr.Wrap(err, "universal: entity search")
	}
	merged = append(merged, entityResults...)

	graphResults := s.searchGraphs(ctx, entityResults, memoryResults)
	merged = append(merged, graphResults...)

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// entityFieldWeights score substring matches per field; the sum is
// normalised to [0,1].
const (
	entityNameWeight  = 0.5
	entityDescWeight  = 0.2
	entityTypeWeight  = 0.15
	entityOtherWeight = 0.15
)

func (s *Searcher) searchEntities(ctx context.Context, query string) ([]Result, error) {
	entities, err := s.backend.ListEntities(ctx, model.EntityFilter{}, model.ListOptions{Limit: s.cfg.EntityLimit})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	var out []Result
	for _, e := range entities {
		score := scoreEntity(e, needle)
		if score > 0 {
			out = append(out, Result{Kind: KindEntityResult, Score: score, Entity: e})
		}
	}
	return out, nil
}

// scoreEntity is a weighted sum of name/description/type/other-property
// substring matches, normalised to [0,1].
func scoreEntity(e *model.Entity, needle string) float64 {
	score := 0.0

	if strings.Contains(strings.ToLower(e.Name()), needle) {
		score += entityNameWeight
	}
	if desc, ok := e.Properties.Get("description"); ok {
		if d, ok := desc.AsString(); ok && strings.Contains(strings.ToLower(d), needle) {
			score += entityDescWeight
		}
	}
	if strings.Contains(strings.ToLower(e.EntityType), needle) {
		score += entityTypeWeight
	}

	if obj, ok := e.Properties.AsObject(); ok {
		for key, v := range obj {
			if key == "name" || key == "description" {
				continue
			}
			if sv, ok := v.AsString(); ok && strings.Contains(strings.ToLower(sv), needle) {
				score += entityOtherWeight
				break
			}
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// searchGraphs builds subgraphs centered on matched entities (memories
// mentioning them plus their relationships) and on matched memories, to the
// configured depth. Graph results inherit a slightly damped score from
// their center so they rank just below the direct hit.
func (s *Searcher) searchGraphs(ctx context.Context, entityHits []Result, memoryHits []search.Result) []Result {
	var out []Result

	for _, hit := range entityHits {
		g := s.expandEntity(ctx, hit.Entity)
		if g != nil {
			out = append(out, Result{Kind: KindGraphResult, Score: hit.Score * 0.9, Graph: g})
		}
	}
	for _, hit := range memoryHits {
		g := s.expandMemory(ctx, hit.Memory)
		if g != nil {
			out = append(out, Result{Kind: KindGraphResult, Score: hit.Score * 0.9, Graph: g})
		}
	}
	return out
}

func (s *Searcher) expandEntity(ctx context.Context, center *model.Entity) *GraphResult {
	g := &GraphResult{CenterID: center.ID, CenterKind: model.KindEntity, Entities: []*model.Entity{center}}

	mentionsType := model.RelMentions
	mentions, err := s.backend.ListRelationships(ctx, model.RelationshipFilter{
		RelationshipType: &mentionsType, TargetID: center.ID,
	}, model.ListOptions{})
	if err != nil {
		s.log.Debug("universal: mention expansion failed", zap.String("entity_id", center.ID), zap.Error(err))
		return nil
	}
	for _, rel := range mentions {
		g.Relationships = append(g.Relationships, rel)
		if m, err := s.backend.GetMemory(ctx, rel.SourceID); err == nil && m != nil {
			g.Memories = append(g.Memories, m)
		}
	}

	s.expandNeighbors(ctx, g, center.ID, s.cfg.GraphDepth)
	if len(g.Memories) == 0 && len(g.Relationships) == 0 {
		return nil
	}
	return g
}

func (s *Searcher) expandMemory(ctx context.Context, center *model.Memory) *GraphResult {
	g := &GraphResult{CenterID: center.ID, CenterKind: model.KindMemory, Memories: []*model.Memory{center}}
	s.expandNeighbors(ctx, g, center.ID, s.cfg.GraphDepth)
	if len(g.Relationships) == 0 {
		return nil
	}
	return g
}

// expandNeighbors walks native edges breadth-first up to depth, collecting
// relationships and endpoint records.
func (s *Searcher) expandNeighbors(ctx context.Context, g *GraphResult, startID string, depth int) {
	seen := map[string]bool{startID: true}
	frontier := []string{startID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.backend.Traverse(ctx, id, "", model.DirectionBoth)
			if err != nil {
				continue
			}
			for _, edge := range edges {
				if rel, err := s.backend.GetRelationship(ctx, edge.RelationshipID); err == nil && rel != nil {
					g.Relationships = append(g.Relationships, rel)
				}
				other := edge.TargetID
				if other == id {
					other = edge.SourceID
				}
				if seen[other] {
					continue
				}
				seen[other] = true
				next = append(next, other)

				if m, err := s.backend.GetMemory(ctx, other); err == nil && m != nil {
					g.Memories = append(g.Memories, m)
					continue
				}
				if e, err := s.backend.GetEntity(ctx, other); err == nil && e != nil {
					g.Entities = append(g.Entities, e)
				}
			}
		}
		frontier = next
	}
}
