// Package resolution implements the ResolutionEngine: matching
// extracted entities against stored ones, merging or creating, and linking
// the source memory with a mentions relationship.
package resolution

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/extraction"
	"github.com/locai-dev/locai/pkg/graphstore"
	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

// MergeStrategy selects how an extracted entity's properties fold into an
// existing entity on merge.
type MergeStrategy string

const (
	// StrategyConservative keeps existing values, only adding new keys.
	StrategyConservative MergeStrategy = "conservative"
	// StrategyBalanced overwrites when the new confidence is higher.
	StrategyBalanced MergeStrategy = "balanced"
	// StrategyAggressive always overwrites, including name when the new
	// confidence beats the stored one.
	StrategyAggressive MergeStrategy = "aggressive"
)

// Config carries the resolution options.
type Config struct {
	Strategy              MergeStrategy
	SimilarityThreshold   float64
	MinConfidenceForMerge float64
	Disambiguation        DisambiguationConfig
}

func DefaultConfig() Config {
	return Config{
		Strategy:              StrategyBalanced,
		SimilarityThreshold:   0.8,
		MinConfidenceForMerge: 0.7,
		Disambiguation:        DefaultDisambiguationConfig(),
	}
}

// Candidate pairs a stored entity with its match confidence.
type Candidate struct {
	Entity *model.Entity
	Score  float64
}

// Engine resolves extracted entities to stored ones.
type Engine struct {
	cfg      Config
	backend  store.StoreBackend
	entities *graphstore.EntityStore
	rels     *graphstore.RelationshipStore
	log      *zap.Logger
}

func New(cfg Config, backend store.StoreBackend, entities *graphstore.EntityStore, rels *graphstore.RelationshipStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, backend: backend, entities: entities, rels: rels, log: log}
}

// Resolution reports what Resolve did for one extracted entity.
type Resolution struct {
	EntityID       string
	Created        bool
	RelationshipID string
}

// Resolve handles one extracted entity: find candidates, optionally
// disambiguate, merge if the best candidate clears min_confidence_for_merge,
// else create a new entity; in either case link memory→entity with a
// mentions relationship.
func (e *Engine) Resolve(ctx context.Context, mem *model.Memory, extracted extraction.ExtractedEntity) (*Resolution, error) {
	candidates, err := e.FindCandidates(ctx, extracted)
	if err != nil {
		return nil, err
	}

	if e.cfg.Disambiguation.Enabled && len(candidates) > 0 {
		candidates = e.disambiguate(ctx, mem, extracted, candidates)
	}

	var entityID string
	created := false

	if len(candidates) > 0 && candidates[0].Score >= e.cfg.MinConfidenceForMerge {
		merged := e.Merge(candidates[0].Entity, extracted)
		if _, err := e.entities.Update(ctx, merged); err != nil {
			return nil, locerr.Wrap(err, "resolution: merge entity")
		}
		entityID = merged.ID
	} else {
		ent := e.newEntity(mem, extracted, len(candidates) > 0)
		id, err := e.entities.Create(ctx, ent)
		if err != nil {
			return nil, locerr.Wrap(err, "resolution: create entity")
		}
		entityID = id
		created = true
	}

	relID, err := e.rels.Create(ctx, &model.Relationship{
		RelationshipType: model.RelMentions,
		SourceID:         mem.ID,
		TargetID:         entityID,
		Properties: model.ObjectProperty(map[string]model.Property{
			"confidence": model.NumberProperty(extracted.Confidence),
			"start_pos":  model.NumberProperty(float64(extracted.StartPos)),
			"end_pos":    model.NumberProperty(float64(extracted.EndPos)),
		}),
	})
	if err != nil {
		return nil, locerr.Wrap(err, "resolution: link mention")
	}

	return &Resolution{EntityID: entityID, Created: created, RelationshipID: relID}, nil
}

// FindCandidates searches in order: exact name + same
// type, then fuzzy name similarity, then shared unique-identifier
// properties. Results are deduplicated by entity id, best score kept,
// sorted descending.
func (e *Engine) FindCandidates(ctx context.Context, extracted extraction.ExtractedEntity) ([]Candidate, error) {
	entityType := extracted.EntityType
	stored, err := e.backend.ListEntities(ctx, model.EntityFilter{EntityType: &entityType}, model.ListOptions{})
	if err != nil {
		return nil, locerr.Wrap(err, "resolution: list candidate entities")
	}

	best := map[string]Candidate{}
	record := func(ent *model.Entity, score float64) {
		if cur, ok := best[ent.ID]; !ok || score > cur.Score {
			best[ent.ID] = Candidate{Entity: ent, Score: score}
		}
	}

	// 1. Exact name match.
	for _, ent := range stored {
		if ent.Name() != "" && ent.Name() == extracted.Text {
			record(ent, 1.0)
		}
	}

	// 2. Fuzzy name similarity, only when no exact match was found.
	if len(best) == 0 {
		for _, ent := range stored {
			name := ent.Name()
			if name == "" {
				continue
			}
			sim := nameSimilarity(extracted.Text, name)
			if sim >= e.cfg.SimilarityThreshold {
				record(ent, sim)
			}
		}
	}

	// 3. Shared unique-identifier properties.
	for key, value := range extracted.Metadata {
		if !isUniqueIdentifier(key) {
			continue
		}
		for _, ent := range stored {
			if p, ok := ent.Properties.Get(key); ok {
				if s, ok := p.AsString(); ok && s == value {
					record(ent, 0.95)
				}
			}
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sortCandidates(out)
	return out, nil
}

// nameSimilarity is normalised Levenshtein: 1 - distance/maxLen.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// isUniqueIdentifier reports whether a metadata key identifies an entity on
// its own.
func isUniqueIdentifier(key string) bool {
	switch strings.ToLower(key) {
	case "email", "phone", "url", "id", "username":
		return true
	default:
		return false
	}
}

func sortCandidates(cs []Candidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].Score > cs[j-1].Score; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// newEntity builds the Entity record for a mention that matched nothing.
// The id carries a deterministic suffix derived from type and cleaned text;
// when similar-but-unmerged candidates exist, the source memory id is mixed
// in to disambiguate.
func (e *Engine) newEntity(mem *model.Memory, extracted extraction.ExtractedEntity, hadCandidates bool) *model.Entity {
	suffix := extracted.EntityType + "_" + cleanIDText(extracted.Text)
	if hadCandidates {
		memPart := mem.ID
		if len(memPart) > 8 {
			memPart = memPart[:8]
		}
		suffix += "_mem_" + memPart
	}

	props := map[string]model.Property{
		"name":             model.StringProperty(extracted.Text),
		"confidence":       model.NumberProperty(extracted.Confidence),
		"extractor_source": model.StringProperty(extracted.ExtractorSource),
		"start_pos":        model.NumberProperty(float64(extracted.StartPos)),
		"end_pos":          model.NumberProperty(float64(extracted.EndPos)),
	}
	for k, v := range extracted.Metadata {
		if _, taken := props[k]; !taken {
			props[k] = model.StringProperty(v)
		}
	}

	now := time.Now().UTC()
	return &model.Entity{
		ID:         "ent_" + suffix,
		EntityType: extracted.EntityType,
		Properties: model.ObjectProperty(props),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func cleanIDText(s string) string {
	var out strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			out.WriteRune(r)
		}
	}
	return out.String()
}
