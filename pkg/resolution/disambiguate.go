package resolution

import (
	"context"
	"strings"
	"time"

	"github.com/locai-dev/locai/pkg/extraction"
	"github.com/locai-dev/locai/pkg/model"
)

// DisambiguationConfig carries the disambiguation options.
type DisambiguationConfig struct {
	Enabled                bool
	ContextWindow          int // characters around the mention
	CheckUniqueIdentifiers bool
	CheckCooccurrence      bool
	CheckTemporalProximity bool
	Weights                ConfidenceWeights
}

// ConfidenceWeights combine the disambiguation factors into one score.
type ConfidenceWeights struct {
	Identifiers  float64
	Context      float64
	Cooccurrence float64
	Temporal     float64
}

func DefaultDisambiguationConfig() DisambiguationConfig {
	return DisambiguationConfig{
		Enabled:                true,
		ContextWindow:          100,
		CheckUniqueIdentifiers: true,
		CheckCooccurrence:      true,
		CheckTemporalProximity: true,
		Weights:                ConfidenceWeights{Identifiers: 0.4, Context: 0.3, Cooccurrence: 0.2, Temporal: 0.1},
	}
}

// disambiguate rescores candidates with the weighted factor sum and
// re-sorts. Exact-name and unique-identifier matches (score ≥ 0.95) are
// already unambiguous and keep their score.
func (e *Engine) disambiguate(ctx context.Context, mem *model.Memory, extracted extraction.ExtractedEntity, candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		if c.Score >= 0.95 {
			out[i] = c
			continue
		}
		out[i] = Candidate{Entity: c.Entity, Score: e.disambiguationScore(ctx, mem, extracted, c.Entity)}
	}
	sortCandidates(out)
	return out
}

func (e *Engine) disambiguationScore(ctx context.Context, mem *model.Memory, extracted extraction.ExtractedEntity, candidate *model.Entity) float64 {
	cfg := e.cfg.Disambiguation
	var weightedSum, totalWeight float64

	if cfg.CheckUniqueIdentifiers {
		if score, ok := e.uniqueIdentifierScore(extracted, candidate); ok {
			weightedSum += score * cfg.Weights.Identifiers
			totalWeight += cfg.Weights.Identifiers
		}
	}

	if cfg.CheckCooccurrence {
		mentioning := e.memoriesMentioning(ctx, candidate.ID, 10)

		context := (e.localContextScore(mem, extracted, candidate) +
			e.cooccurrenceScore(extracted, mentioning) +
			e.domainConsistencyScore(mem, extracted, candidate)) / 3
		weightedSum += context * cfg.Weights.Context
		totalWeight += cfg.Weights.Context

		weightedSum += e.cooccurrenceScore(extracted, mentioning) * cfg.Weights.Cooccurrence
		totalWeight += cfg.Weights.Cooccurrence
	}

	if cfg.CheckTemporalProximity && temporalMeaningful(candidate.EntityType) {
		weightedSum += e.temporalScore(ctx, mem, candidate) * cfg.Weights.Temporal
		totalWeight += cfg.Weights.Temporal
	}

	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// uniqueIdentifierScore returns 1.0 when the extracted mention and candidate
// share a unique-identifier property value.
func (e *Engine) uniqueIdentifierScore(extracted extraction.ExtractedEntity, candidate *model.Entity) (float64, bool) {
	for key, value := range extracted.Metadata {
		if !isUniqueIdentifier(key) {
			continue
		}
		if p, ok := candidate.Properties.Get(key); ok {
			if s, ok := p.AsString(); ok && s == value {
				return 1.0, true
			}
		}
	}
	return 0, false
}

// localContextScore overlaps the words within ContextWindow chars of the
// mention with the candidate's recorded typical_context, when present.
func (e *Engine) localContextScore(mem *model.Memory, extracted extraction.ExtractedEntity, candidate *model.Entity) float64 {
	content := mem.Content
	window := e.cfg.Disambiguation.ContextWindow

	start := extracted.StartPos - window
	if start < 0 {
		start = 0
	}
	end := extracted.EndPos + window
	if end > len(content) {
		end = len(content)
	}
	if start >= end {
		return 0.3
	}

	typical, ok := candidate.Properties.Get("typical_context")
	if !ok {
		return 0.3
	}
	typicalStr, ok := typical.AsString()
	if !ok {
		return 0.3
	}

	contextWords := significantWords(content[start:end])
	typicalWords := significantWords(typicalStr)
	if len(contextWords) == 0 || len(typicalWords) == 0 {
		return 0.3
	}

	typicalSet := map[string]bool{}
	for _, w := range typicalWords {
		typicalSet[w] = true
	}
	overlap := 0
	for _, w := range contextWords {
		if typicalSet[w] {
			overlap++
		}
	}
	total := len(contextWords)
	if len(typicalWords) > total {
		total = len(typicalWords)
	}
	return float64(overlap) / float64(total)
}

func significantWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// cooccurrenceScore is the fraction of memories mentioning the candidate
// whose content also contains the extracted mention's text.
func (e *Engine) cooccurrenceScore(extracted extraction.ExtractedEntity, mentioning []*model.Memory) float64 {
	if len(mentioning) == 0 {
		return 0.3
	}
	needle := strings.ToLower(extracted.Text)
	hits := 0
	for _, m := range mentioning {
		if strings.Contains(strings.ToLower(m.Content), needle) {
			hits++
		}
	}
	return float64(hits) / float64(len(mentioning))
}

// domainConsistencyScore checks type compatibility and tag overlap.
func (e *Engine) domainConsistencyScore(mem *model.Memory, extracted extraction.ExtractedEntity, candidate *model.Entity) float64 {
	if extracted.EntityType != candidate.EntityType {
		return 0.1
	}
	score := 0.7
	if tags, ok := candidate.Properties.Get("tags"); ok {
		if arr, ok := tags.AsArray(); ok {
			entityTags := map[string]bool{}
			for _, t := range arr {
				if s, ok := t.AsString(); ok {
					entityTags[s] = true
				}
			}
			for _, tag := range mem.Tags {
				if entityTags[tag] {
					score += 0.2
					break
				}
			}
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// temporalScore rewards candidates recently mentioned relative to the new
// memory's creation time, banded the way the original does.
func (e *Engine) temporalScore(ctx context.Context, mem *model.Memory, candidate *model.Entity) float64 {
	mentioning := e.memoriesMentioning(ctx, candidate.ID, 10)
	if len(mentioning) == 0 {
		return 0
	}

	best := 0.0
	for _, other := range mentioning {
		gap := mem.CreatedAt.Sub(other.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		var score float64
		switch {
		case gap <= time.Hour:
			score = 0.9
		case gap <= 24*time.Hour:
			score = 0.8
		case gap <= 7*24*time.Hour:
			score = 0.6
		case gap <= 30*24*time.Hour:
			score = 0.3
		default:
			score = 0.1
		}
		if score > best {
			best = score
		}
	}
	return best
}

// temporalMeaningful limits the temporal factor to entity kinds where time
// carries signal.
func temporalMeaningful(entityType string) bool {
	switch entityType {
	case model.EntityTypePerson, model.EntityTypeOrganization, model.EntityTypeLocation:
		return true
	default:
		return false
	}
}

// memoriesMentioning loads up to limit memories linked to the entity by a
// mentions relationship.
func (e *Engine) memoriesMentioning(ctx context.Context, entityID string, limit int) []*model.Memory {
	relType := model.RelMentions
	rels, err := e.backend.ListRelationships(ctx, model.RelationshipFilter{
		RelationshipType: &relType,
		TargetID:         entityID,
	}, model.ListOptions{Limit: limit})
	if err != nil {
		return nil
	}

	var out []*model.Memory
	for _, r := range rels {
		m, err := e.backend.GetMemory(ctx, r.SourceID)
		if err == nil && m != nil {
			out = append(out, m)
		}
	}
	return out
}
