// Package autorelate implements the AutoRelationshipEngine:
// after every memory write it infers memory↔memory links by entity
// coreference, temporal proximity, and tag/topic overlap, capped per memory.
package autorelate

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/graphstore"
	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

// Method names an inference method that can be enabled in config.
type Method string

const (
	MethodEntityCoreference Method = "entity_coreference"
	MethodTemporalProximity Method = "temporal_proximity"
	MethodTopicSimilarity   Method = "topic_similarity"
)

// Config carries the automatic-relationship options.
type Config struct {
	Enabled       bool
	Methods       []Method
	MinConfidence float64
	// MaxPerMemory caps edges emitted per new memory, keeping the
	// highest-confidence candidates.
	MaxPerMemory int

	// CoreferenceMaxMemories bounds how many other memories one shared
	// entity may link to.
	CoreferenceMaxMemories int
	// CoreferenceMinEntityConfidence gates which mentioned entities
	// participate.
	CoreferenceMinEntityConfidence float64

	// TemporalMaxGap is the largest created_at difference that still
	// produces a temporal_sequence edge.
	TemporalMaxGap time.Duration
	// TemporalSameSourceOnly restricts temporal proximity to memories with
	// the same source field.
	TemporalSameSourceOnly bool

	// TopicMinSimilarity is the Jaccard threshold for topic_similarity.
	TopicMinSimilarity float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:                        true,
		Methods:                        []Method{MethodEntityCoreference, MethodTemporalProximity, MethodTopicSimilarity},
		MinConfidence:                  0.3,
		MaxPerMemory:                   10,
		CoreferenceMaxMemories:         5,
		CoreferenceMinEntityConfidence: 0.5,
		TemporalMaxGap:                 time.Hour,
		TopicMinSimilarity:             0.3,
	}
}

// Engine infers and writes automatic relationships.
type Engine struct {
	cfg     Config
	backend store.StoreBackend
	rels    *graphstore.RelationshipStore
	log     *zap.Logger
}

func New(cfg Config, backend store.StoreBackend, rels *graphstore.RelationshipStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, backend: backend, rels: rels, log: log}
}

// candidate is one proposed edge before the per-memory cap is applied.
type candidate struct {
	relType    string
	otherID    string
	confidence float64
}

// ProcessMemory runs every enabled method for a newly written memory and
// creates the surviving edges. Inference failures in one method log and do
// not prevent the others.
func (e *Engine) ProcessMemory(ctx context.Context, mem *model.Memory) ([]*model.Relationship, error) {
	if !e.cfg.Enabled || mem == nil {
		return nil, nil
	}

	var candidates []candidate
	for _, method := range e.cfg.Methods {
		var found []candidate
		var err error
		switch method {
		case MethodEntityCoreference:
			found, err = e.entityCoreference(ctx, mem)
		case MethodTemporalProximity:
			found, err = e.temporalProximity(ctx, mem)
		case MethodTopicSimilarity:
			found, err = e.topicSimilarity(ctx, mem)
		}
		if err != nil {
			e.log.Warn("autorelate: method failed", zap.String("method", string(method)), zap.Error(err))
			continue
		}
		candidates = append(candidates, found...)
	}

	candidates = e.capCandidates(candidates)

	var created []*model.Relationship
	for _, c := range candidates {
		rel := &model.Relationship{
			RelationshipType: c.relType,
			SourceID:         mem.ID,
			TargetID:         c.otherID,
			Properties: model.ObjectProperty(map[string]model.Property{
				"confidence": model.NumberProperty(c.confidence),
				"inferred":   model.BoolProperty(true),
			}),
		}
		if _, err := e.rels.Create(ctx, rel); err != nil {
			e.log.Warn("autorelate: edge create failed",
				zap.String("type", c.relType), zap.String("target", c.otherID), zap.Error(err))
			continue
		}
		created = append(created, rel)
	}
	return created, nil
}

// capCandidates drops below-threshold candidates, deduplicates by
// (type, other), and keeps the MaxPerMemory highest-confidence edges.
func (e *Engine) capCandidates(in []candidate) []candidate {
	seen := map[[2]string]bool{}
	out := make([]candidate, 0, len(in))
	for _, c := range in {
		if c.confidence < e.cfg.MinConfidence {
			continue
		}
		key := [2]string{c.relType, c.otherID}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].confidence > out[j].confidence })
	if e.cfg.MaxPerMemory > 0 && len(out) > e.cfg.MaxPerMemory {
		out = out[:e.cfg.MaxPerMemory]
	}
	return out
}

// entityCoreference links the new memory to up to N other memories that
// mention the same entity, with confidence = entity confidence * 0.9.
func (e *Engine) entityCoreference(ctx context.Context, mem *model.Memory) ([]candidate, error) {
	mentionsType := model.RelMentions
	mentions, err := e.backend.ListRelationships(ctx, model.RelationshipFilter{
		RelationshipType: &mentionsType,
		SourceID:         mem.ID,
	}, model.ListOptions{})
	if err != nil {
		return nil, locerr.Wrap(err, "autorelate: list mentions")
	}

	var out []candidate
	for _, mention := range mentions {
		entity, err := e.backend.GetEntity(ctx, mention.TargetID)
		if err != nil || entity == nil {
			continue
		}
		if entity.Confidence() < e.cfg.CoreferenceMinEntityConfidence {
			continue
		}

		others, err := e.backend.ListRelationships(ctx, model.RelationshipFilter{
			RelationshipType: &mentionsType,
			TargetID:         entity.ID,
		}, model.ListOptions{})
		if err != nil {
			continue
		}

		linked := 0
		for _, other := range others {
			if other.SourceID == mem.ID {
				continue
			}
			if e.cfg.CoreferenceMaxMemories > 0 && linked >= e.cfg.CoreferenceMaxMemories {
				break
			}
			linked++
			out = append(out, candidate{
				relType:    model.RelEntityCoreference,
				otherID:    other.SourceID,
				confidence: entity.Confidence() * 0.9,
			})
		}
	}
	return out, nil
}

// temporalProximity links memories created within TemporalMaxGap, with
// confidence = 1 - Δt/maxGap clamped to [0,1].
func (e *Engine) temporalProximity(ctx context.Context, mem *model.Memory) ([]candidate, error) {
	gap := e.cfg.TemporalMaxGap
	if gap <= 0 {
		return nil, nil
	}
	after := mem.CreatedAt.Add(-gap)
	before := mem.CreatedAt.Add(gap)
	filter := model.MemoryFilter{CreatedAfter: &after, CreatedBefore: &before}
	if e.cfg.TemporalSameSourceOnly {
		filter.Source = mem.Source
	}

	others, err := e.backend.ListMemories(ctx, filter, model.ListOptions{Limit: 50})
	if err != nil {
		return nil, locerr.Wrap(err, "autorelate: list temporal neighbors")
	}

	var out []candidate
	for _, other := range others {
		if other.ID == mem.ID {
			continue
		}
		dt := mem.CreatedAt.Sub(other.CreatedAt)
		if dt < 0 {
			dt = -dt
		}
		confidence := 1 - float64(dt)/float64(gap)
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, candidate{
			relType:    model.RelTemporalSequence,
			otherID:    other.ID,
			confidence: confidence,
		})
	}
	return out, nil
}

// topicSimilarity links memories sharing tags with Jaccard confidence
// |A ∩ B| / |A ∪ B|.
func (e *Engine) topicSimilarity(ctx context.Context, mem *model.Memory) ([]candidate, error) {
	if len(mem.Tags) == 0 {
		return nil, nil
	}

	byID := map[string]*model.Memory{}
	for _, tag := range mem.Tags {
		others, err := e.backend.ListMemories(ctx, model.MemoryFilter{Tags: []string{tag}}, model.ListOptions{Limit: 50})
		if err != nil {
			return nil, locerr.Wrap(err, "autorelate: list tag neighbors")
		}
		for _, other := range others {
			if other.ID != mem.ID {
				byID[other.ID] = other
			}
		}
	}

	var out []candidate
	for _, other := range byID {
		sim := jaccard(mem.Tags, other.Tags)
		if sim >= e.cfg.TopicMinSimilarity {
			out = append(out, candidate{
				relType:    model.RelTopicSimilarity,
				otherID:    other.ID,
				confidence: sim,
			})
		}
	}
	return out, nil
}

func jaccard(a, b []string) float64 {
	setA := map[string]bool{}
	for _, s := range a {
		setA[s] = true
	}
	setB := map[string]bool{}
	for _, s := range b {
		setB[s] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for s := range setA {
		if setB[s] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
