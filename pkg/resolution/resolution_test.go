package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locai-dev/locai/pkg/extraction"
	"github.com/locai-dev/locai/pkg/graphstore"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, store.StoreBackend, *graphstore.EntityStore, *graphstore.RelationshipStore) {
	t.Helper()
	backend, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	entities := graphstore.NewEntityStore(backend)
	rels := graphstore.NewRelationshipStore(backend, nil)
	return New(cfg, backend, entities, rels, nil), backend, entities, rels
}

func putMemory(t *testing.T, backend store.StoreBackend, id, content string) *model.Memory {
	t.Helper()
	m := &model.Memory{
		ID:         id,
		Content:    content,
		MemoryType: model.MemoryTypeFact,
		Priority:   model.PriorityNormal,
		CreatedAt:  time.Now().UTC(),
		Properties: model.NullProperty(),
	}
	require.NoError(t, backend.PutMemory(context.Background(), m))
	return m
}

func namedEntity(id, name, entityType string, confidence float64) *model.Entity {
	now := time.Now().UTC()
	return &model.Entity{
		ID:         id,
		EntityType: entityType,
		Properties: model.ObjectProperty(map[string]model.Property{
			"name":       model.StringProperty(name),
			"confidence": model.NumberProperty(confidence),
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestResolveCreatesNewEntityAndMention(t *testing.T) {
	engine, backend, _, _ := newTestEngine(t, DefaultConfig())
	mem := putMemory(t, backend, "m1", "Email support@acme.com for help")

	res, err := engine.Resolve(context.Background(), mem, extraction.ExtractedEntity{
		Text: "support@acme.com", EntityType: model.EntityTypeEmail,
		StartPos: 6, EndPos: 22, Confidence: 0.95, ExtractorSource: "structured",
		Metadata: map[string]string{"email": "support@acme.com"},
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "ent_email_supportacmecom", res.EntityID)

	ent, err := backend.GetEntity(context.Background(), res.EntityID)
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, "support@acme.com", ent.Name())

	rel, err := backend.GetRelationship(context.Background(), res.RelationshipID)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, model.RelMentions, rel.RelationshipType)
	assert.Equal(t, mem.ID, rel.SourceID)
	assert.Equal(t, res.EntityID, rel.TargetID)
}

func TestResolveMergesExactNameMatch(t *testing.T) {
	engine, backend, entities, _ := newTestEngine(t, DefaultConfig())
	mem := putMemory(t, backend, "m1", "Met with Acme Corporation about the contract")

	_, err := entities.Create(context.Background(), namedEntity("e1", "Acme Corporation", model.EntityTypeOrganization, 0.6))
	require.NoError(t, err)

	res, err := engine.Resolve(context.Background(), mem, extraction.ExtractedEntity{
		Text: "Acme Corporation", EntityType: model.EntityTypeOrganization,
		Confidence: 0.9, ExtractorSource: "ml_http",
		Metadata: map[string]string{"industry": "manufacturing"},
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "e1", res.EntityID)

	merged, err := backend.GetEntity(context.Background(), "e1")
	require.NoError(t, err)
	// Balanced strategy: new confidence 0.9 beats stored 0.6, so the key is
	// written and the confidence raised.
	industry, ok := merged.Properties.Get("industry")
	require.True(t, ok)
	s, _ := industry.AsString()
	assert.Equal(t, "manufacturing", s)
	assert.InDelta(t, 0.9, merged.Confidence(), 1e-9)
}

func TestResolveMatchesByUniqueIdentifier(t *testing.T) {
	engine, backend, entities, _ := newTestEngine(t, DefaultConfig())
	mem := putMemory(t, backend, "m1", "Ping jdoe@corp.io again")

	ent := namedEntity("e1", "John Doe", model.EntityTypePerson, 0.8)
	ent.Properties = ent.Properties.With("email", model.StringProperty("jdoe@corp.io"))
	_, err := entities.Create(context.Background(), ent)
	require.NoError(t, err)

	candidates, err := engine.FindCandidates(context.Background(), extraction.ExtractedEntity{
		Text: "J. Doe", EntityType: model.EntityTypePerson,
		Metadata: map[string]string{"email": "jdoe@corp.io"},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "e1", candidates[0].Entity.ID)
	assert.InDelta(t, 0.95, candidates[0].Score, 1e-9)

	res, err := engine.Resolve(context.Background(), mem, extraction.ExtractedEntity{
		Text: "J. Doe", EntityType: model.EntityTypePerson, Confidence: 0.85,
		Metadata: map[string]string{"email": "jdoe@corp.io"},
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "e1", res.EntityID)
}

func TestFindCandidatesFuzzy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disambiguation.Enabled = false
	engine, _, entities, _ := newTestEngine(t, cfg)

	_, err := entities.Create(context.Background(), namedEntity("e1", "Jonathan Smith", model.EntityTypePerson, 0.8))
	require.NoError(t, err)

	candidates, err := engine.FindCandidates(context.Background(), extraction.ExtractedEntity{
		Text: "Jonathon Smith", EntityType: model.EntityTypePerson,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Greater(t, candidates[0].Score, 0.8)
	assert.Less(t, candidates[0].Score, 1.0)
}

func TestFindCandidatesTypeMismatchExcluded(t *testing.T) {
	engine, _, entities, _ := newTestEngine(t, DefaultConfig())

	_, err := entities.Create(context.Background(), namedEntity("e1", "Springfield", model.EntityTypeLocation, 0.8))
	require.NoError(t, err)

	candidates, err := engine.FindCandidates(context.Background(), extraction.ExtractedEntity{
		Text: "Springfield", EntityType: model.EntityTypePerson,
	})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestMergeStrategies(t *testing.T) {
	existing := namedEntity("e1", "Acme", model.EntityTypeOrganization, 0.9)
	existing.Properties = existing.Properties.With("hq", model.StringProperty("Boston"))

	extracted := extraction.ExtractedEntity{
		Text: "Acme Corp", EntityType: model.EntityTypeOrganization, Confidence: 0.5,
		Metadata: map[string]string{"hq": "Chicago", "founded": "1999"},
	}

	t.Run("conservative adds only new keys", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t, Config{Strategy: StrategyConservative, SimilarityThreshold: 0.8, MinConfidenceForMerge: 0.7})
		merged := engine.Merge(existing, extracted)
		hq, _ := merged.Properties.Get("hq")
		s, _ := hq.AsString()
		assert.Equal(t, "Boston", s)
		founded, ok := merged.Properties.Get("founded")
		require.True(t, ok)
		f, _ := founded.AsString()
		assert.Equal(t, "1999", f)
	})

	t.Run("balanced keeps existing when new confidence is lower", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t, Config{Strategy: StrategyBalanced, SimilarityThreshold: 0.8, MinConfidenceForMerge: 0.7})
		merged := engine.Merge(existing, extracted)
		hq, _ := merged.Properties.Get("hq")
		s, _ := hq.AsString()
		assert.Equal(t, "Boston", s)
		assert.InDelta(t, 0.9, merged.Confidence(), 1e-9)
	})

	t.Run("aggressive overwrites, including name on higher confidence", func(t *testing.T) {
		engine, _, _, _ := newTestEngine(t, Config{Strategy: StrategyAggressive, SimilarityThreshold: 0.8, MinConfidenceForMerge: 0.7})
		merged := engine.Merge(existing, extracted)
		hq, _ := merged.Properties.Get("hq")
		s, _ := hq.AsString()
		assert.Equal(t, "Chicago", s)
		// 0.5 does not beat the stored 0.9, so the name stays.
		assert.Equal(t, "Acme", merged.Name())

		confident := extracted
		confident.Confidence = 0.99
		merged = engine.Merge(existing, confident)
		assert.Equal(t, "Acme Corp", merged.Name())
	})
}

func TestResolveDisambiguatedSuffixForAmbiguousMention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidenceForMerge = 0.99 // force the create path despite candidates
	engine, backend, entities, _ := newTestEngine(t, cfg)
	mem := putMemory(t, backend, "memory-12345678", "Talked to John Smith")

	_, err := entities.Create(context.Background(), namedEntity("e1", "Jon Smith", model.EntityTypePerson, 0.8))
	require.NoError(t, err)

	res, err := engine.Resolve(context.Background(), mem, extraction.ExtractedEntity{
		Text: "John Smith", EntityType: model.EntityTypePerson, Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Contains(t, res.EntityID, "_mem_memory-1")
}
