package autorelate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locai-dev/locai/pkg/graphstore"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, store.StoreBackend, *graphstore.RelationshipStore) {
	t.Helper()
	backend, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	rels := graphstore.NewRelationshipStore(backend, nil)
	return New(cfg, backend, rels, nil), backend, rels
}

func putMemory(t *testing.T, backend store.StoreBackend, id, content string, createdAt time.Time, tags ...string) *model.Memory {
	t.Helper()
	m := &model.Memory{
		ID:         id,
		Content:    content,
		MemoryType: model.MemoryTypeFact,
		Priority:   model.PriorityNormal,
		CreatedAt:  createdAt,
		Tags:       tags,
		Properties: model.NullProperty(),
	}
	require.NoError(t, backend.PutMemory(context.Background(), m))
	return m
}

func putEntity(t *testing.T, backend store.StoreBackend, id, name string, confidence float64) *model.Entity {
	t.Helper()
	now := time.Now().UTC()
	e := &model.Entity{
		ID:         id,
		EntityType: model.EntityTypePerson,
		Properties: model.ObjectProperty(map[string]model.Property{
			"name":       model.StringProperty(name),
			"confidence": model.NumberProperty(confidence),
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, backend.PutEntity(context.Background(), e))
	return e
}

func mention(t *testing.T, rels *graphstore.RelationshipStore, memoryID, entityID string) {
	t.Helper()
	_, err := rels.Create(context.Background(), &model.Relationship{
		RelationshipType: model.RelMentions,
		SourceID:         memoryID,
		TargetID:         entityID,
		Properties:       model.NullProperty(),
	})
	require.NoError(t, err)
}

func TestEntityCoreferenceLinksMemories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Methods = []Method{MethodEntityCoreference}
	engine, backend, rels := newTestEngine(t, cfg)

	now := time.Now().UTC()
	m1 := putMemory(t, backend, "m1", "John fixed the build", now.Add(-time.Minute))
	m2 := putMemory(t, backend, "m2", "John broke the build", now)
	entity := putEntity(t, backend, "e1", "John", 0.8)
	mention(t, rels, m1.ID, entity.ID)
	mention(t, rels, m2.ID, entity.ID)

	created, err := engine.ProcessMemory(context.Background(), m2)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, model.RelEntityCoreference, created[0].RelationshipType)
	assert.Equal(t, "m2", created[0].SourceID)
	assert.Equal(t, "m1", created[0].TargetID)

	conf, ok := created[0].Properties.Get("confidence")
	require.True(t, ok)
	n, _ := conf.AsNumber()
	assert.InDelta(t, 0.8*0.9, n, 1e-9)
}

func TestEntityCoreferenceSkipsLowConfidenceEntities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Methods = []Method{MethodEntityCoreference}
	cfg.CoreferenceMinEntityConfidence = 0.5
	engine, backend, rels := newTestEngine(t, cfg)

	now := time.Now().UTC()
	m1 := putMemory(t, backend, "m1", "a", now.Add(-time.Minute))
	m2 := putMemory(t, backend, "m2", "b", now)
	entity := putEntity(t, backend, "e1", "Maybe", 0.2)
	mention(t, rels, m1.ID, entity.ID)
	mention(t, rels, m2.ID, entity.ID)

	created, err := engine.ProcessMemory(context.Background(), m2)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestTemporalProximityConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Methods = []Method{MethodTemporalProximity}
	cfg.TemporalMaxGap = time.Hour
	cfg.MinConfidence = 0
	engine, backend, _ := newTestEngine(t, cfg)

	now := time.Now().UTC()
	putMemory(t, backend, "m1", "first", now.Add(-30*time.Minute))
	putMemory(t, backend, "far", "too old", now.Add(-2*time.Hour))
	m2 := putMemory(t, backend, "m2", "second", now)

	created, err := engine.ProcessMemory(context.Background(), m2)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, model.RelTemporalSequence, created[0].RelationshipType)
	assert.Equal(t, "m1", created[0].TargetID)

	conf, _ := created[0].Properties.Get("confidence")
	n, _ := conf.AsNumber()
	assert.InDelta(t, 0.5, n, 0.01)
}

func TestTopicSimilarityJaccard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Methods = []Method{MethodTopicSimilarity}
	cfg.TopicMinSimilarity = 0.3
	engine, backend, _ := newTestEngine(t, cfg)

	now := time.Now().UTC()
	putMemory(t, backend, "m1", "a", now.Add(-time.Minute), "go", "testing")
	putMemory(t, backend, "unrelated", "b", now.Add(-time.Minute), "cooking")
	m2 := putMemory(t, backend, "m2", "c", now, "go", "testing", "ci")

	created, err := engine.ProcessMemory(context.Background(), m2)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, model.RelTopicSimilarity, created[0].RelationshipType)
	assert.Equal(t, "m1", created[0].TargetID)

	conf, _ := created[0].Properties.Get("confidence")
	n, _ := conf.AsNumber()
	assert.InDelta(t, 2.0/3.0, n, 1e-9)
}

func TestMaxPerMemoryKeepsHighestConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Methods = []Method{MethodTemporalProximity}
	cfg.TemporalMaxGap = time.Hour
	cfg.MinConfidence = 0
	cfg.MaxPerMemory = 1
	engine, backend, _ := newTestEngine(t, cfg)

	now := time.Now().UTC()
	putMemory(t, backend, "near", "close in time", now.Add(-5*time.Minute))
	putMemory(t, backend, "farish", "further in time", now.Add(-50*time.Minute))
	m := putMemory(t, backend, "m", "new", now)

	created, err := engine.ProcessMemory(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "near", created[0].TargetID, "cap keeps the highest-confidence edge")
}

func TestDisabledEngineDoesNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	engine, backend, _ := newTestEngine(t, cfg)

	m := putMemory(t, backend, "m", "anything", time.Now().UTC())
	created, err := engine.ProcessMemory(context.Background(), m)
	require.NoError(t, err)
	assert.Empty(t, created)
}
