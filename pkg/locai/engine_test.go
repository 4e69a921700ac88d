package locai

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/search"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := Open(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestCreateAndSearchText(t *testing.T) {
	engine := newTestEngine(t)

	id, err := engine.CreateMemory(context.Background(), &model.Memory{
		Content:    "The protagonist is a skilled warrior named John",
		MemoryType: model.MemoryTypeFact,
	})
	require.NoError(t, err)
	engine.WaitForEnrichment()

	results, err := engine.SearchMemories(context.Background(), "warrior", 10, search.ModeText, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].Memory.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestExtractionCreatesEntitiesAndMentions(t *testing.T) {
	engine := newTestEngine(t)

	id, err := engine.CreateMemory(context.Background(), &model.Memory{
		Content:    "Email support@acme.com or call +1-555-123-4567",
		MemoryType: model.MemoryTypeFact,
	})
	require.NoError(t, err)
	engine.WaitForEnrichment()

	emailType := model.EntityTypeEmail
	emails, err := engine.ListEntities(context.Background(), model.EntityFilter{EntityType: &emailType}, model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "support@acme.com", emails[0].Name())
	assert.GreaterOrEqual(t, emails[0].Confidence(), 0.8)

	phoneType := model.EntityTypePhoneNumber
	phones, err := engine.ListEntities(context.Background(), model.EntityFilter{EntityType: &phoneType}, model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, phones, 1)
	assert.Equal(t, "+1-555-123-4567", phones[0].Name())
	assert.GreaterOrEqual(t, phones[0].Confidence(), 0.8)

	mentionsType := model.RelMentions
	mentions, err := engine.ListRelationships(context.Background(), model.RelationshipFilter{
		RelationshipType: &mentionsType, SourceID: id,
	}, model.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, mentions, 2)
}

func TestAutoCoreferenceBetweenMemoriesSharingEntity(t *testing.T) {
	engine := newTestEngine(t)

	m1, err := engine.CreateMemory(context.Background(), &model.Memory{
		Content:    "Email support@acme.com about the invoice",
		MemoryType: model.MemoryTypeFact,
	})
	require.NoError(t, err)
	engine.WaitForEnrichment()

	m2, err := engine.CreateMemory(context.Background(), &model.Memory{
		Content:    "Got a reply from support@acme.com",
		MemoryType: model.MemoryTypeFact,
	})
	require.NoError(t, err)
	engine.WaitForEnrichment()

	// Both memories resolved to the same entity via the email identifier.
	emailType := model.EntityTypeEmail
	emails, err := engine.ListEntities(context.Background(), model.EntityFilter{EntityType: &emailType}, model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, emails, 1)

	corefType := model.RelEntityCoreference
	corefs, err := engine.ListRelationships(context.Background(), model.RelationshipFilter{
		RelationshipType: &corefType, SourceID: m2,
	}, model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, corefs, 1)
	assert.Equal(t, m1, corefs[0].TargetID)

	conf, ok := corefs[0].Properties.Get("confidence")
	require.True(t, ok)
	n, _ := conf.AsNumber()
	assert.InDelta(t, emails[0].Confidence()*0.9, n, 1e-9)
}

func TestEngineVersioningEndToEnd(t *testing.T) {
	engine := newTestEngine(t)

	id, err := engine.CreateMemory(context.Background(), &model.Memory{
		Content:    "draft one",
		MemoryType: model.MemoryTypeProcedural,
	})
	require.NoError(t, err)
	engine.WaitForEnrichment()

	v1, err := engine.CreateVersion(context.Background(), id, "draft one", model.NullProperty())
	require.NoError(t, err)

	_, content, err := engine.GetVersion(context.Background(), id, v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "draft one", content)

	snap, err := engine.CreateSnapshot(context.Background(), []string{id}, model.NullProperty())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{id: v1.VersionID}, snap.VersionMap)

	stats, err := engine.VersioningStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVersions)
}

func TestUniversalSearchViaEngine(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateMemory(context.Background(), &model.Memory{
		Content:    "Acme quarterly planning notes",
		MemoryType: model.MemoryTypeFact,
	})
	require.NoError(t, err)
	engine.WaitForEnrichment()

	results, err := engine.UniversalSearch(context.Background(), "Acme", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "locai.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  path: ":memory:"
versioning:
  delta_threshold: 3
  enable_compression: false
entity_extraction:
  enabled: false
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Versioning.DeltaThreshold)
	assert.False(t, cfg.Versioning.EnableCompression)
	assert.False(t, cfg.EntityExtraction.Enabled)
	// Untouched sections keep their defaults.
	assert.True(t, cfg.LifecycleTracking.Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/locai.yaml")
	assert.Error(t, err)
}

func TestUnknownBackendRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "surreal"
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
