package locai

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/autorelate"
	"github.com/locai-dev/locai/pkg/extraction"
	"github.com/locai-dev/locai/pkg/graphstore"
	"github.com/locai-dev/locai/pkg/hooks"
	"github.com/locai-dev/locai/pkg/lifecycle"
	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/memstore"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/resolution"
	"github.com/locai-dev/locai/pkg/search"
	"github.com/locai-dev/locai/pkg/store"
	"github.com/locai-dev/locai/pkg/universal"
	"github.com/locai-dev/locai/pkg/versioning"
)

// Engine is the composition root: it owns the backend and every store and
// pipeline, and exposes the stable Memory/Entity/Relationship/Versioning
// API.
type Engine struct {
	cfg Config
	log *zap.Logger

	backend   store.StoreBackend
	hooks     *hooks.Registry
	lifecycle *lifecycle.Tracker

	memories      *memstore.Store
	entities      *graphstore.EntityStore
	relationships *graphstore.RelationshipStore
	versions      *versioning.Store

	pipeline   *extraction.Pipeline
	resolver   *resolution.Engine
	autorelate *autorelate.Engine

	searcher     *search.Engine
	universal    *universal.Searcher
	intelligence *universal.Intelligence
	suggester    *universal.Suggester

	// enrichment tracks in-flight write-side pipeline runs so Close (and
	// tests) can drain them.
	enrichment sync.WaitGroup
}

// Open builds an Engine from config. The ctx bounds ML-extractor setup, the
// only asynchronous construction work.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Storage.Backend != "" && cfg.Storage.Backend != "sqlite" {
		return nil, locerr.NewValidation("storage.backend", "unknown backend: "+cfg.Storage.Backend)
	}

	path := cfg.Storage.Path
	if path == "" {
		path = ":memory:"
	}
	backend, err := store.Open(path, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, log: log, backend: backend}
	e.hooks = hooks.New(log)
	e.lifecycle = lifecycle.New(cfg.lifecycleConfig(), backend, log)
	e.memories = memstore.New(backend, e.hooks, e.lifecycle, log)
	e.entities = graphstore.NewEntityStore(backend)
	e.relationships = graphstore.NewRelationshipStore(backend, log)
	e.versions = versioning.New(backend, cfg.versioningConfig(), log)

	e.pipeline = extraction.NewPipelineWithML(ctx, cfg.extractionConfig(), log)
	e.resolver = resolution.New(cfg.resolutionConfig(), backend, e.entities, e.relationships, log)
	e.autorelate = autorelate.New(cfg.autorelateConfig(), backend, e.relationships, log)

	e.searcher = search.New(backend, log)
	e.universal = universal.NewSearcher(universal.DefaultConfig(), backend, e.searcher, log)
	e.intelligence = universal.NewIntelligence(backend)
	e.suggester = universal.NewSuggester(backend, e.intelligence.Sessions())

	return e, nil
}

// Close drains background enrichment, flushes lifecycle state, and closes
// the backend.
func (e *Engine) Close() error {
	e.enrichment.Wait()
	e.lifecycle.Stop()
	return e.backend.Close()
}

// Hooks exposes the registry for callers to bind lifecycle callbacks.
func (e *Engine) Hooks() *hooks.Registry { return e.hooks }

// Backend exposes the raw capability contract for advanced callers.
func (e *Engine) Backend() store.StoreBackend { return e.backend }

// --- Memory API ---

// CreateMemory writes the memory and kicks off the write-side pipeline
// (extraction → resolution → automatic relationships) in the background;
// pipeline failures log and never fail the write.
func (e *Engine) CreateMemory(ctx context.Context, m *model.Memory) (string, error) {
	id, err := e.memories.Create(ctx, m)
	if err != nil {
		return "", err
	}

	if e.cfg.EntityExtraction.Enabled {
		e.enrichment.Add(1)
		go func() {
			defer e.enrichment.Done()
			// Detached from ctx: the caller's request may complete before
			// enrichment lands.
			e.enrichMemory(context.Background(), m)
		}()
	}
	return id, nil
}

// enrichMemory runs the write-side pipeline for one stored memory.
func (e *Engine) enrichMemory(ctx context.Context, m *model.Memory) {
	extracted := e.pipeline.Extract(ctx, m.Content)
	for _, ent := range extracted {
		if _, err := e.resolver.Resolve(ctx, m, ent); err != nil {
			e.log.Warn("locai: entity resolution failed",
				zap.String("memory_id", m.ID), zap.String("entity", ent.Text), zap.Error(err))
		}
	}
	if _, err := e.autorelate.ProcessMemory(ctx, m); err != nil {
		e.log.Warn("locai: auto-relationship inference failed",
			zap.String("memory_id", m.ID), zap.Error(err))
	}
}

// WaitForEnrichment blocks until every in-flight write-side pipeline run
// has finished. Useful for tests and graceful shutdown.
func (e *Engine) WaitForEnrichment() { e.enrichment.Wait() }

func (e *Engine) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	return e.memories.Get(ctx, id)
}

func (e *Engine) UpdateMemory(ctx context.Context, m *model.Memory) (bool, error) {
	return e.memories.Update(ctx, m)
}

func (e *Engine) DeleteMemory(ctx context.Context, id string) (bool, error) {
	return e.memories.Delete(ctx, id)
}

func (e *Engine) ListMemories(ctx context.Context, filter model.MemoryFilter, opts model.ListOptions) ([]*model.Memory, error) {
	return e.memories.List(ctx, filter, opts)
}

func (e *Engine) CountMemories(ctx context.Context, filter model.MemoryFilter) (int, error) {
	return e.memories.Count(ctx, filter)
}

// SearchMemories dispatches a search with the given mode; queryEmbedding is
// required for ModeVector and joins the fusion for ModeHybrid.
func (e *Engine) SearchMemories(ctx context.Context, query string, limit int, mode search.Mode, queryEmbedding []float32) ([]search.Result, error) {
	return e.searcher.Search(ctx, query, limit, mode, queryEmbedding)
}

// ScoreResults applies multi-factor scoring with the engine's default
// scoring configuration.
func (e *Engine) ScoreResults(results []search.Result) ([]search.Result, error) {
	return e.cfg.searchDefaults().Apply(results, time.Now().UTC())
}

// --- Entity / Relationship API ---

func (e *Engine) CreateEntity(ctx context.Context, ent *model.Entity) (string, error) {
	return e.entities.Create(ctx, ent)
}

func (e *Engine) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	return e.entities.Get(ctx, id)
}

func (e *Engine) UpdateEntity(ctx context.Context, ent *model.Entity) (bool, error) {
	return e.entities.Update(ctx, ent)
}

func (e *Engine) DeleteEntity(ctx context.Context, id string) (bool, error) {
	return e.entities.Delete(ctx, id)
}

func (e *Engine) ListEntities(ctx context.Context, filter model.EntityFilter, opts model.ListOptions) ([]*model.Entity, error) {
	return e.entities.List(ctx, filter, opts)
}

func (e *Engine) CountEntities(ctx context.Context, filter model.EntityFilter) (int, error) {
	return e.entities.Count(ctx, filter)
}

func (e *Engine) CreateRelationship(ctx context.Context, r *model.Relationship) (string, error) {
	return e.relationships.Create(ctx, r)
}

func (e *Engine) GetRelationship(ctx context.Context, id string) (*model.Relationship, error) {
	return e.relationships.Get(ctx, id)
}

func (e *Engine) UpdateRelationship(ctx context.Context, r *model.Relationship) (bool, error) {
	return e.relationships.Update(ctx, r)
}

func (e *Engine) DeleteRelationship(ctx context.Context, id string) (bool, error) {
	return e.relationships.Delete(ctx, id)
}

func (e *Engine) ListRelationships(ctx context.Context, filter model.RelationshipFilter, opts model.ListOptions) ([]*model.Relationship, error) {
	return e.relationships.List(ctx, filter, opts)
}

func (e *Engine) FindRelatedEntities(ctx context.Context, entityID, relType string, dir model.RelationDirection) ([]string, error) {
	return e.relationships.FindRelatedEntities(ctx, entityID, relType, dir)
}

// --- Versioning API ---

func (e *Engine) CreateVersion(ctx context.Context, memoryID, content string, metadata model.Property) (*model.MemoryVersion, error) {
	return e.versions.CreateVersion(ctx, memoryID, content, metadata)
}

func (e *Engine) GetVersion(ctx context.Context, memoryID, versionID string) (*model.MemoryVersion, string, error) {
	return e.versions.GetVersion(ctx, memoryID, versionID)
}

func (e *Engine) ListVersions(ctx context.Context, memoryID string) ([]*model.MemoryVersion, error) {
	return e.versions.ListVersions(ctx, memoryID)
}

func (e *Engine) GetCurrentVersion(ctx context.Context, memoryID string) (*model.MemoryVersion, string, error) {
	return e.versions.GetCurrentVersion(ctx, memoryID)
}

func (e *Engine) GetMemoryAtTime(ctx context.Context, memoryID string, t time.Time) (string, bool, error) {
	return e.versions.GetMemoryAtTime(ctx, memoryID, t)
}

func (e *Engine) DiffVersions(ctx context.Context, memoryID, fromVersionID, toVersionID string) ([]model.DiffHunk, error) {
	return e.versions.DiffVersions(ctx, memoryID, fromVersionID, toVersionID)
}

func (e *Engine) CreateSnapshot(ctx context.Context, memoryIDs []string, metadata model.Property) (*model.Snapshot, error) {
	return e.versions.CreateSnapshot(ctx, memoryIDs, metadata)
}

func (e *Engine) RestoreSnapshot(ctx context.Context, snapshotID string, mode model.RestoreMode) ([]versioning.RestoreResult, error) {
	return e.versions.RestoreSnapshot(ctx, snapshotID, mode)
}

func (e *Engine) SearchSnapshot(ctx context.Context, snapshotID, query string) ([]versioning.SnapshotHit, error) {
	return e.versions.SearchSnapshot(ctx, snapshotID, query)
}

func (e *Engine) ValidateVersions(ctx context.Context) ([]model.VersionIntegrityIssue, error) {
	return e.versions.Validate(ctx)
}

func (e *Engine) RepairVersions(ctx context.Context, issues []model.VersionIntegrityIssue) []model.RepairResult {
	return e.versions.Repair(ctx, issues)
}

func (e *Engine) PromoteVersion(ctx context.Context, memoryID, versionID string) error {
	return e.versions.Promote(ctx, memoryID, versionID)
}

func (e *Engine) CompactVersions(ctx context.Context, memoryID string, filter model.CompactFilter) (int, error) {
	return e.versions.Compact(ctx, memoryID, filter)
}

func (e *Engine) VersioningStats(ctx context.Context) (model.VersioningStats, error) {
	return e.versions.Stats(ctx)
}

// --- Universal search & intelligence ---

func (e *Engine) UniversalSearch(ctx context.Context, query string, limit int) ([]universal.Result, error) {
	return e.universal.Search(ctx, query, limit)
}

func (e *Engine) AnalyzeQuery(ctx context.Context, query string) (universal.QueryAnalysis, error) {
	return e.intelligence.AnalyzeQuery(ctx, query)
}

func (e *Engine) CreateSession(userID string) string {
	return e.intelligence.Sessions().Create(userID)
}

func (e *Engine) UpdateSession(sessionID string, analysis universal.QueryAnalysis) bool {
	return e.intelligence.Sessions().Update(sessionID, analysis)
}

func (e *Engine) Suggest(ctx context.Context, partialQuery, sessionID string, limit int) ([]universal.Suggestion, error) {
	if err := e.suggester.RefreshNames(ctx); err != nil {
		return nil, err
	}
	return e.suggester.Suggest(partialQuery, sessionID, limit), nil
}
