// Package memstore implements MemoryStore: CRUD of memories,
// paired-vector maintenance, and lifecycle/hook glue.
package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/hooks"
	"github.com/locai-dev/locai/pkg/lifecycle"
	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

// Store owns memory CRUD plus the glue around it: paired-vector
// maintenance, lifecycle tracking, and hook dispatch.
type Store struct {
	backend   store.StoreBackend
	hooks     *hooks.Registry
	lifecycle *lifecycle.Tracker
	log       *zap.Logger
}

func New(backend store.StoreBackend, hookRegistry *hooks.Registry, tracker *lifecycle.Tracker, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, hooks: hookRegistry, lifecycle: tracker, log: log}
}

// Create assigns an id if absent, writes the Memory, then upserts the
// paired Vector if an embedding is present (embedding failures are logged
// and swallowed — the Memory write is the source of truth). on-created
// hooks fire after the write returns, fire-and-forget.
func (s *Store) Create(ctx context.Context, m *model.Memory) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Priority == "" {
		m.Priority = model.PriorityNormal
	}
	if m.Properties.IsZero() {
		m.Properties = model.NullProperty()
	}

	if err := s.backend.PutMemory(ctx, m); err != nil {
		return "", locerr.Wrap(err, "create memory")
	}

	if len(m.Embedding) > 0 {
		v := model.NewMemoryVector(m.ID, m.Embedding, m.CreatedAt)
		if err := s.backend.PutVector(ctx, v); err != nil {
			s.log.Warn("memstore: paired vector write failed", zap.String("memory_id", m.ID), zap.Error(err))
		}
	}

	if s.hooks != nil {
		s.hooks.DispatchCreated(m)
	}
	return m.ID, nil
}

// Get returns a Memory or nil. With lifecycle tracking's update_on_get
// enabled, the returned value has access_count/last_accessed updated
// in-memory immediately, with persistence following the configured mode
// so callers always see coherent counts.
func (s *Store) Get(ctx context.Context, id string) (*model.Memory, error) {
	m, err := s.backend.GetMemory(ctx, id)
	if err != nil {
		return nil, locerr.Wrap(err, "get memory")
	}
	if m == nil {
		return nil, nil
	}

	if s.lifecycle != nil {
		now := time.Now().UTC()
		if s.lifecycle.UpdateOnGet() {
			m.AccessCount++
			m.LastAccessed = &now
		}
		s.lifecycle.Record(ctx, id, now)
	}

	if s.hooks != nil {
		s.hooks.DispatchAccessed(m)
	}
	return m, nil
}

// Update reads the pre-image via a hook-free internal read (to avoid
// recursion), applies the change, reconciles the paired Vector, then fires
// on-updated hooks with (old, new).
func (s *Store) Update(ctx context.Context, m *model.Memory) (bool, error) {
	old, err := s.backend.GetMemory(ctx, m.ID)
	if err != nil {
		return false, locerr.Wrap(err, "update memory: read pre-image")
	}
	if old == nil {
		return false, nil
	}

	if err := s.backend.PutMemory(ctx, m); err != nil {
		return false, locerr.Wrap(err, "update memory")
	}

	if err := s.reconcileVector(ctx, old, m); err != nil {
		s.log.Warn("memstore: vector reconciliation failed", zap.String("memory_id", m.ID), zap.Error(err))
	}

	if s.hooks != nil {
		s.hooks.DispatchUpdated(old, m)
	}
	return true, nil
}

func (s *Store) reconcileVector(ctx context.Context, old, new *model.Memory) error {
	hadEmbedding := len(old.Embedding) > 0
	hasEmbedding := len(new.Embedding) > 0
	switch {
	case hasEmbedding:
		return s.backend.PutVector(ctx, model.NewMemoryVector(new.ID, new.Embedding, new.CreatedAt))
	case hadEmbedding && !hasEmbedding:
		return s.backend.DeleteVector(ctx, new.VectorID())
	default:
		return nil
	}
}

// Delete fires before-deleted hooks synchronously; any hook returning
// false vetoes the deletion. On consent, deletes the paired Vector
// (best-effort) then the Memory.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	m, err := s.backend.GetMemory(ctx, id)
	if err != nil {
		return false, locerr.Wrap(err, "delete memory: read pre-image")
	}
	if m == nil {
		return false, nil
	}

	if s.hooks != nil && !s.hooks.DispatchBeforeDeleted(m) {
		return false, nil
	}

	if len(m.Embedding) > 0 {
		if err := s.backend.DeleteVector(ctx, m.VectorID()); err != nil {
			s.log.Warn("memstore: paired vector delete failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
	if err := s.backend.DeleteMemory(ctx, id); err != nil {
		return false, locerr.Wrap(err, "delete memory")
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, filter model.MemoryFilter, opts model.ListOptions) ([]*model.Memory, error) {
	out, err := s.backend.ListMemories(ctx, filter, opts)
	if err != nil {
		return nil, locerr.Wrap(err, "list memories")
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, filter model.MemoryFilter) (int, error) {
	n, err := s.backend.CountMemories(ctx, filter)
	if err != nil {
		return 0, locerr.Wrap(err, "count memories")
	}
	return n, nil
}
