// Package graphstore implements EntityStore and RelationshipStore
//: straightforward entity CRUD, plus relationship creation
// that validates endpoint kinds and mirrors a native edge.
package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
	"github.com/locai-dev/locai/pkg/store"
)

// EntityStore is straightforward JSON-document CRUD over Entity records.
type EntityStore struct {
	backend store.StoreBackend
}

func NewEntityStore(backend store.StoreBackend) *EntityStore {
	return &EntityStore{backend: backend}
}

func (s *EntityStore) Create(ctx context.Context, e *model.Entity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if err := s.backend.PutEntity(ctx, e); err != nil {
		return "", locerr.Wrap(err, "create entity")
	}
	return e.ID, nil
}

func (s *EntityStore) Get(ctx context.Context, id string) (*model.Entity, error) {
	e, err := s.backend.GetEntity(ctx, id)
	if err != nil {
		return nil, locerr.Wrap(err, "get entity")
	}
	return e, nil
}

func (s *EntityStore) Update(ctx context.Context, e *model.Entity) (bool, error) {
	existing, err := s.backend.GetEntity(ctx, e.ID)
	if err != nil {
		return false, locerr.Wrap(err, "update entity: read pre-image")
	}
	if existing == nil {
		return false, nil
	}
	e.UpdatedAt = time.Now().UTC()
	if err := s.backend.PutEntity(ctx, e); err != nil {
		return false, locerr.Wrap(err, "update entity")
	}
	return true, nil
}

// Delete removes the Entity. This does NOT cascade to relationships
// referencing it — they are left dangling; see PruneDangling for the
// opt-in cascading behavior.
func (s *EntityStore) Delete(ctx context.Context, id string) (bool, error) {
	existing, err := s.backend.GetEntity(ctx, id)
	if err != nil {
		return false, locerr.Wrap(err, "delete entity: read pre-image")
	}
	if existing == nil {
		return false, nil
	}
	if err := s.backend.DeleteEntity(ctx, id); err != nil {
		return false, locerr.Wrap(err, "delete entity")
	}
	return true, nil
}

func (s *EntityStore) List(ctx context.Context, filter model.EntityFilter, opts model.ListOptions) ([]*model.Entity, error) {
	out, err := s.backend.ListEntities(ctx, filter, opts)
	if err != nil {
		return nil, locerr.Wrap(err, "list entities")
	}
	return out, nil
}

func (s *EntityStore) Count(ctx context.Context, filter model.EntityFilter) (int, error) {
	n, err := s.backend.CountEntities(ctx, filter)
	if err != nil {
		return 0, locerr.Wrap(err, "count entities")
	}
	return n, nil
}

// RelationshipStore validates endpoint kinds on create against the
// legal-combination table, and mirrors a native edge for traversal.
type RelationshipStore struct {
	backend store.StoreBackend
	log     *zap.Logger
}

func NewRelationshipStore(backend store.StoreBackend, log *zap.Logger) *RelationshipStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RelationshipStore{backend: backend, log: log}
}

// Create validates that source/target exist and are of the legal kind for
// relationship_type, fails NotFound if missing, then writes
// the Relationship record and a best-effort native edge mirror.
func (s *RelationshipStore) Create(ctx context.Context, r *model.Relationship) (string, error) {
	sourceKind, targetKind := model.LegalEndpointKinds(r.RelationshipType)

	if err := s.checkExists(ctx, r.SourceID, sourceKind); err != nil {
		return "", err
	}
	if err := s.checkExists(ctx, r.TargetID, targetKind); err != nil {
		return "", err
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := s.backend.PutRelationship(ctx, r); err != nil {
		return "", locerr.Wrap(err, "create relationship")
	}

	if err := s.backend.PutEdge(ctx, store.Edge{
		RelationshipID: r.ID, SourceID: r.SourceID, TargetID: r.TargetID, Type: r.RelationshipType,
	}); err != nil {
		s.log.Warn("graphstore: native edge write failed", zap.String("relationship_id", r.ID), zap.Error(err))
	}
	return r.ID, nil
}

func (s *RelationshipStore) checkExists(ctx context.Context, id string, kind model.RecordKind) error {
	switch kind {
	case model.KindMemory:
		m, err := s.backend.GetMemory(ctx, id)
		if err != nil {
			return locerr.Wrap(err, "relationship endpoint lookup")
		}
		if m == nil {
			return locerr.NewNotFound(fmt.Sprintf("memory endpoint %q not found", id))
		}
	case model.KindEntity:
		e, err := s.backend.GetEntity(ctx, id)
		if err != nil {
			return locerr.Wrap(err, "relationship endpoint lookup")
		}
		if e == nil {
			return locerr.NewNotFound(fmt.Sprintf("entity endpoint %q not found", id))
		}
	case model.KindRelationship:
		r, err := s.backend.GetRelationship(ctx, id)
		if err != nil {
			return locerr.Wrap(err, "relationship endpoint lookup")
		}
		if r == nil {
			return locerr.NewNotFound(fmt.Sprintf("relationship endpoint %q not found", id))
		}
	}
	return nil
}

func (s *RelationshipStore) Get(ctx context.Context, id string) (*model.Relationship, error) {
	r, err := s.backend.GetRelationship(ctx, id)
	if err != nil {
		return nil, locerr.Wrap(err, "get relationship")
	}
	return r, nil
}

// Update mirrors the record and the native edge; the edge is matched by
// (source, target, type), so on a type/endpoint change the old edge row is
// deleted and a new one written for the updated triple.
func (s *RelationshipStore) Update(ctx context.Context, r *model.Relationship) (bool, error) {
	existing, err := s.backend.GetRelationship(ctx, r.ID)
	if err != nil {
		return false, locerr.Wrap(err, "update relationship: read pre-image")
	}
	if existing == nil {
		return false, nil
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.backend.PutRelationship(ctx, r); err != nil {
		return false, locerr.Wrap(err, "update relationship")
	}
	if existing.SourceID != r.SourceID || existing.TargetID != r.TargetID || existing.RelationshipType != r.RelationshipType {
		_ = s.backend.DeleteEdge(ctx, existing.SourceID, existing.TargetID, existing.RelationshipType)
		if err := s.backend.PutEdge(ctx, store.Edge{RelationshipID: r.ID, SourceID: r.SourceID, TargetID: r.TargetID, Type: r.RelationshipType}); err != nil {
			s.log.Warn("graphstore: native edge update failed", zap.String("relationship_id", r.ID), zap.Error(err))
		}
	}
	return true, nil
}

func (s *RelationshipStore) Delete(ctx context.Context, id string) (bool, error) {
	existing, err := s.backend.GetRelationship(ctx, id)
	if err != nil {
		return false, locerr.Wrap(err, "delete relationship: read pre-image")
	}
	if existing == nil {
		return false, nil
	}
	if err := s.backend.DeleteRelationship(ctx, id); err != nil {
		return false, locerr.Wrap(err, "delete relationship")
	}
	if err := s.backend.DeleteEdge(ctx, existing.SourceID, existing.TargetID, existing.RelationshipType); err != nil {
		s.log.Warn("graphstore: native edge delete failed", zap.String("relationship_id", id), zap.Error(err))
	}
	return true, nil
}

func (s *RelationshipStore) List(ctx context.Context, filter model.RelationshipFilter, opts model.ListOptions) ([]*model.Relationship, error) {
	out, err := s.backend.ListRelationships(ctx, filter, opts)
	if err != nil {
		return nil, locerr.Wrap(err, "list relationships")
	}
	return out, nil
}

// FindRelatedEntities traverses native edges from entityID, optionally
// filtered by relationship type and direction.
func (s *RelationshipStore) FindRelatedEntities(ctx context.Context, entityID string, relType string, dir model.RelationDirection) ([]string, error) {
	edges, err := s.backend.Traverse(ctx, entityID, relType, dir)
	if err != nil {
		return nil, locerr.Wrap(err, "find related entities")
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range edges {
		other := e.TargetID
		if e.TargetID == entityID {
			other = e.SourceID
		}
		if other != entityID && !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out, nil
}

// PruneDangling deletes every relationship (and its native edge) whose
// source or target is entityOrMemoryID. It does not check whether that
// record still exists, so the relationships of a live record are deleted
// too. This is the optional cascading cleanup; it is never invoked
// implicitly by Delete.
func (s *RelationshipStore) PruneDangling(ctx context.Context, entityOrMemoryID string) (int, error) {
	rels, err := s.backend.ListRelationships(ctx, model.RelationshipFilter{SourceID: entityOrMemoryID}, model.ListOptions{})
	if err != nil {
		return 0, locerr.Wrap(err, "prune dangling: list by source")
	}
	asTarget, err := s.backend.ListRelationships(ctx, model.RelationshipFilter{TargetID: entityOrMemoryID}, model.ListOptions{})
	if err != nil {
		return 0, locerr.Wrap(err, "prune dangling: list by target")
	}
	rels = append(rels, asTarget...)

	n := 0
	for _, r := range rels {
		ok, err := s.Delete(ctx, r.ID)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}
