// Package store defines the StoreBackend capability contract
// and a SQLite-backed implementation.
package store

import (
	"context"
	"time"

	"github.com/locai-dev/locai/pkg/model"
)

// TextHit is one result of a BM25 text predicate: a memory id, its score,
// and highlighted substrings of the match.
type TextHit struct {
	MemoryID   string
	Score      float64
	Highlights []string
}

// FuzzyHit is one result of a fuzzy similarity predicate.
type FuzzyHit struct {
	MemoryID   string
	Similarity float64 // 0..1
}

// Edge is the native graph-index mirror of a Relationship, used for
// directed traversal. The Relationship record stays the logical truth.
type Edge struct {
	RelationshipID string
	SourceID       string
	TargetID       string
	Type           string
}

// StoreBackend is the capability contract the core depends on.
// No transactions across kinds are assumed; callers tolerate partial
// failure.
type StoreBackend interface {
	// Memories
	PutMemory(ctx context.Context, m *model.Memory) error
	GetMemory(ctx context.Context, id string) (*model.Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	ListMemories(ctx context.Context, filter model.MemoryFilter, opts model.ListOptions) ([]*model.Memory, error)
	CountMemories(ctx context.Context, filter model.MemoryFilter) (int, error)
	IncrementMemoryField(ctx context.Context, id, field string, delta int64) error
	// SetMemoryLastAccessed writes only the last_accessed column, so
	// background access tracking never clobbers concurrent writes to other
	// fields.
	SetMemoryLastAccessed(ctx context.Context, id string, at time.Time) error
	// SetCurrentVersion atomically sets current_version_id and increments
	// version_count by 1 in a single statement.
	SetCurrentVersion(ctx context.Context, memoryID, versionID string) error

	// Entities
	PutEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	DeleteEntity(ctx context.Context, id string) error
	ListEntities(ctx context.Context, filter model.EntityFilter, opts model.ListOptions) ([]*model.Entity, error)
	CountEntities(ctx context.Context, filter model.EntityFilter) (int, error)

	// Relationships + native edges
	PutRelationship(ctx context.Context, r *model.Relationship) error
	GetRelationship(ctx context.Context, id string) (*model.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error
	ListRelationships(ctx context.Context, filter model.RelationshipFilter, opts model.ListOptions) ([]*model.Relationship, error)
	PutEdge(ctx context.Context, e Edge) error
	DeleteEdge(ctx context.Context, sourceID, targetID, relType string) error
	Traverse(ctx context.Context, nodeID string, relType string, dir model.RelationDirection) ([]Edge, error)

	// Vectors
	PutVector(ctx context.Context, v *model.Vector) error
	GetVector(ctx context.Context, id string) (*model.Vector, error)
	DeleteVector(ctx context.Context, id string) error
	// VectorKNN returns up to k nearest memory vectors to query, or an empty
	// slice (not an error) when the backend's index is unavailable or has
	// zero results — callers fall back to brute force.
	VectorKNN(ctx context.Context, query []float32, k int) ([]VectorHit, error)
	// AllMemoryVectors supports the brute-force cosine fallback scan.
	AllMemoryVectors(ctx context.Context, dimension int) ([]*model.Vector, error)

	// Text / fuzzy predicates
	TextSearch(ctx context.Context, query string, limit int) ([]TextHit, error)
	FuzzySearch(ctx context.Context, query string, threshold float64, limit int) ([]FuzzyHit, error)

	// Versions
	PutVersion(ctx context.Context, v *model.MemoryVersion) error
	GetVersion(ctx context.Context, memoryID, versionID string) (*model.MemoryVersion, error)
	ListVersions(ctx context.Context, memoryID string) ([]*model.MemoryVersion, error)
	DeleteVersion(ctx context.Context, memoryID, versionID string) error
	ListAllMemoryIDsWithVersions(ctx context.Context) ([]string, error)

	// Snapshots
	PutSnapshot(ctx context.Context, s *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context) ([]*model.Snapshot, error)

	Close() error
}

// VectorHit is one KNN match.
type VectorHit struct {
	MemoryID   string
	Similarity float64
}
