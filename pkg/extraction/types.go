// Package extraction implements the write-side entity extraction pipeline
//: a structured regex extractor, a known-term dictionary
// extractor, and pluggable ML extractors behind a shared interface, composed
// by a Pipeline that owns ordering and confidence filtering.
package extraction

import "context"

// ExtractedEntity is one entity mention produced by an extractor.
// Metadata carries extractor-specific fields; for structured types it holds
// the unique-identifier property (email/phone/url) resolution keys on.
type ExtractedEntity struct {
	Text            string            `json:"text"`
	EntityType      string            `json:"entity_type"`
	StartPos        int               `json:"start_pos"`
	EndPos          int               `json:"end_pos"`
	Confidence      float64           `json:"confidence"`
	ExtractorSource string            `json:"extractor_source"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Extractor is the interface every extractor conforms to. The Pipeline
// owns ordering (by Priority, descending) and
// confidence filtering; extractors just report what they see.
type Extractor interface {
	Name() string
	Priority() int
	SupportedTypes() []string
	Extract(ctx context.Context, text string) ([]ExtractedEntity, error)
}

// Config carries the entity_extraction options that concern the
// pipeline itself; resolution options live in pkg/resolution.
type Config struct {
	Enabled             bool
	ConfidenceThreshold float64
	DeduplicateEntities bool

	// ML holds the optional remote-model extractor configuration. ML
	// extractors run only if configured, and are wired only by the
	// asynchronous constructor NewPipelineWithML.
	ML *MLConfig
}

// DefaultConfig enables structured extraction with the threshold the
// resolution stage expects for auto-created entities.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		ConfidenceThreshold: 0.5,
		DeduplicateEntities: true,
	}
}
