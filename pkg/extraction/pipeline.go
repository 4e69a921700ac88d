package extraction

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Pipeline runs configured extractors in priority order and concatenates
// their outputs, filtering by the configured confidence threshold. One
// extractor failing does not prevent the others from running.
type Pipeline struct {
	cfg        Config
	extractors []Extractor
	log        *zap.Logger
}

// NewPipeline builds a pipeline with the bundled structured extractor.
// ML extractors are wired only by NewPipelineWithML — they may perform
// network setup and must not be constructed on a synchronous path.
func NewPipeline(cfg Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{cfg: cfg, log: log}
	if cfg.Enabled {
		p.Register(NewStructuredExtractor())
	}
	return p
}

// NewPipelineWithML builds a pipeline with the structured extractor plus the
// configured ML extractor, if any. The ctx bounds any extractor setup work.
func NewPipelineWithML(_ context.Context, cfg Config, log *zap.Logger) *Pipeline {
	p := NewPipeline(cfg, log)
	if cfg.Enabled && cfg.ML != nil && cfg.ML.Endpoint != "" {
		p.Register(NewHTTPExtractor(*cfg.ML))
	}
	return p
}

// Register adds an extractor, keeping the run order sorted by priority
// descending (structured first by default).
func (p *Pipeline) Register(e Extractor) {
	p.extractors = append(p.extractors, e)
	sort.SliceStable(p.extractors, func(i, j int) bool {
		return p.extractors[i].Priority() > p.extractors[j].Priority()
	})
}

// Extractors returns the registered extractors in run order.
func (p *Pipeline) Extractors() []Extractor {
	return p.extractors
}

// Extract runs every extractor in order and concatenates outputs above the
// confidence threshold, optionally deduplicating by (text, entity_type).
// Entities that arrive without an ExtractorSource are stamped with the name
// of the extractor that produced them.
func (p *Pipeline) Extract(ctx context.Context, text string) []ExtractedEntity {
	if !p.cfg.Enabled || text == "" {
		return nil
	}

	var out []ExtractedEntity
	seen := map[[2]string]bool{}

	for _, e := range p.extractors {
		entities, err := e.Extract(ctx, text)
		if err != nil {
			p.log.Warn("extraction: extractor failed, continuing",
				zap.String("extractor", e.Name()), zap.Error(err))
			continue
		}
		for _, ent := range entities {
			if ent.ExtractorSource == "" {
				ent.ExtractorSource = e.Name()
			}
			if ent.Confidence < p.cfg.ConfidenceThreshold {
				continue
			}
			if p.cfg.DeduplicateEntities {
				key := [2]string{ent.Text, ent.EntityType}
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, ent)
		}
	}
	return out
}
