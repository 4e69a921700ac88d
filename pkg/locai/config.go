// Package locai wires every component behind one stable API: a
// single Engine owning the store backend, the write-side
// extraction/resolution/auto-relationship pipeline, and the read-side
// search stack.
package locai

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/locai-dev/locai/pkg/autorelate"
	"github.com/locai-dev/locai/pkg/extraction"
	"github.com/locai-dev/locai/pkg/lifecycle"
	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/resolution"
	"github.com/locai-dev/locai/pkg/search"
	"github.com/locai-dev/locai/pkg/versioning"
)

// Config is the full configuration surface the engine honours.
// DefaultConfig holds the documented defaults; LoadConfig reads a YAML file
// over them.
type Config struct {
	Storage struct {
		// Path is the storage root; ":memory:" keeps everything ephemeral.
		Path string `yaml:"path"`
		// Backend selects the StoreBackend implementation; "sqlite" is the
		// only bundled one.
		Backend string `yaml:"backend"`
		// Namespace and Database are loaded from YAML but not read by
		// Open; they do not partition the store.
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	EntityExtraction struct {
		Enabled             bool     `yaml:"enabled"`
		ConfidenceThreshold float64  `yaml:"confidence_threshold"`
		DeduplicateEntities bool     `yaml:"deduplicate_entities"`
		Extractors          []string `yaml:"extractors"`

		ML *extraction.MLConfig `yaml:"ml,omitempty"`

		Resolution struct {
			Strategy              string  `yaml:"strategy"`
			SimilarityThreshold   float64 `yaml:"similarity_threshold"`
			MinConfidenceForMerge float64 `yaml:"min_confidence_for_merge"`

			Disambiguation struct {
				Enabled                bool    `yaml:"enabled"`
				ContextWindow          int     `yaml:"context_window"`
				CheckUniqueIdentifiers bool    `yaml:"check_unique_identifiers"`
				CheckCooccurrence      bool    `yaml:"check_cooccurrence"`
				CheckTemporalProximity bool    `yaml:"check_temporal_proximity"`
				IdentifierWeight       float64 `yaml:"identifier_weight"`
				ContextWeight          float64 `yaml:"context_weight"`
				CooccurrenceWeight     float64 `yaml:"cooccurrence_weight"`
				TemporalWeight         float64 `yaml:"temporal_weight"`
			} `yaml:"disambiguation"`
		} `yaml:"resolution"`

		AutomaticRelationships struct {
			Enabled       bool     `yaml:"enabled"`
			Methods       []string `yaml:"methods"`
			MinConfidence float64  `yaml:"min_confidence"`
			MaxPerMemory  int      `yaml:"max_per_memory"`
			MaxTimeGap    string   `yaml:"max_time_gap"`
		} `yaml:"automatic_relationships"`
	} `yaml:"entity_extraction"`

	Versioning struct {
		DeltaThreshold            int  `yaml:"delta_threshold"`
		EnableCompression         bool `yaml:"enable_compression"`
		CompressionThresholdDays  int  `yaml:"compression_threshold_days"`
		EnableReconstructionCache bool `yaml:"enable_reconstruction_cache"`
		EnableAutoPromotion       bool `yaml:"enable_auto_promotion"`
	} `yaml:"versioning"`

	LifecycleTracking struct {
		Enabled     bool `yaml:"enabled"`
		UpdateOnGet bool `yaml:"update_on_get"`
		Blocking    bool `yaml:"blocking"`
		Batched     bool `yaml:"batched"`
	} `yaml:"lifecycle_tracking"`
}

// DefaultConfig is the configuration a fresh Engine runs with when the
// caller supplies nothing.
func DefaultConfig() Config {
	var c Config
	c.Storage.Path = ":memory:"
	c.Storage.Backend = "sqlite"

	c.EntityExtraction.Enabled = true
	c.EntityExtraction.ConfidenceThreshold = 0.5
	c.EntityExtraction.DeduplicateEntities = true

	c.EntityExtraction.Resolution.Strategy = string(resolution.StrategyBalanced)
	c.EntityExtraction.Resolution.SimilarityThreshold = 0.8
	c.EntityExtraction.Resolution.MinConfidenceForMerge = 0.7
	c.EntityExtraction.Resolution.Disambiguation.Enabled = true
	c.EntityExtraction.Resolution.Disambiguation.ContextWindow = 100
	c.EntityExtraction.Resolution.Disambiguation.CheckUniqueIdentifiers = true
	c.EntityExtraction.Resolution.Disambiguation.CheckCooccurrence = true
	c.EntityExtraction.Resolution.Disambiguation.CheckTemporalProximity = true
	c.EntityExtraction.Resolution.Disambiguation.IdentifierWeight = 0.4
	c.EntityExtraction.Resolution.Disambiguation.ContextWeight = 0.3
	c.EntityExtraction.Resolution.Disambiguation.CooccurrenceWeight = 0.2
	c.EntityExtraction.Resolution.Disambiguation.TemporalWeight = 0.1

	c.EntityExtraction.AutomaticRelationships.Enabled = true
	c.EntityExtraction.AutomaticRelationships.Methods = []string{
		string(autorelate.MethodEntityCoreference),
		string(autorelate.MethodTemporalProximity),
		string(autorelate.MethodTopicSimilarity),
	}
	c.EntityExtraction.AutomaticRelationships.MinConfidence = 0.3
	c.EntityExtraction.AutomaticRelationships.MaxPerMemory = 10
	c.EntityExtraction.AutomaticRelationships.MaxTimeGap = "1h"

	c.Versioning.DeltaThreshold = 10
	c.Versioning.EnableCompression = true
	c.Versioning.CompressionThresholdDays = 7
	c.Versioning.EnableReconstructionCache = true
	c.Versioning.EnableAutoPromotion = true

	c.LifecycleTracking.Enabled = true
	c.LifecycleTracking.UpdateOnGet = true
	c.LifecycleTracking.Blocking = true
	return c
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, locerr.NewStorage("read config", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, locerr.NewValidation("config", "malformed YAML: "+err.Error())
	}
	return cfg, nil
}

func (c Config) extractionConfig() extraction.Config {
	return extraction.Config{
		Enabled:             c.EntityExtraction.Enabled,
		ConfidenceThreshold: c.EntityExtraction.ConfidenceThreshold,
		DeduplicateEntities: c.EntityExtraction.DeduplicateEntities,
		ML:                  c.EntityExtraction.ML,
	}
}

func (c Config) resolutionConfig() resolution.Config {
	d := c.EntityExtraction.Resolution.Disambiguation
	return resolution.Config{
		Strategy:              resolution.MergeStrategy(c.EntityExtraction.Resolution.Strategy),
		SimilarityThreshold:   c.EntityExtraction.Resolution.SimilarityThreshold,
		MinConfidenceForMerge: c.EntityExtraction.Resolution.MinConfidenceForMerge,
		Disambiguation: resolution.DisambiguationConfig{
			Enabled:                d.Enabled,
			ContextWindow:          d.ContextWindow,
			CheckUniqueIdentifiers: d.CheckUniqueIdentifiers,
			CheckCooccurrence:      d.CheckCooccurrence,
			CheckTemporalProximity: d.CheckTemporalProximity,
			Weights: resolution.ConfidenceWeights{
				Identifiers:  d.IdentifierWeight,
				Context:      d.ContextWeight,
				Cooccurrence: d.CooccurrenceWeight,
				Temporal:     d.TemporalWeight,
			},
		},
	}
}

func (c Config) autorelateConfig() autorelate.Config {
	cfg := autorelate.DefaultConfig()
	ar := c.EntityExtraction.AutomaticRelationships
	cfg.Enabled = ar.Enabled
	if len(ar.Methods) > 0 {
		cfg.Methods = cfg.Methods[:0]
		for _, m := range ar.Methods {
			cfg.Methods = append(cfg.Methods, autorelate.Method(m))
		}
	}
	if ar.MinConfidence > 0 {
		cfg.MinConfidence = ar.MinConfidence
	}
	if ar.MaxPerMemory > 0 {
		cfg.MaxPerMemory = ar.MaxPerMemory
	}
	if ar.MaxTimeGap != "" {
		if gap, err := time.ParseDuration(ar.MaxTimeGap); err == nil {
			cfg.TemporalMaxGap = gap
		}
	}
	return cfg
}

func (c Config) versioningConfig() versioning.Config {
	cfg := versioning.DefaultConfig()
	cfg.DeltaThreshold = c.Versioning.DeltaThreshold
	cfg.EnableCompression = c.Versioning.EnableCompression
	cfg.CompressionThresholdDays = c.Versioning.CompressionThresholdDays
	cfg.EnableReconstructionCache = c.Versioning.EnableReconstructionCache
	cfg.EnableAutoPromotion = c.Versioning.EnableAutoPromotion
	return cfg
}

func (c Config) lifecycleConfig() lifecycle.Config {
	mode := lifecycle.ModeAsync
	if c.LifecycleTracking.Blocking {
		mode = lifecycle.ModeBlocking
	}
	if c.LifecycleTracking.Batched {
		mode = lifecycle.ModeBatched
	}
	return lifecycle.Config{
		Enabled:       c.LifecycleTracking.Enabled,
		UpdateOnGet:   c.LifecycleTracking.UpdateOnGet,
		Mode:          mode,
		FlushInterval: 2 * time.Second,
	}
}

// searchDefaults is the scoring configuration applied when a caller opts
// into multi-factor scoring without supplying one.
func (c Config) searchDefaults() search.ScoringConfig {
	return search.DefaultScoringConfig()
}
