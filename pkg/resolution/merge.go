package resolution

import (
	"time"

	"github.com/locai-dev/locai/pkg/extraction"
	"github.com/locai-dev/locai/pkg/model"
)

// Merge folds an extracted entity into an existing one per the configured
// strategy:
//
//   - conservative: only add property keys the entity doesn't have;
//   - balanced: overwrite a key when the new confidence is higher (or the
//     key is absent), and raise the stored confidence when beaten;
//   - aggressive: always overwrite supplied keys, update confidence, and
//     replace name when the new confidence beats the stored one.
func (e *Engine) Merge(existing *model.Entity, extracted extraction.ExtractedEntity) *model.Entity {
	merged := *existing
	props := merged.Properties
	storedConfidence := existing.Confidence()

	switch e.cfg.Strategy {
	case StrategyConservative:
		for k, v := range extracted.Metadata {
			if _, ok := props.Get(k); !ok {
				props = props.With(k, model.StringProperty(v))
			}
		}

	case StrategyAggressive:
		for k, v := range extracted.Metadata {
			props = props.With(k, model.StringProperty(v))
		}
		props = props.With("confidence", model.NumberProperty(extracted.Confidence))
		if extracted.Text != existing.Name() && extracted.Confidence > storedConfidence {
			props = props.With("name", model.StringProperty(extracted.Text))
		}

	default: // StrategyBalanced
		for k, v := range extracted.Metadata {
			_, exists := props.Get(k)
			if !exists || extracted.Confidence > storedConfidence {
				props = props.With(k, model.StringProperty(v))
			}
		}
		if extracted.Confidence > storedConfidence {
			props = props.With("confidence", model.NumberProperty(extracted.Confidence))
		}
	}

	merged.Properties = props
	merged.UpdatedAt = time.Now().UTC()
	return &merged
}
