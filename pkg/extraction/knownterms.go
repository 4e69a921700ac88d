package extraction

import (
	"context"
	"sort"

	implicitmatcher "github.com/locai-dev/locai/pkg/implicit-matcher"
	"github.com/locai-dev/locai/pkg/model"
)

// KnownTermExtractor tags mentions of entities the store already knows about
// using a compiled Aho-Corasick dictionary. It lets a second mention of
// "Acme Corp" resolve to the stored entity without a fuzzy scan, and anchors
// start/end positions in the source text for disambiguation's context window.
type KnownTermExtractor struct {
	dict *implicitmatcher.RuntimeDictionary
}

// NewKnownTermExtractor compiles the dictionary from stored entities. Entities
// without a usable name are skipped.
func NewKnownTermExtractor(entities []*model.Entity) (*KnownTermExtractor, error) {
	registered := make([]implicitmatcher.RegisteredEntity, 0, len(entities))
	for _, e := range entities {
		name := e.Name()
		if name == "" {
			continue
		}
		registered = append(registered, implicitmatcher.RegisteredEntity{
			ID:         e.ID,
			Name:       name,
			EntityType: e.EntityType,
			Aliases:    entityAliases(e),
		})
	}

	dict, err := implicitmatcher.Compile(registered)
	if err != nil {
		return nil, err
	}
	return &KnownTermExtractor{dict: dict}, nil
}

func entityAliases(e *model.Entity) []string {
	v, ok := e.Properties.Get("aliases")
	if !ok {
		return nil
	}
	arr, ok := v.AsArray()
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *KnownTermExtractor) Name() string  { return "known_terms" }
func (e *KnownTermExtractor) Priority() int { return 90 }

// SupportedTypes is open-ended: the dictionary carries whatever types the
// stored entities have.
func (e *KnownTermExtractor) SupportedTypes() []string { return nil }

func (e *KnownTermExtractor) Extract(_ context.Context, text string) ([]ExtractedEntity, error) {
	hits := e.dict.ScanWithInfo(text)
	// The scan reports overlapping hits (an acronym alias inside a full
	// name); the longest span wins.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].End-hits[i].Start > hits[j].End-hits[j].Start
	})
	var out []ExtractedEntity
	var taken []span
	for _, hit := range hits {
		s := span{hit.Start, hit.End}
		if overlaps(s, taken) {
			continue
		}
		taken = append(taken, s)
		ids := make([]string, 0, len(hit.Entities))
		for _, info := range hit.Entities {
			ids = append(ids, info.ID)
		}
		best := e.dict.SelectBest(ids)
		if best == nil {
			continue
		}
		out = append(out, ExtractedEntity{
			Text:            hit.MatchedText,
			EntityType:      best.EntityType,
			StartPos:        hit.Start,
			EndPos:          hit.End,
			Confidence:      0.85,
			ExtractorSource: e.Name(),
			Metadata:        map[string]string{"id": best.ID},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartPos < out[j].StartPos })
	return out, nil
}
