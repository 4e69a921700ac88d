package extraction

import (
	"context"
	"regexp"
	"sort"

	"github.com/locai-dev/locai/pkg/model"
)

// StructuredExtractor finds pattern-shaped entities: emails, URLs, phone
// numbers, dates, times, and monetary amounts.
type StructuredExtractor struct {
	minConfidence float64
}

// structuredPattern couples one compiled regex with the entity type and
// confidence it yields. Patterns are tried in order; an earlier pattern's
// span suppresses overlapping later matches (an email address should not
// also surface as a URL fragment or phone number).
type structuredPattern struct {
	entityType string
	confidence float64
	// identifierKey, when set, is the unique-identifier metadata key the
	// resolution engine matches candidates on.
	identifierKey string
	re            *regexp.Regexp
}

var structuredPatterns = []structuredPattern{
	{
		entityType:    model.EntityTypeEmail,
		confidence:    0.95,
		identifierKey: "email",
		re:            regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	},
	{
		entityType:    model.EntityTypeURL,
		confidence:    0.9,
		identifierKey: "url",
		re:            regexp.MustCompile(`https?://[^\s<>"')\]]+`),
	},
	{
		entityType:    model.EntityTypePhoneNumber,
		confidence:    0.85,
		identifierKey: "phone",
		re:            regexp.MustCompile(`(?:\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}`),
	},
	{
		entityType: model.EntityTypeMoney,
		confidence: 0.9,
		re:         regexp.MustCompile(`[$€£]\d+(?:,\d{3})*(?:\.\d+)?`),
	},
	{
		entityType: model.EntityTypeDate,
		confidence: 0.85,
		re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}` +
			`|\d{1,2}/\d{1,2}/\d{2,4}` +
			`|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}`),
	},
	{
		entityType: model.EntityTypeTime,
		confidence: 0.8,
		re:         regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?(?:\s?[AaPp][Mm])?`),
	},
}

func NewStructuredExtractor() *StructuredExtractor {
	return &StructuredExtractor{}
}

// NewStructuredExtractorWithConfig returns an extractor that drops matches
// below minConfidence.
func NewStructuredExtractorWithConfig(minConfidence float64) *StructuredExtractor {
	return &StructuredExtractor{minConfidence: minConfidence}
}

func (e *StructuredExtractor) Name() string  { return "structured" }
func (e *StructuredExtractor) Priority() int { return 100 }

func (e *StructuredExtractor) SupportedTypes() []string {
	return []string{
		model.EntityTypeEmail, model.EntityTypeURL, model.EntityTypePhoneNumber,
		model.EntityTypeMoney, model.EntityTypeDate, model.EntityTypeTime,
	}
}

type span struct{ start, end int }

func overlaps(a span, spans []span) bool {
	for _, b := range spans {
		if a.start < b.end && b.start < a.end {
			return true
		}
	}
	return false
}

func (e *StructuredExtractor) Extract(_ context.Context, text string) ([]ExtractedEntity, error) {
	var out []ExtractedEntity
	var taken []span

	for _, p := range structuredPatterns {
		if p.confidence < e.minConfidence {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			s := span{loc[0], loc[1]}
			if overlaps(s, taken) {
				continue
			}
			taken = append(taken, s)

			matched := text[s.start:s.end]
			ent := ExtractedEntity{
				Text:            matched,
				EntityType:      p.entityType,
				StartPos:        s.start,
				EndPos:          s.end,
				Confidence:      p.confidence,
				ExtractorSource: e.Name(),
			}
			if p.identifierKey != "" {
				ent.Metadata = map[string]string{p.identifierKey: matched}
			}
			out = append(out, ent)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartPos < out[j].StartPos })
	return out, nil
}
