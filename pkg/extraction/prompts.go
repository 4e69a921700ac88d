package extraction

import (
	"fmt"
	"strings"

	"github.com/locai-dev/locai/pkg/model"
)

// MaxTextLength is the maximum number of characters sent to a remote model.
const MaxTextLength = 8000

// SystemPrompt instructs a remote NER model to return structured JSON only.
const SystemPrompt = `You are a named-entity recognition assistant.
Extract entities from the given text.
Return ONLY a valid JSON object with one array field "entities".
No markdown, no explanation. Start with { and end with }.`

// promptEntityTypes lists the well-known entity types a remote model may
// assign; anything else should be emitted as "custom:<tag>".
var promptEntityTypes = []string{
	model.EntityTypePerson, model.EntityTypeOrganization, model.EntityTypeLocation,
	model.EntityTypeDate, model.EntityTypeTime, model.EntityTypeMoney,
	model.EntityTypeEmail, model.EntityTypePhoneNumber, model.EntityTypeURL,
	model.EntityTypeMedical, model.EntityTypeLegal, model.EntityTypeTechnical,
}

// BuildUserPrompt constructs the extraction prompt. knownEntities primes the
// model with names already in the store so repeat mentions are labeled
// consistently.
func BuildUserPrompt(text string, knownEntities []string) string {
	truncated := text
	if len(truncated) > MaxTextLength {
		truncated = truncated[:MaxTextLength]
	}

	var sb strings.Builder
	sb.WriteString("Extract named entities from this text. ")
	sb.WriteString("Return a JSON object with one array field \"entities\".\n\n")
	sb.WriteString("Each entity object must have: \"text\" (the exact surface form), ")
	sb.WriteString("\"entity_type\" (one of: ")
	sb.WriteString(strings.Join(promptEntityTypes, ", "))
	sb.WriteString(", or custom:<tag>), \"start_pos\" and \"end_pos\" (byte offsets in the text), ")
	sb.WriteString("and \"confidence\" (0.0-1.0).\n\n")

	if len(knownEntities) > 0 {
		sb.WriteString("Known entities (label repeat mentions consistently): ")
		sb.WriteString(strings.Join(knownEntities, ", "))
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "Text:\n%s\n", truncated)
	return sb.String()
}
