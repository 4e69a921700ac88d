package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseResponse parses a raw model response into extracted entities.
// Handles markdown code fences and attempts repair on malformed JSON.
func ParseResponse(raw string) ([]ExtractedEntity, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, nil
	}

	// Try parsing as the requested {entities: [...]} envelope
	var envelope struct {
		Entities []ExtractedEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err == nil && envelope.Entities != nil {
		return filterEntities(envelope.Entities), nil
	}

	// If that fails, try a bare array of entity objects
	var arr []ExtractedEntity
	if err := json.Unmarshal([]byte(cleaned), &arr); err == nil {
		return filterEntities(arr), nil
	}

	// Last resort: regex repair
	entities := repairEntities(cleaned)
	if len(entities) == 0 {
		return nil, fmt.Errorf("extraction: failed to parse model response")
	}
	return entities, nil
}

// stripCodeFence removes markdown code block wrappers (```json ... ```).
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	// Remove first line (```json or ```)
	if len(lines) > 0 {
		lines = lines[1:]
	}
	// Remove last line if it's a closing fence
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// filterEntities validates and cleans parsed entities.
func filterEntities(in []ExtractedEntity) []ExtractedEntity {
	out := make([]ExtractedEntity, 0, len(in))
	for _, e := range in {
		e.Text = strings.TrimSpace(e.Text)
		e.EntityType = strings.ToLower(strings.TrimSpace(e.EntityType))
		if e.Text == "" || e.EntityType == "" {
			continue
		}
		if e.Confidence <= 0 {
			e.Confidence = 0.8
		}
		if e.EndPos < e.StartPos {
			e.StartPos, e.EndPos = 0, 0
		}
		out = append(out, e)
	}
	return out
}

// entityPattern matches complete JSON entity objects for repair — the model
// sometimes emits valid objects inside broken surrounding JSON.
var entityPattern = regexp.MustCompile(
	`\{\s*"text"\s*:\s*"[^"]+"\s*,\s*"entity_type"\s*:\s*"[^"]+"\s*(?:,\s*"[^"]+"\s*:\s*(?:"[^"]*"|[\d.]+|\[[^\]]*\]|\{[^}]*\}|true|false|null))*\s*\}`,
)

// repairEntities attempts to recover entity objects from malformed JSON.
func repairEntities(raw string) []ExtractedEntity {
	matches := entityPattern.FindAllString(raw, -1)
	entities := make([]ExtractedEntity, 0, len(matches))

	for _, m := range matches {
		var e ExtractedEntity
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue
		}
		entities = append(entities, e)
	}
	return filterEntities(entities)
}
