// Package implicitmatcher provides a runtime known-entity dictionary using
// Aho-Corasick. A single AC automaton serves as both dictionary lookup AND
// text scanner, so the extraction pipeline can tag mentions of entities the
// store already knows about in O(n) per document.
package implicitmatcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"

	"github.com/locai-dev/locai/pkg/model"
)

// ============================================================================
// UNIFIED CANONICALIZER - Used for BOTH pattern compilation AND document scanning
// ============================================================================

// isJoiner returns true for punctuation that commonly appears INSIDE names/terms.
// These are preserved during canonicalization to keep multiword entities coherent.
// Examples: "John D. Smith", "O'Brien", "Jean-Luc", "AT&T"
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘', // apostrophe, curly apostrophe variants
		'-', '–', '—', // hyphen, en-dash, em-dash
		'·', '.', '_', '/', '#', '&', '@': // middle dot, period, underscore, etc.
		return true
	default:
		return false
	}
}

// isSeparator returns true for characters that split tokens.
// Everything that's not a letter, digit, or joiner is a separator.
func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) {
		return false
	}
	return true
}

// CanonicalizeForMatch transforms text into a normalized form for Aho-Corasick matching.
// This is THE function used by both pattern compilation and document scanning.
// Rules:
// - Fold to lowercase
// - Preserve letters, digits, and joiners (apostrophe, hyphen, period, etc.)
// - Replace all other characters with a single space
// - Collapse multiple spaces into one
// - Trim leading/trailing spaces
//
// This allows multiword patterns like "John D. Smith" to match correctly.
func CanonicalizeForMatch(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true // Start true to trim leading spaces

	for _, ch := range s {
		c := unicode.ToLower(ch)

		// Normalize curly apostrophe to straight
		if c == '’' || c == '‘' {
			c = '\''
		}
		// Normalize en-dash/em-dash to hyphen
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else {
			// Replace any separator with a single space (collapse runs)
			if !lastWasSpace {
				out.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}

	result := out.String()
	// Trim trailing space
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// ============================================================================
// TOKEN WITH OFFSETS - For span anchoring in extraction results
// ============================================================================

// Tok represents a token with its position in the original text.
type Tok struct {
	Text  string // The token text (canonicalized)
	Start int    // Byte offset in original string
	End   int    // Byte offset (exclusive)
}

// TokenizeWithOffsets splits text into tokens while preserving byte offsets.
// Useful when extraction needs to anchor entity spans in the source memory.
func TokenizeWithOffsets(s string) []Tok {
	out := make([]Tok, 0, 64)

	i := 0
	for i < len(s) {
		// Skip separators
		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if !isSeparator(r) {
				break
			}
			i += w
		}
		start := i

		// Consume token characters
		for i < len(s) {
			r, w := utf8.DecodeRuneInString(s[i:])
			if isSeparator(r) {
				break
			}
			i += w
		}
		end := i

		if start < end {
			// Canonicalize the token text (lowercase, normalize apostrophes)
			tokenText := CanonicalizeForMatch(s[start:end])
			out = append(out, Tok{Text: tokenText, Start: start, End: end})
		}
	}

	return out
}

// ============================================================================
// StopWords - for filtering common words in candidate generation
// ============================================================================

// StopWords to filter in tokenization
var StopWords = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"the": true, "of": true, "and": true, "a": true, "an": true,
	"to": true, "in": true, "on": true, "for": true, "at": true, "by": true,
	"is": true, "it": true, "as": true, "be": true, "was": true,
	"are": true, "been": true, "with": true, "from": true, "into": true,
	"that": true, "this": true, "has": true, "have": true, "had": true,
	"his": true, "her": true, "its": true, "their": true,
}

// TokenizeNorm splits and normalizes, filtering stop words.
func TokenizeNorm(text string) []string {
	normalized := CanonicalizeForMatch(text)
	words := strings.Fields(normalized)

	result := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 0 && !StopWords[w] {
			result = append(result, w)
		}
	}
	return result
}

// typePriority orders entity types when several known entities share a
// surface form (higher = prefer). Concrete referents beat abstract ones.
func typePriority(entityType string) int {
	switch entityType {
	case model.EntityTypePerson:
		return 10
	case model.EntityTypeLocation:
		return 8
	case model.EntityTypeOrganization:
		return 7
	case model.EntityTypeEmail, model.EntityTypePhoneNumber, model.EntityTypeURL:
		return 6
	case model.EntityTypeTechnical, model.EntityTypeMedical, model.EntityTypeLegal:
		return 5
	case model.EntityTypeMoney:
		return 3
	case model.EntityTypeDate, model.EntityTypeTime:
		return 1
	default:
		return 2
	}
}

// EntityInfo holds the dictionary's view of one known entity.
type EntityInfo struct {
	ID         string
	Name       string
	EntityType string
}

// RegisteredEntity is input for dictionary compilation: one stored entity
// plus any alias surface forms it should be recognized under.
type RegisteredEntity struct {
	ID         string
	Name       string
	Aliases    []string
	EntityType string
}

// ============================================================================
// RuntimeDictionary - Dual-Purpose Aho-Corasick
// ============================================================================

// RuntimeDictionary uses AC for both dictionary lookup AND text scanning.
type RuntimeDictionary struct {
	// The AC automaton built from all surface forms
	ac *ahocorasick.Automaton

	// Pattern index -> Entity IDs (multiple entities may share pattern)
	patternToIDs [][]string

	// Normalized pattern -> pattern index
	patternIndex map[string]int

	// Entity ID -> EntityInfo
	idToInfo map[string]*EntityInfo

	// All patterns in order (for AC builder)
	patterns []string
}

// NewRuntimeDictionary creates an empty dictionary
func NewRuntimeDictionary() *RuntimeDictionary {
	return &RuntimeDictionary{
		patternToIDs: [][]string{},
		patternIndex: make(map[string]int),
		idToInfo:     make(map[string]*EntityInfo),
		patterns:     []string{},
		ac:           nil,
	}
}

// Compile builds a RuntimeDictionary from registered entities.
// Uses CanonicalizeForMatch for pattern normalization.
func Compile(entities []RegisteredEntity) (*RuntimeDictionary, error) {
	dict := NewRuntimeDictionary()

	for _, e := range entities {
		dict.idToInfo[e.ID] = &EntityInfo{
			ID:         e.ID,
			Name:       e.Name,
			EntityType: e.EntityType,
		}

		// Collect all surface forms
		surfaces := []string{e.Name}
		surfaces = append(surfaces, e.Aliases...)
		surfaces = append(surfaces, generateAutoAliases(e.Name, e.EntityType)...)

		for _, surface := range surfaces {
			// USE THE SHARED CANONICALIZER - critical for matching consistency
			key := CanonicalizeForMatch(surface)
			if key == "" {
				continue
			}

			// Check if pattern already exists
			if idx, exists := dict.patternIndex[key]; exists {
				// Add entity ID to existing pattern
				dict.patternToIDs[idx] = appendUnique(dict.patternToIDs[idx], e.ID)
			} else {
				// New pattern
				idx := len(dict.patterns)
				dict.patterns = append(dict.patterns, key)
				dict.patternIndex[key] = idx
				dict.patternToIDs = append(dict.patternToIDs, []string{e.ID})
			}
		}
	}

	// Build AC automaton
	// Use LeftmostLongest for standard entity extraction behavior (prefer "San Francisco" over "San")
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(dict.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()

	if err != nil {
		return nil, err
	}
	dict.ac = automaton

	return dict, nil
}

// ============================================================================
// Dictionary Lookup (Use 1)
// ============================================================================

// Lookup finds entities matching a surface form (exact dictionary lookup)
func (d *RuntimeDictionary) Lookup(surface string) []*EntityInfo {
	if d.ac == nil {
		return nil
	}

	key := CanonicalizeForMatch(surface)
	idx, exists := d.patternIndex[key]
	if !exists {
		return nil
	}

	ids := d.patternToIDs[idx]
	result := make([]*EntityInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := d.idToInfo[id]; ok {
			result = append(result, info)
		}
	}
	return result
}

// IsKnownEntity checks if a token matches any known entity
func (d *RuntimeDictionary) IsKnownEntity(token string) bool {
	key := CanonicalizeForMatch(token)
	_, exists := d.patternIndex[key]
	return exists
}

// GetInfo retrieves entity info by ID
func (d *RuntimeDictionary) GetInfo(id string) *EntityInfo {
	return d.idToInfo[id]
}

// ============================================================================
// Text Scanning (Use 2)
// ============================================================================

// Match represents a detected entity mention in text
type Match struct {
	Start       int    // Byte offset start in ORIGINAL text
	End         int    // Byte offset end in ORIGINAL text
	MatchedText string // Original text slice (preserves casing)
	PatternIdx  int    // Index into patterns slice
}

// Scan finds all entity mentions in text (O(n) via AC).
// Uses CanonicalizeForMatch on input - THE SAME canonicalizer used for patterns.
// Returns offsets mapped back to the original text for accurate spans.
func (d *RuntimeDictionary) Scan(text string) []Match {
	if d.ac == nil {
		return nil
	}

	// Canonicalize the input text THE SAME WAY we canonicalized patterns
	canonicalized := CanonicalizeForMatch(text)
	haystack := []byte(canonicalized)

	// Build a mapping from canonicalized byte positions to original byte positions
	// This handles cases where canonicalization changes string length
	canonToOrig := buildOffsetMap(text)

	// Use FindAllOverlapping to find ALL entity mentions
	// For entity extraction we want every match; overlap handling is done at higher level
	matches := d.ac.FindAllOverlapping(haystack)
	result := make([]Match, 0, len(matches))

	for _, m := range matches {
		// Map canonicalized offsets back to original text
		origStart := mapOffset(m.Start, canonToOrig, len(text))
		origEnd := mapOffset(m.End, canonToOrig, len(text))

		// Validate bounds
		if origStart >= len(text) || origEnd > len(text) || origStart >= origEnd {
			continue
		}

		result = append(result, Match{
			Start:       origStart,
			End:         origEnd,
			MatchedText: text[origStart:origEnd],
			PatternIdx:  m.PatternID,
		})
	}

	return result
}

// buildOffsetMap creates a mapping from canonicalized byte positions to original positions.
// This allows us to map matches found in canonicalized text back to the original.
func buildOffsetMap(original string) []int {
	// For each byte position in the canonicalized string, store the corresponding
	// position in the original string
	mapping := make([]int, 0, len(original)+1)

	lastWasSpace := true
	origPos := 0

	for _, ch := range original {
		runeLen := utf8.RuneLen(ch)
		c := unicode.ToLower(ch)

		// Normalize curly apostrophe
		if c == '’' || c == '‘' {
			c = '\''
		}
		// Normalize dashes
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			// This character appears in canonicalized output
			canonLen := utf8.RuneLen(c)
			for i := 0; i < canonLen; i++ {
				mapping = append(mapping, origPos)
			}
			lastWasSpace = false
		} else {
			// Separator - may become a single space
			if !lastWasSpace {
				mapping = append(mapping, origPos)
				lastWasSpace = true
			}
		}

		origPos += runeLen
	}

	// Add final position for end-of-string
	mapping = append(mapping, origPos)

	return mapping
}

// mapOffset converts a canonicalized byte offset to an original byte offset
func mapOffset(canonOffset int, mapping []int, originalLen int) int {
	if canonOffset >= len(mapping) {
		return originalLen
	}
	if canonOffset < 0 {
		return 0
	}
	return mapping[canonOffset]
}

// ScanWithInfo returns matches with resolved entity info
func (d *RuntimeDictionary) ScanWithInfo(text string) []struct {
	Match
	Entities []*EntityInfo
} {
	matches := d.Scan(text)
	result := make([]struct {
		Match
		Entities []*EntityInfo
	}, 0, len(matches))

	for _, m := range matches {
		ids := d.patternToIDs[m.PatternIdx]
		entities := make([]*EntityInfo, 0, len(ids))
		for _, id := range ids {
			if info := d.idToInfo[id]; info != nil {
				entities = append(entities, info)
			}
		}

		result = append(result, struct {
			Match
			Entities []*EntityInfo
		}{m, entities})
	}

	return result
}

// SelectBest picks the highest-priority entity from matches when several
// known entities share the same surface form.
func (d *RuntimeDictionary) SelectBest(ids []string) *EntityInfo {
	var best *EntityInfo
	for _, id := range ids {
		info := d.idToInfo[id]
		if info == nil {
			continue
		}
		if best == nil || typePriority(info.EntityType) > typePriority(best.EntityType) {
			best = info
		}
	}
	return best
}

// ============================================================================
// Auto-Alias Generation
// ============================================================================

func generateAutoAliases(name string, entityType string) []string {
	tokens := TokenizeNorm(name)
	if len(tokens) <= 1 {
		return nil
	}

	first := tokens[0]
	last := tokens[len(tokens)-1]
	var out []string

	if entityType == model.EntityTypePerson {
		if len(last) >= 3 {
			out = append(out, last)
		}
		if len(tokens) >= 3 && first != last {
			out = append(out, first+" "+last)
		}
		if len(first) >= 4 && first != last {
			out = append(out, first)
		}
	}

	if entityType == model.EntityTypeOrganization {
		var acronym strings.Builder
		for _, tok := range tokens {
			if len(tok) > 0 {
				acronym.WriteByte(tok[0])
			}
		}
		if acronym.Len() >= 2 && acronym.Len() <= 5 {
			out = append(out, acronym.String())
		}

		suffixes := []string{"inc", "corp", "llc", "ltd", "company", "group"}
		for _, suffix := range suffixes {
			if last == suffix && len(tokens) >= 2 {
				partial := strings.Join(tokens[:len(tokens)-1], " ")
				out = append(out, partial)
				break
			}
		}
	}

	if entityType == model.EntityTypeLocation && len(first) >= 4 {
		out = append(out, first)
	}

	return out
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}
