package model

import "time"

// Well-known EntityType values. Callers may also use "custom:<tag>".
const (
	EntityTypePerson       = "person"
	EntityTypeOrganization = "organization"
	EntityTypeLocation     = "location"
	EntityTypeDate         = "date"
	EntityTypeTime         = "time"
	EntityTypeMoney        = "money"
	EntityTypeEmail        = "email"
	EntityTypePhoneNumber  = "phone_number"
	EntityTypeURL          = "url"
	EntityTypeMedical      = "medical"
	EntityTypeLegal        = "legal"
	EntityTypeTechnical    = "technical"
)

// Entity is a referent mentioned by or attached to memories.
// Properties conventionally carries name, confidence, extractor_source,
// start_pos, end_pos alongside any caller-defined fields.
type Entity struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	Properties Property  `json:"properties"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Name reads the conventional "name" property, if present.
func (e *Entity) Name() string {
	if v, ok := e.Properties.Get("name"); ok {
		if s, ok := v.AsString(); ok {
			return s
		}
	}
	return ""
}

// Confidence reads the conventional "confidence" property, defaulting to 0.
func (e *Entity) Confidence() float64 {
	if v, ok := e.Properties.Get("confidence"); ok {
		if n, ok := v.AsNumber(); ok {
			return n
		}
	}
	return 0
}

// EntityFilter describes the predicate for EntityStore.List.
type EntityFilter struct {
	EntityType       *string
	NameSubstring    string
	PropertiesEquals map[string]Property
}

// RecordKind identifies which record kind a Relationship endpoint refers to.
type RecordKind string

const (
	KindMemory       RecordKind = "memory"
	KindEntity       RecordKind = "entity"
	KindRelationship RecordKind = "relationship"
)

// RelationDirection selects traversal direction for find_related_entities.
type RelationDirection string

const (
	DirectionIn   RelationDirection = "in"
	DirectionOut  RelationDirection = "out"
	DirectionBoth RelationDirection = "both"
)
