package model

import (
	"encoding/json"
	"fmt"
)

// Property is a JSON-isomorphic tagged value tree used for the free-form
// `properties` bag carried by Memory, Entity, and Relationship records.
// It never exposes a language-specific map type in its public contract:
// construct and inspect it through the helpers below or via json.Marshal/
// Unmarshal.
type Property struct {
	kind  propertyKind
	str   string
	num   float64
	boo   bool
	arr   []Property
	obj   map[string]Property
	isSet bool
}

type propertyKind int

const (
	PropertyNull propertyKind = iota
	PropertyString
	PropertyNumber
	PropertyBool
	PropertyArray
	PropertyObject
)

func NullProperty() Property            { return Property{kind: PropertyNull, isSet: true} }
func StringProperty(s string) Property  { return Property{kind: PropertyString, str: s, isSet: true} }
func NumberProperty(n float64) Property { return Property{kind: PropertyNumber, num: n, isSet: true} }
func BoolProperty(b bool) Property      { return Property{kind: PropertyBool, boo: b, isSet: true} }
func ArrayProperty(items ...Property) Property {
	return Property{kind: PropertyArray, arr: items, isSet: true}
}

// ObjectProperty builds an object-kind Property from a plain map. The map is
// copied; mutating the argument afterward does not affect the result.
func ObjectProperty(fields map[string]Property) Property {
	cp := make(map[string]Property, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Property{kind: PropertyObject, obj: cp, isSet: true}
}

func (p Property) Kind() propertyKind { return p.kind }
func (p Property) IsZero() bool       { return !p.isSet }

func (p Property) AsString() (string, bool) {
	if p.kind != PropertyString {
		return "", false
	}
	return p.str, true
}

func (p Property) AsNumber() (float64, bool) {
	if p.kind != PropertyNumber {
		return 0, false
	}
	return p.num, true
}

func (p Property) AsBool() (bool, bool) {
	if p.kind != PropertyBool {
		return false, false
	}
	return p.boo, true
}

func (p Property) AsArray() ([]Property, bool) {
	if p.kind != PropertyArray {
		return nil, false
	}
	return p.arr, true
}

func (p Property) AsObject() (map[string]Property, bool) {
	if p.kind != PropertyObject {
		return nil, false
	}
	return p.obj, true
}

// Get looks up a key on an object-kind Property; returns the zero Property
// and false for any other kind or a missing key.
func (p Property) Get(key string) (Property, bool) {
	if p.kind != PropertyObject {
		return Property{}, false
	}
	v, ok := p.obj[key]
	return v, ok
}

// With returns a copy of an object-kind Property (or a fresh object if p is
// null/zero) with key set to value.
func (p Property) With(key string, value Property) Property {
	fields := map[string]Property{}
	if p.kind == PropertyObject {
		for k, v := range p.obj {
			fields[k] = v
		}
	}
	fields[key] = value
	return ObjectProperty(fields)
}

func (p Property) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PropertyNull:
		return []byte("null"), nil
	case PropertyString:
		return json.Marshal(p.str)
	case PropertyNumber:
		return json.Marshal(p.num)
	case PropertyBool:
		return json.Marshal(p.boo)
	case PropertyArray:
		return json.Marshal(p.arr)
	case PropertyObject:
		return json.Marshal(p.obj)
	default:
		return nil, fmt.Errorf("model: unknown property kind %d", p.kind)
	}
}

func (p *Property) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = fromAny(raw)
	return nil
}

func fromAny(v interface{}) Property {
	switch t := v.(type) {
	case nil:
		return NullProperty()
	case string:
		return StringProperty(t)
	case float64:
		return NumberProperty(t)
	case bool:
		return BoolProperty(t)
	case []interface{}:
		items := make([]Property, len(t))
		for i, e := range t {
			items[i] = fromAny(e)
		}
		return Property{kind: PropertyArray, arr: items, isSet: true}
	case map[string]interface{}:
		fields := make(map[string]Property, len(t))
		for k, e := range t {
			fields[k] = fromAny(e)
		}
		return Property{kind: PropertyObject, obj: fields, isSet: true}
	default:
		return NullProperty()
	}
}
