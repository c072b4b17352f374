package registra

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DraftSchemaURI is the meta-schema every stored document declares.
const DraftSchemaURI = "http://json-schema.org/draft-07/schema#"

// FieldKind represents the logical type of a field.
type FieldKind string

const (
	FieldKindString  FieldKind = "string"
	FieldKindInteger FieldKind = "integer"
	FieldKindNumber  FieldKind = "number"
	FieldKindBoolean FieldKind = "boolean"
	FieldKindObject  FieldKind = "object"
	FieldKindArray   FieldKind = "array"
)

// IsPrimitive reports whether the kind is one of the four scalar kinds.
func (k FieldKind) IsPrimitive() bool {
	switch k {
	case FieldKindString, FieldKindInteger, FieldKindNumber, FieldKindBoolean:
		return true
	}
	return false
}

// ColumnarKind represents the physical type used by binary-format consumers.
type ColumnarKind string

const (
	ColumnarInt32     ColumnarKind = "int32"
	ColumnarInt64     ColumnarKind = "int64"
	ColumnarFloat32   ColumnarKind = "float32"
	ColumnarFloat64   ColumnarKind = "float64"
	ColumnarUTF8      ColumnarKind = "utf8"
	ColumnarBool      ColumnarKind = "bool"
	ColumnarTimestamp ColumnarKind = "timestamp"
)

// ColumnarType describes the columnar representation of one field.
// Unit carries a width or time unit hint (e.g. "ns" for timestamps).
type ColumnarType struct {
	Name ColumnarKind `json:"name"`
	Unit string       `json:"unit,omitempty"`
}

// FieldSpec defines the schema for a single field. A spec is one of four
// variants: primitive (scalar Type, optional Format), enum (scalar Type plus
// Enum values), nested object (Type "object" plus Properties/Required), or
// array (Type "array" plus Items).
type FieldSpec struct {
	Type       FieldKind  `json:"type"`
	Format     string     `json:"format,omitempty"`
	Enum       []any      `json:"enum,omitempty"`
	Items      *FieldSpec `json:"items,omitempty"`
	Properties *FieldMap  `json:"properties,omitempty"`
	Required   []string   `json:"required,omitempty"`
}

// IsEnum reports whether the spec is the enum variant.
func (s *FieldSpec) IsEnum() bool {
	return s != nil && len(s.Enum) > 0
}

// Clone returns a deep copy of the spec.
func (s *FieldSpec) Clone() *FieldSpec {
	if s == nil {
		return nil
	}
	out := &FieldSpec{
		Type:   s.Type,
		Format: s.Format,
		Items:  s.Items.Clone(),
	}
	if s.Enum != nil {
		out.Enum = append([]any(nil), s.Enum...)
	}
	if s.Properties != nil {
		out.Properties = s.Properties.Clone()
	}
	if s.Required != nil {
		out.Required = append([]string(nil), s.Required...)
	}
	return out
}

// FieldMap is an ordered mapping from field name to FieldSpec. Field order is
// part of the wire contract: documents must round-trip through publish/get
// without reordering, so the map remembers insertion order and serializes in
// that order.
type FieldMap struct {
	names []string
	specs map[string]*FieldSpec
}

// NewFieldMap creates an empty FieldMap.
func NewFieldMap() *FieldMap {
	return &FieldMap{specs: make(map[string]*FieldSpec)}
}

// Set inserts or replaces a field. Insertion order is kept for new names.
func (m *FieldMap) Set(name string, spec *FieldSpec) {
	if m.specs == nil {
		m.specs = make(map[string]*FieldSpec)
	}
	if _, exists := m.specs[name]; !exists {
		m.names = append(m.names, name)
	}
	m.specs[name] = spec
}

// Get returns the spec for a field name.
func (m *FieldMap) Get(name string) (*FieldSpec, bool) {
	if m == nil || m.specs == nil {
		return nil, false
	}
	spec, ok := m.specs[name]
	return spec, ok
}

// Has reports whether a field name is present.
func (m *FieldMap) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Names returns the field names in insertion order.
func (m *FieldMap) Names() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.names...)
}

// Len returns the number of fields.
func (m *FieldMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Clone returns a deep copy of the map.
func (m *FieldMap) Clone() *FieldMap {
	if m == nil {
		return nil
	}
	out := NewFieldMap()
	for _, name := range m.names {
		out.Set(name, m.specs[name].Clone())
	}
	return out
}

// MarshalJSON serializes the map as a JSON object in insertion order.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.specs[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object, capturing key order with a token-level
// decoder since encoding/json maps discard it.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("field map: expected JSON object, got %v", tok)
	}

	m.names = nil
	m.specs = make(map[string]*FieldSpec)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("field map: expected string key, got %v", keyTok)
		}
		var spec FieldSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("field map: field %q: %w", name, err)
		}
		m.Set(name, &spec)
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// SchemaDocument is one immutable version of a named data contract.
// Documents are write-once: after a successful publish the stored bytes for
// an (id, version) pair never change.
type SchemaDocument struct {
	ID                   string                  `json:"id"`
	Schema               string                  `json:"schema,omitempty"`
	Title                string                  `json:"title,omitempty"`
	Type                 string                  `json:"type,omitempty"`
	Properties           *FieldMap               `json:"properties"`
	Required             []string                `json:"required,omitempty"`
	AdditionalProperties bool                    `json:"additionalProperties"`
	ColumnarTypes        map[string]ColumnarType `json:"columnarTypes,omitempty"`
	Version              string                  `json:"version"`
}

// SemVer parses the document's version string.
func (d *SchemaDocument) SemVer() (Version, error) {
	return ParseVersion(d.Version)
}

// IsRequired reports whether a top-level field is in the required set.
func (d *SchemaDocument) IsRequired(field string) bool {
	for _, r := range d.Required {
		if r == field {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the document.
func (d *SchemaDocument) Clone() *SchemaDocument {
	if d == nil {
		return nil
	}
	out := &SchemaDocument{
		ID:                   d.ID,
		Schema:               d.Schema,
		Title:                d.Title,
		Type:                 d.Type,
		Properties:           d.Properties.Clone(),
		AdditionalProperties: d.AdditionalProperties,
		Version:              d.Version,
	}
	if d.Required != nil {
		out.Required = append([]string(nil), d.Required...)
	}
	if d.ColumnarTypes != nil {
		out.ColumnarTypes = make(map[string]ColumnarType, len(d.ColumnarTypes))
		for k, v := range d.ColumnarTypes {
			out.ColumnarTypes[k] = v
		}
	}
	return out
}

// ParseSchemaDocument decodes a wire-format document.
func ParseSchemaDocument(data []byte) (*SchemaDocument, error) {
	var doc SchemaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema document: %w", err)
	}
	return &doc, nil
}
