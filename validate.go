package registra

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidateDocument checks the structural invariants of a candidate document.
// A violation yields a MalformedDocument error listing every finding; the
// compatibility engine is only ever handed documents that pass this check.
func ValidateDocument(doc *SchemaDocument) error {
	var reasons []string

	if doc.ID == "" {
		reasons = append(reasons, "id must not be empty")
	}
	if _, err := doc.SemVer(); err != nil {
		reasons = append(reasons, err.Error())
	}
	if doc.Properties == nil {
		reasons = append(reasons, "properties must be present")
	}

	for _, name := range doc.Required {
		if !doc.Properties.Has(name) {
			reasons = append(reasons, fmt.Sprintf("required field %q is not defined", name))
		}
	}
	for name := range doc.ColumnarTypes {
		if !doc.Properties.Has(name) {
			reasons = append(reasons, fmt.Sprintf("columnar type for undefined field %q", name))
		}
	}

	for _, name := range doc.Properties.Names() {
		spec, _ := doc.Properties.Get(name)
		reasons = append(reasons, validateSpec(name, spec)...)
	}

	if len(reasons) > 0 {
		return NewMalformedDocumentError(doc.ID, "schema document violates structural invariants", reasons...)
	}
	return nil
}

func validateSpec(path string, spec *FieldSpec) []string {
	var reasons []string

	if spec == nil {
		return []string{fmt.Sprintf("field %q has no spec", path)}
	}

	switch spec.Type {
	case FieldKindString, FieldKindInteger, FieldKindNumber, FieldKindBoolean:
		// Enum values must match the declared primitive kind.
		for _, v := range spec.Enum {
			if !enumValueMatches(spec.Type, v) {
				reasons = append(reasons, fmt.Sprintf("field %q enum value %v does not match type %s", path, v, spec.Type))
			}
		}
	case FieldKindObject:
		if spec.Properties == nil {
			reasons = append(reasons, fmt.Sprintf("object field %q has no properties", path))
			break
		}
		for _, r := range spec.Required {
			if !spec.Properties.Has(r) {
				reasons = append(reasons, fmt.Sprintf("field %q requires undefined nested field %q", path, r))
			}
		}
		for _, name := range spec.Properties.Names() {
			nested, _ := spec.Properties.Get(name)
			reasons = append(reasons, validateSpec(path+"."+name, nested)...)
		}
	case FieldKindArray:
		if spec.Items == nil {
			reasons = append(reasons, fmt.Sprintf("array field %q has no items spec", path))
			break
		}
		reasons = append(reasons, validateSpec(path+"[]", spec.Items)...)
	default:
		reasons = append(reasons, fmt.Sprintf("field %q has unknown type %q", path, spec.Type))
	}

	if spec.IsEnum() && !spec.Type.IsPrimitive() {
		reasons = append(reasons, fmt.Sprintf("field %q declares enum values on non-primitive type %s", path, spec.Type))
	}

	return reasons
}

func enumValueMatches(kind FieldKind, v any) bool {
	switch kind {
	case FieldKindString:
		_, ok := v.(string)
		return ok
	case FieldKindBoolean:
		_, ok := v.(bool)
		return ok
	case FieldKindInteger, FieldKindNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	}
	return false
}

// JSONSchema exports the document as a draft-07-style schema for instance
// validation.
func (d *SchemaDocument) JSONSchema() *jsonschema.Schema {
	root := &jsonschema.Schema{
		Type:       "object",
		Title:      d.Title,
		Properties: make(map[string]*jsonschema.Schema, d.Properties.Len()),
		Required:   append([]string(nil), d.Required...),
	}
	if !d.AdditionalProperties {
		root.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	}
	for _, name := range d.Properties.Names() {
		spec, _ := d.Properties.Get(name)
		root.Properties[name] = specToJSONSchema(spec)
	}
	return root
}

func specToJSONSchema(spec *FieldSpec) *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:   string(spec.Type),
		Format: spec.Format,
	}
	if spec.Enum != nil {
		out.Enum = append([]any(nil), spec.Enum...)
	}
	switch spec.Type {
	case FieldKindObject:
		if spec.Properties != nil {
			out.Properties = make(map[string]*jsonschema.Schema, spec.Properties.Len())
			for _, name := range spec.Properties.Names() {
				nested, _ := spec.Properties.Get(name)
				out.Properties[name] = specToJSONSchema(nested)
			}
		}
		out.Required = append([]string(nil), spec.Required...)
	case FieldKindArray:
		if spec.Items != nil {
			out.Items = specToJSONSchema(spec.Items)
		}
	}
	return out
}

// ValidateData validates an instance payload against the document. The
// returned list holds human-readable violations; empty means the payload
// conforms.
func ValidateData(doc *SchemaDocument, data any) ([]string, error) {
	resolved, err := doc.JSONSchema().Resolve(nil)
	if err != nil {
		return nil, NewInternalError("failed to resolve schema for validation", err)
	}
	if err := resolved.Validate(data); err != nil {
		return []string{err.Error()}, nil
	}
	return nil, nil
}
