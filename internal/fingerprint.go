package internal

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/lychee-technology/registra"
	"github.com/spaolacci/murmur3"
)

// Fingerprint computes a 128-bit murmur3 digest over the canonical form of a
// document's structure. The version string is excluded so a byte-identical
// republish at a new patch version keeps the same fingerprint; field order is
// normalized so cosmetic reordering does not change it.
func Fingerprint(doc *registra.SchemaDocument) string {
	var buf bytes.Buffer
	writeCanonicalDocument(&buf, doc)
	h1, h2 := murmur3.Sum128(buf.Bytes())
	return fmt.Sprintf("%016x%016x", h1, h2)
}

func writeCanonicalDocument(buf *bytes.Buffer, doc *registra.SchemaDocument) {
	fmt.Fprintf(buf, "id=%s;title=%s;type=%s;addl=%t;", doc.ID, doc.Title, doc.Type, doc.AdditionalProperties)

	writeSortedStrings(buf, "required", doc.Required)

	names := doc.Properties.Names()
	sort.Strings(names)
	for _, name := range names {
		spec, _ := doc.Properties.Get(name)
		fmt.Fprintf(buf, "field:%s{", name)
		writeCanonicalSpec(buf, spec)
		buf.WriteByte('}')
	}

	colNames := make([]string, 0, len(doc.ColumnarTypes))
	for name := range doc.ColumnarTypes {
		colNames = append(colNames, name)
	}
	sort.Strings(colNames)
	for _, name := range colNames {
		col := doc.ColumnarTypes[name]
		fmt.Fprintf(buf, "col:%s=%s/%s;", name, col.Name, col.Unit)
	}
}

func writeCanonicalSpec(buf *bytes.Buffer, spec *registra.FieldSpec) {
	if spec == nil {
		return
	}
	fmt.Fprintf(buf, "type=%s;format=%s;", spec.Type, spec.Format)

	if len(spec.Enum) > 0 {
		values := make([]string, len(spec.Enum))
		for i, v := range spec.Enum {
			values[i] = fmt.Sprintf("%v", v)
		}
		writeSortedStrings(buf, "enum", values)
	}

	writeSortedStrings(buf, "required", spec.Required)

	if spec.Items != nil {
		buf.WriteString("items{")
		writeCanonicalSpec(buf, spec.Items)
		buf.WriteByte('}')
	}
	if spec.Properties != nil {
		names := spec.Properties.Names()
		sort.Strings(names)
		for _, name := range names {
			nested, _ := spec.Properties.Get(name)
			fmt.Fprintf(buf, "field:%s{", name)
			writeCanonicalSpec(buf, nested)
			buf.WriteByte('}')
		}
	}
}

func writeSortedStrings(buf *bytes.Buffer, label string, values []string) {
	if len(values) == 0 {
		return
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	fmt.Fprintf(buf, "%s=", label)
	for i, v := range sorted {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(v)
	}
	buf.WriteByte(';')
}
