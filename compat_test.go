package registra

import (
	"reflect"
	"strings"
	"testing"
)

func fields(pairs ...any) *FieldMap {
	m := NewFieldMap()
	for i := 0; i < len(pairs); i += 2 {
		m.Set(pairs[i].(string), pairs[i+1].(*FieldSpec))
	}
	return m
}

func doc(version string, props *FieldMap, required ...string) *SchemaDocument {
	return &SchemaDocument{
		ID:         "ticks_v1",
		Schema:     DraftSchemaURI,
		Type:       "object",
		Properties: props,
		Required:   required,
		Version:    version,
	}
}

func str() *FieldSpec     { return &FieldSpec{Type: FieldKindString} }
func integer() *FieldSpec { return &FieldSpec{Type: FieldKindInteger} }
func number() *FieldSpec  { return &FieldSpec{Type: FieldKindNumber} }

func TestDiffIdentity(t *testing.T) {
	base := doc("1.0.0", fields("ts", integer(), "symbol", str()), "ts")
	report := Diff(base, base.Clone())

	if report.HasChanges() {
		t.Errorf("identical documents reported changes: %+v", report)
	}
	if report.IsBreaking {
		t.Error("identical documents reported breaking")
	}
	if got := report.Classify(); got != ChangeClassNone {
		t.Errorf("Classify() = %s, want none", got)
	}
}

func TestDiffFieldChanges(t *testing.T) {
	tests := []struct {
		name         string
		baseline     *SchemaDocument
		candidate    *SchemaDocument
		wantClass    ChangeClass
		wantReason   string
		wantAdded    []string
		wantRemoved  []string
		wantModified int
	}{
		{
			name:      "add optional field",
			baseline:  doc("1.0.0", fields("ts", integer()), "ts"),
			candidate: doc("1.1.0", fields("ts", integer(), "exchange_id", str()), "ts"),
			wantClass: ChangeClassCompatible,
			wantAdded: []string{"exchange_id"},
		},
		{
			name:       "add required field",
			baseline:   doc("1.0.0", fields("ts", integer()), "ts"),
			candidate:  doc("2.0.0", fields("ts", integer(), "exchange_id", str()), "ts", "exchange_id"),
			wantClass:  ChangeClassBreaking,
			wantReason: "added required field exchange_id",
			wantAdded:  []string{"exchange_id"},
		},
		{
			name:        "remove field",
			baseline:    doc("1.0.0", fields("ts", integer(), "symbol", str()), "ts"),
			candidate:   doc("2.0.0", fields("ts", integer()), "ts"),
			wantClass:   ChangeClassBreaking,
			wantReason:  "removed field symbol",
			wantRemoved: []string{"symbol"},
		},
		{
			name:        "rename is remove plus add",
			baseline:    doc("1.0.0", fields("ts", integer(), "price", number()), "ts"),
			candidate:   doc("2.0.0", fields("ts", integer(), "last_price", number()), "ts"),
			wantClass:   ChangeClassBreaking,
			wantReason:  "removed field price",
			wantAdded:   []string{"last_price"},
			wantRemoved: []string{"price"},
		},
		{
			name:         "widen integer to number",
			baseline:     doc("1.0.0", fields("size", integer())),
			candidate:    doc("1.1.0", fields("size", number())),
			wantClass:    ChangeClassCompatible,
			wantModified: 1,
		},
		{
			name:         "narrow number to integer",
			baseline:     doc("1.0.0", fields("size", number())),
			candidate:    doc("2.0.0", fields("size", integer())),
			wantClass:    ChangeClassBreaking,
			wantReason:   "field size type changed from number to integer",
			wantModified: 1,
		},
		{
			name:         "string to integer",
			baseline:     doc("1.0.0", fields("symbol", str())),
			candidate:    doc("2.0.0", fields("symbol", integer())),
			wantClass:    ChangeClassBreaking,
			wantReason:   "type changed from string to integer",
			wantModified: 1,
		},
		{
			name:         "optional to required",
			baseline:     doc("1.0.0", fields("ts", integer(), "symbol", str()), "ts"),
			candidate:    doc("2.0.0", fields("ts", integer(), "symbol", str()), "ts", "symbol"),
			wantClass:    ChangeClassBreaking,
			wantReason:   "field symbol changed from optional to required",
			wantModified: 1,
		},
		{
			name:         "required to optional",
			baseline:     doc("1.0.0", fields("ts", integer(), "symbol", str()), "ts", "symbol"),
			candidate:    doc("1.1.0", fields("ts", integer(), "symbol", str()), "ts"),
			wantClass:    ChangeClassCompatible,
			wantModified: 1,
		},
		{
			name:     "add enum value",
			baseline: doc("1.0.0", fields("side", &FieldSpec{Type: FieldKindString, Enum: []any{"buy", "sell"}})),
			candidate: doc("1.1.0", fields("side",
				&FieldSpec{Type: FieldKindString, Enum: []any{"buy", "sell", "cancel"}})),
			wantClass:    ChangeClassCompatible,
			wantModified: 1,
		},
		{
			name:     "remove enum value",
			baseline: doc("1.0.0", fields("side", &FieldSpec{Type: FieldKindString, Enum: []any{"buy", "sell"}})),
			candidate: doc("2.0.0", fields("side",
				&FieldSpec{Type: FieldKindString, Enum: []any{"buy"}})),
			wantClass:    ChangeClassBreaking,
			wantReason:   "field side removed enum value sell",
			wantModified: 1,
		},
		{
			name:         "format change only",
			baseline:     doc("1.0.0", fields("ts", &FieldSpec{Type: FieldKindInteger, Format: "int32"})),
			candidate:    doc("1.1.0", fields("ts", &FieldSpec{Type: FieldKindInteger, Format: "int64"})),
			wantClass:    ChangeClassCompatible,
			wantModified: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Diff(tt.baseline, tt.candidate)

			if got := report.Classify(); got != tt.wantClass {
				t.Errorf("Classify() = %s, want %s (report %+v)", got, tt.wantClass, report)
			}
			if tt.wantReason != "" && !reasonsContain(report.BreakingReasons, tt.wantReason) {
				t.Errorf("BreakingReasons = %v, want one containing %q", report.BreakingReasons, tt.wantReason)
			}
			if tt.wantAdded != nil && !reflect.DeepEqual(report.AddedFields, tt.wantAdded) {
				t.Errorf("AddedFields = %v, want %v", report.AddedFields, tt.wantAdded)
			}
			if tt.wantRemoved != nil && !reflect.DeepEqual(report.RemovedFields, tt.wantRemoved) {
				t.Errorf("RemovedFields = %v, want %v", report.RemovedFields, tt.wantRemoved)
			}
			if tt.wantModified > 0 && len(report.ModifiedFields) != tt.wantModified {
				t.Errorf("ModifiedFields = %v, want %d entries", report.ModifiedFields, tt.wantModified)
			}
			if report.IsBreaking != (len(report.BreakingReasons) > 0) {
				t.Error("IsBreaking disagrees with BreakingReasons")
			}
		})
	}
}

func TestDiffNestedObjects(t *testing.T) {
	base := doc("1.0.0", fields("meta", &FieldSpec{
		Type:       FieldKindObject,
		Properties: fields("venue", str(), "lot", integer()),
		Required:   []string{"venue"},
	}))
	cand := doc("2.0.0", fields("meta", &FieldSpec{
		Type:       FieldKindObject,
		Properties: fields("venue", str(), "lot", number(), "desk", str()),
		Required:   []string{"venue", "desk"},
	}))

	report := Diff(base, cand)

	if !reasonsContain(report.BreakingReasons, "added required field meta.desk") {
		t.Errorf("missing nested required reason: %v", report.BreakingReasons)
	}
	if !reflect.DeepEqual(report.AddedFields, []string{"meta.desk"}) {
		t.Errorf("AddedFields = %v", report.AddedFields)
	}
	// lot widened integer→number under the nested path.
	found := false
	for _, ch := range report.ModifiedFields {
		if ch.Field == "meta.lot" && ch.Kind == ChangeKindType && !ch.Breaking {
			found = true
		}
	}
	if !found {
		t.Errorf("expected compatible type change at meta.lot: %+v", report.ModifiedFields)
	}
}

func TestDiffArrayElements(t *testing.T) {
	base := doc("1.0.0", fields("tags", &FieldSpec{Type: FieldKindArray, Items: integer()}))
	cand := doc("1.1.0", fields("tags", &FieldSpec{Type: FieldKindArray, Items: number()}))

	report := Diff(base, cand)
	if report.IsBreaking {
		t.Errorf("array element widening should be compatible: %v", report.BreakingReasons)
	}
	if len(report.ModifiedFields) != 1 || report.ModifiedFields[0].Field != "tags[]" {
		t.Errorf("ModifiedFields = %+v, want one change at tags[]", report.ModifiedFields)
	}

	narrowed := Diff(cand, base)
	if !narrowed.IsBreaking {
		t.Error("array element narrowing should be breaking")
	}
}

func TestDiffAdditionalProperties(t *testing.T) {
	open := doc("1.0.0", fields("ts", integer()))
	open.AdditionalProperties = true
	closed := doc("2.0.0", fields("ts", integer()))

	tighten := Diff(open, closed)
	if !tighten.IsBreaking {
		t.Error("additionalProperties true→false should be breaking")
	}

	relax := Diff(closed, open)
	if relax.IsBreaking {
		t.Errorf("additionalProperties false→true should be compatible: %v", relax.BreakingReasons)
	}
	if !relax.HasChanges() {
		t.Error("relaxation should still be reported as a change")
	}
}

func TestDiffColumnarTypes(t *testing.T) {
	withCol := func(version string, col map[string]ColumnarType) *SchemaDocument {
		d := doc(version, fields("ts", integer(), "size", integer()))
		d.ColumnarTypes = col
		return d
	}

	tests := []struct {
		name      string
		baseline  *SchemaDocument
		candidate *SchemaDocument
		breaking  bool
	}{
		{
			name:      "widen int32 to int64",
			baseline:  withCol("1.0.0", map[string]ColumnarType{"size": {Name: ColumnarInt32}}),
			candidate: withCol("1.1.0", map[string]ColumnarType{"size": {Name: ColumnarInt64}}),
			breaking:  false,
		},
		{
			name:      "widen int64 to float64",
			baseline:  withCol("1.0.0", map[string]ColumnarType{"size": {Name: ColumnarInt64}}),
			candidate: withCol("1.1.0", map[string]ColumnarType{"size": {Name: ColumnarFloat64}}),
			breaking:  false,
		},
		{
			name:      "narrow int64 to int32",
			baseline:  withCol("1.0.0", map[string]ColumnarType{"size": {Name: ColumnarInt64}}),
			candidate: withCol("2.0.0", map[string]ColumnarType{"size": {Name: ColumnarInt32}}),
			breaking:  true,
		},
		{
			name:      "unit change blocks widening",
			baseline:  withCol("1.0.0", map[string]ColumnarType{"ts": {Name: ColumnarInt32, Unit: "ms"}}),
			candidate: withCol("2.0.0", map[string]ColumnarType{"ts": {Name: ColumnarInt64, Unit: "ns"}}),
			breaking:  true,
		},
		{
			name:      "descriptor removed",
			baseline:  withCol("1.0.0", map[string]ColumnarType{"size": {Name: ColumnarInt32}}),
			candidate: withCol("2.0.0", nil),
			breaking:  true,
		},
		{
			name:      "descriptor added",
			baseline:  withCol("1.0.0", nil),
			candidate: withCol("1.1.0", map[string]ColumnarType{"size": {Name: ColumnarInt32}}),
			breaking:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Diff(tt.baseline, tt.candidate)
			if report.IsBreaking != tt.breaking {
				t.Errorf("IsBreaking = %t, want %t (reasons %v)", report.IsBreaking, tt.breaking, report.BreakingReasons)
			}
		})
	}
}

func TestCheckVersionPolicy(t *testing.T) {
	breaking := &CompatibilityReport{
		RemovedFields:   []string{"price"},
		BreakingReasons: []string{"removed field price"},
		IsBreaking:      true,
	}
	compatible := &CompatibilityReport{AddedFields: []string{"exchange_id"}}
	identical := &CompatibilityReport{}

	tests := []struct {
		name      string
		baseline  string
		candidate string
		report    *CompatibilityReport
		wantErr   string
	}{
		{name: "breaking with major bump", baseline: "1.2.0", candidate: "2.0.0", report: breaking},
		{name: "breaking with patch bump", baseline: "1.2.0", candidate: "1.2.1", report: breaking,
			wantErr: "breaking change requires major version bump"},
		{name: "breaking with minor bump", baseline: "1.2.0", candidate: "1.3.0", report: breaking,
			wantErr: "breaking change requires major version bump"},
		{name: "compatible with minor bump", baseline: "1.2.0", candidate: "1.3.0", report: compatible},
		{name: "compatible with patch bump", baseline: "1.2.0", candidate: "1.2.1", report: compatible,
			wantErr: "compatible change requires minor version bump"},
		{name: "compatible jumping major", baseline: "1.2.0", candidate: "2.0.0", report: compatible,
			wantErr: "compatible change requires minor version bump"},
		{name: "identical with patch bump", baseline: "1.2.0", candidate: "1.2.1", report: identical},
		{name: "identical with minor bump", baseline: "1.2.0", candidate: "1.3.0", report: identical,
			wantErr: "no-op republish requires patch version bump"},
		{name: "candidate equals baseline", baseline: "1.2.0", candidate: "1.2.0", report: identical,
			wantErr: "must be greater than current latest"},
		{name: "candidate below baseline", baseline: "1.2.0", candidate: "1.1.9", report: compatible,
			wantErr: "must be greater than current latest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersionPolicy("ticks_v1",
				MustParseVersion(tt.baseline), MustParseVersion(tt.candidate), tt.report)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected rejection, got nil")
			}
			if !IsRejected(err) {
				t.Errorf("error type = %T, want rejected", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

// A publisher that lost a race and resubmits the same candidate against the
// new latest must get the same verdict every time.
func TestCheckVersionPolicyDeterministicResubmission(t *testing.T) {
	report := &CompatibilityReport{AddedFields: []string{"exchange_id"}}
	baseline := MustParseVersion("1.1.0")
	candidate := MustParseVersion("1.1.0")

	first := CheckVersionPolicy("ticks_v1", baseline, candidate, report)
	second := CheckVersionPolicy("ticks_v1", baseline, candidate, report)

	if first == nil || second == nil {
		t.Fatal("expected both submissions rejected")
	}
	if first.Error() != second.Error() {
		t.Errorf("verdicts differ: %q vs %q", first, second)
	}
}

func reasonsContain(reasons []string, want string) bool {
	for _, r := range reasons {
		if strings.Contains(r, want) {
			return true
		}
	}
	return false
}
