package registra

import (
	"fmt"
)

// ChangeKind classifies what changed about a modified field.
type ChangeKind string

const (
	ChangeKindType                 ChangeKind = "type"
	ChangeKindEnum                 ChangeKind = "enum"
	ChangeKindRequired             ChangeKind = "required"
	ChangeKindFormat               ChangeKind = "format"
	ChangeKindColumnar             ChangeKind = "columnar"
	ChangeKindAdditionalProperties ChangeKind = "additionalProperties"
)

// FieldChange is one leaf-level finding about a field present in both
// documents. Nested fields are reported with dotted paths; array elements
// with a "[]" suffix on the parent path.
type FieldChange struct {
	Field    string     `json:"field"`
	Kind     ChangeKind `json:"changeKind"`
	From     string     `json:"from,omitempty"`
	To       string     `json:"to,omitempty"`
	Breaking bool       `json:"breaking"`
}

// CompatibilityReport is the classified diff between a baseline document and
// a candidate. IsBreaking is true iff BreakingReasons is non-empty.
type CompatibilityReport struct {
	AddedFields     []string      `json:"addedFields"`
	RemovedFields   []string      `json:"removedFields"`
	ModifiedFields  []FieldChange `json:"modifiedFields"`
	BreakingReasons []string      `json:"breakingReasons"`
	IsBreaking      bool          `json:"isBreaking"`
}

// HasChanges reports whether the documents differ structurally at all.
func (r *CompatibilityReport) HasChanges() bool {
	return len(r.AddedFields) > 0 || len(r.RemovedFields) > 0 || len(r.ModifiedFields) > 0
}

// ChangeClass is the aggregate classification used by the version policy.
type ChangeClass string

const (
	ChangeClassNone       ChangeClass = "none"
	ChangeClassCompatible ChangeClass = "compatible"
	ChangeClassBreaking   ChangeClass = "breaking"
)

// Classify folds the report into the class the version policy keys on.
func (r *CompatibilityReport) Classify() ChangeClass {
	switch {
	case r.IsBreaking:
		return ChangeClassBreaking
	case r.HasChanges():
		return ChangeClassCompatible
	default:
		return ChangeClassNone
	}
}

// wideningLattice holds the safe logical type promotions. Any type change not
// in the lattice is breaking.
var wideningLattice = map[FieldKind][]FieldKind{
	FieldKindInteger: {FieldKindNumber},
}

// columnarWidening holds the safe physical type promotions for the columnar
// block, an independent lattice from the logical one.
var columnarWidening = map[ColumnarKind][]ColumnarKind{
	ColumnarInt32:   {ColumnarInt64, ColumnarFloat64},
	ColumnarInt64:   {ColumnarFloat64},
	ColumnarFloat32: {ColumnarFloat64},
}

func isSafeWidening(from, to FieldKind) bool {
	for _, t := range wideningLattice[from] {
		if t == to {
			return true
		}
	}
	return false
}

func isSafeColumnarWidening(from, to ColumnarKind) bool {
	for _, t := range columnarWidening[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Diff structurally compares a candidate document against a baseline and
// classifies the transition. It is pure and deterministic: no I/O, identical
// inputs always yield an identical report, and well-formed input never fails.
func Diff(baseline, candidate *SchemaDocument) *CompatibilityReport {
	d := &differ{report: &CompatibilityReport{}}

	d.compareFields("", baseline.Properties, candidate.Properties, baseline.Required, candidate.Required)
	d.compareColumnar(baseline, candidate)

	// additionalProperties relaxation is compatible; tightening strands
	// documents that carry unknown fields today.
	if baseline.AdditionalProperties != candidate.AdditionalProperties {
		breaking := baseline.AdditionalProperties && !candidate.AdditionalProperties
		d.modified(FieldChange{
			Field:    "additionalProperties",
			Kind:     ChangeKindAdditionalProperties,
			From:     fmt.Sprintf("%t", baseline.AdditionalProperties),
			To:       fmt.Sprintf("%t", candidate.AdditionalProperties),
			Breaking: breaking,
		})
		if breaking {
			d.breaking("additionalProperties changed from true to false")
		}
	}

	d.report.IsBreaking = len(d.report.BreakingReasons) > 0
	return d.report
}

type differ struct {
	report *CompatibilityReport
}

func (d *differ) breaking(format string, args ...any) {
	d.report.BreakingReasons = append(d.report.BreakingReasons, fmt.Sprintf(format, args...))
}

func (d *differ) modified(change FieldChange) {
	d.report.ModifiedFields = append(d.report.ModifiedFields, change)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// compareFields walks two ordered field maps by name. Candidate order decides
// traversal for added fields, baseline order for removed ones, so the report
// is deterministic.
func (d *differ) compareFields(prefix string, base, cand *FieldMap, baseRequired, candRequired []string) {
	// Removed fields, in baseline order.
	for _, name := range base.Names() {
		if !cand.Has(name) {
			path := joinPath(prefix, name)
			d.report.RemovedFields = append(d.report.RemovedFields, path)
			d.breaking("removed field %s", path)
		}
	}

	for _, name := range cand.Names() {
		path := joinPath(prefix, name)
		candSpec, _ := cand.Get(name)
		baseSpec, exists := base.Get(name)

		if !exists {
			d.report.AddedFields = append(d.report.AddedFields, path)
			// Adding an optional field is always safe; a new required field
			// cannot be satisfied by existing producers.
			if containsString(candRequired, name) {
				d.breaking("added required field %s", path)
			}
			continue
		}

		d.compareSpec(path, name, baseSpec, candSpec, baseRequired, candRequired)
	}
}

func (d *differ) compareSpec(path, name string, base, cand *FieldSpec, baseRequired, candRequired []string) {
	// Required-state transitions: required → optional is tolerated by every
	// reader; optional → required invalidates existing producers.
	wasRequired := containsString(baseRequired, name)
	isRequired := containsString(candRequired, name)
	if wasRequired != isRequired {
		d.modified(FieldChange{
			Field:    path,
			Kind:     ChangeKindRequired,
			From:     fmt.Sprintf("required=%t", wasRequired),
			To:       fmt.Sprintf("required=%t", isRequired),
			Breaking: isRequired,
		})
		if isRequired {
			d.breaking("field %s changed from optional to required", path)
		}
	}

	if base.Type != cand.Type {
		safe := isSafeWidening(base.Type, cand.Type)
		d.modified(FieldChange{
			Field:    path,
			Kind:     ChangeKindType,
			From:     string(base.Type),
			To:       string(cand.Type),
			Breaking: !safe,
		})
		if !safe {
			d.breaking("field %s type changed from %s to %s", path, base.Type, cand.Type)
		}
		// A kind change replaces the whole variant; deeper comparison of the
		// old shape against the new one is meaningless.
		return
	}

	if base.Format != cand.Format {
		d.modified(FieldChange{
			Field: path,
			Kind:  ChangeKindFormat,
			From:  base.Format,
			To:    cand.Format,
		})
	}

	d.compareEnum(path, base, cand)

	switch base.Type {
	case FieldKindObject:
		d.compareFields(path, base.Properties, cand.Properties, base.Required, cand.Required)
	case FieldKindArray:
		if base.Items != nil && cand.Items != nil {
			d.compareSpec(path+"[]", "", base.Items, cand.Items, nil, nil)
		}
	}
}

func (d *differ) compareEnum(path string, base, cand *FieldSpec) {
	if !base.IsEnum() && !cand.IsEnum() {
		return
	}

	baseSet := enumSet(base.Enum)
	candSet := enumSet(cand.Enum)

	var removed []string
	for _, v := range base.Enum {
		if _, ok := candSet[enumKey(v)]; !ok {
			removed = append(removed, enumKey(v))
		}
	}
	var added bool
	for _, v := range cand.Enum {
		if _, ok := baseSet[enumKey(v)]; !ok {
			added = true
			break
		}
	}

	if len(removed) == 0 && !added {
		return
	}

	// Adding values only widens what producers may emit; removing values
	// invalidates documents already written with them.
	d.modified(FieldChange{
		Field:    path,
		Kind:     ChangeKindEnum,
		From:     fmt.Sprintf("%d values", len(base.Enum)),
		To:       fmt.Sprintf("%d values", len(cand.Enum)),
		Breaking: len(removed) > 0,
	})
	for _, v := range removed {
		d.breaking("field %s removed enum value %s", path, v)
	}
}

// compareColumnar checks the optional parallel columnar block for top-level
// fields present in both documents.
func (d *differ) compareColumnar(baseline, candidate *SchemaDocument) {
	if baseline.ColumnarTypes == nil && candidate.ColumnarTypes == nil {
		return
	}

	for _, name := range candidate.Properties.Names() {
		if !baseline.Properties.Has(name) {
			continue
		}
		baseCol, hadCol := baseline.ColumnarTypes[name]
		candCol, hasCol := candidate.ColumnarTypes[name]

		switch {
		case hadCol && !hasCol:
			d.modified(FieldChange{
				Field:    name,
				Kind:     ChangeKindColumnar,
				From:     string(baseCol.Name),
				Breaking: true,
			})
			d.breaking("field %s lost its columnar type descriptor", name)
		case !hadCol && hasCol:
			d.modified(FieldChange{
				Field: name,
				Kind:  ChangeKindColumnar,
				To:    string(candCol.Name),
			})
		case hadCol && hasCol && baseCol != candCol:
			safe := baseCol.Unit == candCol.Unit && isSafeColumnarWidening(baseCol.Name, candCol.Name)
			d.modified(FieldChange{
				Field:    name,
				Kind:     ChangeKindColumnar,
				From:     string(baseCol.Name),
				To:       string(candCol.Name),
				Breaking: !safe,
			})
			if !safe {
				d.breaking("field %s columnar type changed from %s to %s", name, baseCol.Name, candCol.Name)
			}
		}
	}
}

func enumKey(v any) string {
	return fmt.Sprintf("%v", v)
}

func enumSet(values []any) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[enumKey(v)] = struct{}{}
	}
	return set
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// CheckVersionPolicy enforces the semantic-versioning policy for a candidate
// against the current latest. The report decides the minimum required bump:
// breaking changes need a new major, compatible changes a new minor under the
// same major, and an identical document only a patch bump. A candidate that
// does not exceed the baseline is rejected regardless of content.
func CheckVersionPolicy(schemaID string, baseline, candidate Version, report *CompatibilityReport) error {
	if !candidate.GreaterThan(baseline) {
		return NewRejectedError(schemaID,
			"candidate version must be greater than current latest",
			fmt.Sprintf("candidate %s is not greater than baseline %s", candidate, baseline),
		).WithVersion(candidate.String())
	}

	switch report.Classify() {
	case ChangeClassBreaking:
		if candidate.Major-baseline.Major < 1 {
			return NewRejectedError(schemaID,
				"breaking change requires major version bump",
				report.BreakingReasons...,
			).WithVersion(candidate.String())
		}
	case ChangeClassCompatible:
		if candidate.Major != baseline.Major || candidate.Minor-baseline.Minor < 1 {
			return NewRejectedError(schemaID,
				"compatible change requires minor version bump",
				fmt.Sprintf("candidate %s does not bump minor from baseline %s", candidate, baseline),
			).WithVersion(candidate.String())
		}
	case ChangeClassNone:
		if candidate.Major != baseline.Major || candidate.Minor != baseline.Minor || candidate.Patch-baseline.Patch < 1 {
			return NewRejectedError(schemaID,
				"no-op republish requires patch version bump",
				fmt.Sprintf("document is identical to baseline %s", baseline),
			).WithVersion(candidate.String())
		}
	}

	return nil
}
