package segmentation

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError pins one violation to the exact node that caused it, so an
// authoring surface can highlight the offending container or condition.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationResult is the outcome of a structural validation pass.
type ValidationResult struct {
	OK     bool              `json:"ok"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks a definition for persistence. It is strict where the
// compiler is lenient: unknown fields, missing values, and type-incompatible
// operators are all hard errors here. Every violation in the tree is
// reported, not just the first.
func Validate(def SegmentDefinition, catalog *Catalog) ValidationResult {
	v := &validator{catalog: catalog}

	if strings.TrimSpace(def.Name) == "" {
		v.add("name", "segment name is required")
	} else if def.Name == DefaultSegmentName {
		v.add("name", fmt.Sprintf("segment name must differ from the default %q", DefaultSegmentName))
	}

	if len(def.Containers) == 0 {
		v.add("containers", "segment needs at least one container")
	}

	for i, cont := range def.Containers {
		// The root list has no parent scope to bound it.
		v.container(fmt.Sprintf("containers[%d]", i), cont, 0)
	}

	if len(def.Containers) > 0 && countConditions(def.Containers) == 0 {
		v.add("containers", "segment needs at least one condition")
	}

	return ValidationResult{OK: len(v.errors) == 0, Errors: v.errors}
}

type validator struct {
	catalog *Catalog
	errors  []ValidationError
}

func (v *validator) add(path, format string, args ...interface{}) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// container validates one container; parentRank bounds the child scope
// (0 means unbounded, for root containers).
func (v *validator) container(path string, cont Container, parentRank int) {
	rank := cont.Scope.Rank()
	if rank == 0 {
		v.add(path+".scope", "scope must be hit, visit, or visitor (got %q)", cont.Scope)
	} else if parentRank > 0 && rank > parentRank {
		v.add(path+".scope", "scope %s is wider than the enclosing container's scope", cont.Scope)
	}

	if cont.Sign != SignInclude && cont.Sign != SignExclude {
		v.add(path+".sign", "sign must be include or exclude (got %q)", cont.Sign)
	}

	for i, cond := range cont.Conditions {
		v.condition(fmt.Sprintf("%s.conditions[%d]", path, i), cond)
	}

	childBound := rank
	if childBound == 0 {
		childBound = parentRank
	}
	for i, child := range cont.Children {
		v.container(fmt.Sprintf("%s.children[%d]", path, i), child, childBound)
	}
}

func (v *validator) condition(path string, cond Condition) {
	if cond.Field == "" {
		v.add(path+".field", "field is required")
		return
	}

	info, ok := v.catalog.Resolve(cond.Field)
	if !ok {
		v.add(path+".field", "unknown field %q", cond.Field)
		return
	}

	if cond.DataType != "" && cond.DataType != info.DataType {
		v.add(path+".data_type", "data type %s does not match field %q (%s)",
			cond.DataType, cond.Field, info.DataType)
	}

	meta := getOperatorMeta(cond.Operator)
	if meta == nil {
		v.add(path+".operator", "unknown operator %q", cond.Operator)
		return
	}
	if !operatorAllows(meta, info.DataType) {
		v.add(path+".operator", "operator %s is not valid for %s field %q",
			cond.Operator, info.DataType, cond.Field)
	}

	if meta.RequiresValue && cond.Value == "" {
		v.add(path+".value", "operator %s requires a value", cond.Operator)
	}
	if meta.RequiresSecondary && cond.ValueSecondary == "" {
		v.add(path+".value_secondary", "operator %s requires a second value", cond.Operator)
	}

	if info.DataType == FieldNumber && !cond.Operator.IsExistence() {
		if cond.Value != "" {
			if _, err := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64); err != nil {
				v.add(path+".value", "value %q is not a number", cond.Value)
			}
		}
		if meta.RequiresSecondary && cond.ValueSecondary != "" {
			if _, err := strconv.ParseFloat(strings.TrimSpace(cond.ValueSecondary), 64); err != nil {
				v.add(path+".value_secondary", "value %q is not a number", cond.ValueSecondary)
			}
		}
	}
}

func operatorAllows(meta *OperatorMetadata, dt FieldType) bool {
	for _, t := range meta.ApplicableTypes {
		if t == dt {
			return true
		}
	}
	return false
}

func countConditions(containers []Container) int {
	n := 0
	for _, c := range containers {
		n += len(c.Conditions)
		n += countConditions(c.Children)
	}
	return n
}
