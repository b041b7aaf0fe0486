package rules

import "fmt"

// ValidationError reports a malformed rule shape. Field names the
// offending field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// scalarOperators are the operators that compare against a single value.
var scalarOperators = map[Operator]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpLessThan:    true,
	OpGreaterThan: true,
}

// Validate checks a rule's shape. Exactly one of the Hardcoded and
// Positional variants must be present; a rule satisfying both (or
// neither) is rejected rather than guessed at.
func Validate(r Rule) error {
	hasHardcoded := r.Hardcoded != nil
	hasPositional := r.Offset != nil || r.Type != ""

	switch {
	case hasHardcoded && hasPositional:
		return &ValidationError{Field: "hardcoded", Message: "rule cannot be both hardcoded and positional"}
	case !hasHardcoded && !hasPositional:
		return &ValidationError{Field: "hardcoded", Message: "rule must set either hardcoded or offset+type"}
	case hasPositional:
		if r.Offset == nil {
			return &ValidationError{Field: "offset", Message: "required for positional rules"}
		}
		if *r.Offset < 0 {
			return &ValidationError{Field: "offset", Message: "must not be negative"}
		}
		if err := validateType(r.Type); err != nil {
			return err
		}
	}

	if (r.ConditionalOffset == nil) != (r.ConditionalValue == nil) {
		return &ValidationError{Field: "conditionalOffset", Message: "conditionalOffset and conditionalValue must be set together"}
	}
	if r.ConditionalOffset != nil && *r.ConditionalOffset < 0 {
		return &ValidationError{Field: "conditionalOffset", Message: "must not be negative"}
	}

	if r.Condition != nil {
		if err := validateCondition(*r.Condition); err != nil {
			return err
		}
	}

	if r.Mapping != nil {
		for _, e := range r.Mapping.Entries() {
			if e.Key == "" {
				return &ValidationError{Field: "mapping", Message: "keys must be non-empty strings"}
			}
		}
	}

	if r.Complex != nil {
		if err := validateComparison("complexCondition.first", r.Complex.First); err != nil {
			return err
		}
		if err := validateComparison("complexCondition.second", r.Complex.Second); err != nil {
			return err
		}
	}

	return nil
}

func validateType(t ValueType) error {
	switch t {
	case TypeByte, TypeInt16, TypeInt32:
		return nil
	case "":
		return &ValidationError{Field: "type", Message: "required for positional rules"}
	default:
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown value type %q", t)}
	}
}

func validateCondition(c Condition) error {
	switch {
	case c.Operator == OpIn:
		if len(c.Values) == 0 {
			return &ValidationError{Field: "condition.values", Message: `required and non-empty for operator "in"`}
		}
		if c.Value != nil {
			return &ValidationError{Field: "condition.value", Message: `not allowed for operator "in"`}
		}
	case scalarOperators[c.Operator]:
		if c.Value == nil {
			return &ValidationError{Field: "condition.value", Message: fmt.Sprintf("required for operator %q", c.Operator)}
		}
		if c.Values != nil {
			return &ValidationError{Field: "condition.values", Message: fmt.Sprintf("not allowed for operator %q", c.Operator)}
		}
	default:
		return &ValidationError{Field: "condition.operator", Message: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	return nil
}

// validateComparison checks one leg of a complex condition. Comparisons
// are scalar so the "in" operator is not allowed.
func validateComparison(field string, c Comparison) error {
	if !scalarOperators[c.Operator] {
		return &ValidationError{Field: field + ".operator", Message: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	if c.Offset < 0 {
		return &ValidationError{Field: field + ".offset", Message: "must not be negative"}
	}
	return nil
}

// Canonicalize returns a deep copy of the rule with its mapping fixed to
// a deterministic shape: duplicate keys collapse onto the first
// occurrence's position with the last value winning. Serialization of a
// canonicalized rule is byte-stable.
func Canonicalize(r Rule) Rule {
	out := cloneRule(r)
	if r.Mapping != nil {
		canonical := NewMapping()
		for _, e := range r.Mapping.Entries() {
			canonical.Set(e.Key, e.Value)
		}
		out.Mapping = canonical
	}
	return out
}
