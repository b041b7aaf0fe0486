// Package rules defines the typed schema for metadata decoding rules.
//
// A rule describes how an external decoder derives one semantic print
// setting (paper size, color mode, booklet, ...) from a vendor metadata
// blob. This package stores, validates, and canonicalizes rule
// definitions; it never decodes metadata bytes itself.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueType identifies how many bytes a positional rule reads.
type ValueType string

// Supported positional value types.
const (
	TypeByte  ValueType = "byte"
	TypeInt16 ValueType = "int16"
	TypeInt32 ValueType = "int32"
)

// Operator is a condition comparison operator.
type Operator string

// Supported condition operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpLessThan    Operator = "lessThan"
	OpGreaterThan Operator = "greaterThan"
	OpIn          Operator = "in"
)

// Rule is a metadata decoding rule. Exactly one of the two variants must
// be populated: Hardcoded (a fixed boolean) or Positional (Offset+Type,
// reading a value out of the metadata blob). The remaining fields are
// optional overlays on the main variant.
type Rule struct {
	// Hardcoded variant: the rule always yields this boolean.
	Hardcoded *bool `json:"hardcoded,omitempty"`

	// Positional variant: read a value of Type at Offset.
	Offset *int      `json:"offset,omitempty"`
	Type   ValueType `json:"type,omitempty"`

	// Conditional guard: evaluate the main rule only when the byte at
	// ConditionalOffset equals ConditionalValue.
	ConditionalOffset *int `json:"conditionalOffset,omitempty"`
	ConditionalValue  *int `json:"conditionalValue,omitempty"`

	// Condition turns the decoded value into a boolean.
	Condition *Condition `json:"condition,omitempty"`

	// Mapping translates raw decoded values to display values.
	// Insertion order is preserved.
	Mapping *Mapping `json:"mapping,omitempty"`

	// Default is the fallback when a mapping lookup misses.
	Default *Scalar `json:"default,omitempty"`

	// Result overrides the decoded output with a literal boolean.
	Result *bool `json:"result,omitempty"`

	Description string `json:"description,omitempty"`

	// Complex is the extended variant: two chained comparisons with an
	// action applied when both hold.
	Complex *ComplexCondition `json:"complexCondition,omitempty"`
}

// Condition compares the decoded value against a scalar (or, for the
// "in" operator, a set of scalars) and yields a boolean.
type Condition struct {
	Operator Operator `json:"operator"`
	Value    *int     `json:"value,omitempty"`
	Values   []int    `json:"values,omitempty"`
}

// Comparison is one leg of a complex condition.
type Comparison struct {
	Offset   int      `json:"offset"`
	Operator Operator `json:"operator"`
	Value    int      `json:"value"`
}

// Action describes the settings a complex condition applies when it holds.
type Action struct {
	SetBooklet       *bool `json:"setBooklet,omitempty"`
	SetPagesPerSheet *int  `json:"setPagesPerSheet,omitempty"`
}

// ComplexCondition chains two comparisons and applies an action when
// both hold.
type ComplexCondition struct {
	First  Comparison `json:"first"`
	Second Comparison `json:"second"`
	Action Action     `json:"action"`
}

// Scalar is a mapping value or default: either a string or a number.
// The original JSON form round-trips unchanged; numeric coercion is the
// external decoder's business, never this package's.
type Scalar struct {
	raw string
}

// StringValue returns a string Scalar.
func StringValue(v string) Scalar {
	b, _ := json.Marshal(v)
	return Scalar{raw: string(b)}
}

// NumberValue returns a numeric Scalar.
func NumberValue(v float64) Scalar {
	return Scalar{raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// IsNumber reports whether the scalar holds a number.
func (s Scalar) IsNumber() bool {
	return s.raw != "" && s.raw[0] != '"'
}

// String returns the scalar's text without JSON quoting.
func (s Scalar) String() string {
	if s.raw == "" {
		return ""
	}
	if s.raw[0] == '"' {
		var v string
		if err := json.Unmarshal([]byte(s.raw), &v); err == nil {
			return v
		}
	}
	return s.raw
}

// MarshalJSON emits the scalar in its original form.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.raw == "" {
		return []byte(`""`), nil
	}
	return []byte(s.raw), nil
}

// UnmarshalJSON accepts a JSON string or number.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &ValidationError{Field: "value", Message: "empty scalar"}
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("parsing string scalar: %w", err)
		}
	case '{', '[', 't', 'f', 'n':
		return &ValidationError{Field: "value", Message: "must be a string or a number"}
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return &ValidationError{Field: "value", Message: "must be a string or a number"}
		}
	}
	s.raw = string(data)
	return nil
}

// MappingEntry is one key/value pair of a mapping. Keys are always
// strings at rest.
type MappingEntry struct {
	Key   string
	Value Scalar
}

// Mapping is an insertion-ordered map from raw decoded value tokens to
// display values.
type Mapping struct {
	entries []MappingEntry
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{}
}

// Set appends or replaces a key. A replaced key keeps its original
// position.
func (m *Mapping) Set(key string, value Scalar) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, MappingEntry{Key: key, Value: value})
}

// Get returns the value for key.
func (m *Mapping) Get(key string) (Scalar, bool) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			return m.entries[i].Value, true
		}
	}
	return Scalar{}, false
}

// Len returns the number of entries.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the entries in insertion order. The slice is a copy.
func (m *Mapping) Entries() []MappingEntry {
	if m == nil {
		return nil
	}
	out := make([]MappingEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Clone returns a deep copy.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	return &Mapping{entries: m.Entries()}
}

// MarshalJSON emits the mapping as a JSON object in insertion order.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, fmt.Errorf("marshaling mapping key: %w", err)
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("marshaling mapping value: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving key order.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading mapping: %w", err)
	}
	if tok != json.Delim('{') {
		return &ValidationError{Field: "mapping", Message: "must be an object"}
	}
	m.entries = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading mapping key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return &ValidationError{Field: "mapping", Message: "keys must be strings"}
		}
		var value Scalar
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("reading mapping value for %q: %w", key, err)
		}
		m.entries = append(m.entries, MappingEntry{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("reading mapping: %w", err)
	}
	return nil
}

// RuleMap is an insertion-ordered map from rule name to Rule.
type RuleMap struct {
	names []string
	rules map[string]Rule
}

// NewRuleMap returns an empty rule map.
func NewRuleMap() *RuleMap {
	return &RuleMap{rules: make(map[string]Rule)}
}

// Set appends or replaces a rule. A replaced rule keeps its original
// position.
func (m *RuleMap) Set(name string, r Rule) {
	if m.rules == nil {
		m.rules = make(map[string]Rule)
	}
	if _, ok := m.rules[name]; !ok {
		m.names = append(m.names, name)
	}
	m.rules[name] = r
}

// Get returns the rule with the given name.
func (m *RuleMap) Get(name string) (Rule, bool) {
	if m == nil {
		return Rule{}, false
	}
	r, ok := m.rules[name]
	return r, ok
}

// Len returns the number of rules.
func (m *RuleMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Names returns the rule names in insertion order. The slice is a copy.
func (m *RuleMap) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Clone returns a deep copy.
func (m *RuleMap) Clone() *RuleMap {
	if m == nil {
		return nil
	}
	out := NewRuleMap()
	for _, name := range m.names {
		out.Set(name, cloneRule(m.rules[name]))
	}
	return out
}

// MarshalJSON emits the rules as a JSON object in insertion order.
func (m RuleMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, fmt.Errorf("marshaling rule name: %w", err)
		}
		val, err := json.Marshal(m.rules[name])
		if err != nil {
			return nil, fmt.Errorf("marshaling rule %q: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving key order.
func (m *RuleMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading rules: %w", err)
	}
	if tok != json.Delim('{') {
		return &ValidationError{Field: "metadataRules", Message: "must be an object"}
	}
	m.names = nil
	m.rules = make(map[string]Rule)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading rule name: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return &ValidationError{Field: "metadataRules", Message: "rule names must be strings"}
		}
		var r Rule
		if err := dec.Decode(&r); err != nil {
			return fmt.Errorf("reading rule %q: %w", name, err)
		}
		m.Set(name, r)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("reading rules: %w", err)
	}
	return nil
}

// cloneRule deep-copies a rule.
func cloneRule(r Rule) Rule {
	out := r
	out.Hardcoded = clonePtr(r.Hardcoded)
	out.Offset = clonePtr(r.Offset)
	out.ConditionalOffset = clonePtr(r.ConditionalOffset)
	out.ConditionalValue = clonePtr(r.ConditionalValue)
	out.Result = clonePtr(r.Result)
	out.Default = clonePtr(r.Default)
	if r.Condition != nil {
		cond := *r.Condition
		cond.Value = clonePtr(r.Condition.Value)
		if r.Condition.Values != nil {
			cond.Values = make([]int, len(r.Condition.Values))
			copy(cond.Values, r.Condition.Values)
		}
		out.Condition = &cond
	}
	out.Mapping = r.Mapping.Clone()
	if r.Complex != nil {
		complexCopy := *r.Complex
		complexCopy.Action.SetBooklet = clonePtr(r.Complex.Action.SetBooklet)
		complexCopy.Action.SetPagesPerSheet = clonePtr(r.Complex.Action.SetPagesPerSheet)
		out.Complex = &complexCopy
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
