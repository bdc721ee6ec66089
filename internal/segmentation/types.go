// Package segmentation implements the audience rule engine: a composable
// boolean tree of field/operator/value conditions that resolves to a set of
// customer IDs, plus the store for named, reusable segments.
package segmentation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/google/uuid"
)

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a comparison operator in a rule condition.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpBetween     Operator = "between"
	OpInLastDays  Operator = "in_last_days"
)

// OperatorMetadata describes which field types an operator applies to and
// what shape of value it needs.
type OperatorMetadata struct {
	Operator        Operator    `json:"operator"`
	Label           string      `json:"label"`
	ApplicableTypes []FieldType `json:"applicable_types"`
	RequiresSecond  bool        `json:"requires_second"`
}

// GetOperatorMetadata returns metadata for all supported operators.
func GetOperatorMetadata() []OperatorMetadata {
	return []OperatorMetadata{
		{OpEquals, "Equals", []FieldType{FieldTypeNumber, FieldTypeDate, FieldTypeString, FieldTypeTags}, false},
		{OpNotEquals, "Does not equal", []FieldType{FieldTypeNumber, FieldTypeDate, FieldTypeString}, false},
		{OpGreaterThan, "Greater than", []FieldType{FieldTypeNumber, FieldTypeDate}, false},
		{OpLessThan, "Less than", []FieldType{FieldTypeNumber, FieldTypeDate}, false},
		{OpContains, "Contains", []FieldType{FieldTypeString, FieldTypeTags}, false},
		{OpBetween, "Between", []FieldType{FieldTypeNumber, FieldTypeDate}, true},
		{OpInLastDays, "In the last X days", []FieldType{FieldTypeDate}, false},
	}
}

func operatorMeta(op Operator) *OperatorMetadata {
	for _, meta := range GetOperatorMetadata() {
		if meta.Operator == op {
			return &meta
		}
	}
	return nil
}

// ==========================================
// FIELDS
// ==========================================

// FieldType represents the data type of a customer field.
type FieldType string

const (
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
	FieldTypeString FieldType = "string"
	FieldTypeTags   FieldType = "tags"
)

// Field names a customer attribute a condition can test. The set is closed:
// conditions referencing anything else are rejected at validation time, so
// evaluation never sees a field it cannot resolve.
type Field string

const (
	FieldTotalSpend Field = "total_spend"
	FieldVisitCount Field = "visit_count"
	FieldLastActive Field = "last_active_at"
	FieldCreatedAt  Field = "created_at"
	FieldLocation   Field = "location"
	FieldEmail      Field = "email"
	FieldName       Field = "name"
	FieldTags       Field = "tags"
)

var fieldTypes = map[Field]FieldType{
	FieldTotalSpend: FieldTypeNumber,
	FieldVisitCount: FieldTypeNumber,
	FieldLastActive: FieldTypeDate,
	FieldCreatedAt:  FieldTypeDate,
	FieldLocation:   FieldTypeString,
	FieldEmail:      FieldTypeString,
	FieldName:       FieldTypeString,
	FieldTags:       FieldTypeTags,
}

// TypeOf returns the declared type of a field, or false if the field is
// not part of the closed enumeration.
func TypeOf(f Field) (FieldType, bool) {
	t, ok := fieldTypes[f]
	return t, ok
}

// Fields returns the closed set of supported fields.
func Fields() map[Field]FieldType {
	out := make(map[Field]FieldType, len(fieldTypes))
	for f, t := range fieldTypes {
		out[f] = t
	}
	return out
}

// ==========================================
// RULE TREE
// ==========================================

// Logic combines the children of a rule group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is a leaf node: one field/operator/value predicate. SecondValue
// is only used by operators that take a range (between is inclusive on both
// bounds).
type Condition struct {
	Field       Field    `json:"field"`
	Operator    Operator `json:"operator"`
	Value       string   `json:"value"`
	SecondValue string   `json:"second_value,omitempty"`
}

// Complete reports whether the condition has everything it needs to be
// evaluated. Incomplete conditions are a normal interim state during
// authoring and must never be evaluated.
func (c Condition) Complete() bool {
	if c.Field == "" || c.Operator == "" || strings.TrimSpace(c.Value) == "" {
		return false
	}
	if meta := operatorMeta(c.Operator); meta != nil && meta.RequiresSecond {
		return strings.TrimSpace(c.SecondValue) != ""
	}
	return true
}

// Group is an inner node combining child nodes with AND/OR logic.
type Group struct {
	Logic    Logic      `json:"condition_type"`
	Children []RuleNode `json:"conditions"`
}

// RuleNode is a tagged variant: exactly one of Condition or Group is set.
type RuleNode struct {
	Condition *Condition `json:"-"`
	Group     *Group     `json:"-"`
}

// Cond wraps a condition leaf into a node.
func Cond(field Field, op Operator, value string) RuleNode {
	return RuleNode{Condition: &Condition{Field: field, Operator: op, Value: value}}
}

// CondRange wraps a two-bound condition leaf into a node.
func CondRange(field Field, op Operator, lo, hi string) RuleNode {
	return RuleNode{Condition: &Condition{Field: field, Operator: op, Value: lo, SecondValue: hi}}
}

// And groups nodes under AND logic.
func And(children ...RuleNode) RuleNode {
	return RuleNode{Group: &Group{Logic: LogicAnd, Children: children}}
}

// Or groups nodes under OR logic.
func Or(children ...RuleNode) RuleNode {
	return RuleNode{Group: &Group{Logic: LogicOr, Children: children}}
}

// IsZero reports whether the node is empty (neither leaf nor group).
func (n RuleNode) IsZero() bool {
	return n.Condition == nil && n.Group == nil
}

// MarshalJSON encodes a leaf as {field, operator, value} and a group as
// {condition_type, conditions}.
func (n RuleNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.Condition != nil:
		return json.Marshal(n.Condition)
	case n.Group != nil:
		return json.Marshal(n.Group)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON distinguishes leaves from groups by shape: groups carry
// condition_type, leaves carry field.
func (n *RuleNode) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*n = RuleNode{}
		return nil
	}

	var probe struct {
		Logic Logic `json:"condition_type"`
		Field Field `json:"field"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("rule node: %w", err)
	}

	if probe.Logic != "" {
		var g Group
		if err := json.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("rule group: %w", err)
		}
		*n = RuleNode{Group: &g}
		return nil
	}

	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("rule condition: %w", err)
	}
	*n = RuleNode{Condition: &c}
	return nil
}

// ParseRules decodes a JSON rule tree.
func ParseRules(data []byte) (RuleNode, error) {
	var n RuleNode
	if len(data) == 0 {
		return n, nil
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return RuleNode{}, domain.NewValidationError("rules", err.Error())
	}
	return n, nil
}

// ==========================================
// VALIDATION
// ==========================================

// CheckKnown walks the tree and returns an InvalidRuleError for the first
// condition naming an unknown field or operator, or pairing an operator
// with a field type it does not apply to. Configuration errors like these
// are surfaced, never retried.
func CheckKnown(n RuleNode) error {
	if n.IsZero() {
		return nil
	}
	if n.Condition != nil {
		c := n.Condition
		if c.Field == "" && c.Operator == "" {
			return nil // blank leaf, handled by completeness
		}
		ft, ok := TypeOf(c.Field)
		if !ok {
			return &domain.InvalidRuleError{Field: string(c.Field), Operator: string(c.Operator), Reason: "unknown field"}
		}
		meta := operatorMeta(c.Operator)
		if meta == nil {
			return &domain.InvalidRuleError{Field: string(c.Field), Operator: string(c.Operator), Reason: "unknown operator"}
		}
		for _, t := range meta.ApplicableTypes {
			if t == ft {
				return nil
			}
		}
		return &domain.InvalidRuleError{
			Field:    string(c.Field),
			Operator: string(c.Operator),
			Reason:   fmt.Sprintf("operator not applicable to %s field", ft),
		}
	}
	for _, child := range n.Group.Children {
		if err := CheckKnown(child); err != nil {
			return err
		}
	}
	return nil
}

// Valid reports whether the tree is evaluable: non-empty, every leaf
// complete, every group with at least one child. An invalid tree resolves
// to the "no audience" state, never to "match everything".
func Valid(n RuleNode) bool {
	switch {
	case n.IsZero():
		return false
	case n.Condition != nil:
		return n.Condition.Complete()
	default:
		if len(n.Group.Children) == 0 {
			return false
		}
		for _, child := range n.Group.Children {
			if !Valid(child) {
				return false
			}
		}
		return true
	}
}

// ==========================================
// SEGMENT
// ==========================================

// Segment is a named, reusable audience definition backed by a rule tree.
type Segment struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Rules       RuleNode  `json:"rules"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
