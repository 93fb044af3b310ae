package domain

import "time"

// Operator is a condition comparison kind. Each operator is semantically
// typed to its field: numeric compare for amounts and counts, substring for
// contains, CEL evaluation for expression.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpExpression  Operator = "expression" // value holds a CEL expression over the snapshot
)

// Condition is one field comparison within a rule. All of a rule's
// conditions must hold for the rule to match.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// RuleAction assigns one approver slot. Exactly one of ApproverID or Role is
// set; roles expand to concrete users through the directory at evaluation
// time.
type RuleAction struct {
	ApproverID string   `json:"approver_id,omitempty" yaml:"approver_id,omitempty"`
	Role       string   `json:"role,omitempty" yaml:"role,omitempty"`
	OrderIndex int      `json:"order_index" yaml:"order_index"`
	Mode       StepMode `json:"mode" yaml:"mode"`
}

// ApprovalRule is a configurable routing rule per entity. Rules are
// read-only inputs to rule evaluation; the state machine never mutates them.
type ApprovalRule struct {
	ID         string
	EntityID   string
	Name       string
	Conditions []Condition
	Actions    []RuleAction
	Priority   int // lower = evaluated first
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy of the rule.
func (r *ApprovalRule) Clone() *ApprovalRule {
	if r == nil {
		return nil
	}
	out := *r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	out.Actions = append([]RuleAction(nil), r.Actions...)
	return &out
}
