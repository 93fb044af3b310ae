// Package rules evaluates a requisition snapshot against the configured
// approval rules and produces the requisition's step set. Rule sets are
// immutable snapshots per evaluation; a submission freezes the steps it was
// given regardless of later rule edits.
package rules

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
)

// Snapshot is the read-only view of a requisition that conditions are
// evaluated against.
type Snapshot struct {
	EntityID    string
	Amount      int64 // cents
	Department  string
	Category    string
	VendorID    string
	ItemCount   int
	RequesterID string
	Currency    string
}

// SnapshotFrom captures the rule-relevant attributes of a requisition.
func SnapshotFrom(req *domain.Requisition) Snapshot {
	vendor := ""
	if req.VendorID != nil {
		vendor = *req.VendorID
	}
	return Snapshot{
		EntityID:    req.EntityID,
		Amount:      req.TotalAmount,
		Department:  req.Department,
		Category:    req.Category,
		VendorID:    vendor,
		ItemCount:   len(req.Items),
		RequesterID: req.RequesterID,
		Currency:    req.Currency,
	}
}

// Directory resolves a role to the user ids that hold it.
type Directory interface {
	UsersWithRole(ctx context.Context, role, entityID string) ([]string, error)
}

// StepSpec is one approver slot of an evaluation result: the tuple the state
// machine materializes into an ApprovalStep.
type StepSpec struct {
	ApproverID string
	Role       string
	OrderIndex int
	Mode       domain.StepMode
	DependsOn  *int // order index of the gating sequential step
}

// Engine matches rules and builds step specs.
type Engine struct {
	directory Directory
	cel       *celEvaluator
}

// NewEngine creates an engine resolving role actions through directory.
func NewEngine(directory Directory) (*Engine, error) {
	cel, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{directory: directory, cel: cel}, nil
}

// Evaluate filters the rule set to active rules, evaluates them in priority
// order, accumulates the actions of every matching rule, expands roles into
// concrete approvers, deduplicates approvers keeping the earliest order
// index, and renumbers the result 0..n-1 with its dependency links. An empty
// result is a configuration error: a requisition is never auto-approved for
// lack of an approval path.
func (e *Engine) Evaluate(ctx context.Context, snap Snapshot, ruleset []*domain.ApprovalRule) ([]StepSpec, error) {
	actions, err := e.matchingActions(snap, ruleset)
	if err != nil {
		return nil, err
	}

	specs, err := e.expand(ctx, snap.EntityID, actions)
	if err != nil {
		return nil, err
	}

	specs = dedupe(specs)
	if len(specs) == 0 {
		return nil, errors.ConfigurationError("no approval path: no active rule matches the requisition")
	}

	return link(specs), nil
}

// matchingActions returns the accumulated actions of every matching active
// rule, in priority order (lower priority value first, name as tiebreaker).
func (e *Engine) matchingActions(snap Snapshot, ruleset []*domain.ApprovalRule) ([]domain.RuleAction, error) {
	ordered := make([]*domain.ApprovalRule, 0, len(ruleset))
	for _, rule := range ruleset {
		if rule.Active {
			ordered = append(ordered, rule)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	var actions []domain.RuleAction
	for _, rule := range ordered {
		ok, err := e.ruleMatches(snap, rule)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigurationError,
				"rule '"+rule.Name+"' failed to evaluate")
		}
		if ok {
			actions = append(actions, rule.Actions...)
		}
	}
	return actions, nil
}

// ruleMatches reports whether every condition of the rule holds. A rule with
// no conditions matches everything (catch-all routing).
func (e *Engine) ruleMatches(snap Snapshot, rule *domain.ApprovalRule) (bool, error) {
	for _, cond := range rule.Conditions {
		ok, err := e.evalCondition(snap, cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Condition fields resolvable on a snapshot, by comparison type. Numeric
// fields compare as int64, string fields support equals and contains.
var (
	numericFields = map[string]func(Snapshot) int64{
		"amount":     func(s Snapshot) int64 { return s.Amount },
		"item_count": func(s Snapshot) int64 { return int64(s.ItemCount) },
	}
	stringFields = map[string]func(Snapshot) string{
		"department":   func(s Snapshot) string { return s.Department },
		"category":     func(s Snapshot) string { return s.Category },
		"vendor_id":    func(s Snapshot) string { return s.VendorID },
		"requester_id": func(s Snapshot) string { return s.RequesterID },
		"currency":     func(s Snapshot) string { return s.Currency },
	}
)

func (e *Engine) evalCondition(snap Snapshot, cond domain.Condition) (bool, error) {
	if cond.Operator == domain.OpExpression {
		return e.cel.Eval(cond.Value, snap)
	}

	if get, ok := numericFields[cond.Field]; ok {
		value, err := strconv.ParseInt(cond.Value, 10, 64)
		if err != nil {
			return false, errors.Newf(errors.ErrCodeConfigurationError,
				"condition value %q is not numeric for field '%s'", cond.Value, cond.Field)
		}
		switch cond.Operator {
		case domain.OpEquals:
			return get(snap) == value, nil
		case domain.OpGreaterThan:
			return get(snap) > value, nil
		case domain.OpLessThan:
			return get(snap) < value, nil
		}
		return false, errors.Newf(errors.ErrCodeConfigurationError,
			"operator '%s' is not valid for numeric field '%s'", cond.Operator, cond.Field)
	}

	get, ok := stringFields[cond.Field]
	if !ok {
		return false, errors.Newf(errors.ErrCodeConfigurationError,
			"unknown condition field '%s'", cond.Field)
	}
	switch cond.Operator {
	case domain.OpEquals:
		return get(snap) == cond.Value, nil
	case domain.OpContains:
		return strings.Contains(get(snap), cond.Value), nil
	}
	return false, errors.Newf(errors.ErrCodeConfigurationError,
		"operator '%s' is not valid for string field '%s'", cond.Operator, cond.Field)
}

// expand turns rule actions into per-approver specs, resolving role actions
// through the directory.
func (e *Engine) expand(ctx context.Context, entityID string, actions []domain.RuleAction) ([]StepSpec, error) {
	var specs []StepSpec
	for _, action := range actions {
		if action.ApproverID != "" {
			specs = append(specs, StepSpec{
				ApproverID: action.ApproverID,
				Role:       action.Role,
				OrderIndex: action.OrderIndex,
				Mode:       action.Mode,
			})
			continue
		}

		users, err := e.directory.UsersWithRole(ctx, action.Role, entityID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal,
				"failed to resolve role '"+action.Role+"'")
		}
		if len(users) == 0 {
			return nil, errors.Newf(errors.ErrCodeConfigurationError,
				"no users hold role '%s'", action.Role)
		}
		for _, user := range users {
			specs = append(specs, StepSpec{
				ApproverID: user,
				Role:       action.Role,
				OrderIndex: action.OrderIndex,
				Mode:       action.Mode,
			})
		}
	}
	return specs, nil
}

// dedupe drops repeated approvers, keeping each approver's earliest order
// index (first contributing rule wins ties).
func dedupe(specs []StepSpec) []StepSpec {
	position := make(map[string]int)
	out := make([]StepSpec, 0, len(specs))
	for _, spec := range specs {
		if i, seen := position[spec.ApproverID]; seen {
			if spec.OrderIndex < out[i].OrderIndex {
				out[i] = spec
			}
			continue
		}
		position[spec.ApproverID] = len(out)
		out = append(out, spec)
	}
	return out
}

// link sorts by order index, renumbers 0..n-1 so indices are unique within
// the requisition, and records each step's gating dependency: the nearest
// preceding sequential step. Parallel steps thereby stay unordered among
// themselves while sequential steps gate everything after them.
func link(specs []StepSpec) []StepSpec {
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].OrderIndex < specs[j].OrderIndex
	})

	lastSequential := -1
	for i := range specs {
		specs[i].OrderIndex = i
		specs[i].DependsOn = nil
		if lastSequential >= 0 {
			dep := lastSequential
			specs[i].DependsOn = &dep
		}
		if specs[i].Mode == domain.ModeSequential {
			lastSequential = i
		}
	}
	return specs
}
