package rules_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
	"github.com/ledgerline/procurement-core/internal/rules"
)

type stubDirectory struct {
	roles map[string][]string
	err   error
}

func (d *stubDirectory) UsersWithRole(_ context.Context, role, _ string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.roles[role], nil
}

func newEngine(t *testing.T, dir rules.Directory) *rules.Engine {
	t.Helper()
	engine, err := rules.NewEngine(dir)
	require.NoError(t, err)
	return engine
}

func activeRule(name string, priority int, conditions []domain.Condition, actions ...domain.RuleAction) *domain.ApprovalRule {
	return &domain.ApprovalRule{
		ID:         "rule-" + name,
		EntityID:   "entity-1",
		Name:       name,
		Conditions: conditions,
		Actions:    actions,
		Priority:   priority,
		Active:     true,
	}
}

func approver(id string, orderIndex int, mode domain.StepMode) domain.RuleAction {
	return domain.RuleAction{ApproverID: id, OrderIndex: orderIndex, Mode: mode}
}

func cond(field string, op domain.Operator, value string) domain.Condition {
	return domain.Condition{Field: field, Operator: op, Value: value}
}

func snapshot(amount int64) rules.Snapshot {
	return rules.Snapshot{
		EntityID:    "entity-1",
		Amount:      amount,
		Department:  "engineering",
		Category:    "hardware",
		VendorID:    "vendor-9",
		ItemCount:   2,
		RequesterID: "user-req",
		Currency:    "USD",
	}
}

func TestEvaluateThresholdRouting(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("large-orders", 10,
			[]domain.Condition{cond("amount", domain.OpGreaterThan, "100000")},
			approver("user-manager", 0, domain.ModeSequential),
		),
	}

	// $1,500 clears the $1,000 threshold.
	specs, err := engine.Evaluate(context.Background(), snapshot(150000), ruleset)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "user-manager", specs[0].ApproverID)
	assert.Equal(t, 0, specs[0].OrderIndex)
	assert.Nil(t, specs[0].DependsOn)

	// $500 matches nothing: that is a configuration gap, not an approval.
	_, err = engine.Evaluate(context.Background(), snapshot(50000), ruleset)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "no approval path")
}

func TestEvaluateAccumulatesMatchingRulesByPriority(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("second", 20, nil, approver("user-b", 0, domain.ModeSequential)),
		activeRule("first", 10, nil, approver("user-a", 0, domain.ModeSequential)),
	}

	specs, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	// Equal order indices resolve by rule priority.
	assert.Equal(t, "user-a", specs[0].ApproverID)
	assert.Equal(t, "user-b", specs[1].ApproverID)
	assert.Equal(t, 0, specs[0].OrderIndex)
	assert.Equal(t, 1, specs[1].OrderIndex)
}

func TestEvaluateSkipsInactiveRules(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	inactive := activeRule("dormant", 10, nil, approver("user-a", 0, domain.ModeSequential))
	inactive.Active = false

	_, err := engine.Evaluate(context.Background(), snapshot(1000), []*domain.ApprovalRule{inactive})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestEvaluateExpandsRoles(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{
		"finance_manager": {"user-fm1", "user-fm2"},
	}}
	engine := newEngine(t, dir)
	ruleset := []*domain.ApprovalRule{
		activeRule("finance-review", 10, nil,
			domain.RuleAction{Role: "finance_manager", OrderIndex: 0, Mode: domain.ModeParallel},
		),
	}

	specs, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "user-fm1", specs[0].ApproverID)
	assert.Equal(t, "user-fm2", specs[1].ApproverID)
	for _, spec := range specs {
		assert.Equal(t, "finance_manager", spec.Role)
		assert.Equal(t, domain.ModeParallel, spec.Mode)
		assert.Nil(t, spec.DependsOn)
	}
}

func TestEvaluateRoleWithoutUsers(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("finance-review", 10, nil,
			domain.RuleAction{Role: "finance_manager", OrderIndex: 0, Mode: domain.ModeSequential},
		),
	}

	_, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "finance_manager")
}

func TestEvaluateDirectoryFailure(t *testing.T) {
	engine := newEngine(t, &stubDirectory{err: fmt.Errorf("directory unavailable")})
	ruleset := []*domain.ApprovalRule{
		activeRule("finance-review", 10, nil,
			domain.RuleAction{Role: "finance_manager", OrderIndex: 0, Mode: domain.ModeSequential},
		),
	}

	_, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))
}

func TestEvaluateDeduplicatesApprovers(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("first", 10, nil,
			approver("user-dup", 2, domain.ModeSequential),
			approver("user-a", 1, domain.ModeSequential),
		),
		activeRule("second", 20, nil,
			approver("user-dup", 0, domain.ModeSequential),
		),
	}

	specs, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	// user-dup keeps its earliest order index (0, from the second rule) and
	// the result renumbers contiguously.
	assert.Equal(t, "user-dup", specs[0].ApproverID)
	assert.Equal(t, 0, specs[0].OrderIndex)
	assert.Equal(t, "user-a", specs[1].ApproverID)
	assert.Equal(t, 1, specs[1].OrderIndex)
}

func TestEvaluateDependencyLinks(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("chain", 10, nil,
			approver("user-a", 0, domain.ModeSequential),
			approver("user-b", 1, domain.ModeParallel),
			approver("user-c", 2, domain.ModeParallel),
			approver("user-d", 3, domain.ModeSequential),
			approver("user-e", 4, domain.ModeParallel),
		),
	}

	specs, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.NoError(t, err)
	require.Len(t, specs, 5)

	assert.Nil(t, specs[0].DependsOn)
	// The parallel pair and the next sequential step all gate on step 0.
	require.NotNil(t, specs[1].DependsOn)
	assert.Equal(t, 0, *specs[1].DependsOn)
	require.NotNil(t, specs[2].DependsOn)
	assert.Equal(t, 0, *specs[2].DependsOn)
	require.NotNil(t, specs[3].DependsOn)
	assert.Equal(t, 0, *specs[3].DependsOn)
	// The trailing parallel step gates on the sequential step before it.
	require.NotNil(t, specs[4].DependsOn)
	assert.Equal(t, 3, *specs[4].DependsOn)
}

func TestEvaluateExpressionCondition(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("eng-large", 10,
			[]domain.Condition{cond("", domain.OpExpression, `amount > 100000 && department == "engineering"`)},
			approver("user-cto", 0, domain.ModeSequential),
		),
	}

	specs, err := engine.Evaluate(context.Background(), snapshot(150000), ruleset)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "user-cto", specs[0].ApproverID)

	_, err = engine.Evaluate(context.Background(), snapshot(50000), ruleset)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestEvaluateBrokenExpression(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("broken", 10,
			[]domain.Condition{cond("", domain.OpExpression, "amount >")},
			approver("user-a", 0, domain.ModeSequential),
		),
	}

	_, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "broken")
}

func TestEvaluateOperatorFieldMismatch(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})

	tests := []struct {
		name      string
		condition domain.Condition
	}{
		{"contains on numeric field", cond("amount", domain.OpContains, "10")},
		{"greater_than on string field", cond("department", domain.OpGreaterThan, "a")},
		{"unknown field", cond("color", domain.OpEquals, "blue")},
		{"non-numeric value", cond("amount", domain.OpGreaterThan, "lots")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ruleset := []*domain.ApprovalRule{
				activeRule("misconfigured", 10,
					[]domain.Condition{tc.condition},
					approver("user-a", 0, domain.ModeSequential),
				),
			}
			_, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err))
		})
	}
}

func TestEvaluateStringOperators(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("eng-only", 10,
			[]domain.Condition{
				cond("department", domain.OpContains, "eng"),
				cond("currency", domain.OpEquals, "USD"),
			},
			approver("user-a", 0, domain.ModeSequential),
		),
	}

	specs, err := engine.Evaluate(context.Background(), snapshot(1000), ruleset)
	require.NoError(t, err)
	assert.Len(t, specs, 1)

	snap := snapshot(1000)
	snap.Department = "marketing"
	_, err = engine.Evaluate(context.Background(), snap, ruleset)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestEvaluateCatchAllRule(t *testing.T) {
	engine := newEngine(t, &stubDirectory{})
	ruleset := []*domain.ApprovalRule{
		activeRule("default-route", 100, nil, approver("user-fallback", 0, domain.ModeSequential)),
	}

	specs, err := engine.Evaluate(context.Background(), snapshot(1), ruleset)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "user-fallback", specs[0].ApproverID)
}

func TestSnapshotFrom(t *testing.T) {
	req := &domain.Requisition{
		ID:          "req-1",
		EntityID:    "entity-1",
		RequesterID: "user-req",
		Department:  "engineering",
		Category:    "hardware",
		Currency:    "USD",
		TotalAmount: 123400,
		Items:       []*domain.RequisitionItem{{ID: "item-1"}, {ID: "item-2"}},
	}

	snap := rules.SnapshotFrom(req)
	assert.Equal(t, "entity-1", snap.EntityID)
	assert.Equal(t, int64(123400), snap.Amount)
	assert.Equal(t, 2, snap.ItemCount)
	assert.Empty(t, snap.VendorID)

	vendor := "vendor-9"
	req.VendorID = &vendor
	assert.Equal(t, "vendor-9", rules.SnapshotFrom(req).VendorID)
}
