package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerline/procurement-core/internal/client"
	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/lock"
	"github.com/ledgerline/procurement-core/internal/logger"
	"github.com/ledgerline/procurement-core/internal/repository"
	"github.com/ledgerline/procurement-core/internal/rules"
)

// fixture wires the services against the memory store, the memory locker,
// and a recording publisher.
type fixture struct {
	store        *repository.MemoryStore
	locker       *lock.MemoryLocker
	publisher    *client.RecordingPublisher
	directory    *client.StaticDirectory
	requisitions *RequisitionService
	approvals    *ApprovalService
	budgets      *BudgetService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	directory := client.NewStaticDirectory()
	engine, err := rules.NewEngine(directory)
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	locker := lock.NewMemoryLocker()
	publisher := client.NewRecordingPublisher()
	log := logger.Nop()

	return &fixture{
		store:        store,
		locker:       locker,
		publisher:    publisher,
		directory:    directory,
		requisitions: NewRequisitionService(store, locker, engine, publisher, log),
		approvals:    NewApprovalService(store, locker, publisher, log),
		budgets:      NewBudgetService(store, locker, log),
	}
}

// seedRule stores an approval rule for entity-1.
func (f *fixture) seedRule(t *testing.T, name string, priority int, conditions []domain.Condition, actions []domain.RuleAction) {
	t.Helper()
	require.NoError(t, f.store.SaveRule(context.Background(), &domain.ApprovalRule{
		ID:         "rule-" + name,
		EntityID:   "entity-1",
		Name:       name,
		Conditions: conditions,
		Actions:    actions,
		Priority:   priority,
		Active:     true,
	}))
}

// seedCatchAllRule routes everything to the given approvers in order, all
// sequential.
func (f *fixture) seedCatchAllRule(t *testing.T, approvers ...string) {
	t.Helper()
	actions := make([]domain.RuleAction, len(approvers))
	for i, approver := range approvers {
		actions[i] = domain.RuleAction{ApproverID: approver, OrderIndex: i, Mode: domain.ModeSequential}
	}
	f.seedRule(t, "catch-all", 10, nil, actions)
}

// seedParallelRule routes everything to the given approvers as one parallel
// group.
func (f *fixture) seedParallelRule(t *testing.T, approvers ...string) {
	t.Helper()
	actions := make([]domain.RuleAction, len(approvers))
	for i, approver := range approvers {
		actions[i] = domain.RuleAction{ApproverID: approver, OrderIndex: i, Mode: domain.ModeParallel}
	}
	f.seedRule(t, "parallel", 10, nil, actions)
}

// seedBudget stores a USD budget for entity-1 and returns its id.
func (f *fixture) seedBudget(t *testing.T, allocated int64) string {
	t.Helper()
	b, err := f.budgets.CreateBudget(context.Background(), &CreateBudgetRequest{
		EntityID:  "entity-1",
		Name:      "operations",
		Period:    "2026-Q1",
		Currency:  "USD",
		Allocated: allocated,
	})
	require.NoError(t, err)
	return b.ID
}

// createDraft creates a draft for entity-1 requested by alice.
func (f *fixture) createDraft(t *testing.T, budgetID *string, items ...*ItemRequest) *domain.Requisition {
	t.Helper()
	req, err := f.requisitions.CreateRequisition(context.Background(), &CreateRequisitionRequest{
		EntityID:    "entity-1",
		RequesterID: "alice",
		Department:  "engineering",
		Category:    "hardware",
		Currency:    "USD",
		BudgetID:    budgetID,
		Items:       items,
	})
	require.NoError(t, err)
	return req
}

// submitted creates and submits a draft, returning its latest state.
func (f *fixture) submitted(t *testing.T, budgetID *string, items ...*ItemRequest) *domain.Requisition {
	t.Helper()
	draft := f.createDraft(t, budgetID, items...)
	req, err := f.requisitions.Submit(context.Background(), draft.ID, "alice")
	require.NoError(t, err)
	return req
}

// decide records a decision without override.
func (f *fixture) decide(t *testing.T, requisitionID, stepID, actor string, decision domain.Decision) (*domain.Requisition, error) {
	t.Helper()
	return f.approvals.Decide(context.Background(), &DecideStepRequest{
		RequisitionID: requisitionID,
		StepID:        stepID,
		ActorID:       actor,
		Decision:      decision,
	})
}

func laptop(price int64) *ItemRequest {
	return &ItemRequest{Description: "laptop", Quantity: 1, UnitPrice: price}
}

// stepByOrder returns the step with the given order index.
func stepByOrder(t *testing.T, req *domain.Requisition, order int) *domain.ApprovalStep {
	t.Helper()
	for _, step := range req.Steps {
		if step.OrderIndex == order {
			return step
		}
	}
	t.Fatalf("no step with order index %d", order)
	return nil
}
