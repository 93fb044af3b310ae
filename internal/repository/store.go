// Package repository persists the workflow engine's aggregates. Two
// implementations exist: PostgresStore for production and MemoryStore for
// tests and single-process use. Both hand out copies, never live references
// to stored state.
package repository

import (
	"context"

	"github.com/ledgerline/procurement-core/internal/domain"
)

// RequisitionFilter narrows ListRequisitions. Zero values match everything.
type RequisitionFilter struct {
	EntityID    string
	Status      domain.Status
	RequesterID string
	Department  string
	Limit       int
	Offset      int
}

// Tx is the write surface available inside an atomic block. ForUpdate reads
// take the row lock that serializes concurrent transitions on the same
// aggregate.
type Tx interface {
	RequisitionForUpdate(ctx context.Context, id string) (*domain.Requisition, error)
	SaveRequisition(ctx context.Context, req *domain.Requisition) error
	BudgetForUpdate(ctx context.Context, id string) (*domain.Budget, error)
	SaveBudget(ctx context.Context, budget *domain.Budget) error
}

// Store is the persistence boundary of the engine.
type Store interface {
	CreateRequisition(ctx context.Context, req *domain.Requisition) error
	GetRequisition(ctx context.Context, id string) (*domain.Requisition, error)
	ListRequisitions(ctx context.Context, filter RequisitionFilter) ([]*domain.Requisition, error)
	ListPendingApprovals(ctx context.Context, entityID, approverID string) ([]*domain.Requisition, error)
	NextRequisitionNumber(ctx context.Context) (string, error)

	CreateBudget(ctx context.Context, budget *domain.Budget) error
	GetBudget(ctx context.Context, id string) (*domain.Budget, error)
	ListBudgets(ctx context.Context, entityID string) ([]*domain.Budget, error)

	SaveRule(ctx context.Context, rule *domain.ApprovalRule) error
	GetRule(ctx context.Context, id, entityID string) (*domain.ApprovalRule, error)
	ListRules(ctx context.Context, entityID string, activeOnly bool) ([]*domain.ApprovalRule, error)

	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	AuditTrail(ctx context.Context, requisitionID string) ([]*domain.AuditEntry, error)

	// Atomic runs fn in one transaction. Any error discards every write
	// staged inside it.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}
