package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
)

// MemoryStore keeps all aggregates in process memory. Reads return clones,
// writes store clones, and Atomic stages writes that only land when the
// block returns nil.
type MemoryStore struct {
	mu           sync.RWMutex
	requisitions map[string]*domain.Requisition
	budgets      map[string]*domain.Budget
	rules        map[string]*domain.ApprovalRule
	audits       map[string][]*domain.AuditEntry
	numberSeq    int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requisitions: make(map[string]*domain.Requisition),
		budgets:      make(map[string]*domain.Budget),
		rules:        make(map[string]*domain.ApprovalRule),
		audits:       make(map[string][]*domain.AuditEntry),
	}
}

// ── requisitions ──────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateRequisition(_ context.Context, req *domain.Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requisitions[req.ID]; exists {
		return errors.Newf(errors.ErrCodeConflict, "requisition already exists: %s", req.ID)
	}
	for _, other := range s.requisitions {
		if other.Number == req.Number {
			return errors.Newf(errors.ErrCodeConflict, "requisition number already taken: %s", req.Number)
		}
	}
	s.requisitions[req.ID] = req.Clone()
	return nil
}

func (s *MemoryStore) GetRequisition(_ context.Context, id string) (*domain.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requisitions[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) ListRequisitions(_ context.Context, filter RequisitionFilter) ([]*domain.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Requisition
	for _, req := range s.requisitions {
		if !matchesFilter(req, filter) {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) ListPendingApprovals(_ context.Context, entityID, approverID string) ([]*domain.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Requisition
	for _, req := range s.requisitions {
		if req.EntityID != entityID || req.Status != domain.StatusPendingApproval {
			continue
		}
		for _, step := range req.Steps {
			if step.Status == domain.StepPending && step.ActorCanDecide(approverID) {
				out = append(out, req.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(*out[j].SubmittedAt)
	})
	return out, nil
}

func (s *MemoryStore) NextRequisitionNumber(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.numberSeq++
	return fmt.Sprintf("REQ-%06d", s.numberSeq), nil
}

func matchesFilter(req *domain.Requisition, filter RequisitionFilter) bool {
	if filter.EntityID != "" && req.EntityID != filter.EntityID {
		return false
	}
	if filter.Status != "" && req.Status != filter.Status {
		return false
	}
	if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
		return false
	}
	if filter.Department != "" && req.Department != filter.Department {
		return false
	}
	return true
}

func paginate(reqs []*domain.Requisition, offset, limit int) []*domain.Requisition {
	if offset >= len(reqs) {
		return nil
	}
	reqs = reqs[offset:]
	if limit > 0 && limit < len(reqs) {
		reqs = reqs[:limit]
	}
	return reqs
}

// ── budgets ───────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateBudget(_ context.Context, budget *domain.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.budgets[budget.ID]; exists {
		return errors.Newf(errors.ErrCodeConflict, "budget already exists: %s", budget.ID)
	}
	for _, other := range s.budgets {
		if other.EntityID == budget.EntityID && other.Name == budget.Name && other.Period == budget.Period {
			return errors.Newf(errors.ErrCodeConflict,
				"budget '%s' already exists for period %s", budget.Name, budget.Period)
		}
	}
	s.budgets[budget.ID] = budget.Clone()
	return nil
}

func (s *MemoryStore) GetBudget(_ context.Context, id string) (*domain.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	budget, ok := s.budgets[id]
	if !ok {
		return nil, errors.NotFound("budget", id)
	}
	return budget.Clone(), nil
}

func (s *MemoryStore) ListBudgets(_ context.Context, entityID string) ([]*domain.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Budget
	for _, budget := range s.budgets {
		if budget.EntityID == entityID {
			out = append(out, budget.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period == out[j].Period {
			return out[i].Name < out[j].Name
		}
		return out[i].Period < out[j].Period
	})
	return out, nil
}

// ── rules ─────────────────────────────────────────────────────────────────────

func (s *MemoryStore) SaveRule(_ context.Context, rule *domain.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.rules {
		if other.ID != rule.ID && other.EntityID == rule.EntityID && other.Name == rule.Name {
			// Reseeding the same named rule replaces it in place.
			rule = rule.Clone()
			rule.ID = other.ID
			s.rules[rule.ID] = rule
			return nil
		}
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

func (s *MemoryStore) GetRule(_ context.Context, id, entityID string) (*domain.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok || rule.EntityID != entityID {
		return nil, errors.NotFound("approval_rule", id)
	}
	return rule.Clone(), nil
}

func (s *MemoryStore) ListRules(_ context.Context, entityID string, activeOnly bool) ([]*domain.ApprovalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ApprovalRule
	for _, rule := range s.rules {
		if rule.EntityID != entityID {
			continue
		}
		if activeOnly && !rule.Active {
			continue
		}
		out = append(out, rule.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].Name < out[j].Name
		}
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

// ── audit ─────────────────────────────────────────────────────────────────────

func (s *MemoryStore) AppendAudit(_ context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits[entry.RequisitionID] = append(s.audits[entry.RequisitionID], entry.Clone())
	return nil
}

func (s *MemoryStore) AuditTrail(_ context.Context, requisitionID string) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audits[requisitionID]
	out := make([]*domain.AuditEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry.Clone()
	}
	return out, nil
}

// ── transactions ──────────────────────────────────────────────────────────────

// Atomic holds the store lock for the whole block, so staged writes land
// all-or-nothing and no reader observes a half-applied transition.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:        s,
		requisitions: make(map[string]*domain.Requisition),
		budgets:      make(map[string]*domain.Budget),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, req := range tx.requisitions {
		s.requisitions[id] = req
	}
	for id, budget := range tx.budgets {
		s.budgets[id] = budget
	}
	return nil
}

type memoryTx struct {
	store        *MemoryStore
	requisitions map[string]*domain.Requisition
	budgets      map[string]*domain.Budget
}

func (tx *memoryTx) RequisitionForUpdate(_ context.Context, id string) (*domain.Requisition, error) {
	if staged, ok := tx.requisitions[id]; ok {
		return staged.Clone(), nil
	}
	req, ok := tx.store.requisitions[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	return req.Clone(), nil
}

func (tx *memoryTx) SaveRequisition(_ context.Context, req *domain.Requisition) error {
	tx.requisitions[req.ID] = req.Clone()
	return nil
}

func (tx *memoryTx) BudgetForUpdate(_ context.Context, id string) (*domain.Budget, error) {
	if staged, ok := tx.budgets[id]; ok {
		return staged.Clone(), nil
	}
	budget, ok := tx.store.budgets[id]
	if !ok {
		return nil, errors.NotFound("budget", id)
	}
	return budget.Clone(), nil
}

func (tx *memoryTx) SaveBudget(_ context.Context, budget *domain.Budget) error {
	tx.budgets[budget.ID] = budget.Clone()
	return nil
}
