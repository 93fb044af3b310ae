package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/procurement-core/internal/budget"
	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
	"github.com/ledgerline/procurement-core/internal/lock"
	"github.com/ledgerline/procurement-core/internal/logger"
	"github.com/ledgerline/procurement-core/internal/repository"
)

// BudgetService administers budgets. The reserve/release/commit flows are
// driven by the requisition transitions; this service covers creation,
// allocation changes, and reads.
type BudgetService struct {
	store  repository.Store
	locker lock.Locker
	log    *logger.Logger
	now    func() time.Time
}

// NewBudgetService creates a new BudgetService.
func NewBudgetService(store repository.Store, locker lock.Locker, log *logger.Logger) *BudgetService {
	return &BudgetService{
		store:  store,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
}

// CreateBudgetRequest represents a create budget request.
type CreateBudgetRequest struct {
	EntityID  string
	Name      string
	Period    string
	Currency  string
	Allocated int64 // cents
}

// CreateBudget creates a budget with nothing reserved or spent.
func (s *BudgetService) CreateBudget(ctx context.Context, req *CreateBudgetRequest) (*domain.Budget, error) {
	if req.EntityID == "" {
		return nil, errors.InvalidInput("entity_id", "entity id is required")
	}
	if req.Name == "" {
		return nil, errors.InvalidInput("name", "budget name is required")
	}
	if req.Period == "" {
		return nil, errors.InvalidInput("period", "budget period is required")
	}
	if len(req.Currency) != 3 {
		return nil, errors.InvalidInput("currency", "currency must be 3-letter ISO code")
	}
	if req.Allocated < 0 {
		return nil, errors.InvalidInput("allocated", "allocation cannot be negative")
	}

	now := s.now().UTC()
	b := &domain.Budget{
		ID:        uuid.NewString(),
		EntityID:  req.EntityID,
		Name:      req.Name,
		Period:    req.Period,
		Currency:  strings.ToUpper(req.Currency),
		Allocated: req.Allocated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBudget(ctx, b); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("budget_id", b.ID).
		Str("entity_id", b.EntityID).
		Str("name", b.Name).
		Str("period", b.Period).
		Int64("allocated", b.Allocated).
		Msg("Budget created")

	return b, nil
}

// AdjustAllocation changes a budget's allocation by delta, which may be
// negative. The new allocation must still cover reserved plus spent funds.
func (s *BudgetService) AdjustAllocation(ctx context.Context, budgetID string, delta int64) (*domain.Budget, error) {
	var out *domain.Budget

	err := s.locker.WithLock(ctx, lock.BudgetKey(budgetID), func(ctx context.Context) error {
		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			b, err := tx.BudgetForUpdate(ctx, budgetID)
			if err != nil {
				return err
			}
			if err := budget.Adjust(b, delta); err != nil {
				return err
			}
			b.UpdatedAt = s.now().UTC()

			if err := tx.SaveBudget(ctx, b); err != nil {
				return err
			}
			out = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("budget_id", out.ID).
		Int64("delta", delta).
		Int64("allocated", out.Allocated).
		Msg("Budget allocation adjusted")

	return out, nil
}

// GetBudget retrieves a budget by id.
func (s *BudgetService) GetBudget(ctx context.Context, id string) (*domain.Budget, error) {
	return s.store.GetBudget(ctx, id)
}

// ListBudgets lists an entity's budgets.
func (s *BudgetService) ListBudgets(ctx context.Context, entityID string) ([]*domain.Budget, error) {
	return s.store.ListBudgets(ctx, entityID)
}
