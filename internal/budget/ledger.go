// Package budget implements the reserve/release/commit ledger arithmetic.
// All functions mutate the budget only after the resulting state has been
// verified, so a failed operation leaves the budget exactly as it was. The
// caller runs them inside a store transaction to make them atomic with
// respect to concurrent callers on the same budget.
package budget

import (
	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
)

// Reserve holds amount against the budget for a pending-approval
// requisition. Fails with a budget violation when remaining funds do not
// cover it.
func Reserve(b *domain.Budget, amount int64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if b.Remaining() < amount {
		return errors.Newf(errors.ErrCodeBudgetViolation,
			"insufficient funds in budget %s: remaining %d, requested %d", b.ID, b.Remaining(), amount)
	}
	return apply(b, b.Reserved+amount, b.Spent)
}

// Release returns previously reserved funds on rejection or cancellation.
// Releasing more than is reserved is a caller-sequencing bug and fails
// loudly instead of going negative.
func Release(b *domain.Budget, amount int64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount > b.Reserved {
		return errors.Newf(errors.ErrCodeConsistencyFault,
			"release of %d exceeds reserved %d on budget %s", amount, b.Reserved, b.ID)
	}
	return apply(b, b.Reserved-amount, b.Spent)
}

// Commit moves amount from reserved to spent when a requisition is
// purchased. Committing more than is reserved is a caller-sequencing bug.
func Commit(b *domain.Budget, amount int64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount > b.Reserved {
		return errors.Newf(errors.ErrCodeConsistencyFault,
			"commit of %d exceeds reserved %d on budget %s", amount, b.Reserved, b.ID)
	}
	return apply(b, b.Reserved-amount, b.Spent+amount)
}

// Adjust changes the allocation by delta, which may be negative. The new
// allocation must still cover everything already reserved and spent.
func Adjust(b *domain.Budget, delta int64) error {
	if delta == 0 {
		return errors.InvalidInput("delta", "must be non-zero")
	}
	allocated := b.Allocated + delta
	if allocated < 0 || allocated-b.Reserved-b.Spent < 0 {
		return errors.Newf(errors.ErrCodeBudgetViolation,
			"allocation change of %d on budget %s would undercut reserved %d and spent %d",
			delta, b.ID, b.Reserved, b.Spent)
	}
	b.Allocated = allocated
	return nil
}

func validAmount(amount int64) error {
	if amount <= 0 {
		return errors.InvalidInput("amount", "must be positive")
	}
	return nil
}

// apply asserts the invariant on the prospective values and only then
// assigns them. Never clamps.
func apply(b *domain.Budget, reserved, spent int64) error {
	if reserved < 0 || spent < 0 || b.Allocated-reserved-spent < 0 {
		return errors.Newf(errors.ErrCodeConsistencyFault,
			"budget %s invariant violated: allocated=%d reserved=%d spent=%d",
			b.ID, b.Allocated, reserved, spent)
	}
	b.Reserved = reserved
	b.Spent = spent
	return nil
}
