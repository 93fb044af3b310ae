// Package lock serializes state transitions per aggregate. Every
// read-then-transition sequence on a requisition or budget runs under the
// aggregate's lock so concurrent actors observe each other's writes.
package lock

import "context"

// Locker runs fn while holding the named lock. Implementations guarantee
// mutual exclusion per key: in-process for single-node deployments,
// Redis-backed across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RequisitionKey is the lock key guarding one requisition and its steps.
func RequisitionKey(id string) string {
	return "lock:requisition:" + id
}

// BudgetKey is the lock key guarding one budget's ledger.
func BudgetKey(id string) string {
	return "lock:budget:" + id
}
