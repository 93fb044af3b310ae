package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerline/procurement-core/internal/database"
	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
)

// PostgresStore persists aggregates in PostgreSQL. Inside Atomic blocks,
// ForUpdate reads take row locks so concurrent transitions on the same
// aggregate serialize at the database even across service instances.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a store on an established connection pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier is satisfied by both *database.DB and pgx.Tx, so loaders and
// writers run unchanged inside and outside transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate applies the schema. Every statement is idempotent, so the
// bootstrap runs this on each start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply schema")
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS requisitions (
		id            TEXT PRIMARY KEY,
		entity_id     TEXT NOT NULL,
		number        TEXT NOT NULL UNIQUE,
		requester_id  TEXT NOT NULL,
		department    TEXT NOT NULL,
		category      TEXT NOT NULL,
		vendor_id     TEXT,
		currency      TEXT NOT NULL,
		justification TEXT,
		status        TEXT NOT NULL,
		total_amount  BIGINT NOT NULL DEFAULT 0,
		budget_id     TEXT,
		revision_of   TEXT,
		submitted_at  TIMESTAMPTZ,
		decided_at    TIMESTAMPTZ,
		purchased_at  TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requisitions_entity_status
		ON requisitions (entity_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_requisitions_requester
		ON requisitions (requester_id)`,

	`CREATE TABLE IF NOT EXISTS requisition_items (
		id             TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL REFERENCES requisitions(id) ON DELETE CASCADE,
		description    TEXT NOT NULL,
		quantity       BIGINT NOT NULL,
		unit_price     BIGINT NOT NULL,
		total_price    BIGINT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requisition_items_requisition
		ON requisition_items (requisition_id)`,

	`CREATE TABLE IF NOT EXISTS approval_steps (
		id             TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL REFERENCES requisitions(id) ON DELETE CASCADE,
		order_index    INT NOT NULL,
		mode           TEXT NOT NULL,
		depends_on     INT,
		role           TEXT NOT NULL DEFAULT '',
		assigned_to    TEXT NOT NULL,
		delegated_to   TEXT,
		delegated_at   TIMESTAMPTZ,
		status         TEXT NOT NULL,
		decided_by     TEXT,
		decision_notes TEXT,
		decided_at     TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (requisition_id, order_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_steps_assigned
		ON approval_steps (assigned_to)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_steps_delegated
		ON approval_steps (delegated_to)`,

	`CREATE TABLE IF NOT EXISTS budgets (
		id         TEXT PRIMARY KEY,
		entity_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		period     TEXT NOT NULL,
		currency   TEXT NOT NULL,
		allocated  BIGINT NOT NULL,
		reserved   BIGINT NOT NULL DEFAULT 0,
		spent      BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (entity_id, name, period),
		CHECK (allocated - reserved - spent >= 0)
	)`,

	`CREATE TABLE IF NOT EXISTS approval_rules (
		id         TEXT PRIMARY KEY,
		entity_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		conditions JSONB NOT NULL DEFAULT '[]',
		actions    JSONB NOT NULL DEFAULT '[]',
		priority   INT NOT NULL DEFAULT 0,
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (entity_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS requisition_audit (
		id             TEXT PRIMARY KEY,
		requisition_id TEXT NOT NULL,
		entity_id      TEXT NOT NULL,
		step_id        TEXT,
		action         TEXT NOT NULL,
		actor_id       TEXT NOT NULL,
		details        TEXT,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requisition_audit_requisition
		ON requisition_audit (requisition_id, created_at)`,

	`CREATE SEQUENCE IF NOT EXISTS requisition_number_seq`,
}

// ── requisitions ──────────────────────────────────────────────────────────────

const requisitionColumns = `
	id, entity_id, number, requester_id, department, category,
	vendor_id, currency, justification, status, total_amount,
	budget_id, revision_of, submitted_at, decided_at, purchased_at,
	created_at, updated_at`

func (s *PostgresStore) CreateRequisition(ctx context.Context, req *domain.Requisition) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO requisitions (` + requisitionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6,
			        $7, $8, $9, $10, $11,
			        $12, $13, $14, $15, $16,
			        $17, $18)
		`
		_, err := tx.Exec(ctx, query,
			req.ID, req.EntityID, req.Number, req.RequesterID, req.Department, req.Category,
			req.VendorID, req.Currency, req.Justification, req.Status, req.TotalAmount,
			req.BudgetID, req.RevisionOf, req.SubmittedAt, req.DecidedAt, req.PurchasedAt,
			req.CreatedAt, req.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return errors.Newf(errors.ErrCodeConflict, "requisition already exists: %s", req.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert requisition")
		}

		if err := replaceItems(ctx, tx, req); err != nil {
			return err
		}
		return replaceSteps(ctx, tx, req)
	})
}

func (s *PostgresStore) GetRequisition(ctx context.Context, id string) (*domain.Requisition, error) {
	return loadRequisition(ctx, s.db, id, false)
}

func (s *PostgresStore) ListRequisitions(ctx context.Context, filter RequisitionFilter) ([]*domain.Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE 1=1`
	var args []any
	addFilter := func(column string, value any) {
		args = append(args, value)
		query += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}
	if filter.EntityID != "" {
		addFilter("entity_id", filter.EntityID)
	}
	if filter.Status != "" {
		addFilter("status", filter.Status)
	}
	if filter.RequesterID != "" {
		addFilter("requester_id", filter.RequesterID)
	}
	if filter.Department != "" {
		addFilter("department", filter.Department)
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions")
	}
	defer rows.Close()

	var reqs []*domain.Requisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition")
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions")
	}
	rows.Close()

	if err := loadItems(ctx, s.db, reqs); err != nil {
		return nil, err
	}
	if err := loadSteps(ctx, s.db, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *PostgresStore) ListPendingApprovals(ctx context.Context, entityID, approverID string) ([]*domain.Requisition, error) {
	query := `
		SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE entity_id = $1
		  AND status = 'pending_approval'
		  AND EXISTS (
		      SELECT 1 FROM approval_steps s
		      WHERE s.requisition_id = requisitions.id
		        AND s.status = 'pending'
		        AND (s.assigned_to = $2 OR s.delegated_to = $2)
		  )
		ORDER BY submitted_at ASC
	`

	rows, err := s.db.Query(ctx, query, entityID, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	var reqs []*domain.Requisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition")
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending approvals")
	}
	rows.Close()

	if err := loadItems(ctx, s.db, reqs); err != nil {
		return nil, err
	}
	if err := loadSteps(ctx, s.db, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *PostgresStore) NextRequisitionNumber(ctx context.Context) (string, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT nextval('requisition_number_seq')`).Scan(&n)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to allocate requisition number")
	}
	return fmt.Sprintf("REQ-%06d", n), nil
}

func loadRequisition(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	req, err := scanRequisition(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("requisition", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load requisition")
	}

	reqs := []*domain.Requisition{req}
	if err := loadItems(ctx, q, reqs); err != nil {
		return nil, err
	}
	if err := loadSteps(ctx, q, reqs); err != nil {
		return nil, err
	}
	return req, nil
}

func loadItems(ctx context.Context, q querier, reqs []*domain.Requisition) error {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]string, len(reqs))
	byID := make(map[string]*domain.Requisition, len(reqs))
	for i, req := range reqs {
		ids[i] = req.ID
		byID[req.ID] = req
		req.Items = nil
	}

	query := `
		SELECT id, requisition_id, description, quantity, unit_price, total_price,
		       created_at, updated_at
		FROM requisition_items
		WHERE requisition_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load requisition items")
	}
	defer rows.Close()

	for rows.Next() {
		item := &domain.RequisitionItem{}
		var reqID string
		err := rows.Scan(
			&item.ID, &reqID, &item.Description, &item.Quantity, &item.UnitPrice, &item.TotalPrice,
			&item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition item")
		}
		req := byID[reqID]
		req.Items = append(req.Items, item)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load requisition items")
	}
	return nil
}

func loadSteps(ctx context.Context, q querier, reqs []*domain.Requisition) error {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]string, len(reqs))
	byID := make(map[string]*domain.Requisition, len(reqs))
	for i, req := range reqs {
		ids[i] = req.ID
		byID[req.ID] = req
		req.Steps = nil
	}

	query := `
		SELECT id, requisition_id, order_index, mode, depends_on, role,
		       assigned_to, delegated_to, delegated_at, status,
		       decided_by, decision_notes, decided_at, created_at, updated_at
		FROM approval_steps
		WHERE requisition_id = ANY($1)
		ORDER BY order_index ASC
	`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
	}
	defer rows.Close()

	for rows.Next() {
		step := &domain.ApprovalStep{}
		err := rows.Scan(
			&step.ID, &step.RequisitionID, &step.OrderIndex, &step.Mode, &step.DependsOn, &step.Role,
			&step.AssignedTo, &step.DelegatedTo, &step.DelegatedAt, &step.Status,
			&step.DecidedBy, &step.DecisionNotes, &step.DecidedAt, &step.CreatedAt, &step.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		req := byID[step.RequisitionID]
		req.Steps = append(req.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
	}
	return nil
}

func replaceItems(ctx context.Context, q querier, req *domain.Requisition) error {
	if _, err := q.Exec(ctx, `DELETE FROM requisition_items WHERE requisition_id = $1`, req.ID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear requisition items")
	}

	query := `
		INSERT INTO requisition_items
		    (id, requisition_id, description, quantity, unit_price, total_price,
		     created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, item := range req.Items {
		_, err := q.Exec(ctx, query,
			item.ID, req.ID, item.Description, item.Quantity, item.UnitPrice, item.TotalPrice,
			item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert requisition item")
		}
	}
	return nil
}

func replaceSteps(ctx context.Context, q querier, req *domain.Requisition) error {
	if _, err := q.Exec(ctx, `DELETE FROM approval_steps WHERE requisition_id = $1`, req.ID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear approval steps")
	}

	query := `
		INSERT INTO approval_steps
		    (id, requisition_id, order_index, mode, depends_on, role,
		     assigned_to, delegated_to, delegated_at, status,
		     decided_by, decision_notes, decided_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11, $12, $13, $14, $15)
	`
	for _, step := range req.Steps {
		step.RequisitionID = req.ID
		_, err := q.Exec(ctx, query,
			step.ID, step.RequisitionID, step.OrderIndex, step.Mode, step.DependsOn, step.Role,
			step.AssignedTo, step.DelegatedTo, step.DelegatedAt, step.Status,
			step.DecidedBy, step.DecisionNotes, step.DecidedAt, step.CreatedAt, step.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert approval step")
		}
	}
	return nil
}

// ── budgets ───────────────────────────────────────────────────────────────────

const budgetColumns = `
	id, entity_id, name, period, currency,
	allocated, reserved, spent, created_at, updated_at`

func (s *PostgresStore) CreateBudget(ctx context.Context, budget *domain.Budget) error {
	query := `
		INSERT INTO budgets (` + budgetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.Exec(ctx, query,
		budget.ID, budget.EntityID, budget.Name, budget.Period, budget.Currency,
		budget.Allocated, budget.Reserved, budget.Spent, budget.CreatedAt, budget.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errors.Newf(errors.ErrCodeConflict,
			"budget '%s' already exists for period %s", budget.Name, budget.Period)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert budget")
	}
	return nil
}

func (s *PostgresStore) GetBudget(ctx context.Context, id string) (*domain.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1`

	budget, err := scanBudget(s.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load budget")
	}
	return budget, nil
}

func (s *PostgresStore) ListBudgets(ctx context.Context, entityID string) ([]*domain.Budget, error) {
	query := `
		SELECT ` + budgetColumns + `
		FROM budgets
		WHERE entity_id = $1
		ORDER BY period ASC, name ASC
	`

	rows, err := s.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list budgets")
	}
	defer rows.Close()

	var budgets []*domain.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan budget")
		}
		budgets = append(budgets, budget)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list budgets")
	}
	return budgets, nil
}

// ── rules ─────────────────────────────────────────────────────────────────────

const ruleColumns = `
	id, entity_id, name, conditions, actions,
	priority, active, created_at, updated_at`

// SaveRule upserts by (entity_id, name), so reseeding replaces a named rule
// in place instead of accumulating duplicates.
func (s *PostgresStore) SaveRule(ctx context.Context, rule *domain.ApprovalRule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule conditions")
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule actions")
	}

	query := `
		INSERT INTO approval_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_id, name) DO UPDATE SET
			conditions = EXCLUDED.conditions,
			actions    = EXCLUDED.actions,
			priority   = EXCLUDED.priority,
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.Exec(ctx, query,
		rule.ID, rule.EntityID, rule.Name, conditionsJSON, actionsJSON,
		rule.Priority, rule.Active, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approval rule")
	}
	return nil
}

func (s *PostgresStore) GetRule(ctx context.Context, id, entityID string) (*domain.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = $1 AND entity_id = $2`

	rule, err := scanRule(s.db.QueryRow(ctx, query, id, entityID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval rule")
	}
	return rule, nil
}

func (s *PostgresStore) ListRules(ctx context.Context, entityID string, activeOnly bool) ([]*domain.ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE entity_id = $1`
	if activeOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY priority ASC, name ASC"

	rows, err := s.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*domain.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	return rules, nil
}

// ── audit ─────────────────────────────────────────────────────────────────────

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO requisition_audit
		    (id, requisition_id, entity_id, step_id, action, actor_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query,
		entry.ID, entry.RequisitionID, entry.EntityID, entry.StepID,
		entry.Action, entry.ActorID, entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

func (s *PostgresStore) AuditTrail(ctx context.Context, requisitionID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, requisition_id, entity_id, step_id, action, actor_id, details, created_at
		FROM requisition_audit
		WHERE requisition_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.Query(ctx, query, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load audit trail")
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		entry := &domain.AuditEntry{}
		err := rows.Scan(
			&entry.ID, &entry.RequisitionID, &entry.EntityID, &entry.StepID,
			&entry.Action, &entry.ActorID, &entry.Details, &entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load audit trail")
	}
	return entries, nil
}

// ── transactions ──────────────────────────────────────────────────────────────

func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&postgresTx{tx: tx})
	})
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) RequisitionForUpdate(ctx context.Context, id string) (*domain.Requisition, error) {
	return loadRequisition(ctx, t.tx, id, true)
}

// SaveRequisition upserts the header and rewrites items and steps. Rows
// carry their own timestamps, so the rewrite preserves creation times.
func (t *postgresTx) SaveRequisition(ctx context.Context, req *domain.Requisition) error {
	query := `
		INSERT INTO requisitions (` + requisitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16,
		        $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			vendor_id     = EXCLUDED.vendor_id,
			justification = EXCLUDED.justification,
			status        = EXCLUDED.status,
			total_amount  = EXCLUDED.total_amount,
			budget_id     = EXCLUDED.budget_id,
			revision_of   = EXCLUDED.revision_of,
			submitted_at  = EXCLUDED.submitted_at,
			decided_at    = EXCLUDED.decided_at,
			purchased_at  = EXCLUDED.purchased_at,
			updated_at    = EXCLUDED.updated_at
	`
	_, err := t.tx.Exec(ctx, query,
		req.ID, req.EntityID, req.Number, req.RequesterID, req.Department, req.Category,
		req.VendorID, req.Currency, req.Justification, req.Status, req.TotalAmount,
		req.BudgetID, req.RevisionOf, req.SubmittedAt, req.DecidedAt, req.PurchasedAt,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save requisition")
	}

	if err := replaceItems(ctx, t.tx, req); err != nil {
		return err
	}
	return replaceSteps(ctx, t.tx, req)
}

func (t *postgresTx) BudgetForUpdate(ctx context.Context, id string) (*domain.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1 FOR UPDATE`

	budget, err := scanBudget(t.tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock budget")
	}
	return budget, nil
}

func (t *postgresTx) SaveBudget(ctx context.Context, budget *domain.Budget) error {
	query := `
		UPDATE budgets
		SET allocated  = $2,
		    reserved   = $3,
		    spent      = $4,
		    updated_at = $5
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := t.tx.QueryRow(ctx, query,
		budget.ID, budget.Allocated, budget.Reserved, budget.Spent, budget.UpdatedAt,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("budget", budget.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save budget")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequisition(row rowScanner) (*domain.Requisition, error) {
	req := &domain.Requisition{}
	err := row.Scan(
		&req.ID, &req.EntityID, &req.Number, &req.RequesterID, &req.Department, &req.Category,
		&req.VendorID, &req.Currency, &req.Justification, &req.Status, &req.TotalAmount,
		&req.BudgetID, &req.RevisionOf, &req.SubmittedAt, &req.DecidedAt, &req.PurchasedAt,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func scanBudget(row rowScanner) (*domain.Budget, error) {
	budget := &domain.Budget{}
	err := row.Scan(
		&budget.ID, &budget.EntityID, &budget.Name, &budget.Period, &budget.Currency,
		&budget.Allocated, &budget.Reserved, &budget.Spent, &budget.CreatedAt, &budget.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return budget, nil
}

func scanRule(row rowScanner) (*domain.ApprovalRule, error) {
	rule := &domain.ApprovalRule{}
	var conditionsJSON, actionsJSON []byte

	err := row.Scan(
		&rule.ID, &rule.EntityID, &rule.Name, &conditionsJSON, &actionsJSON,
		&rule.Priority, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule conditions")
	}
	if err := json.Unmarshal(actionsJSON, &rule.Actions); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule actions")
	}
	return rule, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
