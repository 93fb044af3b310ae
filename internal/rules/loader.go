package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ledgerline/procurement-core/internal/domain"
	"github.com/ledgerline/procurement-core/internal/errors"
)

// Seed is the bootstrap document: the approval rules for one entity plus
// optional budgets and a role directory. Monetary values are integer cents.
type Seed struct {
	EntityID  string              `yaml:"entity_id"`
	Rules     []SeedRule          `yaml:"rules"`
	Budgets   []SeedBudget        `yaml:"budgets"`
	Directory map[string][]string `yaml:"directory"`
}

// SeedRule mirrors domain.ApprovalRule without identifiers; ids and
// timestamps are assigned at insert time. Active defaults to true when
// omitted.
type SeedRule struct {
	Name       string              `yaml:"name"`
	Priority   int                 `yaml:"priority"`
	Active     *bool               `yaml:"active"`
	Conditions []domain.Condition  `yaml:"conditions"`
	Actions    []domain.RuleAction `yaml:"actions"`
}

// SeedBudget mirrors domain.Budget creation input.
type SeedBudget struct {
	Name      string `yaml:"name"`
	Period    string `yaml:"period"`
	Currency  string `yaml:"currency"`
	Allocated int64  `yaml:"allocated"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read seed file "+path)
	}
	return ParseSeed(data)
}

// ParseSeed parses and validates a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to parse seed document")
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks the document before anything is written: every rule must
// be routable on its own terms so a broken seed fails the bootstrap instead
// of surfacing later as a failed submission.
func (s *Seed) Validate() error {
	if s.EntityID == "" {
		return errors.InvalidInput("entity_id", "is required")
	}

	names := make(map[string]struct{}, len(s.Rules))
	for i, rule := range s.Rules {
		at := fmt.Sprintf("rules[%d]", i)
		if rule.Name == "" {
			return errors.InvalidInput(at+".name", "is required")
		}
		if _, dup := names[rule.Name]; dup {
			return errors.InvalidInput(at+".name", "duplicates rule '"+rule.Name+"'")
		}
		names[rule.Name] = struct{}{}

		for j, cond := range rule.Conditions {
			if err := validateCondition(fmt.Sprintf("%s.conditions[%d]", at, j), cond); err != nil {
				return err
			}
		}

		if len(rule.Actions) == 0 {
			return errors.InvalidInput(at+".actions", "at least one action is required")
		}
		for j, action := range rule.Actions {
			if err := validateAction(fmt.Sprintf("%s.actions[%d]", at, j), action); err != nil {
				return err
			}
		}
	}

	for i, budget := range s.Budgets {
		at := fmt.Sprintf("budgets[%d]", i)
		if budget.Name == "" {
			return errors.InvalidInput(at+".name", "is required")
		}
		if budget.Period == "" {
			return errors.InvalidInput(at+".period", "is required")
		}
		if len(budget.Currency) != 3 {
			return errors.InvalidInput(at+".currency", "must be a 3-letter code")
		}
		if budget.Allocated < 0 {
			return errors.InvalidInput(at+".allocated", "must not be negative")
		}
	}

	for role, users := range s.Directory {
		if len(users) == 0 {
			return errors.InvalidInput("directory."+role, "must list at least one user")
		}
	}
	return nil
}

func validateCondition(at string, cond domain.Condition) error {
	switch cond.Operator {
	case domain.OpExpression:
		if cond.Value == "" {
			return errors.InvalidInput(at+".value", "expression must not be empty")
		}
		return nil
	case domain.OpEquals, domain.OpGreaterThan, domain.OpLessThan, domain.OpContains:
	default:
		return errors.InvalidInput(at+".operator", "unknown operator '"+string(cond.Operator)+"'")
	}

	if _, numeric := numericFields[cond.Field]; numeric {
		if cond.Operator == domain.OpContains {
			return errors.InvalidInput(at+".operator", "'contains' is not valid for numeric field '"+cond.Field+"'")
		}
		return nil
	}
	if _, ok := stringFields[cond.Field]; !ok {
		return errors.InvalidInput(at+".field", "unknown field '"+cond.Field+"'")
	}
	if cond.Operator == domain.OpGreaterThan || cond.Operator == domain.OpLessThan {
		return errors.InvalidInput(at+".operator", "'"+string(cond.Operator)+"' is not valid for string field '"+cond.Field+"'")
	}
	return nil
}

func validateAction(at string, action domain.RuleAction) error {
	if action.ApproverID == "" && action.Role == "" {
		return errors.InvalidInput(at, "one of approver_id or role is required")
	}
	if action.ApproverID != "" && action.Role != "" {
		return errors.InvalidInput(at, "approver_id and role are mutually exclusive")
	}
	if action.OrderIndex < 0 {
		return errors.InvalidInput(at+".order_index", "must not be negative")
	}
	if action.Mode != domain.ModeSequential && action.Mode != domain.ModeParallel {
		return errors.InvalidInput(at+".mode", "must be 'sequential' or 'parallel'")
	}
	return nil
}

// DomainRules converts the seed's rules to domain rules without ids; the
// caller assigns ids, entity scope, and timestamps at insert time.
func (s *Seed) DomainRules() []*domain.ApprovalRule {
	rules := make([]*domain.ApprovalRule, 0, len(s.Rules))
	for _, seed := range s.Rules {
		active := true
		if seed.Active != nil {
			active = *seed.Active
		}
		rules = append(rules, &domain.ApprovalRule{
			EntityID:   s.EntityID,
			Name:       seed.Name,
			Conditions: seed.Conditions,
			Actions:    seed.Actions,
			Priority:   seed.Priority,
			Active:     active,
		})
	}
	return rules
}

// DomainBudgets converts the seed's budgets to domain budgets without ids.
func (s *Seed) DomainBudgets() []*domain.Budget {
	budgets := make([]*domain.Budget, 0, len(s.Budgets))
	for _, seed := range s.Budgets {
		budgets = append(budgets, &domain.Budget{
			EntityID:  s.EntityID,
			Name:      seed.Name,
			Period:    seed.Period,
			Currency:  seed.Currency,
			Allocated: seed.Allocated,
		})
	}
	return budgets
}
