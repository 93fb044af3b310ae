package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/ledgerline/procurement-core/internal/errors"
)

// celEvaluator evaluates expression conditions against a snapshot. Compiled
// programs are cached per expression; rule sets are small and stable so the
// cache stays bounded in practice.
type celEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.IntType),
		cel.Variable("department", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("vendor_id", cel.StringType),
		cel.Variable("item_count", cel.IntType),
		cel.Variable("requester_id", cel.StringType),
		cel.Variable("currency", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create expression environment")
	}
	return &celEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Eval compiles (or reuses) the expression and evaluates it against the
// snapshot. Compile and evaluation failures are configuration errors: they
// mean a stored rule is broken, not that the caller's input is.
func (c *celEvaluator) Eval(expr string, snap Snapshot) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"amount":       snap.Amount,
		"department":   snap.Department,
		"category":     snap.Category,
		"vendor_id":    snap.VendorID,
		"item_count":   int64(snap.ItemCount),
		"requester_id": snap.RequesterID,
		"currency":     snap.Currency,
	})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeConfigurationError,
			fmt.Sprintf("expression %q failed to evaluate", expr))
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Newf(errors.ErrCodeConfigurationError,
			"expression %q did not yield a boolean", expr)
	}
	return result, nil
}

func (c *celEvaluator) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.cache[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, hit = c.cache[expr]; hit {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), errors.ErrCodeConfigurationError,
			fmt.Sprintf("expression %q does not compile", expr))
	}
	compiled, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigurationError,
			fmt.Sprintf("expression %q could not be planned", expr))
	}

	c.cache[expr] = compiled
	return compiled, nil
}
