package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/procurement-core/internal/errors"
)

func TestCELEvalBasics(t *testing.T) {
	eval, err := newCELEvaluator()
	require.NoError(t, err)

	snap := Snapshot{
		Amount:     250000,
		Department: "engineering",
		ItemCount:  3,
		Currency:   "USD",
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`amount > 100000`, true},
		{`amount < 100000`, false},
		{`department == "engineering" && item_count >= 3`, true},
		{`currency in ["USD", "EUR"]`, true},
		{`vendor_id == ""`, true},
	}
	for _, tc := range tests {
		got, err := eval.Eval(tc.expr, snap)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestCELEvalCompileError(t *testing.T) {
	eval, err := newCELEvaluator()
	require.NoError(t, err)

	_, err = eval.Eval(`amount >`, Snapshot{})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))

	// Type mismatch is a compile error too.
	_, err = eval.Eval(`amount == "high"`, Snapshot{})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestCELEvalNonBooleanResult(t *testing.T) {
	eval, err := newCELEvaluator()
	require.NoError(t, err)

	_, err = eval.Eval(`amount + 1`, Snapshot{Amount: 1})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestCELEvalRuntimeError(t *testing.T) {
	eval, err := newCELEvaluator()
	require.NoError(t, err)

	_, err = eval.Eval(`amount / item_count > 10`, Snapshot{Amount: 100, ItemCount: 0})
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestCELProgramCache(t *testing.T) {
	eval, err := newCELEvaluator()
	require.NoError(t, err)

	const expr = `amount > 500`
	_, err = eval.Eval(expr, Snapshot{Amount: 1000})
	require.NoError(t, err)
	require.Len(t, eval.cache, 1)

	got, err := eval.Eval(expr, Snapshot{Amount: 100})
	require.NoError(t, err)
	assert.False(t, got)
	assert.Len(t, eval.cache, 1)
}
