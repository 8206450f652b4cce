package commission

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendora/escrow-api/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func activeRule(id, sellerID, categoryID, rate string, priority int, createdAt time.Time) Rule {
	return Rule{
		RuleID:     id,
		SellerID:   sellerID,
		CategoryID: categoryID,
		Rate:       dec(rate),
		Priority:   priority,
		Active:     true,
		CreatedAt:  createdAt,
	}
}

func TestComputeStandardRate(t *testing.T) {
	rules := []Rule{
		activeRule("RUL_global", "", "", "0.10", 100, time.Now()),
	}

	applied, err := Compute("SELLER_1", "", dec("250.00"), rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_global", applied.RuleID)
	assert.True(t, applied.Amount.Equal(dec("25.00")), "got %s", applied.Amount)
}

func TestComputeRounding(t *testing.T) {
	rules := []Rule{
		activeRule("RUL_global", "", "", "0.0725", 100, time.Now()),
	}

	// 99.99 * 0.0725 = 7.249275, rounds to 7.25
	applied, err := Compute("SELLER_1", "", dec("99.99"), rules)
	require.NoError(t, err)
	assert.True(t, applied.Amount.Equal(dec("7.25")), "got %s", applied.Amount)
}

func TestComputeMinClamp(t *testing.T) {
	rule := activeRule("RUL_min", "", "", "0.10", 100, time.Now())
	rule.MinAmount = nullDec("5.00")

	applied, err := Compute("SELLER_1", "", dec("10.00"), []Rule{rule})
	require.NoError(t, err)
	assert.True(t, applied.Amount.Equal(dec("5.00")), "got %s", applied.Amount)
}

func TestComputeMaxClamp(t *testing.T) {
	rule := activeRule("RUL_max", "", "", "0.10", 100, time.Now())
	rule.MaxAmount = nullDec("50.00")

	applied, err := Compute("SELLER_1", "", dec("2000.00"), []Rule{rule})
	require.NoError(t, err)
	assert.True(t, applied.Amount.Equal(dec("50.00")), "got %s", applied.Amount)
}

func TestComputeRejectsNonPositiveAmount(t *testing.T) {
	rules := []Rule{
		activeRule("RUL_global", "", "", "0.10", 100, time.Now()),
	}

	_, err := Compute("SELLER_1", "", dec("0"), rules)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = Compute("SELLER_1", "", dec("-1.00"), rules)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSelectRuleSpecificityOrder(t *testing.T) {
	now := time.Now()
	rules := []Rule{
		activeRule("RUL_global", "", "", "0.10", 1, now),
		activeRule("RUL_category", "", "ELECTRONICS", "0.08", 1, now),
		activeRule("RUL_seller", "SELLER_1", "", "0.07", 1, now),
		activeRule("RUL_seller_category", "SELLER_1", "ELECTRONICS", "0.05", 1, now),
	}

	selected, err := SelectRule("SELLER_1", "ELECTRONICS", rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_seller_category", selected.RuleID)

	selected, err = SelectRule("SELLER_1", "FASHION", rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_seller", selected.RuleID)

	selected, err = SelectRule("SELLER_2", "ELECTRONICS", rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_category", selected.RuleID)

	selected, err = SelectRule("SELLER_2", "", rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_global", selected.RuleID)
}

func TestSelectRulePriorityTieBreak(t *testing.T) {
	now := time.Now()
	rules := []Rule{
		activeRule("RUL_low_priority", "SELLER_1", "", "0.10", 50, now),
		activeRule("RUL_high_priority", "SELLER_1", "", "0.08", 10, now),
	}

	selected, err := SelectRule("SELLER_1", "", rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_high_priority", selected.RuleID)
}

func TestSelectRuleCreatedAtTieBreak(t *testing.T) {
	earlier := time.Now().Add(-time.Hour)
	later := time.Now()
	rules := []Rule{
		activeRule("RUL_newer", "SELLER_1", "", "0.10", 10, later),
		activeRule("RUL_older", "SELLER_1", "", "0.08", 10, earlier),
	}

	selected, err := SelectRule("SELLER_1", "", rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_older", selected.RuleID)
}

func TestSelectRuleSkipsInactive(t *testing.T) {
	now := time.Now()
	inactive := activeRule("RUL_inactive", "SELLER_1", "", "0.05", 1, now)
	inactive.Active = false
	rules := []Rule{
		inactive,
		activeRule("RUL_global", "", "", "0.10", 100, now),
	}

	selected, err := SelectRule("SELLER_1", "", rules)
	require.NoError(t, err)
	assert.Equal(t, "RUL_global", selected.RuleID)
}

func TestSelectRuleNoApplicableRule(t *testing.T) {
	rules := []Rule{
		activeRule("RUL_other_seller", "SELLER_2", "", "0.10", 1, time.Now()),
	}

	_, err := SelectRule("SELLER_1", "", rules)
	assert.ErrorIs(t, err, types.ErrNoApplicableRule)

	_, err = SelectRule("SELLER_1", "", nil)
	assert.ErrorIs(t, err, types.ErrNoApplicableRule)
}

func TestComputeDeterministic(t *testing.T) {
	now := time.Now()
	rules := []Rule{
		activeRule("RUL_a", "SELLER_1", "", "0.10", 10, now),
		activeRule("RUL_b", "SELLER_1", "", "0.08", 10, now.Add(time.Second)),
		activeRule("RUL_global", "", "", "0.12", 1, now),
	}

	first, err := Compute("SELLER_1", "", dec("123.45"), rules)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Compute("SELLER_1", "", dec("123.45"), rules)
		require.NoError(t, err)
		assert.Equal(t, first.RuleID, again.RuleID)
		assert.True(t, first.Amount.Equal(again.Amount))
	}
}
