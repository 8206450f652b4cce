package commission

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vendora/escrow-api/internal/types"
)

// currencyPlaces is the rounding scale for commission amounts.
const currencyPlaces = 2

// specificity ranks how narrowly a rule is scoped: seller+category beats
// seller-only beats category-only beats global.
func specificity(r *Rule, sellerID, categoryID string) int {
	score := 0
	if r.SellerID != "" && r.SellerID == sellerID {
		score += 2
	}
	if r.CategoryID != "" && r.CategoryID == categoryID {
		score++
	}
	return score
}

func matches(r *Rule, sellerID, categoryID string) bool {
	if !r.Active {
		return false
	}
	if r.SellerID != "" && r.SellerID != sellerID {
		return false
	}
	if r.CategoryID != "" && (categoryID == "" || r.CategoryID != categoryID) {
		return false
	}
	return true
}

// SelectRule picks the single applicable rule for a seller/category pair.
// Ranking: scope specificity, then lowest priority value, then earliest
// creation time. Returns NoApplicableRule when nothing matches; operators
// are expected to provision a global fallback rule.
func SelectRule(sellerID, categoryID string, rules []Rule) (*Rule, error) {
	candidates := make([]*Rule, 0, len(rules))
	for i := range rules {
		if matches(&rules[i], sellerID, categoryID) {
			candidates = append(candidates, &rules[i])
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: seller=%s category=%s", types.ErrNoApplicableRule, sellerID, categoryID)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si := specificity(candidates[i], sellerID, categoryID)
		sj := specificity(candidates[j], sellerID, categoryID)
		if si != sj {
			return si > sj
		}
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	return candidates[0], nil
}

// Compute selects the winning rule and returns the clamped commission for
// the given order amount. Pure: repeated calls over the same inputs return
// the same rule and amount.
func Compute(sellerID, categoryID string, amount decimal.Decimal, rules []Rule) (*Applied, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, fmt.Errorf("%w: order amount must be positive", types.ErrValidation)
	}

	rule, err := SelectRule(sellerID, categoryID, rules)
	if err != nil {
		return nil, err
	}

	commission := amount.Mul(rule.Rate).Round(currencyPlaces)
	if rule.MinAmount.Valid && commission.Cmp(rule.MinAmount.Decimal) < 0 {
		commission = rule.MinAmount.Decimal
	}
	if rule.MaxAmount.Valid && commission.Cmp(rule.MaxAmount.Decimal) > 0 {
		commission = rule.MaxAmount.Decimal
	}

	return &Applied{
		RuleID:      rule.RuleID,
		Rate:        rule.Rate,
		Amount:      commission,
		Description: describeRule(rule),
	}, nil
}

func describeRule(r *Rule) string {
	scope := "global"
	switch {
	case r.SellerID != "" && r.CategoryID != "":
		scope = fmt.Sprintf("seller %s / category %s", r.SellerID, r.CategoryID)
	case r.SellerID != "":
		scope = fmt.Sprintf("seller %s", r.SellerID)
	case r.CategoryID != "":
		scope = fmt.Sprintf("category %s", r.CategoryID)
	}
	return fmt.Sprintf("rule %s (%s, rate %s, priority %d)", r.RuleID, scope, r.Rate.String(), r.Priority)
}
