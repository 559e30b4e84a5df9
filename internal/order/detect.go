package order

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/solatis/pricekeeper/internal/types"
)

// MarkupTolerance absorbs the residue of markups back-derived from a typed price.
const MarkupTolerance = 0.01

// Detect compares one line against the winner's ceilings.
// Discount is a strict comparison at two decimals; markup allows MarkupTolerance.
// An absent ceiling never produces a violation. Pure and deterministic.
func Detect(line types.OrderLine, ceilings types.Ceilings) []types.Violation {
	var violations []types.Violation

	if limit, ok := ceilings.MaxDiscountPercent.Get(); ok {
		actual := decimal.NewFromFloat(line.DiscountPercent).Round(2)
		if actual.GreaterThan(decimal.NewFromFloat(limit).Round(2)) {
			violations = append(violations, types.Violation{
				LineRef: line.ProductID,
				Kind:    types.DiscountExceeded,
				Limit:   limit,
				Actual:  line.DiscountPercent,
			})
		}
	}

	if limit, ok := ceilings.MaxMarkupPercent.Get(); ok {
		threshold := decimal.NewFromFloat(limit).Add(decimal.NewFromFloat(MarkupTolerance))
		if decimal.NewFromFloat(line.MarkupPercent).GreaterThan(threshold) {
			violations = append(violations, types.Violation{
				LineRef: line.ProductID,
				Kind:    types.MarkupExceeded,
				Limit:   limit,
				Actual:  line.MarkupPercent,
			})
		}
	}

	return violations
}

// DetectAll runs Detect over lines, keeping line order.
func DetectAll(lines []types.OrderLine, ceilings types.Ceilings) []types.Violation {
	var violations []types.Violation
	for _, line := range lines {
		violations = append(violations, Detect(line, ceilings)...)
	}
	return violations
}

// Message renders a violation for display to the user.
func Message(v types.Violation) string {
	switch v.Kind {
	case types.DiscountExceeded:
		return fmt.Sprintf("product %d: discount %.2f%% exceeds the %.2f%% limit", v.LineRef, v.Actual, v.Limit)
	case types.MarkupExceeded:
		return fmt.Sprintf("product %d: markup %.2f%% exceeds the %.2f%% limit", v.LineRef, v.Actual, v.Limit)
	default:
		return fmt.Sprintf("product %d: %s (limit %.2f, actual %.2f)", v.LineRef, v.Kind, v.Limit, v.Actual)
	}
}
