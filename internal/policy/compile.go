// Package policy resolves which commercial policy applies to a sale context.
package policy

import (
	"fmt"
	"strings"

	"github.com/solatis/pricekeeper/internal/types"
)

/*
 * Policy compilation and validation.
 *
 * Compiles types.CommercialPolicy to CompiledPolicy with validated matchers and a
 * precomputed specificity, so matching is a pure scan with no error paths.
 *
 * Compilation workflow:
 *   1. Validate the policy id
 *   2. Validate each dimension matcher (OneOf non-empty and bounded, duplicates
 *      removed, state codes two letters and upper-cased)
 *   3. Validate ceilings (discount within [0,100], markup non-negative)
 *   4. Count non-Any matchers as specificity
 *
 * Specificity is the only ranking signal. Ties are broken by ascending policy id
 * in Match, which makes the winner a function of the policy set alone.
 */

// CompiledPolicy is a validated policy ready for matching.
type CompiledPolicy struct {
	ID          int64
	CompanyID   int64
	Name        string
	Active      bool
	Criteria    types.Criteria
	Result      types.PolicyResult
	Specificity int
}

// Compile validates and pre-processes a policy for matching.
func Compile(p *types.CommercialPolicy) (*CompiledPolicy, error) {
	if p.ID <= 0 {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidPolicyID, p.ID)
	}

	criteria, err := compileCriteria(p.Criteria)
	if err != nil {
		return nil, fmt.Errorf("policy %d: %w", p.ID, err)
	}

	if err := validateResult(p.Result); err != nil {
		return nil, fmt.Errorf("policy %d: %w", p.ID, err)
	}

	return &CompiledPolicy{
		ID:          p.ID,
		CompanyID:   p.CompanyID,
		Name:        p.Name,
		Active:      p.Active,
		Criteria:    criteria,
		Result:      p.Result,
		Specificity: Specificity(criteria),
	}, nil
}

// Specificity counts the dimensions a criteria set constrains.
func Specificity(c types.Criteria) int {
	constrained := []bool{
		!c.Company.IsAny(),
		!c.Partner.IsAny(),
		!c.State.IsAny(),
		!c.City.IsAny(),
		!c.Neighborhood.IsAny(),
		!c.Region.IsAny(),
		!c.Product.IsAny(),
		!c.Brand.IsAny(),
		!c.Vendor.IsAny(),
		!c.Team.IsAny(),
		!c.ProductGroup.IsAny(),
		!c.SaleType.IsAny(),
	}
	n := 0
	for _, b := range constrained {
		if b {
			n++
		}
	}
	return n
}

func compileCriteria(c types.Criteria) (types.Criteria, error) {
	var out types.Criteria
	var err error

	ids := []struct {
		dim types.Dimension
		in  types.Matcher[int64]
		out *types.Matcher[int64]
	}{
		{types.DimCompany, c.Company, &out.Company},
		{types.DimPartner, c.Partner, &out.Partner},
		{types.DimCity, c.City, &out.City},
		{types.DimNeighborhood, c.Neighborhood, &out.Neighborhood},
		{types.DimRegion, c.Region, &out.Region},
		{types.DimProduct, c.Product, &out.Product},
		{types.DimBrand, c.Brand, &out.Brand},
		{types.DimVendor, c.Vendor, &out.Vendor},
		{types.DimTeam, c.Team, &out.Team},
		{types.DimProductGroup, c.ProductGroup, &out.ProductGroup},
		{types.DimSaleType, c.SaleType, &out.SaleType},
	}
	for _, d := range ids {
		if *d.out, err = compileMatcher(d.dim, d.in); err != nil {
			return types.Criteria{}, err
		}
	}

	state := c.State
	if !state.IsAny() {
		codes := make([]string, 0, len(state.Values()))
		for _, v := range state.Values() {
			code := normalizeState(v)
			if len(code) != 2 {
				return types.Criteria{}, fmt.Errorf("%w: %s: %q is not a two-letter state code", types.ErrInvalidCriteria, types.DimState, v)
			}
			codes = append(codes, code)
		}
		if state.Kind() == types.MatchEquals {
			state = types.Equals(codes[0])
		} else {
			state = types.OneOf(codes...)
		}
	}
	if out.State, err = compileMatcher(types.DimState, state); err != nil {
		return types.Criteria{}, err
	}

	return out, nil
}

// compileMatcher enforces OneOf bounds and removes duplicate members.
func compileMatcher[T comparable](dim types.Dimension, m types.Matcher[T]) (types.Matcher[T], error) {
	switch m.Kind() {
	case types.MatchAny, types.MatchEquals:
		return m, nil
	case types.MatchOneOf:
		vs := m.Values()
		if len(vs) == 0 {
			return m, fmt.Errorf("%w: %s: one_of requires at least one value", types.ErrInvalidCriteria, dim)
		}
		if len(vs) > types.MaxOneOfValues {
			return m, fmt.Errorf("%w: %s: one_of has %d values, max %d", types.ErrInvalidCriteria, dim, len(vs), types.MaxOneOfValues)
		}
		seen := make(map[T]struct{}, len(vs))
		unique := make([]T, 0, len(vs))
		for _, v := range vs {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			unique = append(unique, v)
		}
		return types.OneOf(unique...), nil
	default:
		return m, fmt.Errorf("%w: %s: unknown matcher kind %v", types.ErrInvalidCriteria, dim, m.Kind())
	}
}

func validateResult(r types.PolicyResult) error {
	if v, ok := r.MaxDiscountPercent.Get(); ok && (v < 0 || v > types.MaxPercent) {
		return fmt.Errorf("%w: max_discount_percent %v outside [0,100]", types.ErrInvalidCeiling, v)
	}
	if v, ok := r.MaxMarkupPercent.Get(); ok && v < 0 {
		return fmt.Errorf("%w: max_markup_percent %v is negative", types.ErrInvalidCeiling, v)
	}
	if v, ok := r.PriceTableID.Get(); ok && v <= 0 {
		return fmt.Errorf("%w: price_table_id %d", types.ErrInvalidCeiling, v)
	}
	return nil
}

func normalizeState(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
