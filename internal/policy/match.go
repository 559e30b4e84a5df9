package policy

import (
	"sort"

	"github.com/solatis/pricekeeper/internal/types"
)

// MatchResult is a policy whose criteria all hold for a context.
type MatchResult struct {
	Policy      *CompiledPolicy
	Specificity int
}

// Match returns every active policy satisfied by pctx, most specific first,
// ties broken by ascending policy id. Inactive policies never match.
// The result is a pure function of its inputs and independent of input order.
func Match(pctx types.PolicyContext, policies []*CompiledPolicy) []MatchResult {
	pctx = normalizeContext(pctx)

	results := make([]MatchResult, 0, len(policies))
	for _, p := range policies {
		if p == nil || !p.Active {
			continue
		}
		if !Satisfied(p.Criteria, pctx) {
			continue
		}
		results = append(results, MatchResult{Policy: p, Specificity: p.Specificity})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return ranksBefore(results[i], results[j])
	})

	return results
}

// Satisfied evaluates every dimension matcher against the context.
// Short-circuits on the first failing dimension.
func Satisfied(c types.Criteria, pctx types.PolicyContext) bool {
	return c.Company.Satisfied(pctx.CompanyID) &&
		c.Partner.Satisfied(pctx.PartnerID) &&
		c.State.Satisfied(pctx.State) &&
		c.City.Satisfied(pctx.CityID) &&
		c.Neighborhood.Satisfied(pctx.NeighborhoodID) &&
		c.Region.Satisfied(pctx.RegionID) &&
		c.Product.Satisfied(pctx.ProductID) &&
		c.Brand.Satisfied(pctx.BrandID) &&
		c.Vendor.Satisfied(pctx.VendorID) &&
		c.Team.Satisfied(pctx.TeamID) &&
		c.ProductGroup.Satisfied(pctx.ProductGroupID) &&
		c.SaleType.Satisfied(pctx.SaleTypeID)
}

// ranksBefore is the strict total order over match results:
// specificity descending, then policy id ascending.
func ranksBefore(a, b MatchResult) bool {
	if a.Specificity != b.Specificity {
		return a.Specificity > b.Specificity
	}
	return a.Policy.ID < b.Policy.ID
}

func normalizeContext(pctx types.PolicyContext) types.PolicyContext {
	if s, ok := pctx.State.Get(); ok {
		pctx.State = types.Some(normalizeState(s))
	}
	return pctx
}
