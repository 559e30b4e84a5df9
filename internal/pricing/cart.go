package pricing

import (
	"context"
	"fmt"

	"github.com/solatis/pricekeeper/internal/order"
	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/types"
)

// PolicyResolver resolves a context to its winning policy.
// Implemented by *policy.Resolver.
type PolicyResolver interface {
	Resolve(ctx context.Context, pctx types.PolicyContext) (*policy.Resolution, error)
}

// Quoter prices a cart line by line. Each line is resolved in its own context,
// so a product-scoped policy only governs its own product.
type Quoter struct {
	policies PolicyResolver
	prices   *Resolver
}

// NewQuoter creates a cart quoter.
func NewQuoter(policies PolicyResolver, prices *Resolver) *Quoter {
	return &Quoter{policies: policies, prices: prices}
}

// PriceCart resolves policy and base price for every item and builds
// validated order lines carrying the winner's ceilings.
func (q *Quoter) PriceCart(ctx context.Context, pctx types.PolicyContext, items []types.CartItem) ([]types.PricedLine, error) {
	lines := make([]types.PricedLine, 0, len(items))
	for _, item := range items {
		res, err := q.policies.Resolve(ctx, LineContext(pctx, item))
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, err)
		}

		quote, err := q.prices.Resolve(ctx, res, item.ProductID)
		if err != nil {
			return nil, err
		}

		line, err := order.NewLine(item.ProductID, item.Quantity, quote.UnitPrice, item.DiscountPercent, item.MarkupPercent)
		if err != nil {
			return nil, err
		}
		if price, ok := item.UnitPrice.Get(); ok {
			if line, err = order.WithNegotiatedPrice(line, price); err != nil {
				return nil, err
			}
		}
		line.PriceTableID = quote.PriceTableID
		line.PolicyID = res.Winner.ID

		lines = append(lines, types.PricedLine{Line: line, Ceilings: res.Ceilings})
	}
	return lines, nil
}

// LineContext narrows an order context to one cart item.
func LineContext(pctx types.PolicyContext, item types.CartItem) types.PolicyContext {
	pctx.ProductID = types.Some(item.ProductID)
	if item.BrandID.IsSome() {
		pctx.BrandID = item.BrandID
	}
	if item.ProductGroupID.IsSome() {
		pctx.ProductGroupID = item.ProductGroupID
	}
	return pctx
}
