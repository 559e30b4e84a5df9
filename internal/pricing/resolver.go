// Package pricing fills base prices from price tables and builds priced order lines.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/order"
	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/*
 * Price resolution order for one product:
 *   1. the winner's price table
 *   2. the price tables of lower-ranked matching policies, in rank order
 *   3. the product's base price
 * and types.ErrPriceNotFound otherwise; a zero price is never invented.
 *
 * Ceilings are never taken from the policy that supplied the price. They stay
 * with the winner of the resolution.
 *
 * Table lookups for all candidates run concurrently and the result is picked
 * by rank afterwards, so lookup latency does not depend on candidate depth.
 */

// maxConcurrentLookups bounds in-flight price lookups per product.
const maxConcurrentLookups = 4

// Lookup returns a price exception for a product in a price table.
// Implementations return types.ErrPriceNotFound when none exists.
type Lookup interface {
	GetPriceException(ctx context.Context, productID, priceTableID int64) (types.PriceException, error)
}

// BasePrices returns the catalogue base price of a product.
// Implementations return types.ErrPriceNotFound when none exists.
type BasePrices interface {
	BasePrice(ctx context.Context, productID int64) (float64, error)
}

// Source tells where a quoted price came from.
type Source string

const (
	SourceWinner   Source = "winner"
	SourceFallback Source = "fallback"
	SourceBase     Source = "base"
)

// Quote is the resolved base price of one product.
type Quote struct {
	ProductID    int64
	UnitPrice    float64
	Source       Source
	PriceTableID types.Optional[int64]
	PolicyID     types.Optional[int64]
}

// Resolver resolves product prices against a policy resolution.
type Resolver struct {
	lookup  Lookup
	base    BasePrices
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewResolver creates a price resolver. base may be nil, which disables the
// base-price fallback.
func NewResolver(lookup Lookup, base BasePrices, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{lookup: lookup, base: base, logger: logger, metrics: metrics}
}

// Resolve returns the base price of productID under res.
func (r *Resolver) Resolve(ctx context.Context, res *policy.Resolution, productID int64) (Quote, error) {
	tables := res.PriceTables()
	found := make([]*types.PriceException, len(tables))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			exc, err := r.lookup.GetPriceException(gCtx, productID, table.PriceTableID)
			if errors.Is(err, types.ErrPriceNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("price table %d: %w", table.PriceTableID, err)
			}
			found[i] = &exc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Quote{}, err
	}

	for i, exc := range found {
		if exc == nil {
			continue
		}
		source := SourceFallback
		if tables[i].PolicyID == res.Winner.ID {
			source = SourceWinner
		}
		r.metrics.RecordPriceLookup(string(source))
		if source == SourceFallback {
			r.logger.Debug("price taken from lower-ranked policy",
				zap.Int64("product_id", productID),
				zap.Int64("winner_id", res.Winner.ID),
				zap.Int64("policy_id", tables[i].PolicyID),
				zap.Int64("price_table_id", tables[i].PriceTableID),
			)
		}
		return Quote{
			ProductID:    productID,
			UnitPrice:    order.Round2(exc.UnitPrice),
			Source:       source,
			PriceTableID: types.Some(tables[i].PriceTableID),
			PolicyID:     types.Some(tables[i].PolicyID),
		}, nil
	}

	if r.base != nil {
		price, err := r.base.BasePrice(ctx, productID)
		if err == nil {
			r.metrics.RecordPriceLookup(string(SourceBase))
			return Quote{ProductID: productID, UnitPrice: order.Round2(price), Source: SourceBase}, nil
		}
		if !errors.Is(err, types.ErrPriceNotFound) {
			return Quote{}, fmt.Errorf("base price: %w", err)
		}
	}

	r.metrics.RecordPriceLookup("none")
	return Quote{}, fmt.Errorf("%w: product %d", types.ErrPriceNotFound, productID)
}
