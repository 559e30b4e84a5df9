package pricing

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/types"
	"go.uber.org/zap"
)

type priceKey struct{ product, table int64 }

type fakeLookup struct {
	mu     sync.Mutex
	prices map[priceKey]float64
	err    error
	calls  int
}

func (f *fakeLookup) GetPriceException(ctx context.Context, productID, priceTableID int64) (types.PriceException, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return types.PriceException{}, f.err
	}
	p, ok := f.prices[priceKey{productID, priceTableID}]
	if !ok {
		return types.PriceException{}, types.ErrPriceNotFound
	}
	return types.PriceException{ProductID: productID, PriceTableID: priceTableID, UnitPrice: p}, nil
}

type fakeBase map[int64]float64

func (f fakeBase) BasePrice(ctx context.Context, productID int64) (float64, error) {
	p, ok := f[productID]
	if !ok {
		return 0, types.ErrPriceNotFound
	}
	return p, nil
}

type fakePolicies struct {
	policies []*policy.CompiledPolicy
}

func (f *fakePolicies) Resolve(ctx context.Context, pctx types.PolicyContext) (*policy.Resolution, error) {
	return policy.Resolve(pctx, f.policies)
}

// winner W (table 10, discount 5) outranks L (table 20, discount 30).
func scenarioPolicies(t *testing.T) []*policy.CompiledPolicy {
	t.Helper()
	raw := []types.CommercialPolicy{
		{ID: 1, Active: true, Name: "W",
			Criteria: types.Criteria{Partner: types.Equals[int64](500), Product: types.Equals[int64](9)},
			Result:   types.PolicyResult{PriceTableID: types.Some[int64](10), MaxDiscountPercent: types.Some(5.0)}},
		{ID: 2, Active: true, Name: "L",
			Criteria: types.Criteria{Partner: types.Equals[int64](500)},
			Result:   types.PolicyResult{PriceTableID: types.Some[int64](20), MaxDiscountPercent: types.Some(30.0)}},
	}
	var compiled []*policy.CompiledPolicy
	for i := range raw {
		c, err := policy.Compile(&raw[i])
		if err != nil {
			t.Fatalf("Compile() error = %v, want nil", err)
		}
		compiled = append(compiled, c)
	}
	return compiled
}

var scenarioContext = types.PolicyContext{
	CompanyID: types.Some[int64](1),
	PartnerID: types.Some[int64](500),
	ProductID: types.Some[int64](9),
}

// Scenario C: the price comes from L's table while the ceilings stay W's.
func TestResolve_FallbackKeepsWinnerCeilings(t *testing.T) {
	res, err := policy.Resolve(scenarioContext, scenarioPolicies(t))
	if err != nil {
		t.Fatalf("policy.Resolve() error = %v, want nil", err)
	}

	lookup := &fakeLookup{prices: map[priceKey]float64{{9, 20}: 12.5}}
	r := NewResolver(lookup, nil, zap.NewNop(), observability.NewMetrics())

	quote, err := r.Resolve(context.Background(), res, 9)
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}

	if quote.UnitPrice != 12.5 {
		t.Errorf("UnitPrice = %v, want 12.5", quote.UnitPrice)
	}
	if quote.Source != SourceFallback {
		t.Errorf("Source = %v, want %v", quote.Source, SourceFallback)
	}
	if id, _ := quote.PriceTableID.Get(); id != 20 {
		t.Errorf("PriceTableID = %v, want 20", id)
	}
	if res.Winner.ID != 1 {
		t.Errorf("Winner = %v, want 1", res.Winner.ID)
	}
	if max, _ := res.Ceilings.MaxDiscountPercent.Get(); max != 5 {
		t.Errorf("MaxDiscountPercent = %v, want 5 (winner's)", max)
	}
}

func TestResolve_Sources(t *testing.T) {
	res, err := policy.Resolve(scenarioContext, scenarioPolicies(t))
	if err != nil {
		t.Fatalf("policy.Resolve() error = %v, want nil", err)
	}

	tests := []struct {
		name    string
		prices  map[priceKey]float64
		base    fakeBase
		want    Source
		price   float64
		wantErr error
	}{
		{
			name:   "winner table",
			prices: map[priceKey]float64{{9, 10}: 11, {9, 20}: 12.5},
			want:   SourceWinner,
			price:  11,
		},
		{
			name:   "base price",
			prices: map[priceKey]float64{},
			base:   fakeBase{9: 9.999},
			want:   SourceBase,
			price:  10,
		},
		{
			name:    "nothing found",
			prices:  map[priceKey]float64{},
			base:    fakeBase{},
			wantErr: types.ErrPriceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var base BasePrices
			if tt.base != nil {
				base = tt.base
			}
			r := NewResolver(&fakeLookup{prices: tt.prices}, base, zap.NewNop(), observability.NewMetrics())
			quote, err := r.Resolve(context.Background(), res, 9)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v, want nil", err)
			}
			if quote.Source != tt.want {
				t.Errorf("Source = %v, want %v", quote.Source, tt.want)
			}
			if quote.UnitPrice != tt.price {
				t.Errorf("UnitPrice = %v, want %v", quote.UnitPrice, tt.price)
			}
		})
	}
}

func TestResolve_LookupErrorPropagates(t *testing.T) {
	res, err := policy.Resolve(scenarioContext, scenarioPolicies(t))
	if err != nil {
		t.Fatalf("policy.Resolve() error = %v, want nil", err)
	}

	boom := errors.New("boom")
	r := NewResolver(&fakeLookup{err: boom}, fakeBase{9: 1}, zap.NewNop(), observability.NewMetrics())
	if _, err := r.Resolve(context.Background(), res, 9); !errors.Is(err, boom) {
		t.Errorf("Resolve() error = %v, want boom", err)
	}
}

func TestQuoter_PriceCart(t *testing.T) {
	lookup := &fakeLookup{prices: map[priceKey]float64{{9, 20}: 12.5, {7, 20}: 4}}
	q := NewQuoter(
		&fakePolicies{policies: scenarioPolicies(t)},
		NewResolver(lookup, nil, zap.NewNop(), observability.NewMetrics()),
	)

	pctx := types.PolicyContext{CompanyID: types.Some[int64](1), PartnerID: types.Some[int64](500)}
	lines, err := q.PriceCart(context.Background(), pctx, []types.CartItem{
		{ProductID: 9, Quantity: 2, DiscountPercent: 10},
		{ProductID: 7, Quantity: 1, DiscountPercent: 10},
	})
	if err != nil {
		t.Fatalf("PriceCart() error = %v, want nil", err)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %v, want 2", len(lines))
	}

	// product 9 is governed by W, product 7 only by L
	if lines[0].Line.PolicyID != 1 || lines[1].Line.PolicyID != 2 {
		t.Errorf("PolicyIDs = %v, %v, want 1, 2", lines[0].Line.PolicyID, lines[1].Line.PolicyID)
	}
	if max, _ := lines[0].Ceilings.MaxDiscountPercent.Get(); max != 5 {
		t.Errorf("line 0 MaxDiscountPercent = %v, want 5", max)
	}
	if lines[0].Line.NegotiatedUnitPrice != 11.25 {
		t.Errorf("line 0 NegotiatedUnitPrice = %v, want 11.25", lines[0].Line.NegotiatedUnitPrice)
	}
	if lines[1].Line.BasePrice != 4 {
		t.Errorf("line 1 BasePrice = %v, want 4", lines[1].Line.BasePrice)
	}
}

func TestQuoter_PriceCartTypedPrice(t *testing.T) {
	lookup := &fakeLookup{prices: map[priceKey]float64{{9, 20}: 100}}
	q := NewQuoter(
		&fakePolicies{policies: scenarioPolicies(t)},
		NewResolver(lookup, nil, zap.NewNop(), observability.NewMetrics()),
	)
	pctx := types.PolicyContext{CompanyID: types.Some[int64](1), PartnerID: types.Some[int64](500)}

	tests := []struct {
		name         string
		item         types.CartItem
		wantDiscount float64
		wantMarkup   float64
	}{
		{"above discounted base derives markup", types.CartItem{ProductID: 9, Quantity: 1, DiscountPercent: 10, UnitPrice: types.Some(99.0)}, 10, 10},
		{"below discounted base derives discount", types.CartItem{ProductID: 9, Quantity: 1, DiscountPercent: 10, UnitPrice: types.Some(75.0)}, 25, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := q.PriceCart(context.Background(), pctx, []types.CartItem{tt.item})
			if err != nil {
				t.Fatalf("PriceCart() error = %v, want nil", err)
			}
			line := lines[0].Line
			price, _ := tt.item.UnitPrice.Get()
			if line.NegotiatedUnitPrice != price {
				t.Errorf("NegotiatedUnitPrice = %v, want %v", line.NegotiatedUnitPrice, price)
			}
			if math.Abs(line.DiscountPercent-tt.wantDiscount) > 0.01 {
				t.Errorf("DiscountPercent = %v, want %v", line.DiscountPercent, tt.wantDiscount)
			}
			if math.Abs(line.MarkupPercent-tt.wantMarkup) > 0.01 {
				t.Errorf("MarkupPercent = %v, want %v", line.MarkupPercent, tt.wantMarkup)
			}
		})
	}
}
