// Package order builds order lines and detects ceiling violations.
//
// Money and percentages are carried as float64 on the wire and in storage;
// every computation that produces a stored value goes through decimal and is
// rounded to two places, half away from zero (half-up for non-negative values).
package order

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/solatis/pricekeeper/internal/types"
)

// PriceTolerance is the largest accepted gap between a stored negotiated
// price and the one recomputed from its percentages.
const PriceTolerance = 0.01

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Round2 rounds v to two decimal places, half-up.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// NegotiatedPrice computes base*(1+markup/100)*(1-discount/100), rounded.
func NegotiatedPrice(base, discountPercent, markupPercent float64) float64 {
	b := decimal.NewFromFloat(base)
	up := one.Add(decimal.NewFromFloat(markupPercent).Div(hundred))
	down := one.Sub(decimal.NewFromFloat(discountPercent).Div(hundred))
	return b.Mul(up).Mul(down).Round(2).InexactFloat64()
}

// NewLine builds a validated line from a base price and the user's percentages.
func NewLine(productID int64, quantity, basePrice, discountPercent, markupPercent float64) (types.OrderLine, error) {
	line := types.OrderLine{
		ProductID:           productID,
		Quantity:            quantity,
		BasePrice:           basePrice,
		DiscountPercent:     discountPercent,
		MarkupPercent:       markupPercent,
		NegotiatedUnitPrice: NegotiatedPrice(basePrice, discountPercent, markupPercent),
	}
	if err := Validate(line); err != nil {
		return types.OrderLine{}, err
	}
	return line, nil
}

// Validate checks the sign, range and price invariants of a line.
func Validate(line types.OrderLine) error {
	switch {
	case line.Quantity <= 0:
		return fmt.Errorf("%w: product %d: quantity %v must be positive", types.ErrInvalidOrderLine, line.ProductID, line.Quantity)
	case line.BasePrice < 0:
		return fmt.Errorf("%w: product %d: negative base price", types.ErrInvalidOrderLine, line.ProductID)
	case line.NegotiatedUnitPrice < 0:
		return fmt.Errorf("%w: product %d: negative negotiated price", types.ErrInvalidOrderLine, line.ProductID)
	case line.DiscountPercent < 0 || line.DiscountPercent > types.MaxPercent:
		return fmt.Errorf("%w: product %d: discount %v outside [0,100]", types.ErrInvalidOrderLine, line.ProductID, line.DiscountPercent)
	case line.MarkupPercent < 0:
		return fmt.Errorf("%w: product %d: negative markup", types.ErrInvalidOrderLine, line.ProductID)
	}

	want := NegotiatedPrice(line.BasePrice, line.DiscountPercent, line.MarkupPercent)
	gap := decimal.NewFromFloat(line.NegotiatedUnitPrice).Sub(decimal.NewFromFloat(want)).Abs()
	if gap.GreaterThan(decimal.NewFromFloat(PriceTolerance)) {
		return fmt.Errorf("%w: product %d: negotiated price %v, expected %v", types.ErrInvalidOrderLine, line.ProductID, line.NegotiatedUnitPrice, want)
	}
	return nil
}

// WithNegotiatedPrice applies a unit price typed by the user. The line's
// discount is kept and the markup back-derived; a price below the discounted
// base instead clears the markup and back-derives the discount.
func WithNegotiatedPrice(line types.OrderLine, price float64) (types.OrderLine, error) {
	price = Round2(price)
	markup, err := BackDeriveMarkup(line.BasePrice, price, line.DiscountPercent)
	if err != nil {
		return types.OrderLine{}, err
	}

	if markup >= 0 {
		line.MarkupPercent = markup
	} else {
		line.MarkupPercent = 0
		line.DiscountPercent = one.Sub(decimal.NewFromFloat(price).Div(decimal.NewFromFloat(line.BasePrice))).
			Mul(hundred).InexactFloat64()
	}
	line.NegotiatedUnitPrice = price
	return line, Validate(line)
}

// BackDeriveMarkup solves the price invariant for markup. The result is not
// rounded; ceilings tolerate the float residue.
func BackDeriveMarkup(basePrice, negotiatedPrice, discountPercent float64) (float64, error) {
	discounted := decimal.NewFromFloat(basePrice).Mul(one.Sub(decimal.NewFromFloat(discountPercent).Div(hundred)))
	if !discounted.IsPositive() {
		return 0, fmt.Errorf("%w: cannot derive markup from a zero discounted base", types.ErrInvalidOrderLine)
	}
	return decimal.NewFromFloat(negotiatedPrice).Div(discounted).Sub(one).Mul(hundred).InexactFloat64(), nil
}
