package order

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/pricekeeper/internal/types"
)

func TestNegotiatedPrice(t *testing.T) {
	tests := []struct {
		name     string
		base     float64
		discount float64
		markup   float64
		want     float64
	}{
		{"no change", 10, 0, 0, 10},
		{"discount only", 100, 15, 0, 85},
		{"markup only", 100, 0, 10, 110},
		{"both", 12.5, 10, 20, 13.5},
		{"half rounds up", 0.05, 10, 0, 0.05},
		{"third", 10, 0, 33.333, 13.33},
		{"full discount", 10, 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NegotiatedPrice(tt.base, tt.discount, tt.markup); got != tt.want {
				t.Errorf("NegotiatedPrice(%v, %v, %v) = %v, want %v", tt.base, tt.discount, tt.markup, got, tt.want)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(2.675); got != 2.68 {
		t.Errorf("Round2(2.675) = %v, want 2.68", got)
	}
	if got := Round2(1.005); got != 1.01 {
		t.Errorf("Round2(1.005) = %v, want 1.01", got)
	}
}

func TestNewLine_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		quantity float64
		base     float64
		discount float64
		markup   float64
	}{
		{"zero quantity", 0, 10, 0, 0},
		{"negative base", 1, -1, 0, 0},
		{"negative discount", 1, 10, -5, 0},
		{"discount over 100", 1, 10, 101, 0},
		{"negative markup", 1, 10, 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLine(9, tt.quantity, tt.base, tt.discount, tt.markup)
			if !errors.Is(err, types.ErrInvalidOrderLine) {
				t.Errorf("NewLine() error = %v, want ErrInvalidOrderLine", err)
			}
		})
	}
}

func TestValidate_DetectsStalePrice(t *testing.T) {
	line, err := NewLine(9, 1, 100, 10, 0)
	if err != nil {
		t.Fatalf("NewLine() error = %v, want nil", err)
	}
	line.DiscountPercent = 20
	if err := Validate(line); !errors.Is(err, types.ErrInvalidOrderLine) {
		t.Errorf("Validate() error = %v, want ErrInvalidOrderLine", err)
	}

	line.NegotiatedUnitPrice = NegotiatedPrice(line.BasePrice, line.DiscountPercent, line.MarkupPercent)
	if err := Validate(line); err != nil {
		t.Errorf("Validate() after repricing error = %v, want nil", err)
	}
	if line.NegotiatedUnitPrice != 80 {
		t.Errorf("NegotiatedUnitPrice = %v, want 80", line.NegotiatedUnitPrice)
	}
}

func TestWithNegotiatedPrice(t *testing.T) {
	line, err := NewLine(9, 2, 100, 10, 0)
	if err != nil {
		t.Fatalf("NewLine() error = %v, want nil", err)
	}

	t.Run("above discounted base derives markup", func(t *testing.T) {
		got, err := WithNegotiatedPrice(line, 99)
		if err != nil {
			t.Fatalf("WithNegotiatedPrice() error = %v, want nil", err)
		}
		if math.Abs(got.MarkupPercent-10) > 1e-9 {
			t.Errorf("MarkupPercent = %v, want 10", got.MarkupPercent)
		}
		if got.DiscountPercent != 10 {
			t.Errorf("DiscountPercent = %v, want 10", got.DiscountPercent)
		}
	})

	t.Run("below discounted base derives discount", func(t *testing.T) {
		got, err := WithNegotiatedPrice(line, 75)
		if err != nil {
			t.Fatalf("WithNegotiatedPrice() error = %v, want nil", err)
		}
		if got.MarkupPercent != 0 {
			t.Errorf("MarkupPercent = %v, want 0", got.MarkupPercent)
		}
		if math.Abs(got.DiscountPercent-25) > 1e-9 {
			t.Errorf("DiscountPercent = %v, want 25", got.DiscountPercent)
		}
	})

	t.Run("zero base", func(t *testing.T) {
		free, err := NewLine(9, 1, 0, 0, 0)
		if err != nil {
			t.Fatalf("NewLine() error = %v, want nil", err)
		}
		if _, err := WithNegotiatedPrice(free, 5); !errors.Is(err, types.ErrInvalidOrderLine) {
			t.Errorf("WithNegotiatedPrice() error = %v, want ErrInvalidOrderLine", err)
		}
	})
}

func TestOrderLineRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("line built from percentages recomputes its price", prop.ForAll(
		func(base, discount, markup float64) bool {
			line, err := NewLine(1, 1, Round2(base), Round2(discount), Round2(markup))
			if err != nil {
				return false
			}
			recomputed := NegotiatedPrice(line.BasePrice, line.DiscountPercent, line.MarkupPercent)
			return math.Abs(recomputed-line.NegotiatedUnitPrice) <= PriceTolerance
		},
		gen.Float64Range(0, 100000),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 300),
	))

	properties.Property("back-derived markup reproduces the typed price", prop.ForAll(
		func(base, discount, factor float64) bool {
			base = Round2(base)
			discount = Round2(discount)
			line, err := NewLine(1, 1, base, discount, 0)
			if err != nil {
				return false
			}
			price := Round2(line.NegotiatedUnitPrice * factor)
			got, err := WithNegotiatedPrice(line, price)
			if err != nil {
				return false
			}
			return math.Abs(NegotiatedPrice(got.BasePrice, got.DiscountPercent, got.MarkupPercent)-price) <= PriceTolerance
		},
		gen.Float64Range(1, 10000),
		gen.Float64Range(0, 90),
		gen.Float64Range(1, 3),
	))

	properties.TestingRun(t)
}
