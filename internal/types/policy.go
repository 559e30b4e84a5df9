package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Dimension names one field of the sale context.
// Values double as the JSON/YAML keys of criteria and context documents.
type Dimension string

const (
	DimCompany      Dimension = "company_id"
	DimPartner      Dimension = "partner_id"
	DimState        Dimension = "state"
	DimCity         Dimension = "city_id"
	DimNeighborhood Dimension = "neighborhood_id"
	DimRegion       Dimension = "region_id"
	DimProduct      Dimension = "product_id"
	DimBrand        Dimension = "brand_id"
	DimVendor       Dimension = "vendor_id"
	DimTeam         Dimension = "team_id"
	DimProductGroup Dimension = "product_group_id"
	DimSaleType     Dimension = "sale_type_id"
)

// Dimensions lists every context dimension in canonical order.
var Dimensions = []Dimension{
	DimCompany, DimPartner, DimState, DimCity, DimNeighborhood, DimRegion,
	DimProduct, DimBrand, DimVendor, DimTeam, DimProductGroup, DimSaleType,
}

// PolicyContext describes the sale being evaluated.
// Every dimension may be absent; absence never matches a non-Any matcher.
type PolicyContext struct {
	CompanyID      Optional[int64]  `json:"company_id"`
	PartnerID      Optional[int64]  `json:"partner_id"`
	State          Optional[string] `json:"state"`
	CityID         Optional[int64]  `json:"city_id"`
	NeighborhoodID Optional[int64]  `json:"neighborhood_id"`
	RegionID       Optional[int64]  `json:"region_id"`
	ProductID      Optional[int64]  `json:"product_id"`
	BrandID        Optional[int64]  `json:"brand_id"`
	VendorID       Optional[int64]  `json:"vendor_id"`
	TeamID         Optional[int64]  `json:"team_id"`
	ProductGroupID Optional[int64]  `json:"product_group_id"`
	SaleTypeID     Optional[int64]  `json:"sale_type_id"`
}

// MatchKind tags the variant of a Matcher.
type MatchKind int

const (
	MatchAny MatchKind = iota
	MatchEquals
	MatchOneOf
)

func (k MatchKind) String() string {
	switch k {
	case MatchAny:
		return "any"
	case MatchEquals:
		return "equals"
	case MatchOneOf:
		return "one_of"
	default:
		return fmt.Sprintf("MatchKind(%d)", int(k))
	}
}

// Matcher is the criterion a policy places on one dimension.
// The zero value is Any.
type Matcher[T comparable] struct {
	kind   MatchKind
	values []T
}

// Any matches every context, including one that lacks the dimension.
func Any[T comparable]() Matcher[T] {
	return Matcher[T]{}
}

// Equals matches a context whose dimension is present and equal to v.
func Equals[T comparable](v T) Matcher[T] {
	return Matcher[T]{kind: MatchEquals, values: []T{v}}
}

// OneOf matches a context whose dimension is present and a member of vs.
func OneOf[T comparable](vs ...T) Matcher[T] {
	return Matcher[T]{kind: MatchOneOf, values: append([]T(nil), vs...)}
}

// Kind returns the matcher variant.
func (m Matcher[T]) Kind() MatchKind { return m.kind }

// Values returns the matcher's operand values (nil for Any).
func (m Matcher[T]) Values() []T { return m.values }

// IsAny reports whether the matcher places no constraint.
func (m Matcher[T]) IsAny() bool { return m.kind == MatchAny }

// Satisfied evaluates the matcher against one context dimension.
func (m Matcher[T]) Satisfied(v Optional[T]) bool {
	if m.kind == MatchAny {
		return true
	}
	x, ok := v.Get()
	if !ok {
		return false
	}
	for _, want := range m.values {
		if x == want {
			return true
		}
	}
	return false
}

// MarshalJSON encodes Any as null, Equals as a scalar and OneOf as an array.
func (m Matcher[T]) MarshalJSON() ([]byte, error) {
	switch m.kind {
	case MatchEquals:
		return json.Marshal(m.values[0])
	case MatchOneOf:
		return json.Marshal(m.values)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null or "*" for Any, a scalar for Equals and an array
// for OneOf.
func (m *Matcher[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`"*"`)) {
		*m = Any[T]()
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var vs []T
		if err := json.Unmarshal(data, &vs); err != nil {
			return err
		}
		*m = Matcher[T]{kind: MatchOneOf, values: vs}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Equals(v)
	return nil
}

// Criteria holds one matcher per context dimension.
type Criteria struct {
	Company      Matcher[int64]  `json:"company_id"`
	Partner      Matcher[int64]  `json:"partner_id"`
	State        Matcher[string] `json:"state"`
	City         Matcher[int64]  `json:"city_id"`
	Neighborhood Matcher[int64]  `json:"neighborhood_id"`
	Region       Matcher[int64]  `json:"region_id"`
	Product      Matcher[int64]  `json:"product_id"`
	Brand        Matcher[int64]  `json:"brand_id"`
	Vendor       Matcher[int64]  `json:"vendor_id"`
	Team         Matcher[int64]  `json:"team_id"`
	ProductGroup Matcher[int64]  `json:"product_group_id"`
	SaleType     Matcher[int64]  `json:"sale_type_id"`
}

// Ceilings are the commercial limits a policy imposes. An absent ceiling is
// unrestricted.
type Ceilings struct {
	MaxDiscountPercent Optional[float64] `json:"max_discount_percent"`
	MaxMarkupPercent   Optional[float64] `json:"max_markup_percent"`
}

// PolicyResult is what a policy grants once it wins.
type PolicyResult struct {
	PriceTableID       Optional[int64]   `json:"price_table_id"`
	MaxDiscountPercent Optional[float64] `json:"max_discount_percent"`
	MaxMarkupPercent   Optional[float64] `json:"max_markup_percent"`
}

// Ceilings extracts the discount and markup limits.
func (r PolicyResult) Ceilings() Ceilings {
	return Ceilings{
		MaxDiscountPercent: r.MaxDiscountPercent,
		MaxMarkupPercent:   r.MaxMarkupPercent,
	}
}

// CommercialPolicy is a rule mapping a sale context to commercial limits.
// CompanyID partitions the store; Criteria.Company may narrow further.
type CommercialPolicy struct {
	ID        int64        `json:"id"`
	CompanyID int64        `json:"company_id"`
	Name      string       `json:"name"`
	Active    bool         `json:"active"`
	Criteria  Criteria     `json:"criteria"`
	Result    PolicyResult `json:"result"`
}

// PriceException is a per-product price override within a price table.
type PriceException struct {
	ProductID    int64   `json:"product_id"`
	PriceTableID int64   `json:"price_table_id"`
	UnitPrice    float64 `json:"unit_price"`
}

// Approver is a user allowed to decide approval requests.
type Approver struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CompanyID int64           `json:"company_id"`
	TeamID    Optional[int64] `json:"team_id"`
}
