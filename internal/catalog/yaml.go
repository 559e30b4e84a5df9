// Package catalog loads the reference data pricekeeper consumes but does not
// own: commercial policies, price exceptions, product base prices and
// approvers. The data is a YAML snapshot exported by the systems that
// maintain it.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/solatis/pricekeeper/internal/policy"
	"github.com/solatis/pricekeeper/internal/types"
)

/*
File format

	policies:
	  - id: 7
	    company_id: 1
	    name: Key accounts in SP
	    active: true
	    criteria:
	      partner: 500          # Equals
	      state: [SP, RJ]       # OneOf
	      product: "*"          # Any (same as leaving it out)
	    result:
	      price_table_id: 10
	      max_discount_percent: 15
	      max_markup_percent: 5
	price_exceptions:
	  - {product_id: 9, price_table_id: 10, unit_price: 88.50}
	products:
	  - {id: 9, base_price: 100}
	approvers:
	  - {id: mgr-1, name: Regional Manager, company_id: 1, team_id: 3}

Every policy set is compiled on load, so a file with a malformed matcher or
ceiling is rejected as a whole and never half-applied.
*/

type document struct {
	Policies        []policyDoc    `yaml:"policies"`
	PriceExceptions []exceptionDoc `yaml:"price_exceptions"`
	Products        []productDoc   `yaml:"products"`
	Approvers       []approverDoc  `yaml:"approvers"`
}

type policyDoc struct {
	ID        int64       `yaml:"id"`
	CompanyID int64       `yaml:"company_id"`
	Name      string      `yaml:"name"`
	Active    *bool       `yaml:"active"`
	Criteria  criteriaDoc `yaml:"criteria"`
	Result    resultDoc   `yaml:"result"`
}

type criteriaDoc struct {
	Company      matcherDoc[int64]  `yaml:"company"`
	Partner      matcherDoc[int64]  `yaml:"partner"`
	State        matcherDoc[string] `yaml:"state"`
	City         matcherDoc[int64]  `yaml:"city"`
	Neighborhood matcherDoc[int64]  `yaml:"neighborhood"`
	Region       matcherDoc[int64]  `yaml:"region"`
	Product      matcherDoc[int64]  `yaml:"product"`
	Brand        matcherDoc[int64]  `yaml:"brand"`
	Vendor       matcherDoc[int64]  `yaml:"vendor"`
	Team         matcherDoc[int64]  `yaml:"team"`
	ProductGroup matcherDoc[int64]  `yaml:"product_group"`
	SaleType     matcherDoc[int64]  `yaml:"sale_type"`
}

type resultDoc struct {
	PriceTableID       *int64   `yaml:"price_table_id"`
	MaxDiscountPercent *float64 `yaml:"max_discount_percent"`
	MaxMarkupPercent   *float64 `yaml:"max_markup_percent"`
}

type exceptionDoc struct {
	ProductID    int64   `yaml:"product_id"`
	PriceTableID int64   `yaml:"price_table_id"`
	UnitPrice    float64 `yaml:"unit_price"`
}

type productDoc struct {
	ID        int64   `yaml:"id"`
	BasePrice float64 `yaml:"base_price"`
}

type approverDoc struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	CompanyID int64  `yaml:"company_id"`
	TeamID    *int64 `yaml:"team_id"`
}

// matcherDoc decodes "*" or null as Any, a scalar as Equals and a sequence
// as OneOf.
type matcherDoc[T comparable] struct {
	m types.Matcher[T]
}

func (d *matcherDoc[T]) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "*" {
			d.m = types.Any[T]()
			return nil
		}
		var v T
		if err := node.Decode(&v); err != nil {
			return err
		}
		d.m = types.Equals(v)
		return nil
	case yaml.SequenceNode:
		var vs []T
		if err := node.Decode(&vs); err != nil {
			return err
		}
		d.m = types.OneOf(vs...)
		return nil
	default:
		return fmt.Errorf("line %d: matcher must be a scalar, a list or \"*\"", node.Line)
	}
}

func optional[T any](p *T) types.Optional[T] {
	if p == nil {
		return types.None[T]()
	}
	return types.Some(*p)
}

func (d policyDoc) policy() types.CommercialPolicy {
	c := d.Criteria
	return types.CommercialPolicy{
		ID:        d.ID,
		CompanyID: d.CompanyID,
		Name:      d.Name,
		Active:    d.Active == nil || *d.Active,
		Criteria: types.Criteria{
			Company:      c.Company.m,
			Partner:      c.Partner.m,
			State:        c.State.m,
			City:         c.City.m,
			Neighborhood: c.Neighborhood.m,
			Region:       c.Region.m,
			Product:      c.Product.m,
			Brand:        c.Brand.m,
			Vendor:       c.Vendor.m,
			Team:         c.Team.m,
			ProductGroup: c.ProductGroup.m,
			SaleType:     c.SaleType.m,
		},
		Result: types.PolicyResult{
			PriceTableID:       optional(d.Result.PriceTableID),
			MaxDiscountPercent: optional(d.Result.MaxDiscountPercent),
			MaxMarkupPercent:   optional(d.Result.MaxMarkupPercent),
		},
	}
}

type priceKey struct{ product, table int64 }

type snapshot struct {
	policies   map[int64][]types.CommercialPolicy
	exceptions map[priceKey]types.PriceException
	basePrices map[int64]float64
	approvers  []types.Approver
}

func parse(data []byte) (*snapshot, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	s := &snapshot{
		policies:   make(map[int64][]types.CommercialPolicy),
		exceptions: make(map[priceKey]types.PriceException, len(doc.PriceExceptions)),
		basePrices: make(map[int64]float64, len(doc.Products)),
	}

	for _, pd := range doc.Policies {
		p := pd.policy()
		s.policies[p.CompanyID] = append(s.policies[p.CompanyID], p)
	}
	for companyID, ps := range s.policies {
		if _, err := policy.NewStore(ps); err != nil {
			return nil, fmt.Errorf("company %d: %w", companyID, err)
		}
	}

	for _, e := range doc.PriceExceptions {
		if e.UnitPrice < 0 {
			return nil, fmt.Errorf("price exception for product %d in table %d: negative price", e.ProductID, e.PriceTableID)
		}
		s.exceptions[priceKey{e.ProductID, e.PriceTableID}] = types.PriceException(e)
	}
	for _, p := range doc.Products {
		if p.BasePrice < 0 {
			return nil, fmt.Errorf("product %d: negative base price", p.ID)
		}
		s.basePrices[p.ID] = p.BasePrice
	}
	for _, a := range doc.Approvers {
		if a.ID == "" {
			return nil, fmt.Errorf("approver without id in company %d", a.CompanyID)
		}
		s.approvers = append(s.approvers, types.Approver{
			ID:        a.ID,
			Name:      a.Name,
			CompanyID: a.CompanyID,
			TeamID:    optional(a.TeamID),
		})
	}
	return s, nil
}

// File serves a catalog snapshot read from disk. Safe for concurrent use;
// Reload swaps the snapshot atomically.
type File struct {
	path string

	mu   sync.RWMutex
	data *snapshot
}

// Open reads and validates the catalog at path.
func Open(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file the catalog was read from.
func (f *File) Path() string { return f.path }

// Reload re-reads the file. On error the previous snapshot stays in place.
func (f *File) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	s, err := parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", f.path, err)
	}

	f.mu.Lock()
	f.data = s
	f.mu.Unlock()
	return nil
}

func (f *File) current() *snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data
}

// LoadActivePolicies returns the active policies of a company.
func (f *File) LoadActivePolicies(_ context.Context, companyID int64) ([]types.CommercialPolicy, error) {
	var out []types.CommercialPolicy
	for _, p := range f.current().policies[companyID] {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// Companies returns every company with at least one policy, ascending.
func (f *File) Companies() []int64 {
	s := f.current()
	ids := make([]int64, 0, len(s.policies))
	for id := range s.policies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetPriceException returns the product's price in a price table.
func (f *File) GetPriceException(_ context.Context, productID, priceTableID int64) (types.PriceException, error) {
	e, ok := f.current().exceptions[priceKey{productID, priceTableID}]
	if !ok {
		return types.PriceException{}, fmt.Errorf("%w: product %d in table %d", types.ErrPriceNotFound, productID, priceTableID)
	}
	return e, nil
}

// BasePrice returns the product's catalogue price.
func (f *File) BasePrice(_ context.Context, productID int64) (float64, error) {
	p, ok := f.current().basePrices[productID]
	if !ok {
		return 0, fmt.Errorf("%w: no base price for product %d", types.ErrPriceNotFound, productID)
	}
	return p, nil
}

// ListEligibleApprovers returns the approvers of the context's company.
// Approvers bound to a team only qualify for contexts of that team.
func (f *File) ListEligibleApprovers(_ context.Context, pctx types.PolicyContext) ([]types.Approver, error) {
	companyID, ok := pctx.CompanyID.Get()
	if !ok {
		return nil, nil
	}
	teamID, hasTeam := pctx.TeamID.Get()

	var out []types.Approver
	for _, a := range f.current().approvers {
		if a.CompanyID != companyID {
			continue
		}
		if t, bound := a.TeamID.Get(); bound && (!hasTeam || t != teamID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
