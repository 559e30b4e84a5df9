package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/types"
	"go.uber.org/zap"
)

// Resolution is the outcome of resolving a context against a policy set.
// PriceTableID and Ceilings always come from Winner, even when a price is
// later taken from a lower-ranked candidate's table.
type Resolution struct {
	Winner       *CompiledPolicy
	PriceTableID types.Optional[int64]
	Ceilings     types.Ceilings
	Candidates   []MatchResult
}

// RankedTable is a candidate price table in rank order.
type RankedTable struct {
	Rank         int
	PolicyID     int64
	PriceTableID int64
}

// PriceTables lists the candidates' price tables in rank order. Candidates
// without a price table are skipped and a table appears once, at its best rank.
func (r *Resolution) PriceTables() []RankedTable {
	seen := make(map[int64]struct{}, len(r.Candidates))
	var tables []RankedTable
	for i, c := range r.Candidates {
		id, ok := c.Policy.Result.PriceTableID.Get()
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tables = append(tables, RankedTable{Rank: i, PolicyID: c.Policy.ID, PriceTableID: id})
	}
	return tables
}

// ResolveAll returns the full ordered candidate list for pctx.
func ResolveAll(pctx types.PolicyContext, policies []*CompiledPolicy) []MatchResult {
	return Match(pctx, policies)
}

// Resolve picks the head of the ordered candidate list.
// Returns types.ErrNoPolicyResolved when nothing matches.
func Resolve(pctx types.PolicyContext, policies []*CompiledPolicy) (*Resolution, error) {
	candidates := Match(pctx, policies)
	if len(candidates) == 0 {
		return nil, types.ErrNoPolicyResolved
	}

	winner := candidates[0].Policy
	return &Resolution{
		Winner:       winner,
		PriceTableID: winner.Result.PriceTableID,
		Ceilings:     winner.Result.Ceilings(),
		Candidates:   candidates,
	}, nil
}

// Source supplies the active policies of a company.
type Source interface {
	LoadActivePolicies(ctx context.Context, companyID int64) ([]types.CommercialPolicy, error)
}

// Resolver binds a policy source to the pure resolution functions.
type Resolver struct {
	source  Source
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver reading policies from source.
func NewResolver(source Source, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{source: source, logger: logger, metrics: metrics}
}

// Resolve loads the context company's policies and resolves pctx against them.
func (r *Resolver) Resolve(ctx context.Context, pctx types.PolicyContext) (*Resolution, error) {
	store, err := r.load(ctx, pctx)
	if err != nil {
		r.metrics.RecordResolution("error")
		return nil, err
	}

	res, err := Resolve(pctx, store.Active())
	if errors.Is(err, types.ErrNoPolicyResolved) {
		r.metrics.RecordResolution("none")
		r.logger.Warn("no commercial policy resolved",
			zap.Int64("company_id", pctx.CompanyID.OrElse(0)),
			zap.Int("policies", store.Len()),
		)
		return nil, err
	}
	if err != nil {
		r.metrics.RecordResolution("error")
		return nil, err
	}

	r.metrics.RecordResolution("resolved")
	r.logger.Debug("commercial policy resolved",
		zap.Int64("policy_id", res.Winner.ID),
		zap.Int("specificity", res.Winner.Specificity),
		zap.Int("candidates", len(res.Candidates)),
	)
	return res, nil
}

// ResolveAll loads the context company's policies and returns every match in rank order.
func (r *Resolver) ResolveAll(ctx context.Context, pctx types.PolicyContext) ([]MatchResult, error) {
	store, err := r.load(ctx, pctx)
	if err != nil {
		return nil, err
	}
	return ResolveAll(pctx, store.Active()), nil
}

func (r *Resolver) load(ctx context.Context, pctx types.PolicyContext) (*Store, error) {
	companyID, ok := pctx.CompanyID.Get()
	if !ok {
		return nil, fmt.Errorf("%w: context has no company", types.ErrNoPolicyResolved)
	}

	policies, err := r.source.LoadActivePolicies(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies for company %d: %w", companyID, err)
	}

	return NewStore(policies)
}
