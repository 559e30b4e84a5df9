// Package approval moves orders through the approval state machine and hands
// them to the outbox.
package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/pricekeeper/internal/order"
	"github.com/solatis/pricekeeper/internal/types"
)

/*
State machine

  Draft ──Evaluate──► Valid                       (no violations, auto-approved)
    │
    └────Evaluate──► Violating ──RequestApproval──► PendingApproval ──Decide──► Approved | Rejected

Each state is its own type. Violating can only be obtained from Evaluate and
PendingApproval only from RequestApproval, so an order with violations cannot
reach the outbox without a named approver. Decide operates on the persisted
request and refuses anything that is not pending.
*/

// Draft is an order still being composed.
type Draft struct {
	LocalID   types.LocalID
	Context   types.PolicyContext
	Lines     []types.PricedLine
	CreatedAt time.Time
}

// Evaluation holds the outcome of Draft.Evaluate. Exactly one field is set.
type Evaluation struct {
	Valid     *Valid
	Violating *Violating
}

// Valid is a draft that stays inside every ceiling.
type Valid struct {
	order types.Order
}

// Order returns the order marked approved.
func (v *Valid) Order() types.Order { return v.order }

// Violating is a draft that breaches at least one ceiling.
type Violating struct {
	order      types.Order
	violations []types.Violation
}

// Order returns the order, still in draft status.
func (v *Violating) Order() types.Order { return v.order }

// Violations returns the breaches in line order.
func (v *Violating) Violations() []types.Violation {
	return append([]types.Violation(nil), v.violations...)
}

// PendingApproval is a violating order with an approval request addressed to
// a named approver.
type PendingApproval struct {
	order   types.Order
	request types.ApprovalRequest
}

// Order returns the order in pending_approval status.
func (p *PendingApproval) Order() types.Order { return p.order }

// Request returns the approval request.
func (p *PendingApproval) Request() types.ApprovalRequest { return p.request }

// Evaluate validates every line and checks it against the ceilings of the
// policy that priced it. A draft without a LocalID is assigned one.
func (d Draft) Evaluate() (Evaluation, error) {
	if len(d.Lines) == 0 {
		return Evaluation{}, fmt.Errorf("%w: order has no lines", types.ErrInvalidOrderLine)
	}

	localID := d.LocalID
	if localID == "" {
		localID = types.NewLocalID()
	}

	lines := make([]types.OrderLine, 0, len(d.Lines))
	var violations []types.Violation
	for _, pl := range d.Lines {
		if err := order.Validate(pl.Line); err != nil {
			return Evaluation{}, err
		}
		lines = append(lines, pl.Line)
		violations = append(violations, order.Detect(pl.Line, pl.Ceilings)...)
	}

	o := types.Order{
		LocalID:   localID,
		Context:   d.Context,
		Lines:     lines,
		CreatedAt: d.CreatedAt,
	}

	if len(violations) == 0 {
		o.ApprovalStatus = types.ApprovalApproved
		return Evaluation{Valid: &Valid{order: o}}, nil
	}
	o.ApprovalStatus = types.ApprovalDraft
	return Evaluation{Violating: &Violating{order: o, violations: violations}}, nil
}

// RequestApproval addresses the violations to approverID. A blank
// justification is treated as absent.
func (v *Violating) RequestApproval(approverID string, justification types.Optional[string], now time.Time) (*PendingApproval, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, types.ErrMissingApprover
	}
	if text, ok := justification.Get(); ok && strings.TrimSpace(text) == "" {
		justification = types.None[string]()
	}

	o := v.order
	o.ApprovalStatus = types.ApprovalPendingApproval

	return &PendingApproval{
		order: o,
		request: types.ApprovalRequest{
			LocalID:       types.ApprovalRequestID(o.LocalID),
			OrderRef:      o.LocalID,
			Violations:    v.Violations(),
			ApproverID:    approverID,
			Justification: justification,
			Status:        types.ApprovalPendingApproval,
			CreatedAt:     now,
		},
	}, nil
}

// Decide applies an approver's decision to a pending request.
func Decide(req types.ApprovalRequest, decision types.ApprovalStatus, decidedBy string, at time.Time) (types.ApprovalRequest, error) {
	if req.Status != types.ApprovalPendingApproval {
		return types.ApprovalRequest{}, fmt.Errorf("%w: request for order %s is %s", types.ErrIllegalTransition, req.OrderRef, req.Status)
	}
	if !decision.IsTerminal() {
		return types.ApprovalRequest{}, fmt.Errorf("%w: %s is not a decision", types.ErrIllegalTransition, decision)
	}

	req.Status = decision
	req.DecidedAt = types.Some(at)
	req.DecidedBy = decidedBy
	return req, nil
}
