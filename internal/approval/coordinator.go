package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/pricekeeper/internal/core/db"
	"github.com/solatis/pricekeeper/internal/outbox"
	"github.com/solatis/pricekeeper/internal/types"
)

// Directory lists who may approve orders placed in a context.
type Directory interface {
	ListEligibleApprovers(ctx context.Context, pctx types.PolicyContext) ([]types.Approver, error)
}

// Enqueuer queues entries atomically. Implemented by *outbox.Engine.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, entries []types.OutboxEntry, hooks ...outbox.TxHook) ([]types.OutboxEntry, error)
}

// Submission is the user's input when finishing an order.
// ApproverID and Justification only matter when the order has violations.
type Submission struct {
	Draft         Draft
	ApproverID    string
	Justification types.Optional[string]
}

// Outcome describes what a submission queued.
type Outcome struct {
	Order      types.Order
	Violations []types.Violation
	Request    types.Optional[types.ApprovalRequest]
	Entries    []types.OutboxEntry
}

// Coordinator evaluates submitted orders and queues them, together with any
// approval request, for synchronization.
type Coordinator struct {
	directory     Directory
	justification *JustificationRule
	queue         Enqueuer
	store         *Store
	now           func() time.Time
	logger        *zap.Logger
}

// NewCoordinator wires the collaborators. A nil rule makes justifications optional.
func NewCoordinator(directory Directory, rule *JustificationRule, queue Enqueuer, store *Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		directory:     directory,
		justification: rule,
		queue:         queue,
		store:         store,
		now:           time.Now,
		logger:        logger,
	}
}

// Submit evaluates the draft. A valid order is queued approved. A violating
// order is queued pending approval together with its approval request, in one
// transaction. Any validation failure leaves nothing persisted.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	draft := sub.Draft
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = c.now()
	}

	eval, err := draft.Evaluate()
	if err != nil {
		return Outcome{}, err
	}

	if eval.Valid != nil {
		o := eval.Valid.Order()
		entry, err := outbox.NewEntry(types.KindOrder, o.LocalID, o)
		if err != nil {
			return Outcome{}, err
		}
		stored, err := c.queue.EnqueueBatch(ctx, []types.OutboxEntry{entry})
		if err != nil {
			return Outcome{}, err
		}
		c.logger.Info("order queued",
			zap.String("local_id", string(o.LocalID)),
			zap.Int("lines", len(o.Lines)),
		)
		return Outcome{Order: o, Entries: stored}, nil
	}

	pending, err := eval.Violating.RequestApproval(sub.ApproverID, sub.Justification, c.now())
	if err != nil {
		return Outcome{}, err
	}
	o, req := pending.Order(), pending.Request()

	if err := c.checkApprover(ctx, o.Context, req.ApproverID); err != nil {
		return Outcome{}, err
	}
	if err := c.checkJustification(req); err != nil {
		return Outcome{}, err
	}

	orderEntry, err := outbox.NewEntry(types.KindOrder, o.LocalID, o)
	if err != nil {
		return Outcome{}, err
	}
	requestEntry, err := outbox.NewEntry(types.KindApprovalRequest, req.LocalID, req)
	if err != nil {
		return Outcome{}, err
	}

	stored, err := c.queue.EnqueueBatch(ctx,
		[]types.OutboxEntry{orderEntry, requestEntry},
		func(ctx context.Context, tx *db.Tx) error {
			return c.store.Insert(ctx, tx, req)
		},
	)
	if err != nil {
		return Outcome{}, err
	}

	c.logger.Info("order queued for approval",
		zap.String("local_id", string(o.LocalID)),
		zap.String("approver_id", req.ApproverID),
		zap.Int("violations", len(req.Violations)),
	)
	return Outcome{
		Order:      o,
		Violations: req.Violations,
		Request:    types.Some(req),
		Entries:    stored,
	}, nil
}

func (c *Coordinator) checkApprover(ctx context.Context, pctx types.PolicyContext, approverID string) error {
	approvers, err := c.directory.ListEligibleApprovers(ctx, pctx)
	if err != nil {
		return fmt.Errorf("failed to list approvers: %w", err)
	}
	for _, a := range approvers {
		if a.ID == approverID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", types.ErrIneligibleApprover, approverID)
}

func (c *Coordinator) checkJustification(req types.ApprovalRequest) error {
	required, err := c.justification.Required(req)
	if err != nil {
		return err
	}
	if required && !req.Justification.IsSome() {
		return types.ErrJustificationRequired
	}
	return nil
}

// RecordDecision stores an approver's decision on the request for orderRef.
// Only Approved and Rejected are accepted, and only once.
func (c *Coordinator) RecordDecision(ctx context.Context, orderRef types.LocalID, decision types.ApprovalStatus, decidedBy string) (types.ApprovalRequest, error) {
	decidedBy = strings.TrimSpace(decidedBy)
	if decidedBy == "" {
		return types.ApprovalRequest{}, types.ErrMissingApprover
	}

	req, err := c.store.ByOrder(ctx, orderRef)
	if err != nil {
		return types.ApprovalRequest{}, err
	}

	decided, err := Decide(req, decision, decidedBy, c.now())
	if err != nil {
		return types.ApprovalRequest{}, err
	}
	if err := c.store.SaveDecision(ctx, decided); err != nil {
		return types.ApprovalRequest{}, err
	}

	c.logger.Info("approval decided",
		zap.String("order_ref", string(orderRef)),
		zap.String("status", string(decided.Status)),
		zap.String("decided_by", decidedBy),
	)
	return decided, nil
}

// Pending lists requests still awaiting a decision.
func (c *Coordinator) Pending(ctx context.Context) ([]types.ApprovalRequest, error) {
	return c.store.ListByStatus(ctx, types.ApprovalPendingApproval)
}
