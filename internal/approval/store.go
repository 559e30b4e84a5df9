package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/pricekeeper/internal/core/db"
	"github.com/solatis/pricekeeper/internal/types"
)

type requestRow struct {
	LocalID       string         `db:"local_id"`
	OrderRef      string         `db:"order_ref"`
	ApproverID    string         `db:"approver_id"`
	Justification sql.NullString `db:"justification"`
	Violations    string         `db:"violations"`
	Status        string         `db:"status"`
	CreatedAt     string         `db:"created_at"`
	DecidedAt     sql.NullString `db:"decided_at"`
	DecidedBy     string         `db:"decided_by"`
}

func (r requestRow) request() (types.ApprovalRequest, error) {
	req := types.ApprovalRequest{
		LocalID:    types.LocalID(r.LocalID),
		OrderRef:   types.LocalID(r.OrderRef),
		ApproverID: r.ApproverID,
		Status:     types.ApprovalStatus(r.Status),
		DecidedBy:  r.DecidedBy,
	}
	if r.Justification.Valid {
		req.Justification = types.Some(r.Justification.String)
	}
	if err := json.Unmarshal([]byte(r.Violations), &req.Violations); err != nil {
		return types.ApprovalRequest{}, fmt.Errorf("request %s: violations: %w", r.LocalID, err)
	}

	createdAt, err := db.ParseTime(r.CreatedAt)
	if err != nil {
		return types.ApprovalRequest{}, fmt.Errorf("request %s: created_at: %w", r.LocalID, err)
	}
	req.CreatedAt = createdAt

	if r.DecidedAt.Valid {
		decidedAt, err := db.ParseTime(r.DecidedAt.String)
		if err != nil {
			return types.ApprovalRequest{}, fmt.Errorf("request %s: decided_at: %w", r.LocalID, err)
		}
		req.DecidedAt = types.Some(decidedAt)
	}
	return req, nil
}

// Store keeps the device's copy of approval requests.
type Store struct {
	q   *db.Queries
	now func() time.Time
}

// NewStore creates an approval store over migrated queries.
func NewStore(q *db.Queries) *Store {
	return &Store{q: q, now: time.Now}
}

// Insert stores a pending request through q, typically an outbox transaction.
// A request already stored for the same order is left as is.
func (s *Store) Insert(ctx context.Context, q db.Querier, req types.ApprovalRequest) error {
	violations, err := json.Marshal(req.Violations)
	if err != nil {
		return fmt.Errorf("failed to encode violations: %w", err)
	}

	var justification sql.NullString
	if text, ok := req.Justification.Get(); ok {
		justification = sql.NullString{String: text, Valid: true}
	}

	_, err = q.ExecContext(ctx, "insert-approval",
		string(req.LocalID), string(req.OrderRef), req.ApproverID, justification,
		string(violations), string(req.Status),
		db.FormatTime(req.CreatedAt), db.FormatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval request for order %s: %w", req.OrderRef, err)
	}
	return nil
}

// ByOrder returns the request for an order.
func (s *Store) ByOrder(ctx context.Context, orderRef types.LocalID) (types.ApprovalRequest, error) {
	var row requestRow
	err := s.q.GetContext(ctx, "get-approval-by-order", &row, string(orderRef))
	if errors.Is(err, sql.ErrNoRows) {
		return types.ApprovalRequest{}, fmt.Errorf("%w: order %s", types.ErrApprovalNotFound, orderRef)
	}
	if err != nil {
		return types.ApprovalRequest{}, fmt.Errorf("failed to load approval request: %w", err)
	}
	return row.request()
}

// ListByStatus returns requests in a status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status types.ApprovalStatus) ([]types.ApprovalRequest, error) {
	var rows []requestRow
	if err := s.q.SelectContext(ctx, "list-approvals-by-status", &rows, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	reqs := make([]types.ApprovalRequest, 0, len(rows))
	for _, r := range rows {
		req, err := r.request()
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// SaveDecision persists a decided request. Fails with ErrIllegalTransition
// when the stored request is no longer pending.
func (s *Store) SaveDecision(ctx context.Context, req types.ApprovalRequest) error {
	decidedAt, ok := req.DecidedAt.Get()
	if !ok || !req.Status.IsTerminal() {
		return fmt.Errorf("%w: request for order %s is undecided", types.ErrIllegalTransition, req.OrderRef)
	}

	res, err := s.q.ExecContext(ctx, "decide-approval",
		string(req.Status), db.FormatTime(decidedAt), req.DecidedBy, db.FormatTime(s.now()),
		string(req.OrderRef),
	)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: request for order %s already decided", types.ErrIllegalTransition, req.OrderRef)
	}
	return nil
}
