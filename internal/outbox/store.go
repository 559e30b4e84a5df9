package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/solatis/pricekeeper/internal/core/db"
	"github.com/solatis/pricekeeper/internal/types"
)

type entryRow struct {
	Seq          int64  `db:"seq"`
	LocalID      string `db:"local_id"`
	Kind         string `db:"kind"`
	Payload      string `db:"payload"`
	Status       string `db:"status"`
	AttemptCount int    `db:"attempt_count"`
	LastError    string `db:"last_error"`
	EnqueuedAt   string `db:"enqueued_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r entryRow) entry() (types.OutboxEntry, error) {
	enqueuedAt, err := db.ParseTime(r.EnqueuedAt)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("entry %s: enqueued_at: %w", r.LocalID, err)
	}
	updatedAt, err := db.ParseTime(r.UpdatedAt)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("entry %s: updated_at: %w", r.LocalID, err)
	}
	return types.OutboxEntry{
		Seq:          r.Seq,
		LocalID:      types.LocalID(r.LocalID),
		Kind:         types.PayloadKind(r.Kind),
		Payload:      types.Payload(r.Payload),
		Status:       types.EntryStatus(r.Status),
		AttemptCount: r.AttemptCount,
		LastError:    r.LastError,
		EnqueuedAt:   enqueuedAt,
		UpdatedAt:    updatedAt,
	}, nil
}

type ackRow struct {
	LocalID      string `db:"local_id"`
	Kind         string `db:"kind"`
	AttemptCount int    `db:"attempt_count"`
	EnqueuedAt   string `db:"enqueued_at"`
	SyncedAt     string `db:"synced_at"`
}

func (r ackRow) entry() (types.OutboxEntry, error) {
	enqueuedAt, err := db.ParseTime(r.EnqueuedAt)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("ack %s: enqueued_at: %w", r.LocalID, err)
	}
	syncedAt, err := db.ParseTime(r.SyncedAt)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("ack %s: synced_at: %w", r.LocalID, err)
	}
	return types.OutboxEntry{
		LocalID:      types.LocalID(r.LocalID),
		Kind:         types.PayloadKind(r.Kind),
		Status:       types.EntrySynced,
		AttemptCount: r.AttemptCount,
		EnqueuedAt:   enqueuedAt,
		UpdatedAt:    syncedAt,
	}, nil
}

// Store is the durable queue behind the engine.
// Rows live in outbox_entries until acknowledged, then move to outbox_acks.
type Store struct {
	q   *db.Queries
	now func() time.Time
}

// NewStore creates a store over migrated queries.
func NewStore(q *db.Queries) *Store {
	return &Store{q: q, now: time.Now}
}

// TxHook runs additional writes inside an insert transaction. A hook error
// rolls back the whole batch.
type TxHook func(ctx context.Context, tx *db.Tx) error

// Insert stores entries as Pending in one transaction and returns the stored
// state of each. A local id that is already queued or acknowledged is left
// untouched and its current state returned.
func (s *Store) Insert(ctx context.Context, entries []types.OutboxEntry, hooks ...TxHook) ([]types.OutboxEntry, error) {
	stored := make([]types.OutboxEntry, 0, len(entries))

	err := s.q.InTx(ctx, func(tx *db.Tx) error {
		for _, hook := range hooks {
			if err := hook(ctx, tx); err != nil {
				return err
			}
		}

		now := db.FormatTime(s.now())
		for _, e := range entries {
			existing, err := get(ctx, tx, e.LocalID)
			if err == nil {
				stored = append(stored, existing)
				continue
			}
			if !errors.Is(err, types.ErrEntryNotFound) {
				return err
			}

			if _, err := tx.ExecContext(ctx, "insert-entry", string(e.LocalID), string(e.Kind), string(e.Payload), now, now); err != nil {
				return fmt.Errorf("failed to insert entry %s: %w", e.LocalID, err)
			}

			created, err := get(ctx, tx, e.LocalID)
			if err != nil {
				return err
			}
			stored = append(stored, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Get returns the entry, or a Synced view of its acknowledgement.
func (s *Store) Get(ctx context.Context, id types.LocalID) (types.OutboxEntry, error) {
	return get(ctx, s.q, id)
}

func get(ctx context.Context, q db.Querier, id types.LocalID) (types.OutboxEntry, error) {
	var row entryRow
	err := q.GetContext(ctx, "get-entry", &row, string(id))
	if err == nil {
		return row.entry()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.OutboxEntry{}, fmt.Errorf("failed to load entry %s: %w", id, err)
	}

	var ack ackRow
	err = q.GetContext(ctx, "get-ack", &ack, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.OutboxEntry{}, fmt.Errorf("%w: %s", types.ErrEntryNotFound, id)
	}
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("failed to load ack %s: %w", id, err)
	}
	return ack.entry()
}

// List returns every unacknowledged entry in FIFO order.
func (s *Store) List(ctx context.Context) ([]types.OutboxEntry, error) {
	return s.list(ctx, "list-entries")
}

// ListFlushable returns Pending and Failed entries in FIFO order.
func (s *Store) ListFlushable(ctx context.Context) ([]types.OutboxEntry, error) {
	return s.list(ctx, "list-flushable")
}

func (s *Store) list(ctx context.Context, name string) ([]types.OutboxEntry, error) {
	var rows []entryRow
	if err := s.q.SelectContext(ctx, name, &rows); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	entries := make([]types.OutboxEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Count returns the number of unacknowledged entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.GetContext(ctx, "count-entries", &n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// MarkSyncing claims a Pending or Failed entry. Returns false when the entry
// is gone or already claimed.
func (s *Store) MarkSyncing(ctx context.Context, id types.LocalID) (bool, error) {
	res, err := s.q.ExecContext(ctx, "mark-syncing", db.FormatTime(s.now()), string(id))
	if err != nil {
		return false, fmt.Errorf("failed to claim entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkFailed records a failed attempt on a Syncing entry.
func (s *Store) MarkFailed(ctx context.Context, id types.LocalID, lastError string) error {
	lastError = truncateError(lastError)
	_, err := s.q.ExecContext(ctx, "mark-failed", lastError, db.FormatTime(s.now()), string(id))
	if err != nil {
		return fmt.Errorf("failed to mark entry %s failed: %w", id, err)
	}
	return nil
}

// MarkPending returns a Syncing entry to Pending without counting an attempt.
func (s *Store) MarkPending(ctx context.Context, id types.LocalID) error {
	_, err := s.q.ExecContext(ctx, "mark-pending", db.FormatTime(s.now()), string(id))
	if err != nil {
		return fmt.Errorf("failed to revert entry %s: %w", id, err)
	}
	return nil
}

// MarkSynced moves an acknowledged entry from the queue to the ack table.
func (s *Store) MarkSynced(ctx context.Context, e types.OutboxEntry) error {
	return s.q.InTx(ctx, func(tx *db.Tx) error {
		_, err := tx.ExecContext(ctx, "insert-ack",
			string(e.LocalID), string(e.Kind), e.AttemptCount+1,
			db.FormatTime(e.EnqueuedAt), db.FormatTime(s.now()),
		)
		if err != nil {
			return fmt.Errorf("failed to record ack %s: %w", e.LocalID, err)
		}
		if _, err := tx.ExecContext(ctx, "delete-entry", string(e.LocalID)); err != nil {
			return fmt.Errorf("failed to delete entry %s: %w", e.LocalID, err)
		}
		return nil
	})
}

// ResetSyncing returns every Syncing entry to Pending. Run once at startup,
// before any flush, to recover claims lost to a crash.
func (s *Store) ResetSyncing(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, "reset-syncing", db.FormatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to reset syncing entries: %w", err)
	}
	return res.RowsAffected()
}

// Discard removes an entry that is not currently syncing.
func (s *Store) Discard(ctx context.Context, id types.LocalID) error {
	res, err := s.q.ExecContext(ctx, "discard-entry", string(id))
	if err != nil {
		return fmt.Errorf("failed to discard entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status == types.EntrySyncing {
		return fmt.Errorf("%w: %s", types.ErrEntryInFlight, id)
	}
	return fmt.Errorf("%w: %s already synced", types.ErrEntryNotFound, id)
}

// truncateError cuts msg to MaxLastErrorLength bytes without splitting a rune.
func truncateError(msg string) string {
	if len(msg) <= types.MaxLastErrorLength {
		return msg
	}
	cut := types.MaxLastErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
