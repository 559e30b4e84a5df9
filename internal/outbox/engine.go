// Package outbox queues writes made while offline and replays them to the
// central service once connectivity returns.
//
// Every write carries a caller-generated LocalID. The local queue refuses a
// second copy of a LocalID and the remote side treats a repeated LocalID as a
// duplicate, so a write is applied at most once no matter how many times a
// flush retries it.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solatis/pricekeeper/internal/core/observability"
	"github.com/solatis/pricekeeper/internal/types"
)

/*
Entry lifecycle

  Enqueue ──► Pending ──claim──► Syncing ──ack──► (row moved to outbox_acks) = Synced
                 ▲                  │
                 │ parent cancel    │ error / attempt timeout
                 └──────────────────┤
                                    ▼
                                 Failed ──next flush──► Syncing

Flush walks Pending and Failed entries in enqueue order. A failed entry does
not block the ones behind it; it is retried on the next flush. Remote calls
never run inside a database transaction.

At startup Recover returns rows left in Syncing by a crash to Pending. The
remote dedupes by LocalID, so resubmitting them is safe.
*/

// DefaultAttemptTimeout bounds one remote write.
const DefaultAttemptTimeout = 10 * time.Second

// Remote accepts one queued write. Implementations must treat a repeated
// LocalID as already applied and return nil.
type Remote interface {
	Submit(ctx context.Context, entry types.OutboxEntry) error
}

// RemoteFunc adapts a function to Remote.
type RemoteFunc func(ctx context.Context, entry types.OutboxEntry) error

// Submit calls f.
func (f RemoteFunc) Submit(ctx context.Context, entry types.OutboxEntry) error {
	return f(ctx, entry)
}

// Connectivity reports whether the central service is reachable.
type Connectivity interface {
	Online() bool
}

// Signal publishes connectivity changes.
type Signal interface {
	Connectivity
	Subscribe() (<-chan bool, func())
}

// Skip reasons reported by Flush.
const (
	SkipOffline  = "offline"
	SkipInFlight = "in_flight"
)

// FlushReport summarizes one flush pass.
type FlushReport struct {
	Skipped  string `json:"skipped,omitempty"`
	Attempts int    `json:"attempts"`
	Synced   int    `json:"synced"`
	Failed   int    `json:"failed"`
}

var tracer = otel.Tracer("outbox")

// Engine drives the outbox. Safe for concurrent use; at most one flush runs
// at a time.
type Engine struct {
	store          *Store
	remote         Remote
	conn           Connectivity
	attemptTimeout time.Duration
	logger         *zap.Logger
	metrics        *observability.Metrics

	flushing atomic.Bool
}

// NewEngine wires the queue to a remote and a connectivity source.
// A non-positive attemptTimeout selects DefaultAttemptTimeout.
func NewEngine(store *Store, remote Remote, conn Connectivity, attemptTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &Engine{
		store:          store,
		remote:         remote,
		conn:           conn,
		attemptTimeout: attemptTimeout,
		logger:         logger,
		metrics:        metrics,
	}
}

// NewEntry builds an entry for kind with v marshaled as its payload.
// An empty localID is replaced by a fresh one.
func NewEntry(kind types.PayloadKind, localID types.LocalID, v any) (types.OutboxEntry, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return types.OutboxEntry{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	if localID == "" {
		localID = types.NewLocalID()
	}
	return types.OutboxEntry{LocalID: localID, Kind: kind, Payload: payload}, nil
}

// Enqueue persists one entry as Pending and returns its stored state.
// Enqueuing a LocalID that is already known returns the existing entry unchanged.
func (e *Engine) Enqueue(ctx context.Context, entry types.OutboxEntry) (types.OutboxEntry, error) {
	stored, err := e.EnqueueBatch(ctx, []types.OutboxEntry{entry})
	if err != nil {
		return types.OutboxEntry{}, err
	}
	return stored[0], nil
}

// EnqueueBatch persists entries atomically: either all are stored, together
// with the writes of any hooks, or none are.
func (e *Engine) EnqueueBatch(ctx context.Context, entries []types.OutboxEntry, hooks ...TxHook) ([]types.OutboxEntry, error) {
	for i := range entries {
		if entries[i].LocalID == "" {
			entries[i].LocalID = types.NewLocalID()
		}
		if err := validateEntry(entries[i]); err != nil {
			return nil, err
		}
	}

	stored, err := e.store.Insert(ctx, entries, hooks...)
	if err != nil {
		return nil, err
	}

	for _, s := range stored {
		e.logger.Debug("entry enqueued",
			zap.String("local_id", string(s.LocalID)),
			zap.String("kind", string(s.Kind)),
			zap.String("status", string(s.Status)),
		)
	}
	e.refreshPending(ctx)
	return stored, nil
}

func validateEntry(entry types.OutboxEntry) error {
	if _, err := types.ParseLocalID(string(entry.LocalID)); err != nil {
		return err
	}
	if !entry.Kind.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownPayloadKind, entry.Kind)
	}
	if len(entry.Payload) > types.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", types.ErrPayloadTooLarge, len(entry.Payload))
	}
	if !json.Valid(entry.Payload) {
		return fmt.Errorf("payload of %s is not valid JSON", entry.LocalID)
	}
	return nil
}

// Flush submits every Pending and Failed entry in enqueue order.
//
// Flush returns immediately while offline or while another flush is running.
// Cancelling ctx stops the pass: the entry in progress returns to Pending and
// ctx.Err() is returned.
func (e *Engine) Flush(ctx context.Context) (FlushReport, error) {
	if !e.conn.Online() {
		return FlushReport{Skipped: SkipOffline}, nil
	}
	if !e.flushing.CompareAndSwap(false, true) {
		return FlushReport{Skipped: SkipInFlight}, nil
	}
	defer e.flushing.Store(false)

	ctx, span := tracer.Start(ctx, "outbox.Flush")
	defer span.End()

	start := time.Now()
	defer func() {
		e.metrics.ObserveFlush(time.Since(start))
		e.refreshPending(context.WithoutCancel(ctx))
	}()

	entries, err := e.store.ListFlushable(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return FlushReport{}, err
	}

	var report FlushReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !e.conn.Online() {
			e.logger.Info("connectivity lost, stopping flush", zap.Int("remaining", len(entries)-report.Attempts))
			break
		}

		synced, attempted, err := e.attempt(ctx, entry)
		if attempted {
			report.Attempts++
			if synced {
				report.Synced++
			} else {
				report.Failed++
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "flush interrupted")
			return report, err
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.attempts", report.Attempts),
		attribute.Int("outbox.synced", report.Synced),
		attribute.Int("outbox.failed", report.Failed),
	)
	if report.Attempts > 0 {
		e.logger.Info("outbox flushed",
			zap.Int("attempts", report.Attempts),
			zap.Int("synced", report.Synced),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// attempt submits one entry. A non-nil error aborts the flush.
func (e *Engine) attempt(ctx context.Context, entry types.OutboxEntry) (synced, attempted bool, err error) {
	claimed, err := e.store.MarkSyncing(ctx, entry.LocalID)
	if err != nil {
		return false, false, err
	}
	if !claimed {
		// Discarded or claimed since the list was read.
		return false, false, nil
	}

	ctx, span := tracer.Start(ctx, "outbox.Submit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("outbox.local_id", string(entry.LocalID)),
			attribute.String("outbox.kind", string(entry.Kind)),
			attribute.Int("outbox.attempt", entry.AttemptCount+1),
		),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	submitErr := e.remote.Submit(attemptCtx, entry)
	cancel()

	// Bookkeeping must land even when ctx was cancelled after the remote call.
	bg := context.WithoutCancel(ctx)

	switch {
	case submitErr == nil:
		if err := e.store.MarkSynced(bg, entry); err != nil {
			return false, true, err
		}
		e.metrics.RecordSyncAttempt(string(entry.Kind), "synced")
		e.logger.Debug("entry synced", zap.String("local_id", string(entry.LocalID)))
		return true, true, nil

	case ctx.Err() != nil:
		if err := e.store.MarkPending(bg, entry.LocalID); err != nil {
			return false, false, errors.Join(ctx.Err(), err)
		}
		e.metrics.RecordSyncAttempt(string(entry.Kind), "cancelled")
		return false, false, ctx.Err()

	default:
		span.RecordError(submitErr)
		span.SetStatus(codes.Error, "submit failed")
		if err := e.store.MarkFailed(bg, entry.LocalID, submitErr.Error()); err != nil {
			return false, true, err
		}
		e.metrics.RecordSyncAttempt(string(entry.Kind), "failed")
		e.logger.Warn("entry sync failed",
			zap.String("local_id", string(entry.LocalID)),
			zap.String("kind", string(entry.Kind)),
			zap.Int("attempt", entry.AttemptCount+1),
			zap.Error(submitErr),
		)
		return false, true, nil
	}
}

// Status returns the lifecycle state of an entry. Acknowledged entries report
// Synced.
func (e *Engine) Status(ctx context.Context, id types.LocalID) (types.EntryStatus, error) {
	entry, err := e.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return entry.Status, nil
}

// Entry returns the stored entry for id.
func (e *Engine) Entry(ctx context.Context, id types.LocalID) (types.OutboxEntry, error) {
	return e.store.Get(ctx, id)
}

// List returns every unacknowledged entry in enqueue order.
func (e *Engine) List(ctx context.Context) ([]types.OutboxEntry, error) {
	return e.store.List(ctx)
}

// Discard drops an entry that will never be accepted. Entries being synced
// cannot be discarded.
func (e *Engine) Discard(ctx context.Context, id types.LocalID) error {
	if err := e.store.Discard(ctx, id); err != nil {
		return err
	}
	e.logger.Info("entry discarded", zap.String("local_id", string(id)))
	e.refreshPending(ctx)
	return nil
}

// Recover returns entries stranded in Syncing to Pending. Call before the
// first flush.
func (e *Engine) Recover(ctx context.Context) (int64, error) {
	n, err := e.store.ResetSyncing(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("recovered interrupted entries", zap.Int64("count", n))
	}
	e.refreshPending(ctx)
	return n, nil
}

// Run flushes whenever sig reports the remote reachable, and every interval
// while it stays reachable. A zero interval disables periodic flushes.
// Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, sig Signal, interval time.Duration) error {
	changes, unsubscribe := sig.Subscribe()
	defer unsubscribe()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	flush := func() {
		if _, err := e.Flush(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("flush failed", zap.Error(err))
		}
	}

	if sig.Online() {
		flush()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online := <-changes:
			if online {
				flush()
			}
		case <-tick:
			flush()
		}
	}
}

func (e *Engine) refreshPending(ctx context.Context) {
	n, err := e.store.Count(ctx)
	if err != nil {
		e.logger.Warn("failed to count outbox entries", zap.Error(err))
		return
	}
	e.metrics.SetOutboxPending(n)
}
