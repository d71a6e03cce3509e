// Package engine drives one reconciliation cycle end to end: load the
// cursor, fetch the delta batch, reconcile it against the ledger, commit,
// and only then persist the new cursor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joshsymonds/actual-sync/internal/common"
	"github.com/joshsymonds/actual-sync/internal/model"
	"github.com/joshsymonds/actual-sync/internal/plaid"
	"github.com/joshsymonds/actual-sync/internal/reconcile"
	"github.com/joshsymonds/actual-sync/internal/service"
)

// ErrCycleInFlight is returned when a cycle is requested while another
// one is still running. Cycles against one account never overlap.
var ErrCycleInFlight = errors.New("a sync cycle is already in flight")

// Config holds configuration options for the sync engine.
type Config struct {
	// AccountName is the ledger account the Plaid item is bound to. It
	// is created lazily on first sync.
	AccountName string

	// RetryDelay is the fixed pause before replaying a fetch whose
	// cursor sequence was invalidated by a pagination conflict.
	RetryDelay time.Duration

	// MaxRetries bounds how many pagination-conflict replays one cycle
	// may perform.
	MaxRetries int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RetryDelay: 10 * time.Second,
		MaxRetries: 1,
	}
}

// Engine executes sync cycles. All collaborators are injected; the
// engine holds no state across cycles beyond the in-flight guard.
type Engine struct {
	fetcher plaid.DeltaFetcher
	ledger  service.Ledger
	cursors service.CursorStore
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
	cfg     Config
	running atomic.Bool
}

// New creates a sync engine with the given collaborators.
func New(fetcher plaid.DeltaFetcher, ledger service.Ledger, cursors service.CursorStore, cfg Config) *Engine {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}

	return &Engine{
		fetcher: fetcher,
		ledger:  ledger,
		cursors: cursors,
		cfg:     cfg,
		sleep:   sleepContext,
		logger:  slog.Default().With("component", "engine"),
	}
}

// RunCycle executes one full fetch-reconcile-commit-persist sequence.
// The persisted cursor only ever advances after the batch it belongs to
// has been durably committed (or confirmed a no-op); any earlier failure
// leaves it untouched, so an interrupted cycle is replayed safely.
func (e *Engine) RunCycle(ctx context.Context) (*model.CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}
	defer e.running.Store(false)

	result := &model.CycleResult{}

	cursor, err := e.cursors.Load()
	if err != nil {
		return result, fmt.Errorf("failed to load sync cursor: %w", err)
	}
	freshStart := cursor == ""
	e.logger.Info("Starting sync cycle", "full_history", freshStart)

	batch, err := e.fetchWithRetry(ctx, cursor, result)
	if err != nil {
		return result, err
	}
	result.Fetched = true

	if batch.Empty() && !freshStart {
		// Confirmed no-op: nothing to apply, safe to advance.
		e.logger.Info("No transaction changes from Plaid")
		e.persistCursor(batch.NextCursor, result)
		return result, nil
	}

	session, err := e.ledger.OpenSession(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to open ledger session: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = session.Rollback()
		}
	}()

	account, err := session.EnsureAccount(ctx, e.cfg.AccountName)
	if err != nil {
		return result, fmt.Errorf("failed to resolve ledger account %q: %w", e.cfg.AccountName, err)
	}

	counts, err := reconcile.New(session, account).Apply(ctx, batch)
	if err != nil {
		return result, fmt.Errorf("reconciliation aborted: %w", err)
	}

	if err := session.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit ledger changes: %w", err)
	}
	committed = true
	result.Reconciled = true
	result.Counts = counts

	e.persistCursor(batch.NextCursor, result)

	if counts.Zero() && !freshStart {
		e.logger.Info("Sync cycle finished with no ledger changes")
	} else {
		e.logger.Info("Sync cycle finished",
			"deleted", counts.Deleted,
			"updated", counts.Updated,
			"created", counts.Created,
			"failed", counts.Failed)
	}

	return result, nil
}

// fetchWithRetry runs the delta fetch, replaying the entire cursor
// sequence once after a fixed delay when Plaid reports that the account
// mutated mid-pagination. Every replay restarts from the original
// cursor; the partial batch is discarded.
func (e *Engine) fetchWithRetry(ctx context.Context, cursor string, result *model.CycleResult) (*model.DeltaBatch, error) {
	for attempt := 0; ; attempt++ {
		batch, err := e.fetcher.SyncTransactions(ctx, cursor)
		if err == nil {
			return batch, nil
		}

		if !errors.Is(err, common.ErrPaginationConflict) || attempt >= e.cfg.MaxRetries {
			return nil, err
		}

		result.PaginationRetried = true
		e.logger.Warn("Plaid feed mutated during pagination, replaying fetch",
			"delay", e.cfg.RetryDelay,
			"attempt", attempt+1,
			"max_retries", e.cfg.MaxRetries)

		if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// persistCursor records the cursor for the batch that was just applied.
// A write failure cannot un-commit the ledger changes, so it is escalated
// loudly (the next run will re-fetch this batch) without failing the
// cycle.
func (e *Engine) persistCursor(cursor string, result *model.CycleResult) {
	if err := e.cursors.Save(cursor); err != nil {
		e.logger.Error("CRITICAL: failed to persist sync cursor; the next run may re-process this batch",
			"error", err)
		return
	}
	result.CursorSaved = true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
