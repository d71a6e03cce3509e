// Package service defines the interfaces for the application's collaborators.
package service

import (
	"context"
	"time"

	"github.com/joshsymonds/actual-sync/internal/model"
)

// Ledger is the budgeting application that owns the authoritative
// transaction history. Sessions buffer mutations until Commit, which is
// the durable-commit step of a sync cycle.
type Ledger interface {
	OpenSession(ctx context.Context) (Session, error)
}

// Session is one unit of work against the ledger. All mutations made
// through a session become visible to other readers only after Commit;
// Rollback discards them.
type Session interface {
	// EnsureAccount returns the named account, creating it if absent.
	EnsureAccount(ctx context.Context, name string) (*model.Account, error)

	// TransactionsByAccount returns every transaction ever recorded for
	// the account, oldest first, with no date bound.
	TransactionsByAccount(ctx context.Context, accountID string) ([]model.LedgerTransaction, error)

	CreateTransaction(ctx context.Context, txn *model.LedgerTransaction) error
	UpdateTransaction(ctx context.Context, txn *model.LedgerTransaction) error
	DeleteTransaction(ctx context.Context, id string) error

	Commit() error
	Rollback() error
}

// CursorStore persists the last successfully applied sync cursor across
// process restarts. An empty cursor means "full history, from the
// beginning".
type CursorStore interface {
	// Load returns the persisted cursor. A missing or corrupt store
	// yields an empty cursor, never an error.
	Load() (string, error)

	// Save records the cursor. Callers must only invoke it after the
	// batch fetched with this cursor has been durably applied.
	Save(cursor string) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
