// Package model defines the core types shared across the sync pipeline.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalTransaction is a single transaction as delivered by the Plaid
// delta feed. Amounts follow Plaid's sign convention: positive values are
// money leaving the account.
type ExternalTransaction struct {
	ID                   string
	Date                 string // as delivered, expected format 2006-01-02
	Name                 string
	MerchantName         string
	PendingTransactionID string
	Categories           []string
	Amount               decimal.Decimal
}

// RemovedTransaction identifies a transaction Plaid has withdrawn.
type RemovedTransaction struct {
	ID string
}

// DeltaBatch is the accumulated result of one full pass over the Plaid
// sync feed: every added, modified, and removed transaction since the
// cursor this batch was fetched from, plus the cursor to resume from.
type DeltaBatch struct {
	NextCursor string
	Added      []ExternalTransaction
	Modified   []ExternalTransaction
	Removed    []RemovedTransaction
}

// Empty reports whether the batch carries no changes at all.
func (b *DeltaBatch) Empty() bool {
	return len(b.Added) == 0 && len(b.Modified) == 0 && len(b.Removed) == 0
}

// LedgerTransaction is a transaction row owned by the budget ledger.
// Amounts follow the ledger's sign convention, the inverse of Plaid's:
// an inflow here is an outflow at the bank.
type LedgerTransaction struct {
	Date      time.Time
	ID        string
	AccountID string
	Payee     string
	Notes     string
	Amount    decimal.Decimal
}

// Account is a named ledger account.
type Account struct {
	ID   string
	Name string
}

// SyncCounts summarizes the ledger mutations one reconciliation applied.
type SyncCounts struct {
	Deleted int
	Updated int
	Created int
	Failed  int
}

// Zero reports whether the reconciliation changed nothing.
func (c SyncCounts) Zero() bool {
	return c.Deleted == 0 && c.Updated == 0 && c.Created == 0
}

// CycleResult is the outcome of one sync cycle, used by the caller to
// decide whether to reschedule, stop, or surface an error.
type CycleResult struct {
	Counts            SyncCounts
	Fetched           bool
	Reconciled        bool
	PaginationRetried bool
	CursorSaved       bool
}
