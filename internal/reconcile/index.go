package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joshsymonds/actual-sync/internal/model"
	"github.com/joshsymonds/actual-sync/internal/notes"
	"github.com/joshsymonds/actual-sync/internal/service"
)

// Index maps Plaid transaction ids to the ledger transactions that carry
// them in their notes. It is rebuilt from scratch on every run; personal
// ledgers are small enough that a full rescan is cheaper than keeping an
// incremental index correct.
type Index struct {
	entries map[string]model.LedgerTransaction

	// Scanned is the number of ledger transactions examined.
	Scanned int
	// Matched is the number of transactions carrying a Plaid id.
	Matched int
	// Conflicts counts ledger transactions whose Plaid id was already
	// claimed by an earlier-scanned transaction. The first one wins, but
	// a nonzero count points at duplicated rows worth investigating.
	Conflicts int
}

// BuildIndex scans the account's full transaction history and indexes
// every transaction whose note carries a Plaid id.
func BuildIndex(ctx context.Context, session service.Session, account *model.Account, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Building identity index from ledger", "account", account.Name)

	transactions, err := session.TransactionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger transactions: %w", err)
	}

	idx := &Index{entries: make(map[string]model.LedgerTransaction)}
	for _, txn := range transactions {
		idx.Scanned++

		plaidID, ok := notes.ParseSourceID(txn.Notes)
		if !ok {
			continue
		}
		idx.Matched++

		if existing, dup := idx.entries[plaidID]; dup {
			idx.Conflicts++
			logger.Warn("Duplicate Plaid id in ledger notes, keeping the first found",
				"plaid_id", plaidID,
				"kept_ledger_id", existing.ID,
				"ignored_ledger_id", txn.ID)
			continue
		}
		idx.entries[plaidID] = txn
	}

	logger.Info("Identity index built",
		"scanned", idx.Scanned,
		"matched", idx.Matched,
		"conflicts", idx.Conflicts)

	return idx, nil
}

// Lookup returns the ledger transaction for a Plaid id without mutating
// the index.
func (idx *Index) Lookup(plaidID string) (model.LedgerTransaction, bool) {
	txn, ok := idx.entries[plaidID]
	return txn, ok
}

// Remove pops the mapping for a Plaid id, returning the transaction that
// carried it.
func (idx *Index) Remove(plaidID string) (model.LedgerTransaction, bool) {
	txn, ok := idx.entries[plaidID]
	if ok {
		delete(idx.entries, plaidID)
	}
	return txn, ok
}

// Insert records a mapping, replacing any existing entry. The reconciler
// uses it to keep the index current as it creates and updates rows, which
// is what makes repeated deliveries of one id within a batch converge on
// the last write.
func (idx *Index) Insert(plaidID string, txn model.LedgerTransaction) {
	idx.entries[plaidID] = txn
}

// Len returns the number of indexed ids.
func (idx *Index) Len() int {
	return len(idx.entries)
}
