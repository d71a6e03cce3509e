// Package reconcile applies a Plaid delta batch against the budget
// ledger so that every external transaction appears there exactly once.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/actual-sync/internal/model"
	"github.com/joshsymonds/actual-sync/internal/notes"
	"github.com/joshsymonds/actual-sync/internal/service"
)

// UnknownPayee is recorded when Plaid delivers neither a merchant name
// nor a raw description.
const UnknownPayee = "Unknown Payee"

const dateLayout = "2006-01-02"

// Reconciler applies one delta batch to one ledger account. It is built
// fresh per cycle; the identity index it relies on never survives a run.
type Reconciler struct {
	session service.Session
	account *model.Account
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a reconciler bound to a ledger session and account.
func New(session service.Session, account *model.Account) *Reconciler {
	return &Reconciler{
		session: session,
		account: account,
		logger:  slog.Default().With("component", "reconcile"),
		now:     time.Now,
	}
}

// Apply runs the three reconciliation phases in order: removals, then
// modifications, then additions. Item-level failures are logged and counted
// but never abort the batch; only a failure to build the identity index
// does. Mutations stay buffered in the session; the caller decides when
// to commit.
func (r *Reconciler) Apply(ctx context.Context, batch *model.DeltaBatch) (model.SyncCounts, error) {
	var counts model.SyncCounts

	idx, err := BuildIndex(ctx, r.session, r.account, r.logger)
	if err != nil {
		return counts, fmt.Errorf("failed to build identity index: %w", err)
	}

	r.applyRemovals(ctx, idx, batch.Removed, &counts)
	reclassified := r.applyModifications(ctx, idx, batch.Modified, &counts)
	r.applyAdditions(ctx, idx, batch.Added, reclassified, &counts)

	r.logger.Info("Reconciliation complete",
		"deleted", counts.Deleted,
		"updated", counts.Updated,
		"created", counts.Created,
		"failed", counts.Failed)
	if idx.Conflicts > 0 {
		r.logger.Warn("Ledger contains duplicate Plaid ids; earlier rows were preferred",
			"conflicts", idx.Conflicts)
	}

	return counts, nil
}

// applyRemovals deletes the ledger transactions for withdrawn Plaid
// items. An id with no matching ledger row is already absent, which is
// the desired end state, so it is logged and skipped without error.
func (r *Reconciler) applyRemovals(ctx context.Context, idx *Index, removed []model.RemovedTransaction, counts *model.SyncCounts) {
	for _, item := range removed {
		if item.ID == "" {
			r.logger.Warn("Removed item from Plaid has no transaction id, skipping")
			continue
		}

		txn, ok := idx.Remove(item.ID)
		if !ok {
			r.logger.Warn("Plaid removed a transaction with no matching ledger entry",
				"plaid_id", item.ID)
			continue
		}

		if err := r.session.DeleteTransaction(ctx, txn.ID); err != nil {
			r.logger.Error("Failed to delete ledger transaction",
				"plaid_id", item.ID, "ledger_id", txn.ID, "error", err)
			counts.Failed++
			continue
		}

		r.logger.Info("Deleted ledger transaction",
			"plaid_id", item.ID, "ledger_id", txn.ID)
		counts.Deleted++
	}
}

// applyModifications rewrites matched ledger transactions whose fields
// drifted from Plaid's latest version. Items with no match are returned
// for the addition phase: Plaid's "modified" label does not guarantee the
// transaction was ever written to the ledger.
func (r *Reconciler) applyModifications(ctx context.Context, idx *Index, modified []model.ExternalTransaction, counts *model.SyncCounts) []model.ExternalTransaction {
	var reclassified []model.ExternalTransaction

	for _, ext := range modified {
		if ext.ID == "" {
			r.logger.Warn("Modified item from Plaid has no transaction id, skipping")
			continue
		}

		existing, ok := idx.Lookup(ext.ID)
		if !ok {
			r.logger.Warn("Plaid modified a transaction with no matching ledger entry, will add it",
				"plaid_id", ext.ID)
			reclassified = append(reclassified, ext)
			continue
		}

		updated, changed := r.merge(existing, ext)
		if !changed {
			r.logger.Debug("Ledger transaction already matches Plaid data",
				"plaid_id", ext.ID, "ledger_id", existing.ID)
			continue
		}

		if err := r.session.UpdateTransaction(ctx, &updated); err != nil {
			r.logger.Error("Failed to update ledger transaction",
				"plaid_id", ext.ID, "ledger_id", existing.ID, "error", err)
			counts.Failed++
			continue
		}

		idx.Insert(ext.ID, updated)
		r.logger.Info("Updated ledger transaction",
			"plaid_id", ext.ID, "ledger_id", updated.ID)
		counts.Updated++
	}

	return reclassified
}

// applyAdditions creates ledger transactions for new Plaid items and for
// modifications that found nothing to modify. Ids already present in the
// index are duplicate deliveries and are never double-created.
func (r *Reconciler) applyAdditions(ctx context.Context, idx *Index, added, reclassified []model.ExternalTransaction, counts *model.SyncCounts) {
	items := make([]model.ExternalTransaction, 0, len(added)+len(reclassified))
	items = append(items, added...)
	items = append(items, reclassified...)

	for _, ext := range items {
		if ext.ID == "" {
			r.logger.Warn("Added item from Plaid has no transaction id, skipping")
			continue
		}

		if existing, ok := idx.Lookup(ext.ID); ok {
			r.logger.Warn("Plaid added a transaction that already exists in the ledger, skipping",
				"plaid_id", ext.ID, "ledger_id", existing.ID)
			continue
		}

		txn := r.build(ext)
		if err := r.session.CreateTransaction(ctx, &txn); err != nil {
			r.logger.Error("Failed to create ledger transaction",
				"plaid_id", ext.ID, "error", err)
			counts.Failed++
			continue
		}

		idx.Insert(ext.ID, txn)
		r.logger.Info("Created ledger transaction",
			"plaid_id", ext.ID,
			"ledger_id", txn.ID,
			"date", txn.Date.Format(dateLayout),
			"payee", txn.Payee,
			"amount", txn.Amount.String())
		counts.Created++
	}
}

// merge computes the ledger transaction as it should look after the
// modification and reports whether any field actually differs. An
// unparsable date leaves the stored date alone; every other field is
// recomputed from Plaid's latest version.
func (r *Reconciler) merge(existing model.LedgerTransaction, ext model.ExternalTransaction) (model.LedgerTransaction, bool) {
	updated := existing
	changed := false

	if date, err := time.Parse(dateLayout, ext.Date); err != nil {
		r.logger.Warn("Modified item has an invalid date, keeping the stored one",
			"plaid_id", ext.ID, "date", ext.Date)
	} else if !sameDay(existing.Date, date) {
		updated.Date = date
		changed = true
	}

	if want := ext.Amount.Neg(); !existing.Amount.Equal(want) {
		updated.Amount = want
		changed = true
	}

	if payee := payeeFor(ext); existing.Payee != payee {
		updated.Payee = payee
		changed = true
	}

	if note := notes.Format(ext); existing.Notes != note {
		updated.Notes = note
		changed = true
	}

	return updated, changed
}

// build assembles a new ledger transaction for an added item. A missing
// or invalid date falls back to today rather than dropping the item.
func (r *Reconciler) build(ext model.ExternalTransaction) model.LedgerTransaction {
	date, err := time.Parse(dateLayout, ext.Date)
	if err != nil {
		r.logger.Warn("Added item has a missing or invalid date, using today",
			"plaid_id", ext.ID, "date", ext.Date)
		date = r.now()
	}

	return model.LedgerTransaction{
		AccountID: r.account.ID,
		Date:      date,
		Payee:     payeeFor(ext),
		Notes:     notes.Format(ext),
		Amount:    ext.Amount.Neg(),
	}
}

// payeeFor prefers the cleaned merchant name over the raw bank
// description, with a fixed placeholder when both are absent.
func payeeFor(ext model.ExternalTransaction) string {
	if ext.MerchantName != "" {
		return ext.MerchantName
	}
	if ext.Name != "" {
		return ext.Name
	}
	return UnknownPayee
}

func sameDay(a, b time.Time) bool {
	return a.Format(dateLayout) == b.Format(dateLayout)
}
