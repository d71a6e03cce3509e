package ledger

import (
	"context"
	"fmt"

	"github.com/joshsymonds/actual-sync/internal/model"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	return nil
}

func validateString(value, name string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

func validateTransaction(txn *model.LedgerTransaction) error {
	if txn == nil {
		return fmt.Errorf("transaction cannot be nil")
	}
	if txn.AccountID == "" {
		return fmt.Errorf("transaction account ID cannot be empty")
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}
	return nil
}
