package plaid

import (
	"context"

	"github.com/joshsymonds/actual-sync/internal/model"
)

// DeltaFetcher defines the contract for driving the cursor-based delta
// feed. This interface allows for easy mocking in tests and swapping
// data sources.
type DeltaFetcher interface {
	// SyncTransactions fetches every pending page of changes after the
	// given cursor and returns the accumulated batch. An empty cursor
	// requests full history from the beginning.
	SyncTransactions(ctx context.Context, cursor string) (*model.DeltaBatch, error)
}
