package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/actual-sync/internal/common"
	"github.com/joshsymonds/actual-sync/internal/ledger"
	"github.com/joshsymonds/actual-sync/internal/model"
	"github.com/joshsymonds/actual-sync/internal/plaid"
	"github.com/joshsymonds/actual-sync/internal/service"
)

// memoryCursorStore is an in-memory service.CursorStore for tests.
type memoryCursorStore struct {
	cursor    string
	saveErr   error
	loadErr   error
	saveCalls int
}

func (s *memoryCursorStore) Load() (string, error) {
	if s.loadErr != nil {
		return "", s.loadErr
	}
	return s.cursor, nil
}

func (s *memoryCursorStore) Save(cursor string) error {
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.cursor = cursor
	return nil
}

func newTestEngine(fetcher *plaid.MockClient, store *ledger.MockLedger, cursors *memoryCursorStore) *Engine {
	eng := New(fetcher, store, cursors, Config{
		AccountName: "Checking",
		RetryDelay:  10 * time.Second,
		MaxRetries:  1,
	})
	eng.sleep = func(context.Context, time.Duration) error { return nil }
	return eng
}

func addedBatch(cursor string) *model.DeltaBatch {
	return &model.DeltaBatch{
		NextCursor: cursor,
		Added: []model.ExternalTransaction{{
			ID:     "tx1",
			Date:   "2024-01-05",
			Name:   "COFFEE",
			Amount: decimal.NewFromFloat(12.50),
		}},
	}
}

func TestRunCycleAppliesBatchAndAdvancesCursor(t *testing.T) {
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return addedBatch("cursor-1"), nil
	}
	store := ledger.NewMockLedger()
	cursors := &memoryCursorStore{}

	result, err := newTestEngine(fetcher, store, cursors).RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Fetched)
	assert.True(t, result.Reconciled)
	assert.True(t, result.CursorSaved)
	assert.False(t, result.PaginationRetried)
	assert.Equal(t, model.SyncCounts{Created: 1}, result.Counts)

	assert.Equal(t, "cursor-1", cursors.cursor, "cursor advances after commit")
	assert.Equal(t, []string{""}, fetcher.SyncTransactionsCalls, "first run fetches full history")
	require.Len(t, store.Transactions(), 1, "created transaction was committed")
}

func TestRunCycleResumesFromStoredCursor(t *testing.T) {
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return addedBatch("cursor-2"), nil
	}
	cursors := &memoryCursorStore{cursor: "cursor-1"}

	_, err := newTestEngine(fetcher, ledger.NewMockLedger(), cursors).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"cursor-1"}, fetcher.SyncTransactionsCalls)
	assert.Equal(t, "cursor-2", cursors.cursor)
}

func TestRunCycleEmptyBatchStillAdvancesCursor(t *testing.T) {
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return &model.DeltaBatch{NextCursor: "cursor-2"}, nil
	}
	store := ledger.NewMockLedger()
	cursors := &memoryCursorStore{cursor: "cursor-1"}

	result, err := newTestEngine(fetcher, store, cursors).RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Fetched)
	assert.False(t, result.Reconciled, "no ledger session for a confirmed no-op")
	assert.True(t, result.CursorSaved)
	assert.Equal(t, "cursor-2", cursors.cursor)
	assert.Equal(t, 0, store.OpenSessionCalls)
}

func TestRunCycleEmptyFirstFetchStillReconciles(t *testing.T) {
	// An empty batch with no prior cursor could be a brand-new item, but
	// it could also mask a feed problem; the ledger pass is cheap and
	// keeps the behavior uniform.
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return &model.DeltaBatch{NextCursor: "cursor-1"}, nil
	}
	store := ledger.NewMockLedger()
	cursors := &memoryCursorStore{}

	result, err := newTestEngine(fetcher, store, cursors).RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Reconciled)
	assert.Equal(t, 1, store.OpenSessionCalls)
	assert.Equal(t, "cursor-1", cursors.cursor)
}

func TestRunCyclePaginationConflictRetriesOnce(t *testing.T) {
	fetcher := plaid.NewMockClient()
	calls := 0
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("%w: feed changed", common.ErrPaginationConflict)
		}
		return addedBatch("cursor-2"), nil
	}
	cursors := &memoryCursorStore{cursor: "cursor-1"}

	var slept []time.Duration
	eng := New(fetcher, ledger.NewMockLedger(), cursors, Config{
		AccountName: "Checking",
		RetryDelay:  10 * time.Second,
		MaxRetries:  1,
	})
	eng.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	result, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.PaginationRetried)
	assert.Equal(t, []time.Duration{10 * time.Second}, slept)
	assert.Equal(t, []string{"cursor-1", "cursor-1"}, fetcher.SyncTransactionsCalls,
		"replay restarts from the original cursor")
	assert.Equal(t, "cursor-2", cursors.cursor, "only the replayed batch's cursor is saved")
}

func TestRunCyclePaginationConflictExhaustsRetries(t *testing.T) {
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return nil, fmt.Errorf("%w: feed keeps changing", common.ErrPaginationConflict)
	}
	cursors := &memoryCursorStore{cursor: "cursor-1"}

	_, err := newTestEngine(fetcher, ledger.NewMockLedger(), cursors).RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPaginationConflict)

	assert.Len(t, fetcher.SyncTransactionsCalls, 2, "one initial attempt plus one replay")
	assert.Equal(t, "cursor-1", cursors.cursor, "cursor untouched on failure")
	assert.Equal(t, 0, cursors.saveCalls)
}

func TestRunCycleFetchFailureLeavesCursorAlone(t *testing.T) {
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return nil, fmt.Errorf("%w: please re-link", common.ErrReauthRequired)
	}
	cursors := &memoryCursorStore{cursor: "cursor-1"}

	result, err := newTestEngine(fetcher, ledger.NewMockLedger(), cursors).RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrReauthRequired)

	assert.False(t, result.Fetched)
	assert.Len(t, fetcher.SyncTransactionsCalls, 1, "re-authentication is never retried here")
	assert.Equal(t, "cursor-1", cursors.cursor)
}

func TestRunCycleCommitFailureLeavesCursorAlone(t *testing.T) {
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return addedBatch("cursor-2"), nil
	}

	store := ledger.NewMockLedger()
	var session *ledger.MockSession
	store.OpenSessionFn = func(ctx context.Context) (service.Session, error) {
		store.OpenSessionFn = nil
		raw, err := store.OpenSession(ctx)
		if err != nil {
			return nil, err
		}
		session = raw.(*ledger.MockSession)
		session.CommitFn = func() error { return errors.New("disk full") }
		return session, nil
	}

	cursors := &memoryCursorStore{cursor: "cursor-1"}

	result, err := newTestEngine(fetcher, store, cursors).RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit ledger changes")

	assert.True(t, result.Fetched)
	assert.False(t, result.Reconciled)
	assert.False(t, result.CursorSaved)
	assert.Equal(t, "cursor-1", cursors.cursor, "cursor untouched when commit fails")
	require.NotNil(t, session)
	assert.Equal(t, 1, session.RollbackCalls, "failed session is rolled back")
	assert.Empty(t, store.Transactions())
}

func TestRunCycleCursorSaveFailureDoesNotFailCycle(t *testing.T) {
	fetcher := plaid.NewMockClient()
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return addedBatch("cursor-2"), nil
	}
	store := ledger.NewMockLedger()
	cursors := &memoryCursorStore{cursor: "cursor-1", saveErr: errors.New("read-only filesystem")}

	result, err := newTestEngine(fetcher, store, cursors).RunCycle(context.Background())
	require.NoError(t, err, "a committed batch is never failed by a cursor write")

	assert.True(t, result.Reconciled)
	assert.False(t, result.CursorSaved)
	assert.Len(t, store.Transactions(), 1, "ledger changes stay committed")
}

func TestRunCycleRejectsConcurrentCycles(t *testing.T) {
	fetcher := plaid.NewMockClient()
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	fetcher.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		once.Do(func() {
			close(started)
			<-release
		})
		return &model.DeltaBatch{NextCursor: "cursor-1"}, nil
	}

	eng := newTestEngine(fetcher, ledger.NewMockLedger(), &memoryCursorStore{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := eng.RunCycle(context.Background())
		assert.NoError(t, err)
	}()

	<-started
	_, err := eng.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInFlight)

	close(release)
	wg.Wait()

	_, err = eng.RunCycle(context.Background())
	assert.NoError(t, err, "guard releases once the cycle finishes")
}

func TestRunCycleLoadFailureAborts(t *testing.T) {
	fetcher := plaid.NewMockClient()
	cursors := &memoryCursorStore{loadErr: errors.New("permission denied")}

	_, err := newTestEngine(fetcher, ledger.NewMockLedger(), cursors).RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load sync cursor")
	assert.Empty(t, fetcher.SyncTransactionsCalls)
}
