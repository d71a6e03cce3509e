package plaid

import (
	"context"

	"github.com/joshsymonds/actual-sync/internal/model"
)

// MockClient is a mock implementation of DeltaFetcher for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	SyncTransactionsFn func(ctx context.Context, cursor string) (*model.DeltaBatch, error)

	// Call tracking
	SyncTransactionsCalls []string
}

// NewMockClient creates a new mock Plaid client.
func NewMockClient() *MockClient {
	return &MockClient{
		SyncTransactionsCalls: []string{},
	}
}

// SyncTransactions implements DeltaFetcher.SyncTransactions, recording
// the cursor of every call.
func (m *MockClient) SyncTransactions(ctx context.Context, cursor string) (*model.DeltaBatch, error) {
	m.SyncTransactionsCalls = append(m.SyncTransactionsCalls, cursor)

	if m.SyncTransactionsFn != nil {
		return m.SyncTransactionsFn(ctx, cursor)
	}

	// Default behavior: an empty batch that keeps the cursor
	return &model.DeltaBatch{NextCursor: cursor}, nil
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.SyncTransactionsCalls = []string{}
}

// Ensure MockClient implements DeltaFetcher interface.
var _ DeltaFetcher = (*MockClient)(nil)
