package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshsymonds/actual-sync/internal/common"
	"github.com/joshsymonds/actual-sync/internal/model"
	"github.com/joshsymonds/actual-sync/internal/service"
)

// MockLedger is an in-memory implementation of service.Ledger for
// testing. Every session shares the same backing state; mutations become
// visible to later sessions only after Commit, mirroring the sqlite
// store's buffering.
type MockLedger struct {
	// Functions that can be set by tests to control behavior
	OpenSessionFn func(ctx context.Context) (service.Session, error)

	committed mockState

	// Call tracking
	OpenSessionCalls int
}

type mockState struct {
	accounts     map[string]model.Account // keyed by name
	transactions []model.LedgerTransaction
}

func (s mockState) clone() mockState {
	accounts := make(map[string]model.Account, len(s.accounts))
	for name, account := range s.accounts {
		accounts[name] = account
	}
	transactions := make([]model.LedgerTransaction, len(s.transactions))
	copy(transactions, s.transactions)
	return mockState{accounts: accounts, transactions: transactions}
}

// NewMockLedger creates an empty in-memory ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		committed: mockState{accounts: map[string]model.Account{}},
	}
}

// OpenSession implements service.Ledger.
func (m *MockLedger) OpenSession(ctx context.Context) (service.Session, error) {
	m.OpenSessionCalls++

	if m.OpenSessionFn != nil {
		return m.OpenSessionFn(ctx)
	}

	return &MockSession{ledger: m, state: m.committed.clone()}, nil
}

// Transactions returns the committed transactions, oldest created first.
func (m *MockLedger) Transactions() []model.LedgerTransaction {
	out := make([]model.LedgerTransaction, len(m.committed.transactions))
	copy(out, m.committed.transactions)
	return out
}

// MockSession is the unit of work handed out by MockLedger. Tests can
// override individual operations through the Fn fields to inject
// failures.
type MockSession struct {
	ledger *MockLedger
	state  mockState

	EnsureAccountFn         func(ctx context.Context, name string) (*model.Account, error)
	TransactionsByAccountFn func(ctx context.Context, accountID string) ([]model.LedgerTransaction, error)
	CreateTransactionFn     func(ctx context.Context, txn *model.LedgerTransaction) error
	UpdateTransactionFn     func(ctx context.Context, txn *model.LedgerTransaction) error
	DeleteTransactionFn     func(ctx context.Context, id string) error
	CommitFn                func() error

	// Call tracking
	CreateCalls   int
	UpdateCalls   int
	DeleteCalls   int
	CommitCalls   int
	RollbackCalls int
}

// EnsureAccount implements service.Session.
func (s *MockSession) EnsureAccount(ctx context.Context, name string) (*model.Account, error) {
	if s.EnsureAccountFn != nil {
		return s.EnsureAccountFn(ctx, name)
	}

	if account, ok := s.state.accounts[name]; ok {
		return &account, nil
	}
	account := model.Account{ID: uuid.NewString(), Name: name}
	s.state.accounts[name] = account
	return &account, nil
}

// TransactionsByAccount implements service.Session.
func (s *MockSession) TransactionsByAccount(ctx context.Context, accountID string) ([]model.LedgerTransaction, error) {
	if s.TransactionsByAccountFn != nil {
		return s.TransactionsByAccountFn(ctx, accountID)
	}

	var out []model.LedgerTransaction
	for _, txn := range s.state.transactions {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return out, nil
}

// CreateTransaction implements service.Session.
func (s *MockSession) CreateTransaction(ctx context.Context, txn *model.LedgerTransaction) error {
	s.CreateCalls++

	if s.CreateTransactionFn != nil {
		return s.CreateTransactionFn(ctx, txn)
	}

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	s.state.transactions = append(s.state.transactions, *txn)
	return nil
}

// UpdateTransaction implements service.Session.
func (s *MockSession) UpdateTransaction(ctx context.Context, txn *model.LedgerTransaction) error {
	s.UpdateCalls++

	if s.UpdateTransactionFn != nil {
		return s.UpdateTransactionFn(ctx, txn)
	}

	for i, existing := range s.state.transactions {
		if existing.ID == txn.ID {
			s.state.transactions[i] = *txn
			return nil
		}
	}
	return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrNotFound)
}

// DeleteTransaction implements service.Session.
func (s *MockSession) DeleteTransaction(ctx context.Context, id string) error {
	s.DeleteCalls++

	if s.DeleteTransactionFn != nil {
		return s.DeleteTransactionFn(ctx, id)
	}

	for i, existing := range s.state.transactions {
		if existing.ID == id {
			s.state.transactions = append(s.state.transactions[:i], s.state.transactions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
}

// Commit implements service.Session, publishing the session's state back
// to the shared ledger.
func (s *MockSession) Commit() error {
	s.CommitCalls++

	if s.CommitFn != nil {
		return s.CommitFn()
	}

	s.ledger.committed = s.state.clone()
	return nil
}

// Rollback implements service.Session; buffered changes are discarded.
func (s *MockSession) Rollback() error {
	s.RollbackCalls++
	return nil
}

// Ensure the mock types satisfy the service contracts.
var (
	_ service.Ledger  = (*MockLedger)(nil)
	_ service.Session = (*MockSession)(nil)
)
