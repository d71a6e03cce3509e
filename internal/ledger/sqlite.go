// Package ledger implements the budget ledger the reconciler writes to,
// backed by a local sqlite budget file. A session wraps one database
// transaction, so every mutation stays buffered until Commit.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joshsymonds/actual-sync/internal/common"
	"github.com/joshsymonds/actual-sync/internal/model"
	"github.com/joshsymonds/actual-sync/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES accounts(id),
	date         TEXT NOT NULL,
	payee        TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	amount_cents INTEGER NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_date
	ON transactions(account_id, date);
`

// Store is a sqlite-backed ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// NewStore opens (or creates) the budget file at the given path and
// ensures the schema exists.
func NewStore(path string) (*Store, error) {
	if err := validateString(path, "path"); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: slog.Default().With("component", "ledger"),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenSession begins a new unit of work. The returned session must be
// committed or rolled back; until Commit nothing is durable.
func (s *Store) OpenSession(ctx context.Context) (service.Session, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger session: %w", err)
	}

	return &sqliteSession{tx: tx, logger: s.logger}, nil
}

type sqliteSession struct {
	tx     *sql.Tx
	logger *slog.Logger
}

// EnsureAccount returns the named account, creating it lazily when the
// ledger has never seen it.
func (s *sqliteSession) EnsureAccount(ctx context.Context, name string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	account := &model.Account{}
	err := s.tx.QueryRowContext(ctx,
		`SELECT id, name FROM accounts WHERE name = ?`, name,
	).Scan(&account.ID, &account.Name)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, sql.ErrNoRows):
		account.ID = uuid.NewString()
		account.Name = name
		if _, err := s.tx.ExecContext(ctx,
			`INSERT INTO accounts (id, name) VALUES (?, ?)`, account.ID, account.Name,
		); err != nil {
			return nil, fmt.Errorf("failed to create account %q: %w", name, err)
		}
		s.logger.Info("Created ledger account", "name", name, "id", account.ID)
		return account, nil
	default:
		return nil, fmt.Errorf("failed to look up account %q: %w", name, err)
	}
}

// TransactionsByAccount returns the account's full transaction history,
// oldest first.
func (s *sqliteSession) TransactionsByAccount(ctx context.Context, accountID string) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}

	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, account_id, date, payee, notes, amount_cents
		FROM transactions
		WHERE account_id = ?
		ORDER BY date, created_at, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.LedgerTransaction
	for rows.Next() {
		var txn model.LedgerTransaction
		var dateStr string
		var cents int64

		if err := rows.Scan(&txn.ID, &txn.AccountID, &dateStr, &txn.Payee, &txn.Notes, &cents); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("transaction %s has invalid date %q: %w", txn.ID, dateStr, err)
		}
		txn.Date = date
		txn.Amount = decimal.New(cents, -2)

		transactions = append(transactions, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return transactions, nil
}

// CreateTransaction inserts a new transaction, assigning a ledger id when
// the caller did not provide one.
func (s *sqliteSession) CreateTransaction(ctx context.Context, txn *model.LedgerTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}

	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, date, payee, notes, amount_cents)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		txn.ID,
		txn.AccountID,
		txn.Date.Format(dateLayout),
		txn.Payee,
		txn.Notes,
		centsOf(txn.Amount),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
	}

	return nil
}

// UpdateTransaction rewrites the mutable fields of an existing transaction.
func (s *sqliteSession) UpdateTransaction(ctx context.Context, txn *model.LedgerTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	if err := validateString(txn.ID, "id"); err != nil {
		return err
	}

	result, err := s.tx.ExecContext(ctx, `
		UPDATE transactions
		SET date = ?, payee = ?, notes = ?, amount_cents = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		txn.Date.Format(dateLayout),
		txn.Payee,
		txn.Notes,
		centsOf(txn.Amount),
		txn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of transaction %s: %w", txn.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrNotFound)
	}

	return nil
}

// DeleteTransaction removes a transaction by ledger id.
func (s *sqliteSession) DeleteTransaction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete of transaction %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}

	return nil
}

func (s *sqliteSession) Commit() error {
	return s.tx.Commit()
}

func (s *sqliteSession) Rollback() error {
	return s.tx.Rollback()
}

// centsOf converts a decimal amount to the integer cents the ledger
// stores. Amounts are rounded half away from zero at the cent.
func centsOf(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// Ensure the sqlite types satisfy the service contracts.
var (
	_ service.Ledger  = (*Store)(nil)
	_ service.Session = (*sqliteSession)(nil)
)
