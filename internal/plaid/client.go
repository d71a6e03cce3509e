// Package plaid provides a client for interacting with the Plaid API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/joshsymonds/actual-sync/internal/common"
	"github.com/joshsymonds/actual-sync/internal/model"
	"github.com/joshsymonds/actual-sync/internal/service"
)

// Plaid's maximum page size for /transactions/sync.
const syncPageSize = int32(500)

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
}

// Validate ensures all required fields are present. It runs before any
// network call so that configuration problems fail fast.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("%w: plaid access token is required", common.ErrMissingConfig)
	}
	if c.Environment == "" {
		return fmt.Errorf("%w: plaid environment is required", common.ErrMissingConfig)
	}

	validEnvs := map[string]bool{
		"sandbox":    true,
		"production": true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("%w: plaid environment must be sandbox or production", common.ErrInvalidConfig)
	}

	return nil
}

// Client implements the DeltaFetcher interface against the live Plaid API.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	retryOpts   *service.RetryOptions
	accessToken string
	environment string
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		environment: cfg.Environment,
		logger:      slog.Default().With("component", "plaid"),
		retryOpts: &service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// SyncTransactions drives the /transactions/sync protocol: it fetches
// pages until Plaid signals no more, concatenating added, modified, and
// removed items in receipt order. No deduplication happens here; the
// reconciler resolves duplicate identifiers.
//
// A TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION error surfaces as
// common.ErrPaginationConflict so the caller can replay the entire cursor
// sequence. Rate-limited pages are retried in place.
func (c *Client) SyncTransactions(ctx context.Context, cursor string) (*model.DeltaBatch, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	c.logger.Info("Syncing transactions from Plaid", "has_cursor", cursor != "")

	batch := &model.DeltaBatch{NextCursor: cursor}
	hasMore := true

	for hasMore {
		var page plaid.TransactionsSyncResponse

		retryErr := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsSyncRequest(c.accessToken)
			if batch.NextCursor != "" {
				request.SetCursor(batch.NextCursor)
			}
			request.SetCount(syncPageSize)

			resp, _, err := c.client.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
			if err != nil {
				return c.classifySyncError(err)
			}

			page = resp
			return nil
		}, *c.retryOpts)

		if retryErr != nil {
			return nil, retryErr
		}

		for _, pt := range page.GetAdded() {
			batch.Added = append(batch.Added, mapSyncedTransaction(pt))
		}
		for _, pt := range page.GetModified() {
			batch.Modified = append(batch.Modified, mapSyncedTransaction(pt))
		}
		for _, rt := range page.GetRemoved() {
			batch.Removed = append(batch.Removed, model.RemovedTransaction{ID: rt.GetTransactionId()})
		}

		hasMore = page.GetHasMore()
		batch.NextCursor = page.GetNextCursor()

		c.logger.Debug("Fetched sync page",
			"added", len(page.GetAdded()),
			"modified", len(page.GetModified()),
			"removed", len(page.GetRemoved()),
			"has_more", hasMore)
	}

	c.logger.Info("Plaid sync fetch complete",
		"added", len(batch.Added),
		"modified", len(batch.Modified),
		"removed", len(batch.Removed))

	return batch, nil
}

// GetAccounts fetches account IDs from Plaid.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	c.logger.Info("Fetching accounts from Plaid")

	var accounts []plaid.AccountBase
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(c.accessToken)
		resp, _, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return c.classifySyncError(err)
		}

		accounts = resp.GetAccounts()
		return nil
	}, *c.retryOpts)

	if retryErr != nil {
		return nil, retryErr
	}

	c.logger.Info("Fetched accounts", "count", len(accounts))

	accountIDs := make([]string, 0, len(accounts))
	for _, account := range accounts {
		accountIDs = append(accountIDs, account.GetAccountId())
	}

	return accountIDs, nil
}

// classifySyncError maps a Plaid API error onto the application's error
// taxonomy. Only rate limits are retryable in place; pagination conflicts
// and re-authentication must be handled by the caller.
func (c *Client) classifySyncError(err error) error {
	plaidErr := extractPlaidError(err)
	if plaidErr == nil {
		return &common.RetryableError{
			Err:       fmt.Errorf("plaid request failed: %w", err),
			Retryable: false,
		}
	}

	switch plaidErr.ErrorCode {
	case "RATE_LIMIT_EXCEEDED":
		c.logger.Warn("Rate limit hit, will retry", "error", plaidErr.ErrorMessage)
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrRateLimit, plaidErr.ErrorMessage),
			Retryable: true,
		}
	case "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION":
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrPaginationConflict, plaidErr.ErrorMessage),
			Retryable: false,
		}
	case "ITEM_LOGIN_REQUIRED":
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrReauthRequired, plaidErr.ErrorMessage),
			Retryable: false,
		}
	default:
		return &common.RetryableError{
			Err:       fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage),
			Retryable: false,
		}
	}
}

// mapSyncedTransaction converts a Plaid transaction to our model. The
// date is carried as delivered; parsing and fallback rules belong to the
// reconciler, which knows what to do with a bad date per phase.
func mapSyncedTransaction(pt plaid.Transaction) model.ExternalTransaction {
	return model.ExternalTransaction{
		ID:                   pt.GetTransactionId(),
		Date:                 pt.GetDate(),
		Name:                 pt.GetName(),
		MerchantName:         pt.GetMerchantName(),
		PendingTransactionID: pt.GetPendingTransactionId(),
		Categories:           pt.GetCategory(),
		Amount:               decimal.NewFromFloat(pt.GetAmount()),
	}
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// Ensure Client implements DeltaFetcher interface.
var _ DeltaFetcher = (*Client)(nil)
