package plaid

import (
	"context"
	"errors"
	"testing"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/actual-sync/internal/common"
	"github.com/joshsymonds/actual-sync/internal/model"
)

func validConfig() *Config {
	return &Config{
		ClientID:    "client-id",
		Secret:      "secret",
		Environment: "sandbox",
		AccessToken: "access-token",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid sandbox",
			mutate: func(*Config) {},
		},
		{
			name:   "valid production",
			mutate: func(c *Config) { c.Environment = "production" },
		},
		{
			name:    "missing client ID",
			mutate:  func(c *Config) { c.ClientID = "" },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.Secret = "" },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "missing access token",
			mutate:  func(c *Config) { c.AccessToken = "" },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "missing environment",
			mutate:  func(c *Config) { c.Environment = "" },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "unknown environment",
			mutate:  func(c *Config) { c.Environment = "development" },
			wantErr: common.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	client, err := NewClient(validConfig())
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClientInvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestClassifySyncErrorGenericError(t *testing.T) {
	client, err := NewClient(validConfig())
	require.NoError(t, err)

	classified := client.classifySyncError(errors.New("connection refused"))

	var retryableErr *common.RetryableError
	require.ErrorAs(t, classified, &retryableErr)
	assert.False(t, retryableErr.Retryable, "unclassified failures are not retried blindly")
}

func TestMapSyncedTransaction(t *testing.T) {
	pt := plaid.Transaction{}
	pt.SetTransactionId("tx1")
	pt.SetDate("2024-01-05")
	pt.SetName("SQ *BLUE BOTTLE")
	pt.SetMerchantName("Blue Bottle Coffee")
	pt.SetPendingTransactionId("pending-1")
	pt.SetCategory([]string{"Food and Drink", "Coffee"})
	pt.SetAmount(12.50)

	got := mapSyncedTransaction(pt)

	assert.Equal(t, "tx1", got.ID)
	assert.Equal(t, "2024-01-05", got.Date)
	assert.Equal(t, "SQ *BLUE BOTTLE", got.Name)
	assert.Equal(t, "Blue Bottle Coffee", got.MerchantName)
	assert.Equal(t, "pending-1", got.PendingTransactionID)
	assert.Equal(t, []string{"Food and Drink", "Coffee"}, got.Categories)
	assert.Equal(t, "12.5", got.Amount.String())
}

func TestMapSyncedTransactionMinimalFields(t *testing.T) {
	pt := plaid.Transaction{}
	pt.SetTransactionId("tx2")
	pt.SetAmount(3)

	got := mapSyncedTransaction(pt)

	assert.Equal(t, "tx2", got.ID)
	assert.Empty(t, got.MerchantName)
	assert.Empty(t, got.Categories)
	assert.Empty(t, got.PendingTransactionID)
}

func TestMockClientDefaults(t *testing.T) {
	mock := NewMockClient()

	batch, err := mock.SyncTransactions(context.Background(), "cursor-1")
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	assert.Equal(t, "cursor-1", batch.NextCursor)
	assert.Equal(t, []string{"cursor-1"}, mock.SyncTransactionsCalls)
}

func TestMockClientCustomBehavior(t *testing.T) {
	mock := NewMockClient()
	mock.SyncTransactionsFn = func(_ context.Context, cursor string) (*model.DeltaBatch, error) {
		return nil, errors.New("boom")
	}

	_, err := mock.SyncTransactions(context.Background(), "c1")
	assert.Error(t, err)

	mock.Reset()
	assert.Empty(t, mock.SyncTransactionsCalls)
}
