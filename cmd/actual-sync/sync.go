package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshsymonds/actual-sync/internal/common"
	"github.com/joshsymonds/actual-sync/internal/config"
	"github.com/joshsymonds/actual-sync/internal/engine"
	"github.com/joshsymonds/actual-sync/internal/ledger"
	"github.com/joshsymonds/actual-sync/internal/plaid"
	"github.com/joshsymonds/actual-sync/internal/state"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the budget ledger",
		Long: `Fetch the latest transaction changes from Plaid and apply them to the
local budget ledger. With --watch, keep running a cycle on a fixed
interval until interrupted.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("watch", false, "keep syncing on an interval instead of exiting after one cycle")
	cmd.Flags().Duration("interval", 24*time.Hour, "time between cycles when watching")
	_ = viper.BindPFlag("sync.interval", cmd.Flags().Lookup("interval"))

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return runCycle(ctx, eng)
	}

	interval := viper.GetDuration("sync.interval")
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	slog.Info("Watching for transaction changes", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := runCycle(ctx, eng); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			slog.Info("Watch loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle executes one cycle and decides which failures should stop
// the process. Re-authentication is always fatal: no amount of retrying
// fixes an expired bank login.
func runCycle(ctx context.Context, eng *engine.Engine) error {
	result, err := eng.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrCycleInFlight):
		slog.Warn("Previous sync cycle still running, skipping this one")
		return nil
	case errors.Is(err, common.ErrReauthRequired):
		return common.NewUserError(
			"Your bank connection has expired. Re-link the account in Plaid and update the access token.", err)
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return fmt.Errorf("sync cycle failed: %w", err)
	}

	if result != nil && !result.CursorSaved {
		slog.Warn("Sync cursor was not persisted; the next cycle will re-fetch this batch")
	}
	return nil
}

// buildEngine wires the Plaid client, the sqlite ledger, and the cursor
// store from configuration. The returned cleanup closes the ledger.
func buildEngine() (*engine.Engine, func(), error) {
	fetcher, err := plaidClient()
	if err != nil {
		return nil, nil, err
	}

	accountName := viper.GetString("ledger.account")
	if accountName == "" {
		return nil, nil, fmt.Errorf("%w: ledger.account is required", common.ErrMissingConfig)
	}

	store, err := ledger.NewStore(config.ExpandPath(viper.GetString("ledger.path")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open budget ledger: %w", err)
	}

	cursors := state.NewFileCursorStore(config.ExpandPath(viper.GetString("sync.state_file")))

	cfg := engine.DefaultConfig()
	cfg.AccountName = accountName
	if d := viper.GetDuration("sync.retry_delay"); d > 0 {
		cfg.RetryDelay = d
	}

	eng := engine.New(fetcher, store, cursors, cfg)
	return eng, func() { _ = store.Close() }, nil
}

func plaidClient() (*plaid.Client, error) {
	cfg := &plaid.Config{
		ClientID:    viper.GetString("plaid.client_id"),
		Secret:      viper.GetString("plaid.secret"),
		Environment: viper.GetString("plaid.environment"),
		AccessToken: viper.GetString("plaid.access_token"),
	}

	client, err := plaid.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Plaid client: %w", err)
	}
	return client, nil
}
