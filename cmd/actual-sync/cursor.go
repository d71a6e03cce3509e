package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshsymonds/actual-sync/internal/config"
	"github.com/joshsymonds/actual-sync/internal/state"
)

func cursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset the persisted sync cursor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted sync cursor",
		RunE: func(_ *cobra.Command, _ []string) error {
			cursor, err := cursorStore().Load()
			if err != nil {
				return err
			}
			if cursor == "" {
				fmt.Println("No cursor stored; the next sync will fetch full history.")
				return nil
			}
			fmt.Println(cursor)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted cursor, forcing a full resync",
		Long: `Delete the persisted cursor. The next sync will re-fetch the account's
full transaction history; the identity markers in ledger notes prevent
any transaction from being created twice.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := cursorStore().Reset(); err != nil {
				return err
			}
			fmt.Println("Cursor reset. The next sync will fetch full history.")
			return nil
		},
	})

	return cmd
}

func cursorStore() *state.FileCursorStore {
	return state.NewFileCursorStore(config.ExpandPath(viper.GetString("sync.state_file")))
}
