package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pagehand/internal/observability"
)

// errNoDatabase is returned by history when no database is configured.
var errNoDatabase = errors.New("history needs a database; set database.url or PAGEHAND_DATABASE_URL")

func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent recorded page calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Database().URL == "" {
				return errNoDatabase
			}

			history, pool, err := openHistory(ctx, cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer pool.Close()

			entries, err := history.Recent(ctx, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return historyCmd
}
