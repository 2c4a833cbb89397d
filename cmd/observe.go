package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pagehand/internal/browser"
)

func newObserveCmd() *cobra.Command {
	var url, instruction string

	observeCmd := &cobra.Command{
		Use:   "observe",
		Short: "List the interactive elements of a page, optionally filtered by an instruction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			return withPage(ctx, cfg, url, browser.GotoOptions{}, func(ctx context.Context, p browser.Page) error {
				elements, err := p.Observe(ctx, instruction)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), elements)
			})
		},
	}

	observeCmd.Flags().StringVar(&url, "url", "", "page to open")
	observeCmd.Flags().StringVarP(&instruction, "instruction", "i", "", "keep only the elements relevant to this instruction (needs a model)")
	_ = observeCmd.MarkFlagRequired("url")
	return observeCmd
}
