package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagehand/internal/browser"
	"github.com/xkilldash9x/pagehand/internal/browser/settle"
)

// settleResult is one line of settle output.
type settleResult struct {
	URL         string        `json:"url"`
	Reason      settle.Reason `json:"reason"`
	Outstanding int           `json:"outstanding"`
	Elapsed     string        `json:"elapsed"`
}

func newSettleCmd() *cobra.Command {
	var (
		urls    []string
		timeout time.Duration
	)

	settleCmd := &cobra.Command{
		Use:   "settle",
		Short: "Load pages and report how their network activity settled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			c, err := initializeComponents(ctx, cfg)
			defer c.Shutdown()
			if err != nil {
				return err
			}

			// Pages beyond browser.concurrency wait in NewPage.
			results := make([]settleResult, len(urls))
			g, gctx := errgroup.WithContext(ctx)
			for i, url := range urls {
				g.Go(func() error {
					report, err := settleURL(gctx, c.Manager, url, timeout)
					if err != nil {
						return fmt.Errorf("%s: %w", url, err)
					}
					c.Logger.Info("Page settled.",
						zap.String("url", url),
						zap.String("reason", string(report.Reason)),
						zap.Duration("elapsed", report.Elapsed))
					results[i] = settleResult{
						URL:         url,
						Reason:      report.Reason,
						Outstanding: report.Outstanding,
						Elapsed:     report.Elapsed.Round(time.Millisecond).String(),
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}

	settleCmd.Flags().StringArrayVar(&urls, "url", nil, "page to load (repeatable)")
	settleCmd.Flags().DurationVar(&timeout, "timeout", 0, "settle timeout (default settle.timeout)")
	_ = settleCmd.MarkFlagRequired("url")
	return settleCmd
}

func settleURL(ctx context.Context, m *browser.Manager, url string, timeout time.Duration) (settle.Report, error) {
	p, err := m.NewPage(ctx)
	if err != nil {
		return settle.Report{}, err
	}
	defer func() { _ = p.Close(context.Background()) }()

	if err := p.Goto(ctx, url, browser.GotoOptions{SkipSettle: true}); err != nil {
		return settle.Report{}, err
	}
	return p.WaitForSettledDOM(ctx, timeout)
}
