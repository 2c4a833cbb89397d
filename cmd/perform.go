package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/browser"
	"github.com/xkilldash9x/pagehand/internal/browser/locator"
	"github.com/xkilldash9x/pagehand/internal/observability"
)

type performOptions struct {
	url         string
	locators    []string
	method      string
	timeout     time.Duration
	description string
	value       string
	attribute   string
}

// locatorSource is the part of browser.Page a request needs.
type locatorSource interface {
	Locator(selector string) *locator.Locator
}

// request builds the perform request. --value and --attribute both travel
// as the input value; only one may be set.
func (o *performOptions) request(cmd *cobra.Command, p locatorSource) schemas.PerformRequest {
	req := schemas.PerformRequest{
		Method:      schemas.Verb(o.method),
		Timeout:     o.timeout,
		Description: o.description,
	}
	for _, l := range o.locators {
		req.Locators = append(req.Locators, p.Locator(l))
	}
	switch {
	case cmd.Flags().Changed("value"):
		v := o.value
		req.InputValue = &v
	case cmd.Flags().Changed("attribute"):
		a := o.attribute
		req.InputValue = &a
	}
	return req
}

func newPerformCmd() *cobra.Command {
	opts := &performOptions{}

	performCmd := &cobra.Command{
		Use:   "perform",
		Short: "Run one action or extraction, trying each locator before falling back to the model",
		Example: `  pagehand perform --url https://example.com --locator "text=More information" --method click
  pagehand perform --url https://example.com --locator h1 --locator "xpath=//h1" --method innerText`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			return withPage(ctx, cfg, opts.url, browser.GotoOptions{}, func(ctx context.Context, p browser.Page) error {
				req := opts.request(cmd, p)
				logger.Info("Performing.",
					zap.String("url", opts.url),
					zap.String("method", opts.method),
					zap.Strings("locators", opts.locators))

				res, err := p.Perform(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	f := performCmd.Flags()
	f.StringVar(&opts.url, "url", "", "page to open")
	f.StringArrayVarP(&opts.locators, "locator", "l", nil, "candidate selector, tried in order (repeatable)")
	f.StringVarP(&opts.method, "method", "m", string(schemas.VerbClick), "action or extraction verb")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-candidate timeout (default perform.default_timeout)")
	f.StringVarP(&opts.description, "description", "d", "", "natural language description used by the fallback")
	f.StringVar(&opts.value, "value", "", "input value for fill, press and selectOption")
	f.StringVar(&opts.attribute, "attribute", "", "attribute name for getAttribute")
	_ = performCmd.MarkFlagRequired("url")
	performCmd.MarkFlagsMutuallyExclusive("value", "attribute")
	return performCmd
}
