package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagehand/internal/browser"
	"github.com/xkilldash9x/pagehand/internal/config"
	"github.com/xkilldash9x/pagehand/internal/observability"
	"github.com/xkilldash9x/pagehand/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 15 * time.Second

// components holds the services a browser command runs against.
type components struct {
	Logger  *zap.Logger
	Manager *browser.Manager
	DBPool  *pgxpool.Pool
}

// Shutdown closes the browser, flushing history, then the database pool.
func (c *components) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if c.Manager != nil {
		if err := c.Manager.Shutdown(shutdownCtx); err != nil {
			c.Logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
}

// initializeComponents connects the history database when database.url is
// set and starts the browser manager.
func initializeComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{Logger: observability.GetLogger()}

	var opts []browser.Option
	if cfg.Database().URL != "" {
		history, pool, err := openHistory(ctx, cfg, c.Logger)
		if err != nil {
			return c, err
		}
		c.DBPool = pool
		opts = append(opts, browser.WithHistory(history))
	}

	m, err := browser.NewManager(ctx, c.Logger, cfg, opts...)
	if err != nil {
		return c, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	c.Manager = m
	return c, nil
}

func openHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	history, err := store.NewPostgres(ctx, pool, logger, store.DefaultBatchSize)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize history store: %w", err)
	}
	return history, pool, nil
}

// withPage runs fn on a fresh page navigated to url.
func withPage(ctx context.Context, cfg *config.Config, url string, opts browser.GotoOptions,
	fn func(context.Context, browser.Page) error) error {
	c, err := initializeComponents(ctx, cfg)
	defer c.Shutdown()
	if err != nil {
		return err
	}

	p, err := c.Manager.NewPage(ctx)
	if err != nil {
		return err
	}
	if err := p.Goto(ctx, url, opts); err != nil {
		return err
	}
	return fn(ctx, p)
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
