// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagehand/internal/config"
	"github.com/xkilldash9x/pagehand/internal/observability"
)

type contextKey string

// configKey stores the loaded *config.Config on the command context.
const configKey contextKey = "config"

// persistentFlagKeys maps root flags onto the config keys they override.
var persistentFlagKeys = map[string]string{
	"headless":   "browser.headless",
	"remote-url": "browser.remote_url",
	"model":      "llm.model",
	"log-level":  "logger.level",
}

// NewRootCommand builds a fresh command tree. The interactive shell builds
// one per line so flags never leak between commands.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "pagehand",
		Short:         "pagehand drives a browser with selectors first and a language model when they fail.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "pagehand"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting pagehand.", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./pagehand.yaml)")
	flags.Bool("headless", true, "run the browser without a window")
	flags.String("remote-url", "", "attach to a running browser at this DevTools URL instead of launching one")
	flags.String("model", "", "language model used by act, extract and observe")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newVersionCmd(),
		newPerformCmd(),
		newSettleCmd(),
		newObserveCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		}
		return err
	}
	return nil
}

// initializeConfig layers the config file, PAGEHAND_ environment variables
// and any changed root flags over the defaults already set on v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pagehand")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range persistentFlagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// configFromContext returns the configuration loaded by the root command.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration was not loaded")
	}
	return cfg, nil
}
