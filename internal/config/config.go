// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Settle() SettleConfig
	Perform() PerformConfig
	LLM() LLMConfig
	History() HistoryConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)

	// LLM Setters
	SetLLMModel(string)
}

// Config holds the entire application configuration. Sections are exported
// so viper can populate them; callers read them through the getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	SettleCfg   SettleConfig   `mapstructure:"settle" yaml:"settle"`
	PerformCfg  PerformConfig  `mapstructure:"perform" yaml:"perform"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	HistoryCfg  HistoryConfig  `mapstructure:"history" yaml:"history"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Settle() SettleConfig     { return c.SettleCfg }
func (c *Config) Perform() PerformConfig   { return c.PerformCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) History() HistoryConfig   { return c.HistoryCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string) { c.BrowserCfg.RemoteURL = u }
func (c *Config) SetLLMModel(model string)     { c.LLMCfg.Model = model }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL keeps
// history in memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ViewportConfig is the emulated window size. Zero values leave the browser default.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the browser process and its pages.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency     int      `mapstructure:"concurrency" yaml:"concurrency"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// RemoteURL attaches to a running browser's devtools endpoint instead of launching one.
	RemoteURL      string         `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath       string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir    string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	UserAgent      string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport       ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	StartupTimeout time.Duration  `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// SettleConfig tunes the network quiet detector.
type SettleConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	QuietWindow    time.Duration `mapstructure:"quiet_window" yaml:"quiet_window"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	StallThreshold time.Duration `mapstructure:"stall_threshold" yaml:"stall_threshold"`
}

// PerformConfig tunes the perform resolver.
type PerformConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// LLMProvider names a supported model backend.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the model behind act and extract.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens   int           `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	// MaxPageChars caps the page text handed to the extractor.
	MaxPageChars int `mapstructure:"max_page_chars" yaml:"max_page_chars"`
}

// Configured reports whether enough is set to call the model.
func (l LLMConfig) Configured() bool {
	return l.APIKey != "" && l.Model != ""
}

// HistoryConfig bounds the in-memory history.
type HistoryConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagehand")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 4)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.startup_timeout", "30s")

	// -- Settle --
	v.SetDefault("settle.timeout", "30s")
	v.SetDefault("settle.quiet_window", "500ms")
	v.SetDefault("settle.sweep_interval", "500ms")
	v.SetDefault("settle.stall_threshold", "2s")

	// -- Perform --
	v.SetDefault("perform.default_timeout", "10s")
	v.SetDefault("perform.poll_interval", "100ms")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "2m")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_minute", 60)
	v.SetDefault("llm.max_page_chars", 100000)

	// -- History --
	v.SetDefault("history.capacity", 1000)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data. The first one set wins.
	_ = v.BindEnv("llm.api_key", "PAGEHAND_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "PAGEHAND_DATABASE_URL")
	_ = v.BindEnv("browser.remote_url", "PAGEHAND_BROWSER_REMOTE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding config paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in file system settings.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.BrowserCfg.UserDataDir, &c.BrowserCfg.ExecPath} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if vp := c.BrowserCfg.Viewport; vp.Width < 0 || vp.Height < 0 {
		return fmt.Errorf("browser.viewport dimensions must not be negative")
	}
	if err := c.SettleCfg.Validate(); err != nil {
		return fmt.Errorf("settle configuration invalid: %w", err)
	}
	if c.PerformCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("perform.default_timeout must be a positive duration")
	}
	if c.PerformCfg.PollInterval <= 0 {
		return fmt.Errorf("perform.poll_interval must be a positive duration")
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.HistoryCfg.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be a positive integer")
	}
	return nil
}

// Validate checks the settle timings.
func (s *SettleConfig) Validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("settle.timeout must be a positive duration")
	}
	if s.QuietWindow <= 0 || s.SweepInterval <= 0 || s.StallThreshold <= 0 {
		return fmt.Errorf("settle.quiet_window, settle.sweep_interval, and settle.stall_threshold must be positive durations")
	}
	if s.QuietWindow >= s.Timeout {
		return fmt.Errorf("settle.quiet_window must be shorter than settle.timeout")
	}
	return nil
}

// Validate checks the LLM settings. A missing API key is allowed; act and
// extract report it when they are called.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, "":
	default:
		return fmt.Errorf("llm.provider %q is not supported", l.Provider)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}
	if l.MaxPageChars <= 0 {
		return fmt.Errorf("llm.max_page_chars must be a positive integer")
	}
	return nil
}
