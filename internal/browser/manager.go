// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/browser/selector"
	"github.com/xkilldash9x/pagehand/internal/browser/session"
	"github.com/xkilldash9x/pagehand/internal/config"
	"github.com/xkilldash9x/pagehand/internal/llmclient"
	"github.com/xkilldash9x/pagehand/internal/store"
	"github.com/xkilldash9x/pagehand/internal/validate"
)

const (
	defaultStartupTimeout = 30 * time.Second
	historyFlushTimeout   = 10 * time.Second
)

// ErrManagerClosed is returned by NewPage after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

// Option customises a Manager.
type Option func(*Manager)

// WithLLMClient sets the model used by act, extract and observe. Without
// it the Manager builds a client from the llm configuration when one is set.
func WithLLMClient(c schemas.LLMClient) Option {
	return func(m *Manager) { m.llm = c }
}

// WithHistory sets where page calls are recorded. The default is an
// in-memory ring sized by history.capacity.
func WithHistory(h store.History) Option {
	return func(m *Manager) { m.history = h }
}

// WithRegistry shares a selector registry between managers.
func WithRegistry(r *selector.Registry) Option {
	return func(m *Manager) { m.reg = r }
}

// Manager owns one browser process (or remote connection) and the pages
// opened in it. It implements selector.Host: engines registered with it are
// installed into every open page and every page opened later.
type Manager struct {
	cfg    config.Interface
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	sem       *semaphore.Weighted
	reg       *selector.Registry
	llm       schemas.LLMClient
	ownsLLM   bool
	history   store.History
	validator schemas.Validator

	mu        sync.Mutex
	pages     map[string]*cdpPage
	engineSrc map[string]string

	wg           sync.WaitGroup
	closed       atomic.Bool
	shutdownOnce sync.Once
}

var _ selector.Host = (*Manager)(nil)

// NewManager launches the browser described by cfg, or attaches to
// browser.remote_url when it is set. ctx bounds the browser's lifetime.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		logger:    logger.Named("browser_manager"),
		validator: validate.New(),
		pages:     make(map[string]*cdpPage),
		engineSrc: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	browserCfg := cfg.Browser()
	concurrency := browserCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	m.sem = semaphore.NewWeighted(int64(concurrency))
	if m.reg == nil {
		m.reg = &selector.Registry{}
	}
	if m.history == nil {
		m.history = store.NewMemory(cfg.History().Capacity)
	}
	if m.llm == nil && cfg.LLM().Configured() {
		client, err := llmclient.NewClient(ctx, cfg.LLM(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		m.llm, m.ownsLLM = client, true
	}

	var allocCtx context.Context
	if browserCfg.RemoteURL != "" {
		allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(ctx, browserCfg.RemoteURL)
	} else {
		allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(browserCfg, goruntime.GOOS)...)
	}
	m.browserCtx, m.browserCancel = chromedp.NewContext(allocCtx, chromedp.WithErrorf(m.logger.Sugar().Errorf))

	if err := m.start(browserCfg.StartupTimeout); err != nil {
		m.browserCancel()
		m.allocCancel()
		return nil, err
	}

	m.logger.Info("Browser manager started.",
		zap.Bool("remote", browserCfg.RemoteURL != ""),
		zap.Bool("headless", browserCfg.Headless),
		zap.Int("concurrency", concurrency),
		zap.Bool("llm_configured", m.llm != nil))
	return m, nil
}

// start runs the browser context once so the process exists before the first page.
func (m *Manager) start(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(m.browserCtx) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("browser did not start within %s", timeout)
	}
}

// NewPage opens and initializes a tab. It blocks while browser.concurrency
// pages are already open.
func (m *Manager) NewPage(ctx context.Context) (Page, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free page slot: %w", err)
	}
	m.wg.Add(1)
	release := func() {
		m.sem.Release(1)
		m.wg.Done()
	}

	sess, err := session.New(m.browserCtx, m.logger)
	if err != nil {
		release()
		return nil, err
	}
	inner := newCDPPage(sess, m, m.cfg, m.llm, m.validator, m.logger)
	sess.SetOnClose(func() {
		m.mu.Lock()
		delete(m.pages, inner.ID())
		m.mu.Unlock()
		release()
		m.logger.Debug("Page removed from manager.", zap.String("page_id", inner.ID()))
	})

	p := newHookedPage(inner, m.llm != nil, m.history, m.logger)
	if err := p.Init(ctx); err != nil {
		_ = p.Close(session.Detach(ctx))
		return nil, fmt.Errorf("failed to initialize page: %w", err)
	}

	m.mu.Lock()
	m.pages[inner.ID()] = inner
	m.mu.Unlock()

	m.logger.Info("New page created.", zap.String("page_id", inner.ID()))
	return p, nil
}

// History returns the store page calls are recorded in.
func (m *Manager) History() store.History { return m.history }

// -- selector.Host --

// RegisterSelectorEngine stores the engine for future pages and installs it
// into every page that is already open.
func (m *Manager) RegisterSelectorEngine(ctx context.Context, name, source string) error {
	m.mu.Lock()
	m.engineSrc[name] = source
	open := m.openPages()
	m.mu.Unlock()

	script := selector.InstallScript(name, source)
	for _, p := range open {
		if err := p.installScript(ctx, script); err != nil {
			return fmt.Errorf("installing %s engine into page %s: %w", name, p.ID(), err)
		}
	}
	return nil
}

func (m *Manager) registry() *selector.Registry { return m.reg }

func (m *Manager) engines() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.engineSrc))
	for k, v := range m.engineSrc {
		out[k] = v
	}
	return out
}

// openPages must be called with m.mu held.
func (m *Manager) openPages() []*cdpPage {
	open := make([]*cdpPage, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	return open
}

// -- Shutdown --

// Shutdown closes every page, waits for them (bounded by ctx), stops the
// browser and flushes buffered history. Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error
	m.shutdownOnce.Do(func() {
		m.closed.Store(true)
		m.logger.Info("Shutting down browser manager.")

		m.mu.Lock()
		open := m.openPages()
		m.mu.Unlock()
		for _, p := range open {
			go func(p *cdpPage) {
				if err := p.Close(ctx); err != nil {
					m.logger.Warn("Error during page close in shutdown.", zap.String("page_id", p.ID()), zap.Error(err))
				}
			}(p)
		}

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			m.logger.Debug("All pages closed gracefully.")
		case <-ctx.Done():
			m.logger.Warn("Timeout waiting for pages to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
		}

		if err := chromedp.Cancel(m.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
		m.browserCancel()
		m.allocCancel()

		if f, ok := m.history.(store.Flusher); ok {
			flushCtx, cancel := context.WithTimeout(session.Detach(ctx), historyFlushTimeout)
			if err := f.Flush(flushCtx); err != nil {
				m.logger.Error("Failed to flush page history.", zap.Error(err))
				shutdownErr = errors.Join(shutdownErr, err)
			}
			cancel()
		}
		if m.ownsLLM {
			if err := m.llm.Close(); err != nil {
				shutdownErr = errors.Join(shutdownErr, err)
			}
		}
		m.logger.Info("Browser manager shutdown complete.")
	})
	return shutdownErr
}

// -- Launch options --

// launchFlags returns the Chrome switches for cfg on goos, keyed by switch
// name. A false value removes a default switch.
func launchFlags(cfg config.BrowserConfig, goos string) map[string]any {
	flags := map[string]any{
		"headless":    cfg.Headless,
		"disable-gpu": cfg.Headless,
	}
	if !cfg.Headless {
		flags["hide-scrollbars"] = false
		flags["mute-audio"] = false
	}
	// Containers rarely allow the sandbox or a large /dev/shm.
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if vp := cfg.Viewport; vp.Width > 0 && vp.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", vp.Width, vp.Height)
	}
	for _, arg := range cfg.Args {
		if name, value, ok := parseSwitch(arg); ok {
			flags[name] = value
		}
	}
	return flags
}

// parseSwitch splits "--name=value" or "--name". A bare switch is true.
func parseSwitch(arg string) (string, any, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil, false
	}
	name, value, found := strings.Cut(arg, "=")
	if !found {
		return name, true, true
	}
	return name, value, true
}

func allocatorOptions(cfg config.BrowserConfig, goos string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := launchFlags(cfg, goos)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}
