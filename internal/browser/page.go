// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/domsnapshot"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/agent"
	"github.com/xkilldash9x/pagehand/internal/browser/frameid"
	"github.com/xkilldash9x/pagehand/internal/browser/locator"
	"github.com/xkilldash9x/pagehand/internal/browser/perform"
	"github.com/xkilldash9x/pagehand/internal/browser/selector"
	"github.com/xkilldash9x/pagehand/internal/browser/session"
	"github.com/xkilldash9x/pagehand/internal/browser/settle"
	"github.com/xkilldash9x/pagehand/internal/config"
	"github.com/xkilldash9x/pagehand/internal/observability"
)

// DefaultNavigationTimeout bounds Goto when GotoOptions leaves Timeout zero.
const DefaultNavigationTimeout = 30 * time.Second

var (
	// ErrNotInitialized is returned by act, extract, observe and perform on a page whose Init has not completed.
	ErrNotInitialized = errors.New("page is not initialized")
	// ErrMissingLLMConfiguration is returned when an AI call is made without a configured model.
	ErrMissingLLMConfiguration = errors.New("no LLM is configured; set llm.api_key and llm.model")
)

// GotoOptions tunes a navigation.
type GotoOptions struct {
	// Timeout bounds the navigation itself. Zero selects DefaultNavigationTimeout.
	Timeout time.Duration
	// SkipSettle returns as soon as the load event fires.
	SkipSettle bool
}

// Page is a browser tab with the selector engine, the settle detector and the
// AI collaborators attached.
type Page interface {
	session.ActionExecutor
	schemas.OverlayClearer

	ID() string
	RootFrameID() cdp.FrameID
	Init(ctx context.Context) error
	Goto(ctx context.Context, url string, opts GotoOptions) error
	WaitForSettledDOM(ctx context.Context, timeout time.Duration) (settle.Report, error)
	Evaluate(ctx context.Context, expression string, out any) error
	Content(ctx context.Context) (string, error)
	Locator(selector string) *locator.Locator
	// Observe lists the interactive elements of every frame. A non-empty
	// instruction asks the model to keep only the relevant ones.
	Observe(ctx context.Context, instruction string) ([]schemas.ObservedElement, error)
	Act(ctx context.Context, req schemas.ActRequest) (schemas.ActResult, error)
	Extract(ctx context.Context, req schemas.ExtractRequest) (schemas.ExtractResult, error)
	Perform(ctx context.Context, req schemas.PerformRequest) (schemas.PerformResult, error)
	FrameIdentity() *frameid.Encoder
	Close(ctx context.Context) error
}

// engineHost supplies the selector engines a page installs on Init.
type engineHost interface {
	selector.Host
	registry() *selector.Registry
	engines() map[string]string
}

// cdpPage implements Page over a chromedp session.
type cdpPage struct {
	sess     *session.Session
	host     engineHost
	browser  config.BrowserConfig
	logger   *zap.Logger
	frames   *frameid.Encoder
	settler  *settle.Detector
	resolver *perform.Resolver

	// Nil when no model is configured.
	actor     *agent.Actor
	extractor *agent.Extractor
	observer  *agent.Observer

	mu        sync.RWMutex
	rootFrame cdp.FrameID
}

var (
	_ Page              = (*cdpPage)(nil)
	_ agent.Page        = (*cdpPage)(nil)
	_ schemas.Actor     = (*cdpPage)(nil)
	_ schemas.Extractor = (*cdpPage)(nil)
)

// newCDPPage wires a page around sess. llm may be nil.
func newCDPPage(sess *session.Session, host engineHost, cfg config.Interface, llm schemas.LLMClient,
	validator schemas.Validator, logger *zap.Logger) *cdpPage {
	log := observability.WithPage(logger, sess.ID().String())
	settleCfg := cfg.Settle()

	p := &cdpPage{
		sess:    sess,
		host:    host,
		browser: cfg.Browser(),
		logger:  log,
		frames:  frameid.New(),
		settler: settle.New(settle.NewCDPChannel(sess, sess.Context()), log, settle.Options{
			QuietWindow:    settleCfg.QuietWindow,
			SweepInterval:  settleCfg.SweepInterval,
			StallThreshold: settleCfg.StallThreshold,
			Timeout:        settleCfg.Timeout,
		}),
	}

	if llm != nil {
		opts := agent.Options{MaxPageChars: cfg.LLM().MaxPageChars}
		p.actor = agent.NewActor(p, llm, log)
		p.extractor = agent.NewExtractor(p, llm, validator, log, opts)
		p.observer = agent.NewObserver(p, llm, log)
	}

	performCfg := cfg.Perform()
	p.resolver = perform.New(p, p, p, validator, log, perform.Options{
		DefaultTimeout: performCfg.DefaultTimeout,
		PollInterval:   performCfg.PollInterval,
	})
	return p
}

func (p *cdpPage) ID() string { return p.sess.ID().String() }

// RootFrameID returns the main frame id recorded by the last Init or navigation.
func (p *cdpPage) RootFrameID() cdp.FrameID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rootFrame
}

func (p *cdpPage) FrameIdentity() *frameid.Encoder { return p.frames }

func (p *cdpPage) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	return p.sess.RunActions(ctx, actions...)
}

func (p *cdpPage) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	return p.sess.RunBackgroundActions(ctx, actions...)
}

// -- Lifecycle --

// Init enables the page domain, records the root frame and installs the
// helper script and every registered selector engine, both into the current
// document and into every document created later.
func (p *cdpPage) Init(ctx context.Context) error {
	if err := p.sess.RunActions(ctx, page.Enable()); err != nil {
		return fmt.Errorf("failed to enable page domain: %w", err)
	}
	if err := p.updateRootFrameID(ctx); err != nil {
		return err
	}
	if err := p.applyEmulation(ctx); err != nil {
		return err
	}

	if _, err := p.host.registry().Register(ctx, p.host); err != nil {
		return err
	}
	scripts := []string{selector.HelperScript()}
	for name, source := range p.host.engines() {
		scripts = append(scripts, selector.InstallScript(name, source))
	}
	for _, script := range scripts {
		if err := p.installScript(ctx, script); err != nil {
			return err
		}
	}

	p.logger.Debug("Page initialized.", zap.String("root_frame_id", string(p.RootFrameID())))
	return nil
}

// installScript runs script now and on every new document.
func (p *cdpPage) installScript(ctx context.Context, script string) error {
	err := p.sess.RunActions(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.Evaluate(script, nil),
	)
	if err != nil {
		return fmt.Errorf("could not inject page script: %w", err)
	}
	return nil
}

// ensureHelper re-injects the helper when the current document lacks it.
func (p *cdpPage) ensureHelper(ctx context.Context) error {
	var injected bool
	if err := p.sess.RunActions(ctx, chromedp.Evaluate(selector.InjectedProbe, &injected)); err != nil {
		return fmt.Errorf("probing helper script: %w", err)
	}
	if injected {
		return nil
	}
	return p.sess.RunActions(ctx, chromedp.Evaluate(selector.HelperScript(), nil))
}

func (p *cdpPage) updateRootFrameID(ctx context.Context) error {
	var tree *page.FrameTree
	err := p.sess.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to read frame tree: %w", err)
	}
	if tree == nil || tree.Frame == nil {
		return errors.New("frame tree has no root frame")
	}
	p.mu.Lock()
	p.rootFrame = tree.Frame.ID
	p.mu.Unlock()
	return nil
}

func (p *cdpPage) applyEmulation(ctx context.Context) error {
	var actions []chromedp.Action
	if vp := p.browser.Viewport; vp.Width > 0 && vp.Height > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1, false))
	}
	if ua := p.browser.UserAgent; ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua))
	}
	if len(actions) == 0 {
		return nil
	}
	if err := p.sess.RunActions(ctx, actions...); err != nil {
		return fmt.Errorf("failed to apply emulation: %w", err)
	}
	return nil
}

func (p *cdpPage) Close(ctx context.Context) error { return p.sess.Close(ctx) }

// -- Navigation --

func (p *cdpPage) Goto(ctx context.Context, url string, opts GotoOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.sess.RunActions(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := p.updateRootFrameID(ctx); err != nil {
		p.logger.Warn("Could not refresh root frame after navigation.", zap.Error(err))
	}
	return nil
}

func (p *cdpPage) WaitForSettledDOM(ctx context.Context, timeout time.Duration) (settle.Report, error) {
	return p.settler.Wait(ctx, timeout)
}

// -- Content --

func (p *cdpPage) Evaluate(ctx context.Context, expression string, out any) error {
	return p.sess.RunActions(ctx, chromedp.Evaluate(expression, out))
}

func (p *cdpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.sess.RunActions(ctx, chromedp.Evaluate(
		`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (p *cdpPage) Locator(sel string) *locator.Locator { return locator.New(p.sess, sel) }

// ClearOverlays removes every overlay node left in the document.
func (p *cdpPage) ClearOverlays(ctx context.Context) error {
	script := fmt.Sprintf(`document.querySelectorAll('[%s]').forEach(n => n.remove())`, selector.OverlayAttribute)
	return p.sess.RunActions(ctx, chromedp.Evaluate(script, nil))
}

// Snapshot captures every same-process frame and lists its interactive elements.
func (p *cdpPage) Snapshot(ctx context.Context) ([]schemas.ObservedElement, error) {
	var (
		docs []*domsnapshot.DocumentSnapshot
		strs []string
	)
	err := p.sess.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		docs, strs, err = domsnapshot.CaptureSnapshot([]string{}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture DOM snapshot: %w", err)
	}
	return collectElements(docs, strs, p.frames), nil
}

// -- AI --

func (p *cdpPage) Observe(ctx context.Context, instruction string) ([]schemas.ObservedElement, error) {
	if instruction == "" {
		return p.Snapshot(ctx)
	}
	if p.observer == nil {
		return nil, ErrMissingLLMConfiguration
	}
	return p.observer.Observe(ctx, instruction)
}

func (p *cdpPage) Act(ctx context.Context, req schemas.ActRequest) (schemas.ActResult, error) {
	if p.actor == nil {
		return schemas.ActResult{Action: req.Action}, ErrMissingLLMConfiguration
	}
	return p.actor.Act(ctx, req)
}

func (p *cdpPage) Extract(ctx context.Context, req schemas.ExtractRequest) (schemas.ExtractResult, error) {
	if p.extractor == nil {
		return nil, ErrMissingLLMConfiguration
	}
	return p.extractor.Extract(ctx, req)
}

func (p *cdpPage) Perform(ctx context.Context, req schemas.PerformRequest) (schemas.PerformResult, error) {
	return p.resolver.Perform(ctx, req)
}
