package settle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pagehand/internal/browser/session"
)

// Channel is the devtools event source a Detector watches.
type Channel interface {
	// HasDocument reports whether the page currently has a document to inspect.
	HasDocument(ctx context.Context) bool
	// WaitForDocument blocks until the document has left the "loading" state.
	WaitForDocument(ctx context.Context) error
	// Enable turns on the Network and Page domains and auto-attach for child frames.
	Enable(ctx context.Context) error
	// Subscribe delivers every target event to handler until the subscription ends.
	Subscribe(handler func(ev any)) (Subscription, error)
}

// Subscription ends an event subscription. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// autoAttachFilter keeps worker targets out of the settle accounting.
var autoAttachFilter = target.Filter{
	{Type: "worker", Exclude: true},
	{Type: "shared_worker", Exclude: true},
}

// cdpChannel implements Channel over a chromedp tab.
type cdpChannel struct {
	exec   session.ActionExecutor
	tabCtx context.Context
}

// NewCDPChannel returns a Channel for the tab behind tabCtx. Commands go
// through exec so they inherit the session's connection.
func NewCDPChannel(exec session.ActionExecutor, tabCtx context.Context) Channel {
	return &cdpChannel{exec: exec, tabCtx: tabCtx}
}

func (c *cdpChannel) HasDocument(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var title string
	return c.exec.RunActions(probeCtx, chromedp.Title(&title)) == nil
}

func (c *cdpChannel) WaitForDocument(ctx context.Context) error {
	return c.exec.RunActions(ctx,
		chromedp.Poll(`document.readyState !== "loading"`, nil,
			chromedp.WithPollingInterval(50*time.Millisecond),
			chromedp.WithPollingTimeout(0)),
	)
}

func (c *cdpChannel) Enable(ctx context.Context) error {
	err := c.exec.RunActions(ctx,
		network.Enable(),
		page.Enable(),
		target.SetAutoAttach(true, false).
			WithFlatten(true).
			WithFilter(autoAttachFilter),
	)
	if err != nil {
		return fmt.Errorf("failed to enable settle event domains: %w", err)
	}
	return nil
}

func (c *cdpChannel) Subscribe(handler func(ev any)) (Subscription, error) {
	if err := c.tabCtx.Err(); err != nil {
		return nil, fmt.Errorf("cannot subscribe to a closed tab: %w", err)
	}
	listenCtx, cancel := context.WithCancel(c.tabCtx)
	chromedp.ListenTarget(listenCtx, handler)
	return &listenerSubscription{cancel: cancel}, nil
}

// listenerSubscription removes a chromedp listener by cancelling its context.
type listenerSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (s *listenerSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}
