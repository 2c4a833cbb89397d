package settle

import (
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"
)

type inflightRequest struct {
	url   string
	start time.Time
}

// watch holds the state of a single Wait. Event handlers run on the chromedp
// event goroutine while the sweep runs on the waiting goroutine, so every
// transition happens under mu.
type watch struct {
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	inflight   map[network.RequestID]inflightRequest
	docByFrame map[cdp.FrameID]network.RequestID
	quietTimer *time.Timer
	// generation invalidates quiet timers that were stopped too late to
	// prevent their callback from running.
	generation uint64
	resolved   bool

	quiet     chan struct{}
	closeOnce sync.Once
}

func newWatch(opts Options, logger *zap.Logger) *watch {
	return &watch{
		opts:       opts,
		logger:     logger,
		inflight:   make(map[network.RequestID]inflightRequest),
		docByFrame: make(map[cdp.FrameID]network.RequestID),
		quiet:      make(chan struct{}),
	}
}

// handle is the subscription callback. It must not block.
func (w *watch) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		url := ""
		if e.Request != nil {
			url = e.Request.URL
		}
		w.requestStarted(e.RequestID, url, e.Type, e.FrameID)
	case *network.EventLoadingFinished:
		w.finish(e.RequestID)
	case *network.EventLoadingFailed:
		w.finish(e.RequestID)
	case *network.EventRequestServedFromCache:
		w.finish(e.RequestID)
	case *network.EventResponseReceived:
		if e.Response != nil && strings.HasPrefix(e.Response.URL, "data:") {
			w.finish(e.RequestID)
		}
	case *page.EventFrameStoppedLoading:
		w.frameStopped(e.FrameID)
	}
}

func (w *watch) requestStarted(id network.RequestID, url string, typ network.ResourceType, frame cdp.FrameID) {
	if typ == network.ResourceTypeWebSocket || typ == network.ResourceTypeEventSource {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return
	}

	w.inflight[id] = inflightRequest{url: url, start: time.Now()}
	if typ == network.ResourceTypeDocument && frame != "" {
		w.docByFrame[frame] = id
	}
	w.clearQuietLocked()
}

func (w *watch) finish(id network.RequestID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finishLocked(id)
}

func (w *watch) frameStopped(frame cdp.FrameID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.docByFrame[frame]; ok {
		w.finishLocked(id)
	}
}

// finishLocked is the only removal path, so inflight and docByFrame never disagree.
func (w *watch) finishLocked(id network.RequestID) bool {
	if w.resolved {
		return false
	}
	if _, ok := w.inflight[id]; !ok {
		return false
	}
	delete(w.inflight, id)
	for frame, rid := range w.docByFrame {
		if rid == id {
			delete(w.docByFrame, frame)
		}
	}
	w.clearQuietLocked()
	w.maybeQuietLocked()
	return true
}

// sweep force-completes requests that have been open longer than the stall threshold.
func (w *watch) sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved {
		return
	}

	for id, req := range w.inflight {
		if now.Sub(req.start) <= w.opts.StallThreshold {
			continue
		}
		url := req.url
		if len(url) > maxLoggedURL {
			url = url[:maxLoggedURL]
		}
		w.logger.Info("Forcing completion of stalled request.",
			zap.String("url", url), zap.Duration("age", now.Sub(req.start)))
		w.finishLocked(id)
	}
	w.maybeQuietLocked()
}

func (w *watch) maybeQuiet() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeQuietLocked()
}

func (w *watch) maybeQuietLocked() {
	if w.resolved || len(w.inflight) > 0 || w.quietTimer != nil {
		return
	}
	w.generation++
	gen := w.generation
	w.quietTimer = time.AfterFunc(w.opts.QuietWindow, func() { w.quietElapsed(gen) })
}

func (w *watch) clearQuietLocked() {
	if w.quietTimer == nil {
		return
	}
	w.quietTimer.Stop()
	w.quietTimer = nil
	w.generation++
}

func (w *watch) quietElapsed(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resolved || gen != w.generation || len(w.inflight) > 0 {
		return
	}
	w.resolved = true
	w.quietTimer = nil
	close(w.quiet)
}

// resolve ends the watch from the guard or cancellation path and reports
// how many requests were still open.
func (w *watch) resolve() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resolved = true
	w.clearQuietLocked()
	return len(w.inflight)
}

// close tears the watch down. It is safe to call more than once.
func (w *watch) close(sub Subscription) {
	w.closeOnce.Do(func() {
		sub.Unsubscribe()
		w.mu.Lock()
		w.resolved = true
		w.clearQuietLocked()
		w.mu.Unlock()
	})
}
