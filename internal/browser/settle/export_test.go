package settle

import (
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// outstanding reports the current inflight count.
func (w *watch) outstanding() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// documentFor returns the document request recorded for frame.
func (w *watch) documentFor(frame cdp.FrameID) (network.RequestID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.docByFrame[frame]
	return id, ok
}
