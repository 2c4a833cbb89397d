// Package frameid assigns compact ordinals to CDP frame ids and combines them
// with backend node ids into cross-frame element handles.
package frameid

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
)

// Root is the frame id used for the top-level document. It always maps to ordinal 0.
const Root cdp.FrameID = ""

// EncodedID is an opaque "{ordinal}-{backendNodeId}" element handle. It is
// unique within one page lifetime and is not stable across navigations.
type EncodedID string

// Encoder hands out frame ordinals in first-seen order.
type Encoder struct {
	mu       sync.Mutex
	ordinals map[cdp.FrameID]int
}

// New returns an Encoder holding only the root mapping.
func New() *Encoder {
	e := &Encoder{}
	e.Reset()
	return e
}

// OrdinalFor returns the ordinal for fid, assigning the next one on first sight.
func (e *Encoder) OrdinalFor(fid cdp.FrameID) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ord, ok := e.ordinals[fid]; ok {
		return ord
	}
	// The root entry is always present, so len() is the next unused ordinal.
	ord := len(e.ordinals)
	e.ordinals[fid] = ord
	return ord
}

// Encode builds the handle for backendID inside frame fid.
func (e *Encoder) Encode(fid cdp.FrameID, backendID cdp.BackendNodeID) EncodedID {
	return EncodedID(fmt.Sprintf("%d-%d", e.OrdinalFor(fid), backendID))
}

// Reset drops every ordinal except the root. Called on top-level navigation.
func (e *Encoder) Reset() {
	e.mu.Lock()
	e.ordinals = map[cdp.FrameID]int{Root: 0}
	e.mu.Unlock()
}

// Len reports how many frames currently hold an ordinal, root included.
func (e *Encoder) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ordinals)
}

// FrameFor returns the frame id that holds ordinal, if any.
func (e *Encoder) FrameFor(ordinal int) (cdp.FrameID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for fid, ord := range e.ordinals {
		if ord == ordinal {
			return fid, true
		}
	}
	return "", false
}

// Decode splits an encoded handle back into its ordinal and backend node id.
func Decode(id EncodedID) (int, cdp.BackendNodeID, error) {
	ordPart, backendPart, ok := strings.Cut(string(id), "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed element id %q: missing separator", id)
	}
	ord, err := strconv.Atoi(ordPart)
	if err != nil || ord < 0 {
		return 0, 0, fmt.Errorf("malformed element id %q: bad frame ordinal", id)
	}
	backend, err := strconv.ParseInt(backendPart, 10, 64)
	if err != nil || backend < 0 {
		return 0, 0, fmt.Errorf("malformed element id %q: bad backend node id", id)
	}
	return ord, cdp.BackendNodeID(backend), nil
}
