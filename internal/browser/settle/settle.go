// Package settle decides when a page has gone network-quiet long enough for
// safe interaction.
package settle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Default timings.
const (
	DefaultQuietWindow    = 500 * time.Millisecond
	DefaultSweepInterval  = 500 * time.Millisecond
	DefaultStallThreshold = 2 * time.Second
	DefaultTimeout        = 30 * time.Second
)

// maxLoggedURL caps the URL length in stall logs.
const maxLoggedURL = 120

// Options tunes a Detector. Zero values select the defaults.
type Options struct {
	QuietWindow    time.Duration
	SweepInterval  time.Duration
	StallThreshold time.Duration
	Timeout        time.Duration
}

func (o Options) withDefaults() Options {
	if o.QuietWindow <= 0 {
		o.QuietWindow = DefaultQuietWindow
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.StallThreshold <= 0 {
		o.StallThreshold = DefaultStallThreshold
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Reason says which path resolved a wait.
type Reason string

const (
	ReasonQuiet     Reason = "quiet"
	ReasonTimeout   Reason = "timeout"
	ReasonCancelled Reason = "cancelled"
)

// Report describes how a wait ended. A timeout is not an error; Outstanding
// counts the requests that were still in flight when the guard fired.
type Report struct {
	Reason      Reason        `json:"reason"`
	Outstanding int           `json:"outstanding"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Detector waits for network quiescence on one page. It keeps no state
// between calls; every Wait builds a fresh watch.
type Detector struct {
	ch     Channel
	opts   Options
	logger *zap.Logger
}

// New creates a Detector reading events from ch.
func New(ch Channel, logger *zap.Logger, opts Options) *Detector {
	return &Detector{
		ch:     ch,
		opts:   opts.withDefaults(),
		logger: logger.Named("settle"),
	}
}

// Wait blocks until the page is quiet, the hard guard fires, or ctx ends.
// A timeout of zero uses the configured guard. Errors only come from
// preparing the event channel.
func (d *Detector) Wait(ctx context.Context, timeout time.Duration) (Report, error) {
	if timeout <= 0 {
		timeout = d.opts.Timeout
	}
	start := time.Now()

	// 1. Make sure there is a document to watch.
	if !d.ch.HasDocument(ctx) {
		if err := d.ch.WaitForDocument(ctx); err != nil {
			return Report{}, fmt.Errorf("waiting for document: %w", err)
		}
	}

	// 2. Turn on the event domains.
	if err := d.ch.Enable(ctx); err != nil {
		return Report{}, err
	}

	// 3. Watch until one of the exits fires.
	w := newWatch(d.opts, d.logger)
	sub, err := d.ch.Subscribe(w.handle)
	if err != nil {
		return Report{}, fmt.Errorf("subscribing to page events: %w", err)
	}

	sweep := time.NewTicker(d.opts.SweepInterval)
	guard := time.NewTimer(timeout)
	defer func() {
		sweep.Stop()
		guard.Stop()
		w.close(sub)
	}()

	w.maybeQuiet()

	for {
		select {
		case <-w.quiet:
			return Report{Reason: ReasonQuiet, Elapsed: time.Since(start)}, nil

		case now := <-sweep.C:
			w.sweep(now)

		case <-guard.C:
			outstanding := w.resolve()
			if outstanding > 0 {
				d.logger.Warn("DOM settle timeout reached with network requests still pending",
					zap.Int("count", outstanding), zap.Duration("timeout", timeout))
			}
			return Report{Reason: ReasonTimeout, Outstanding: outstanding, Elapsed: time.Since(start)}, nil

		case <-ctx.Done():
			outstanding := w.resolve()
			return Report{Reason: ReasonCancelled, Outstanding: outstanding, Elapsed: time.Since(start)}, nil
		}
	}
}
