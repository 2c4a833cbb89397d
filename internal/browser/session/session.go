// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// closeTimeout bounds the graceful tab close.
const closeTimeout = 5 * time.Second

// ErrClosed is returned by actions issued after Close.
var ErrClosed = errors.New("session is closed")

// Session owns one browser tab. All devtools traffic for the tab goes
// through RunActions so callers never need the tab context themselves.
type Session struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu        sync.Mutex
	closed    bool
	onClose   func()
	closeOnce sync.Once
}

var _ ActionExecutor = (*Session)(nil)

// New opens a tab on the allocator behind allocCtx. The first Run happens on
// the tab context itself so the target's lifetime is bound to it.
func New(allocCtx context.Context, logger *zap.Logger) (*Session, error) {
	id := uuid.New()
	log := logger.With(zap.String("session_id", id.String()))

	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(log.Sugar().Errorf),
	)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	log.Debug("Browser tab opened.")
	return &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		logger: log,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Context returns the tab context. It is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// SetOnClose registers a callback that runs once, after the tab closes.
func (s *Session) SetOnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// RunActions runs actions on the tab, bounded by ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.isClosed() {
		return ErrClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Report the caller's own cancellation rather than the merged context's.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// RunBackgroundActions runs actions that survive ctx's cancellation. They
// still stop when the tab closes.
func (s *Session) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.isClosed() {
		return ErrClosed
	}
	runCtx, cancel := CombineContext(s.ctx, Detach(ctx))
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Close closes the tab. Calling it again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		onClose := s.onClose
		s.mu.Unlock()

		closeCtx, cancel := context.WithTimeout(Detach(ctx), closeTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err = <-done:
		case <-closeCtx.Done():
			err = fmt.Errorf("timed out closing browser tab: %w", closeCtx.Err())
		}
		s.cancel()

		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Browser tab did not close cleanly.", zap.Error(err))
		} else {
			err = nil
		}
		s.logger.Debug("Browser tab closed.")
		if onClose != nil {
			onClose()
		}
	})
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
