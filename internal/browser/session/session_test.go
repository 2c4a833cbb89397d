// internal/browser/session/session_test.go
package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pagehand/internal/browser/browsertest"
	"github.com/xkilldash9x/pagehand/internal/browser/session"
)

func TestSession_Lifecycle(t *testing.T) {
	allocCtx := browsertest.NewAllocator(t)
	srv := browsertest.NewServer(t, browsertest.HTML(`<title>lifecycle</title><p>hi</p>`))

	s, err := session.New(allocCtx, zaptest.NewLogger(t))
	require.NoError(t, err)

	var closes atomic.Int32
	s.SetOnClose(func() { closes.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var title string
	require.NoError(t, s.RunActions(ctx, chromedp.Navigate(srv.URL), chromedp.Title(&title)))
	assert.Equal(t, "lifecycle", title)

	t.Run("CallerCancellationIsReported", func(t *testing.T) {
		opCtx, opCancel := context.WithCancel(context.Background())
		opCancel()
		err := s.RunActions(opCtx, chromedp.Title(&title))
		assert.ErrorIs(t, err, context.Canceled)
		// The tab itself is unaffected.
		assert.NoError(t, s.RunActions(ctx, chromedp.Title(&title)))
	})

	t.Run("BackgroundActionsOutliveCaller", func(t *testing.T) {
		opCtx, opCancel := context.WithCancel(context.Background())
		opCancel()
		assert.NoError(t, s.RunBackgroundActions(opCtx, chromedp.Title(&title)))
	})

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.EqualValues(t, 1, closes.Load(), "close callback runs once")
	assert.Error(t, s.Context().Err())
	assert.ErrorIs(t, s.RunActions(ctx, chromedp.Title(&title)), session.ErrClosed)
}
