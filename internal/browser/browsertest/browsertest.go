// Package browsertest provides fixtures for tests that drive a real headless
// Chrome. Tests using it are skipped when no Chrome binary can be found.
package browsertest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
)

// EnvChromePath overrides the Chrome binary lookup.
const EnvChromePath = "PAGEHAND_CHROME_PATH"

var candidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// ChromePath returns the first Chrome binary found.
func ChromePath() (string, bool) {
	if p := os.Getenv(EnvChromePath); p != "" {
		return p, true
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, true
		}
	}
	return "", false
}

// RequireChrome skips the test when no Chrome binary is available.
func RequireChrome(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	p, ok := ChromePath()
	if !ok {
		t.Skip("Chrome/Chromium not found; set " + EnvChromePath + " to run browser tests")
	}
	return p
}

// NewAllocator starts a headless exec allocator and returns its context.
// The browser is torn down when the test finishes.
func NewAllocator(t testing.TB) context.Context {
	t.Helper()
	path := RequireChrome(t)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(path),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	t.Cleanup(func() {
		allocCancel()
		cancel()
	})
	return allocCtx
}

// NewServer serves handler for the duration of the test.
func NewServer(t testing.TB, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// HTML returns a handler that serves body as a page.
func HTML(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}
