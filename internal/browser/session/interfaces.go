// internal/browser/session/interfaces.go
package session

import (
	"context"

	"github.com/chromedp/chromedp"
)

// ActionExecutor runs chromedp actions against a tab without the caller
// holding the tab's context. Locators, the settle channel and the page all
// talk to the browser through it.
type ActionExecutor interface {
	// RunActions executes actions bounded by ctx. The implementation merges
	// ctx with the long-lived tab context so the actions can reach the target.
	RunActions(ctx context.Context, actions ...chromedp.Action) error

	// RunBackgroundActions executes actions that must outlive ctx's
	// cancellation, such as closing the tab after the caller has given up.
	RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error
}
