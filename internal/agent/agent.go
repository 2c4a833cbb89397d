// Package agent holds the language-model collaborators behind act, extract
// and observe. They read the page through Page and keep no browser state of
// their own, so one instance serves a page for its whole lifetime.
package agent

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/xkilldash9x/pagehand/api/schemas"
	"github.com/xkilldash9x/pagehand/internal/browser/session"
)

// DefaultMaxPageChars caps the page text sent to the model when Options leaves it zero.
const DefaultMaxPageChars = 100000

var (
	// ErrUnknownElement means the model named an element id that was not in the snapshot.
	ErrUnknownElement = errors.New("model chose an element that is not on the page")
	// ErrUnsupportedMethod means the model chose something other than an action verb.
	ErrUnsupportedMethod = errors.New("model chose an unsupported method")
	// ErrNoElements means the page offered nothing to act on.
	ErrNoElements = errors.New("page has no interactive elements")
)

// Page is the view of a live page the collaborators need.
type Page interface {
	session.ActionExecutor
	// Snapshot lists the interactive elements of every frame.
	Snapshot(ctx context.Context) ([]schemas.ObservedElement, error)
	// Content returns the serialized HTML of the top document.
	Content(ctx context.Context) (string, error)
}

// Options tunes the collaborators.
type Options struct {
	MaxPageChars int
}

func (o Options) withDefaults() Options {
	if o.MaxPageChars <= 0 {
		o.MaxPageChars = DefaultMaxPageChars
	}
	return o
}

// -- Variables --

// Substitute replaces every %key% token in text with vars[key]. Tokens with
// no matching variable are left as they are.
func Substitute(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "%"+k+"%", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
